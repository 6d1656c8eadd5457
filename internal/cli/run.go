package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/entmap/internal/store"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config> <input.csv>",
		Short: "Process a CSV batch and store the results",
		Long: `Process every record of a CSV file as one batch and write its entities,
relationship edges, and record errors to a SQLite database (created if it
doesn't exist).

An input failure aborts the batch; the records read before it are still
resolved and stored, and the batch is marked aborted.

Example:
  entmap run --db ./awards.db awards.yaml awards.csv
  ENTMAP_WORKERS=8 entmap run awards.yaml awards.csv`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runBatch(opts *RootOptions, configPath, inputPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	res, batchErr := processFile(opts, cmd, configPath, inputPath)
	if res == nil {
		return batchErr
	}

	dbPath := opts.Settings.GetString(SettingDB)
	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.commandError(ExitCommandError, ErrCodeStoreFailed, "open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if err := st.WriteBatch(cmd.Context(), res); err != nil {
		return formatter.commandError(ExitCommandError, ErrCodeStoreFailed, "write batch", err)
	}
	slog.Info("batch stored", "batch_id", res.ID, "db", dbPath)

	report := newBatchReport(res)
	report.Database = dbPath
	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		printBatch(formatter, report)
		formatter.VerboseLog("Stored batch %s in %s", res.ID, dbPath)
	}

	if batchErr != nil {
		return WrapExitError(ExitFailure, "batch aborted", batchErr)
	}
	return nil
}
