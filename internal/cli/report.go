package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/entmap/internal/engine"
	"github.com/roach88/entmap/internal/relation"
	"github.com/roach88/entmap/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	List bool
}

// StoredReport is the JSON payload of report for one batch.
type StoredReport struct {
	Batch   store.BatchSummary    `json:"batch"`
	Orphans []relation.OrphanEdge `json:"orphans"`
	Errors  []engine.RecordError  `json:"errors"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report [batch-id]",
		Short: "Print a stored batch's orphaned edges and record errors",
		Long: `Print the summary, orphaned relationship edges, and record errors of a
stored batch. Without a batch id the most recently started batch is shown;
--list prints every stored batch instead.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := ""
			if len(args) == 1 {
				batchID = args[0]
			}
			return runReport(opts, batchID, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.List, "list", false, "list stored batches")

	return cmd
}

func runReport(opts *ReportOptions, batchID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	dbPath := opts.Settings.GetString(SettingDB)
	if _, err := os.Stat(dbPath); err != nil {
		return formatter.commandError(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", dbPath), nil)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.commandError(ExitCommandError, ErrCodeStoreFailed, "open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if opts.List {
		batches, err := st.ListBatches(ctx)
		if err != nil {
			return formatter.commandError(ExitCommandError, ErrCodeStoreFailed, "list batches", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(batches)
		}
		rows := make([]table.Row, len(batches))
		for i, b := range batches {
			rows[i] = table.Row{b.ID, b.Generation, b.StartedAt.Format(time.RFC3339), b.Records, b.Rejected, b.Entities, b.Orphans, b.Errors, b.Aborted}
		}
		formatter.Table("Batches", table.Row{"Batch", "Generation", "Started", "Records", "Rejected", "Entities", "Orphans", "Errors", "Aborted"}, rows)
		return nil
	}

	var summary store.BatchSummary
	if batchID == "" {
		summary, err = st.LatestBatch(ctx)
	} else {
		summary, err = st.ReadBatch(ctx, batchID)
	}
	if errors.Is(err, store.ErrBatchNotFound) {
		return formatter.commandError(ExitCommandError, ErrCodeNotFound, "batch not found", err)
	}
	if err != nil {
		return formatter.commandError(ExitCommandError, ErrCodeStoreFailed, "read batch", err)
	}

	orphans, err := st.ReadOrphans(ctx, summary.ID)
	if err != nil {
		return formatter.commandError(ExitCommandError, ErrCodeStoreFailed, "read orphans", err)
	}
	recordErrors, err := st.ReadRecordErrors(ctx, summary.ID)
	if err != nil {
		return formatter.commandError(ExitCommandError, ErrCodeStoreFailed, "read record errors", err)
	}
	if orphans == nil {
		orphans = []relation.OrphanEdge{}
	}

	if formatter.Format == "json" {
		return formatter.Success(StoredReport{Batch: summary, Orphans: orphans, Errors: recordErrors})
	}

	fmt.Fprintf(formatter.Writer, "Batch %s (generation %d, digest %s)\n", summary.ID, summary.Generation, summary.Digest)
	fmt.Fprintf(formatter.Writer, "  records: %d, rejected: %d, entities: %d, merged: %d\n",
		summary.Records, summary.Rejected, summary.Entities, summary.Merged)
	fmt.Fprintf(formatter.Writer, "  edges: %d resolved, %d orphaned\n", summary.Resolved, summary.Orphans)
	if summary.Aborted {
		fmt.Fprintln(formatter.Writer, "  aborted: input failed before the end of the batch")
	}

	if len(orphans) > 0 {
		rows := make([]table.Row, len(orphans))
		for i, o := range orphans {
			rows[i] = table.Row{o.From.String(), o.Attribute, o.Kind, o.To.String(), o.Reason}
		}
		fmt.Fprintln(formatter.Writer)
		formatter.Table("Orphaned edges", table.Row{"From", "Attribute", "Kind", "To", "Reason"}, rows)
	}
	printRecordErrors(formatter, recordErrors)
	return nil
}
