package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Strict bool // warnings fail the command too
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <config> <input.csv>",
		Short: "Validate and map a CSV batch without storing it",
		Long: `Validate and map every record of a CSV file as one batch and report
record-level errors and relationship resolution. Nothing is written.

Exits 1 when a record is rejected (or, with --strict, when any warning is
reported).`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "treat warnings as failures")

	return cmd
}

func runValidate(opts *ValidateOptions, configPath, inputPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	res, err := processFile(opts.RootOptions, cmd, configPath, inputPath)
	if res == nil {
		return err
	}
	report := newBatchReport(res)

	if formatter.Format == "json" {
		if encErr := formatter.Success(report); encErr != nil {
			return encErr
		}
	} else {
		printBatch(formatter, report)
	}

	if err != nil {
		return WrapExitError(ExitFailure, "batch aborted", err)
	}
	if report.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) rejected", report.Rejected))
	}
	if opts.Strict && len(report.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d warning(s) reported", len(report.Errors)))
	}
	return nil
}
