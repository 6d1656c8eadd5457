package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/entmap/internal/engine"
)

// BatchReport is the JSON payload of validate and run.
type BatchReport struct {
	BatchID    string               `json:"batch_id"`
	Generation uint64               `json:"generation"`
	Digest     string               `json:"digest"`
	Records    int                  `json:"records"`
	Rejected   int                  `json:"rejected"`
	Merged     int                  `json:"merged"`
	Entities   int                  `json:"entities"`
	Resolved   int                  `json:"resolved"`
	Orphans    int                  `json:"orphans"`
	Aborted    bool                 `json:"aborted"`
	Errors     []engine.RecordError `json:"errors"`
	Database   string               `json:"database,omitempty"`
}

func newBatchReport(res *engine.BatchResult) *BatchReport {
	errs := res.Errors
	if errs == nil {
		errs = []engine.RecordError{}
	}
	return &BatchReport{
		BatchID:    res.ID,
		Generation: res.Generation,
		Digest:     res.Digest,
		Records:    res.Records,
		Rejected:   res.Rejected,
		Merged:     res.Merged,
		Entities:   len(res.Entities),
		Resolved:   len(res.Resolved),
		Orphans:    len(res.Orphans),
		Aborted:    res.Aborted,
		Errors:     errs,
	}
}

// processFile runs one batch over a CSV input. Interrupts cancel the batch.
// A source failure returns the partial result together with the error.
func processFile(opts *RootOptions, cmd *cobra.Command, configPath, inputPath string) (*engine.BatchResult, error) {
	formatter := newFormatter(opts, cmd)

	eng, errs := newEngine(opts, configPath)
	if len(errs) > 0 {
		return nil, reportLoadErrors(formatter, errs)
	}
	formatter.VerboseLog("Generation %d loaded (digest %s)", eng.Current().Number, eng.Current().Digest)

	src, f, err := openCSV(inputPath)
	if err != nil {
		code, message := errorCode(err)
		return nil, formatter.commandError(ExitCommandError, code, message, nil)
	}
	defer f.Close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := eng.ProcessBatch(ctx, src)
	if err != nil && res == nil {
		return nil, formatter.commandError(ExitCommandError, ErrCodeGeneric, "process batch", err)
	}
	return res, err
}

// printBatch writes the human-readable batch summary and its record errors.
func printBatch(f *OutputFormatter, r *BatchReport) {
	status := "✓"
	if r.Rejected > 0 || r.Aborted {
		status = "✗"
	}
	fmt.Fprintf(f.Writer, "%s Batch %s (generation %d)\n", status, r.BatchID, r.Generation)
	fmt.Fprintf(f.Writer, "  records: %d, rejected: %d, entities: %d, merged: %d\n",
		r.Records, r.Rejected, r.Entities, r.Merged)
	fmt.Fprintf(f.Writer, "  edges: %d resolved, %d orphaned\n", r.Resolved, r.Orphans)
	if r.Aborted {
		fmt.Fprintln(f.Writer, "  aborted: input failed before the end of the batch")
	}
	printRecordErrors(f, r.Errors)
}

func printRecordErrors(f *OutputFormatter, errs []engine.RecordError) {
	if len(errs) == 0 {
		return
	}
	rows := make([]table.Row, len(errs))
	for i, e := range errs {
		rows[i] = table.Row{e.Record, e.EntityType, e.Stage, e.Field, e.Code, e.Severity, e.Message}
	}
	fmt.Fprintln(f.Writer)
	f.Table("Record errors", table.Row{"Record", "Entity", "Stage", "Field", "Code", "Severity", "Message"}, rows)
}
