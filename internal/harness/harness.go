package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/roach88/entmap/internal/engine"
	"github.com/roach88/entmap/internal/ir"
	"github.com/roach88/entmap/internal/relation"
	"github.com/roach88/entmap/internal/source"
	"github.com/roach88/entmap/internal/store"
	"github.com/roach88/entmap/internal/testutil"
)

// Result is the outcome of running a scenario. The batch data is what the
// store read back after the write, not the engine's in-memory result.
type Result struct {
	Scenario string
	Batch    store.BatchSummary
	Entities []*ir.Entity
	Resolved []relation.ResolvedEdge
	Orphans  []relation.OrphanEdge
	Errors   []engine.RecordError

	Pass     bool
	Failures []*AssertionError
}

// Run executes a scenario from start to finish. The returned error covers
// harness setup and processing failures; assertion failures are reported
// in Result.
func Run(s *Scenario) (*Result, error) {
	return RunContext(context.Background(), s)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, s *Scenario) (*Result, error) {
	doc, err := s.document()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	clock := testutil.NewManualClock(time.Time{})
	opts := []engine.EngineOption{
		engine.WithIDGenerator(testutil.NewSequenceIDGenerator("scenario")),
		engine.WithClock(clock.Now),
	}
	if s.Workers > 0 {
		opts = append(opts, engine.WithWorkers(s.Workers))
	}
	eng := engine.New(opts...)
	if _, err := eng.Reload(doc); err != nil {
		return nil, err
	}

	src, closeSource, err := s.source()
	if err != nil {
		return nil, err
	}
	defer closeSource()

	batch, err := eng.ProcessBatch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("process batch: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.WriteBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("write batch: %w", err)
	}
	result, err := readBack(ctx, st, batch.ID)
	if err != nil {
		return nil, err
	}
	result.Scenario = s.Name

	for i, a := range s.Assertions {
		if failure := checkAssertion(result, a); failure != nil {
			failure.Index = i
			result.Failures = append(result.Failures, failure)
		}
	}
	result.Pass = len(result.Failures) == 0
	return result, nil
}

func (s *Scenario) source() (engine.RecordSource, func(), error) {
	if s.CSV == "" {
		return source.FromRecords(s.records()...), func() {}, nil
	}
	f, err := os.Open(s.resolve(s.CSV))
	if err != nil {
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}
	return source.NewCSV(f), func() { f.Close() }, nil
}

func readBack(ctx context.Context, st *store.Store, batchID string) (*Result, error) {
	summary, err := st.ReadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	entities, err := st.ReadEntities(ctx, batchID, "")
	if err != nil {
		return nil, err
	}
	resolved, err := st.ReadResolved(ctx, batchID)
	if err != nil {
		return nil, err
	}
	orphans, err := st.ReadOrphans(ctx, batchID)
	if err != nil {
		return nil, err
	}
	errs, err := st.ReadRecordErrors(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Batch:    summary,
		Entities: entities,
		Resolved: resolved,
		Orphans:  orphans,
		Errors:   errs,
	}, nil
}
