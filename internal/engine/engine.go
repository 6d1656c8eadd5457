package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/entmap/internal/cache"
	"github.com/roach88/entmap/internal/compiler"
	"github.com/roach88/entmap/internal/config"
	"github.com/roach88/entmap/internal/ir"
	"github.com/roach88/entmap/internal/mapper"
	"github.com/roach88/entmap/internal/relation"
)

// RecordSource yields the records of one batch. Next returns io.EOF when
// the source is drained; any other error is fatal to the batch.
type RecordSource interface {
	Next(ctx context.Context) (ir.Record, error)
}

// DefaultWorkers is the default number of records processed at once.
const DefaultWorkers = 4

// Engine owns the current generation and runs batches against it.
//
// Thread-safety model:
//   - Current(), CacheStats(), ProcessBatch(): safe from any goroutine
//   - Reload(): safe from any goroutine; reloads are serialized
type Engine struct {
	current atomic.Pointer[Generation]

	reloadMu sync.Mutex
	number   uint64 // last generation number, guarded by reloadMu

	ids             IDGenerator
	now             func() time.Time
	workers         int
	ruleParallelism int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithWorkers sets how many records are processed concurrently.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRuleParallelism bounds concurrent rules within one record.
func WithRuleParallelism(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.ruleParallelism = n
		}
	}
}

// WithIDGenerator replaces the UUIDv7 batch and generation id source.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the wall clock used for timestamps and cache TTLs.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// New creates an engine with no generation; call Reload before
// ProcessBatch.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		ids:             UUIDv7Generator{},
		now:             time.Now,
		workers:         DefaultWorkers,
		ruleParallelism: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reload compiles doc and publishes it as the next generation. On error
// the current generation stays in place.
func (e *Engine) Reload(doc *config.Document) (*Generation, error) {
	compiled, err := compiler.Compile(doc)
	if err != nil {
		slog.Error("reload rejected", "errors", len(compiler.ConfigErrors(err)), "error", err)
		return nil, fmt.Errorf("compile configuration: %w", err)
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	gen, err := e.newGeneration(e.number+1, compiled)
	if err != nil {
		return nil, err
	}
	e.number = gen.Number
	prev := e.current.Swap(gen)

	attrs := []any{
		"generation", gen.Number,
		"generation_id", gen.ID,
		"digest", gen.Digest,
		"entity_types", len(compiled.EntityTypes),
	}
	if prev != nil {
		attrs = append(attrs, "previous", prev.Number, "changed", prev.Digest != gen.Digest)
	}
	slog.Info("generation published", attrs...)
	return gen, nil
}

// Current returns the published generation, or nil before the first Reload.
func (e *Engine) Current() *Generation {
	return e.current.Load()
}

// CacheStats returns counters for the current generation's caches.
func (e *Engine) CacheStats() []cache.Stats {
	gen := e.Current()
	if gen == nil {
		return nil
	}
	return gen.Caches.Stats()
}

// BatchResult is everything one batch produced.
type BatchResult struct {
	ID           string    `json:"batch_id"`
	Generation   uint64    `json:"generation"`
	GenerationID string    `json:"generation_id"`
	Digest       string    `json:"digest"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`

	Records  int `json:"records"`
	Rejected int `json:"rejected"` // records with at least one rejected entity
	Merged   int `json:"merged"`   // entity inserts merged into an existing key

	Entities []*ir.Entity            `json:"entities"`
	Resolved []relation.ResolvedEdge `json:"resolved"`
	Orphans  []relation.OrphanEdge   `json:"orphans"`
	Errors   []RecordError           `json:"errors"`

	Aborted bool `json:"aborted"`
}

type job struct {
	n   int
	rec ir.Record
}

// ProcessBatch reads src to the end and returns the batch result.
//
// A source error or a cancelled context aborts the batch: records already
// read are finished and resolved, and the partial result is returned with
// the error.
func (e *Engine) ProcessBatch(ctx context.Context, src RecordSource) (*BatchResult, error) {
	gen := e.Current()
	if gen == nil {
		return nil, ErrNoGeneration
	}

	res := &BatchResult{
		ID:           e.ids.Generate(),
		Generation:   gen.Number,
		GenerationID: gen.ID,
		Digest:       gen.Digest,
		StartedAt:    e.now(),
	}
	slog.Info("batch started", "batch_id", res.ID, "generation", gen.Number, "workers", e.workers)

	resolver := relation.NewResolver()
	var (
		mu       sync.Mutex
		records  int
		rejected int
		errs     []RecordError
	)
	collect := func(found []RecordError, wasRejected bool) {
		mu.Lock()
		defer mu.Unlock()
		records++
		if wasRejected {
			rejected++
		}
		errs = append(errs, found...)
	}

	jobs := make(chan job)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for n := 1; ; n++ {
			rec, err := src.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return fmt.Errorf("%w: record %d: %w", ErrSourceFailed, n, err)
			}
			select {
			case jobs <- job{n: n, rec: rec}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			// Drain every job handed over, even after cancellation.
			for j := range jobs {
				found, wasRejected := processRecord(gen.Mapper, resolver, j)
				collect(found, wasRejected)
			}
			return nil
		})
	}
	err := g.Wait()

	resolution := resolver.Finish()
	slices.SortStableFunc(errs, func(a, b RecordError) int { return a.Record - b.Record })

	res.Records = records
	res.Rejected = rejected
	res.Merged = resolution.Merged
	res.Entities = resolution.Entities
	res.Resolved = resolution.Resolved
	res.Orphans = resolution.Orphans
	res.Errors = errs
	res.FinishedAt = e.now()

	if err != nil {
		res.Aborted = true
		slog.Error("batch aborted", "batch_id", res.ID, "records", res.Records, "error", err)
		return res, err
	}
	if len(res.Orphans) > 0 {
		slog.Warn("orphaned relationships", "batch_id", res.ID, "count", len(res.Orphans))
	}
	slog.Info("batch finished",
		"batch_id", res.ID,
		"records", res.Records,
		"rejected", res.Rejected,
		"entities", len(res.Entities),
		"resolved", len(res.Resolved),
		"orphans", len(res.Orphans),
		"duration", res.FinishedAt.Sub(res.StartedAt),
	)
	return res, nil
}

// processRecord maps one record into every entity type and indexes the
// results. MapAll visits reference targets first, so they are indexed
// before the edges pointing at them.
func processRecord(m *mapper.Mapper, resolver *relation.Resolver, j job) ([]RecordError, bool) {
	var (
		errs     []RecordError
		rejected bool
	)
	for _, mapped := range m.MapAll(j.rec) {
		errs = append(errs, recordErrors(j.n, mapped)...)
		if mapped.Rejected() {
			rejected = true
			continue
		}
		if err := resolver.Add(mapped.Entity); err != nil {
			// The resolver only finishes after every worker returns.
			slog.Error("entity dropped", "record", j.n, "entity_type", mapped.EntityType, "error", err)
		}
	}
	return errs, rejected
}

// recordErrors flattens validation and mapping problems. A cached entity
// was built from identical input, so its mapping errors apply to this
// record as well.
func recordErrors(n int, mapped *mapper.Mapped) []RecordError {
	var out []RecordError
	if vr := mapped.Validation; vr != nil {
		for _, fe := range slices.Concat(vr.Errors, vr.Warnings) {
			out = append(out, RecordError{
				Record:     n,
				EntityType: mapped.EntityType,
				Stage:      StageValidation,
				Field:      fe.Field,
				Code:       fe.RuleID,
				Severity:   string(fe.Severity),
				Message:    fe.Message,
			})
		}
	}
	for _, me := range mapped.Errors {
		if me.Code == mapper.CodeValidationRejected && mapped.Validation != nil {
			continue
		}
		severity := string(ir.SeverityWarning)
		if me.Fatal {
			severity = string(ir.SeverityFatal)
		}
		out = append(out, RecordError{
			Record:     n,
			EntityType: mapped.EntityType,
			Stage:      StageMapping,
			Field:      me.Target,
			Code:       me.Code,
			Severity:   severity,
			Message:    me.Message,
		})
	}
	return out
}
