package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/entmap/internal/engine"
	"github.com/roach88/entmap/internal/ir"
	"github.com/roach88/entmap/internal/relation"
)

// ErrBatchNotFound is returned when a batch id is not in the store.
var ErrBatchNotFound = errors.New("batch not found")

// BatchSummary is a stored batch with its row counts.
type BatchSummary struct {
	ID           string    `json:"batch_id"`
	Generation   uint64    `json:"generation"`
	GenerationID string    `json:"generation_id"`
	Digest       string    `json:"digest"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Records      int       `json:"records"`
	Rejected     int       `json:"rejected"`
	Merged       int       `json:"merged"`
	Aborted      bool      `json:"aborted"`

	Entities int `json:"entities"`
	Resolved int `json:"resolved"`
	Orphans  int `json:"orphans"`
	Errors   int `json:"errors"`
}

const batchColumns = `
	b.id, b.generation, b.generation_id, b.digest, b.started_at, b.finished_at,
	b.records, b.rejected, b.merged, b.aborted,
	(SELECT COUNT(*) FROM entities e WHERE e.batch_id = b.id),
	(SELECT COUNT(*) FROM edges g WHERE g.batch_id = b.id AND g.state = 'resolved'),
	(SELECT COUNT(*) FROM edges g WHERE g.batch_id = b.id AND g.state = 'orphaned'),
	(SELECT COUNT(*) FROM record_errors r WHERE r.batch_id = b.id)
`

// ReadBatch returns the summary of one batch.
func (s *Store) ReadBatch(ctx context.Context, id string) (BatchSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches b WHERE b.id = ?`, id)
	sum, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BatchSummary{}, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return sum, err
}

// ListBatches returns every batch, oldest first.
func (s *Store) ListBatches(ctx context.Context) ([]BatchSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches b
		ORDER BY b.started_at ASC, b.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	out := []BatchSummary{}
	for rows.Next() {
		sum, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return out, nil
}

// LatestBatch returns the most recently started batch.
func (s *Store) LatestBatch(ctx context.Context) (BatchSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches b
		ORDER BY b.started_at DESC, b.id COLLATE BINARY DESC
		LIMIT 1
	`)
	sum, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BatchSummary{}, ErrBatchNotFound
	}
	return sum, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (BatchSummary, error) {
	var (
		sum               BatchSummary
		generation        int64
		started, finished string
	)
	err := row.Scan(
		&sum.ID, &generation, &sum.GenerationID, &sum.Digest, &started, &finished,
		&sum.Records, &sum.Rejected, &sum.Merged, &sum.Aborted,
		&sum.Entities, &sum.Resolved, &sum.Orphans, &sum.Errors,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sum, err
		}
		return sum, fmt.Errorf("scan batch: %w", err)
	}
	sum.Generation = uint64(generation)
	if sum.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return sum, fmt.Errorf("parse started_at: %w", err)
	}
	if sum.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return sum, fmt.Errorf("parse finished_at: %w", err)
	}
	return sum, nil
}

// ReadEntities returns a batch's entities with their resolved edges,
// ordered by type and natural key. An empty entityType returns all types.
// Returns an empty slice (not nil) if no entities match.
func (s *Store) ReadEntities(ctx context.Context, batchID, entityType string) ([]*ir.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, natural_key, attributes
		FROM entities
		WHERE batch_id = ? AND (? = '' OR entity_type = ?)
		ORDER BY entity_type COLLATE BINARY ASC, natural_key COLLATE BINARY ASC
	`, batchID, entityType, entityType)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	out := []*ir.Entity{}
	byRef := make(map[string]*ir.Entity)
	for rows.Next() {
		var typ, key, attrs string
		if err := rows.Scan(&typ, &key, &attrs); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		nk, err := unmarshalKey(key)
		if err != nil {
			return nil, err
		}
		obj, err := unmarshalAttributes(attrs)
		if err != nil {
			return nil, err
		}
		e := &ir.Entity{Type: typ, Key: nk, Attributes: obj}
		out = append(out, e)
		byRef[e.Ref().String()] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	edges, err := s.readEdges(ctx, batchID, ir.EdgeResolved)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		if owner, ok := byRef[edge.From.String()]; ok {
			owner.Relationships = append(owner.Relationships, edge.RelationshipEdge)
		}
	}
	return out, nil
}

// ReadOrphans returns a batch's orphaned edges ordered by edge identity.
func (s *Store) ReadOrphans(ctx context.Context, batchID string) ([]relation.OrphanEdge, error) {
	edges, err := s.readEdges(ctx, batchID, ir.EdgeOrphaned)
	if err != nil {
		return nil, err
	}
	out := make([]relation.OrphanEdge, len(edges))
	for i, e := range edges {
		out[i] = relation.OrphanEdge{RelationshipEdge: e.RelationshipEdge, Reason: e.reason}
	}
	return out, nil
}

// ReadResolved returns a batch's resolved edges ordered by edge identity.
func (s *Store) ReadResolved(ctx context.Context, batchID string) ([]relation.ResolvedEdge, error) {
	edges, err := s.readEdges(ctx, batchID, ir.EdgeResolved)
	if err != nil {
		return nil, err
	}
	out := make([]relation.ResolvedEdge, len(edges))
	for i, e := range edges {
		out[i] = relation.ResolvedEdge{RelationshipEdge: e.RelationshipEdge, TargetID: e.targetID}
	}
	return out, nil
}

type storedEdge struct {
	ir.RelationshipEdge
	targetID string
	reason   string
}

func (s *Store) readEdges(ctx context.Context, batchID string, state ir.EdgeState) ([]storedEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, mode, attribute, from_type, from_key, to_type, to_key, state, target_id, reason
		FROM edges
		WHERE batch_id = ? AND state = ?
		ORDER BY identity COLLATE BINARY ASC
	`, batchID, string(state))
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []storedEdge
	for rows.Next() {
		var (
			e              storedEdge
			kind, mode, st string
			fromKey, toKey string
		)
		if err := rows.Scan(&kind, &mode, &e.Attribute, &e.From.Type, &fromKey,
			&e.To.Type, &toKey, &st, &e.targetID, &e.reason); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Kind = ir.RelationshipKind(kind)
		e.Mode = ir.ResolutionMode(mode)
		e.State = ir.EdgeState(st)
		if e.From.Key, err = unmarshalKey(fromKey); err != nil {
			return nil, err
		}
		if e.To.Key, err = unmarshalKey(toKey); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return out, nil
}

// ReadRecordErrors returns a batch's record errors in the order they were
// reported. Returns an empty slice (not nil) if there are none.
func (s *Store) ReadRecordErrors(ctx context.Context, batchID string) ([]engine.RecordError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record, entity_type, stage, field, code, severity, message
		FROM record_errors
		WHERE batch_id = ?
		ORDER BY seq ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query record errors: %w", err)
	}
	defer rows.Close()

	out := []engine.RecordError{}
	for rows.Next() {
		var (
			e     engine.RecordError
			stage string
		)
		if err := rows.Scan(&e.Record, &e.EntityType, &stage, &e.Field, &e.Code, &e.Severity, &e.Message); err != nil {
			return nil, fmt.Errorf("scan record error: %w", err)
		}
		e.Stage = engine.Stage(stage)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record errors: %w", err)
	}
	return out, nil
}
