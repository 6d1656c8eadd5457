package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/entmap/internal/engine"
	"github.com/roach88/entmap/internal/ir"
)

// timeLayout stores timestamps with fixed-width fractions so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// WriteBatch stores a batch result in one transaction.
// Uses ON CONFLICT DO NOTHING for idempotency - writing a batch twice is a
// no-op. Aborted batches are stored too, marked aborted.
func (s *Store) WriteBatch(ctx context.Context, res *engine.BatchResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write batch: begin: %w", err)
	}
	defer tx.Rollback()

	if err := writeBatchRow(ctx, tx, res); err != nil {
		return fmt.Errorf("write batch %s: %w", res.ID, err)
	}
	if err := writeEntities(ctx, tx, res.ID, res.Entities); err != nil {
		return fmt.Errorf("write batch %s: %w", res.ID, err)
	}
	if err := writeEdges(ctx, tx, res); err != nil {
		return fmt.Errorf("write batch %s: %w", res.ID, err)
	}
	if err := writeRecordErrors(ctx, tx, res.ID, res.Errors); err != nil {
		return fmt.Errorf("write batch %s: %w", res.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write batch %s: commit: %w", res.ID, err)
	}
	return nil
}

func writeBatchRow(ctx context.Context, tx *sql.Tx, res *engine.BatchResult) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO batches
		(id, generation, generation_id, digest, started_at, finished_at, records, rejected, merged, aborted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		res.ID,
		int64(res.Generation),
		res.GenerationID,
		res.Digest,
		res.StartedAt.UTC().Format(timeLayout),
		res.FinishedAt.UTC().Format(timeLayout),
		res.Records,
		res.Rejected,
		res.Merged,
		res.Aborted,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func writeEntities(ctx context.Context, tx *sql.Tx, batchID string, entities []*ir.Entity) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (batch_id, id, entity_type, natural_key, attributes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare entity insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		attrs, err := marshalAttributes(e.Attributes)
		if err != nil {
			return fmt.Errorf("entity %s: %w", e.Ref(), err)
		}
		if _, err := stmt.ExecContext(ctx, batchID, e.ID(), e.Type, e.Key.String(), attrs); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.Ref(), err)
		}
	}
	return nil
}

func writeEdges(ctx context.Context, tx *sql.Tx, res *engine.BatchResult) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges
		(batch_id, identity, kind, mode, attribute, from_type, from_key, to_type, to_key, state, target_id, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer stmt.Close()

	insert := func(e ir.RelationshipEdge, targetID, reason string) error {
		_, err := stmt.ExecContext(ctx,
			res.ID, e.Identity(),
			string(e.Kind), string(e.Mode), e.Attribute,
			e.From.Type, e.From.Key.String(),
			e.To.Type, e.To.Key.String(),
			string(e.State), targetID, reason,
		)
		if err != nil {
			return fmt.Errorf("insert edge %s: %w", e.Identity(), err)
		}
		return nil
	}
	for _, e := range res.Resolved {
		if err := insert(e.RelationshipEdge, e.TargetID, ""); err != nil {
			return err
		}
	}
	for _, e := range res.Orphans {
		if err := insert(e.RelationshipEdge, "", e.Reason); err != nil {
			return err
		}
	}
	return nil
}

func writeRecordErrors(ctx context.Context, tx *sql.Tx, batchID string, errs []engine.RecordError) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO record_errors
		(batch_id, seq, record, entity_type, stage, field, code, severity, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare record error insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range errs {
		if _, err := stmt.ExecContext(ctx,
			batchID, i+1, e.Record, e.EntityType, string(e.Stage), e.Field, e.Code, e.Severity, e.Message,
		); err != nil {
			return fmt.Errorf("insert record error %d: %w", i+1, err)
		}
	}
	return nil
}
