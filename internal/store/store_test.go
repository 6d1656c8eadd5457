package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entmap/internal/engine"
	"github.com/roach88/entmap/internal/ir"
	"github.com/roach88/entmap/internal/relation"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBatch(id string, started time.Time) *engine.BatchResult {
	agency := &ir.Entity{
		Type: "agency",
		Key:  ir.NaturalKey{"012", "34"},
		Attributes: ir.IRObject{
			"agency_code":     ir.IRString("012"),
			"sub_agency_code": ir.IRString("34"),
		},
	}
	contractRef := ir.EntityRef{Type: "contract", Key: ir.NaturalKey{"CONT123"}}
	resolved := ir.RelationshipEdge{
		Kind: ir.Hierarchical, Mode: ir.ResolveDeferred, Attribute: "awarding_agency",
		From: contractRef, To: agency.Ref(), State: ir.EdgeResolved,
	}
	orphan := ir.RelationshipEdge{
		Kind: ir.Hierarchical, Mode: ir.ResolveDeferred, Attribute: "awarding_agency",
		From:  ir.EntityRef{Type: "contract", Key: ir.NaturalKey{"CONT456"}},
		To:    ir.EntityRef{Type: "agency", Key: ir.NaturalKey{"XX", "34"}},
		State: ir.EdgeOrphaned,
	}
	contract := &ir.Entity{
		Type: "contract",
		Key:  contractRef.Key,
		Attributes: ir.IRObject{
			"award_amount": ir.IRDecimal("1500.50"),
			"flags":        ir.IRArray{ir.IRBool(true), ir.IRNull{}},
			"count":        ir.IRInt(3),
		},
		Relationships: []ir.RelationshipEdge{resolved},
	}
	orphanOwner := &ir.Entity{Type: "contract", Key: orphan.From.Key, Attributes: ir.IRObject{}}

	return &engine.BatchResult{
		ID:           id,
		Generation:   2,
		GenerationID: "gen-2",
		Digest:       "sha256:abc",
		StartedAt:    started,
		FinishedAt:   started.Add(1500 * time.Millisecond),
		Records:      2,
		Rejected:     1,
		Entities:     []*ir.Entity{agency, contract, orphanOwner},
		Resolved:     []relation.ResolvedEdge{{RelationshipEdge: resolved, TargetID: agency.ID()}},
		Orphans:      []relation.OrphanEdge{{RelationshipEdge: orphan, Reason: relation.ReasonNotInBatch}},
		Errors: []engine.RecordError{
			{Record: 2, EntityType: "agency", Stage: engine.StageValidation, Field: "agency_code",
				Code: "agency_code.pattern", Severity: "fatal", Message: "agency_code value XX does not match ^[0-9]{3}$"},
			{Record: 2, EntityType: "contract", Stage: engine.StageMapping, Field: "award_amount",
				Code: "TRANSFORM_FAILED", Severity: "warning", Message: "decimal: not a number"},
		},
	}
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.WriteBatch(context.Background(), sampleBatch("b1", t0)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	sum, err := s.ReadBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Entities)
}

func TestWriteBatch_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	batch := sampleBatch("b1", t0)
	require.NoError(t, s.WriteBatch(ctx, batch))

	sum, err := s.ReadBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{
		ID:           "b1",
		Generation:   2,
		GenerationID: "gen-2",
		Digest:       "sha256:abc",
		StartedAt:    t0,
		FinishedAt:   t0.Add(1500 * time.Millisecond),
		Records:      2,
		Rejected:     1,
		Entities:     3,
		Resolved:     1,
		Orphans:      1,
		Errors:       2,
	}, sum)

	entities, err := s.ReadEntities(ctx, "b1", "")
	require.NoError(t, err)
	require.Len(t, entities, 3)
	assert.Equal(t, "agency", entities[0].Type)
	contract := entities[1]
	assert.Equal(t, ir.NaturalKey{"CONT123"}, contract.Key)
	assert.Equal(t, batch.Entities[1].Attributes, contract.Attributes, "decimals keep their text")
	assert.Equal(t, batch.Entities[1].Relationships, contract.Relationships)
	assert.Empty(t, entities[2].Relationships)

	onlyAgencies, err := s.ReadEntities(ctx, "b1", "agency")
	require.NoError(t, err)
	assert.Len(t, onlyAgencies, 1)

	orphans, err := s.ReadOrphans(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, batch.Orphans, orphans)

	resolved, err := s.ReadResolved(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, batch.Resolved, resolved)

	errs, err := s.ReadRecordErrors(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, batch.Errors, errs)
}

func TestWriteBatch_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteBatch(ctx, sampleBatch("b1", t0)))
	require.NoError(t, s.WriteBatch(ctx, sampleBatch("b1", t0)))

	sum, err := s.ReadBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Entities)
	assert.Equal(t, 2, sum.Errors)
}

func TestWriteBatch_Aborted(t *testing.T) {
	s := createTestStore(t)
	batch := sampleBatch("b1", t0)
	batch.Aborted = true
	require.NoError(t, s.WriteBatch(context.Background(), batch))

	sum, err := s.ReadBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, sum.Aborted)
}

func TestReadBatch_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)
	_, err = s.LatestBatch(context.Background())
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestListBatches_Ordering(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	// Sub-second start times must still sort correctly as text.
	require.NoError(t, s.WriteBatch(ctx, sampleBatch("late", t0.Add(time.Second))))
	require.NoError(t, s.WriteBatch(ctx, sampleBatch("early", t0.Add(500*time.Millisecond))))
	require.NoError(t, s.WriteBatch(ctx, sampleBatch("first", t0)))

	batches, err := s.ListBatches(ctx)
	require.NoError(t, err)
	var ids []string
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"first", "early", "late"}, ids)

	latest, err := s.LatestBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", latest.ID)
}

func TestReadRecordErrors_Empty(t *testing.T) {
	s := createTestStore(t)
	errs, err := s.ReadRecordErrors(context.Background(), "none")
	require.NoError(t, err)
	assert.NotNil(t, errs)
	assert.Empty(t, errs)
}
