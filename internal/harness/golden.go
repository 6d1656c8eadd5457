package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entmap/internal/ir"
)

// Snapshot renders the deterministic part of a result as canonical JSON.
// Batch and generation ids, timestamps, and entity hashes are left out.
func Snapshot(r *Result) ([]byte, error) {
	entities := make([]any, len(r.Entities))
	for i, e := range r.Entities {
		entities[i] = map[string]any{
			"entity_type": e.Type,
			"natural_key": []string(e.Key),
			"attributes":  e.Attributes,
		}
	}
	resolved := make([]any, len(r.Resolved))
	for i, e := range r.Resolved {
		resolved[i] = e.Identity()
	}
	orphans := make([]any, len(r.Orphans))
	for i, e := range r.Orphans {
		orphans[i] = map[string]any{
			"edge":   e.Identity(),
			"reason": e.Reason,
		}
	}
	errs := make([]any, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = map[string]any{
			"record":      e.Record,
			"entity_type": e.EntityType,
			"stage":       string(e.Stage),
			"field":       e.Field,
			"code":        e.Code,
			"severity":    e.Severity,
			"message":     e.Message,
		}
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario": r.Scenario,
		"batch": map[string]any{
			"generation": int64(r.Batch.Generation),
			"records":    r.Batch.Records,
			"rejected":   r.Batch.Rejected,
			"merged":     r.Batch.Merged,
		},
		"entities": entities,
		"resolved": resolved,
		"orphans":  orphans,
		"errors":   errs,
	})
}

// RunWithGolden runs the scenario, requires every assertion to pass, and
// compares the snapshot with testdata/golden/<name>.golden.
// Regenerate with: go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	result, err := Run(s)
	require.NoError(t, err, "scenario %s failed to run", s.Name)
	for _, f := range result.Failures {
		t.Errorf("scenario %s: %v", s.Name, f)
	}

	snapshot, err := Snapshot(result)
	require.NoError(t, err, "snapshot %s", s.Name)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, snapshot)
	return result
}
