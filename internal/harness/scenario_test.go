package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entmap/internal/ir"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/awards_end_to_end.yaml")
	require.NoError(t, err)

	assert.Equal(t, "awards_end_to_end", s.Name)
	assert.Equal(t, "../configs/awards.yaml", s.Config)
	assert.Equal(t, 2, s.Workers)
	require.Len(t, s.Records, 3)
	require.NotNil(t, s.Records[0]["agency_code"])
	assert.Equal(t, "012", *s.Records[0]["agency_code"])
	assert.Len(t, s.Assertions, 12)
	assert.Equal(t, "testdata/configs/awards.yaml", s.resolve(s.Config))
}

func TestLoadScenario_NotFound(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario")
}

func TestParseScenario_NullCells(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: nulls
declarations:
  entities:
    - name: agency
      key: [code]
      mappings:
        - {type: direct, target: code, source: code}
records:
  - {code: "1", name: null}
assertions:
  - {type: error_count, count: 0}
`))
	require.NoError(t, err)
	require.NotNil(t, s.Declarations)
	assert.Equal(t, []ir.Record{{"code": ir.IRString("1"), "name": ir.IRNull{}}}, s.records())
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "config: a.yaml\nassertions: [{type: error_count, count: 0}]",
			wantErr: "name is required",
		},
		{
			name:    "no config",
			yaml:    "name: x\nassertions: [{type: error_count, count: 0}]",
			wantErr: "exactly one of config or declarations",
		},
		{
			name:    "records and csv",
			yaml:    "name: x\nconfig: a.yaml\ncsv: a.csv\nrecords: [{a: b}]\nassertions: [{type: error_count, count: 0}]",
			wantErr: "mutually exclusive",
		},
		{
			name:    "no assertions",
			yaml:    "name: x\nconfig: a.yaml",
			wantErr: "at least one assertion",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\nconfig: a.yaml\nassertions: [{type: vibes}]",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "count missing",
			yaml:    "name: x\nconfig: a.yaml\nassertions: [{type: rejected_count}]",
			wantErr: "requires count",
		},
		{
			name:    "bad edge state",
			yaml:    "name: x\nconfig: a.yaml\nassertions: [{type: edge_count, state: pending, count: 1}]",
			wantErr: "resolved or orphaned",
		},
		{
			name:    "edge without ends",
			yaml:    "name: x\nconfig: a.yaml\nassertions: [{type: edge, state: resolved}]",
			wantErr: "requires from and to",
		},
		{
			name:    "entity without key",
			yaml:    "name: x\nconfig: a.yaml\nassertions: [{type: entity, entity_type: agency}]",
			wantErr: "requires entity_type and key",
		},
		{
			name:    "unknown field",
			yaml:    "name: x\nconfig: a.yaml\nexpect: {}\nassertions: [{type: error_count, count: 0}]",
			wantErr: "field expect not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
