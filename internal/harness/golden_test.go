package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_AwardsEndToEnd(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/awards_end_to_end.yaml")
	require.NoError(t, err)
	RunWithGolden(t, s)
}

func TestSnapshot_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/awards_end_to_end.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	want, err := Snapshot(first)
	require.NoError(t, err)

	for range 5 {
		again, err := Run(s)
		require.NoError(t, err)
		got, err := Snapshot(again)
		require.NoError(t, err)
		require.Equal(t, string(want), string(got))
	}
}
