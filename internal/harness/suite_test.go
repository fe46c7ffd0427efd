package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios_Directory(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "release_happy_path.yaml"),
		filepath.Join("testdata", "scenarios", "triage_timeout_branch.yaml"),
		filepath.Join("testdata", "scenarios", "trust_lane_timeout.yaml"),
	}, paths)
}

func TestFindScenarios_File(t *testing.T) {
	path := filepath.Join("testdata", "scenarios", "release_happy_path.yaml")
	paths, err := FindScenarios(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)
}

func TestFindScenarios_Missing(t *testing.T) {
	_, err := FindScenarios(filepath.Join(t.TempDir(), "nope"))
	var nf *ScenarioNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Contains(t, nf.Error(), "does not exist")
}

func TestRunSuite(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(broken, []byte("name: broken\n"), 0644); err != nil {
		t.Fatal(err)
	}
	failing := writeScenario(t, `
name: failing
description: "Expects a completion that never comes"
spec: approval.json
flow:
  - action: next
    trigger_id: t-1
assertions:
  - type: trace_count
    outcome: complete
    count: 1
`)

	result, err := RunSuite(context.Background(), append(paths, broken, failing))
	require.NoError(t, err)

	assert.Equal(t, 5, result.TotalScenarios)
	assert.Equal(t, 3, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, broken, result.Failures[0].ScenarioPath)
	assert.Contains(t, result.Failures[0].Errors[0], "failed to load scenario")
	assert.Equal(t, "failing", result.Failures[1].Scenario)
	assert.Contains(t, result.Failures[1].Errors[0], "trace_count")
}

func TestRunSuite_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := RunSuite(ctx, []string{"testdata/scenarios/release_happy_path.yaml"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, result.TotalScenarios)
}
