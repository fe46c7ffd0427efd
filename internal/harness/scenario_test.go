package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalSpec = `{
  "scenario_id": "approval",
  "namespace_id": "default",
  "spec_version": "1.0.0",
  "stages": [
    {"stage_id": "approve",
     "gates": [{"gate_id": "g1", "requirement": {"condition": "c1"}}],
     "advance_to": {"kind": "terminal"}}
  ],
  "conditions": [
    {"condition_id": "c1", "query": {"provider_id": "review", "check_id": "approved"},
     "comparator": "equals", "expected": true}
  ]
}`

// writeScenario writes a spec next to a scenario file and returns the
// scenario path.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "approval.json"), []byte(minimalSpec), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validScenario = `
name: approve_once
description: "One verified approval completes the run"
spec: approval.json
flow:
  - action: next
    trigger_id: t-1
    evidence:
      - {provider: review, check: approved, value: true, lane: verified}
    expect:
      outcome: complete
assertions:
  - type: final_state
    expect: {status: terminal}
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, validScenario)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "approve_once", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "approval.json"), scenario.Spec)
	require.Len(t, scenario.Flow, 1)
	assert.Equal(t, ActionNext, scenario.Flow[0].Action)
	assert.Equal(t, "t-1", scenario.Flow[0].TriggerID)
	require.Len(t, scenario.Flow[0].Evidence, 1)
	assert.Equal(t, true, scenario.Flow[0].Evidence[0].Value)
	assert.Equal(t, "complete", scenario.Flow[0].Expect.Outcome)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, "terminal", scenario.Assertions[0].Expect["status"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, validScenario+"assertion: []\n")
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "description: d\nspec: approval.json\nflow: [{action: next, trigger_id: t}]\nassertions: [{type: runpack_verifies}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			body: "name: n\nspec: approval.json\nflow: [{action: next, trigger_id: t}]\nassertions: [{type: runpack_verifies}]\n",
			want: "description is required",
		},
		{
			name: "missing spec",
			body: "name: n\ndescription: d\nflow: [{action: next, trigger_id: t}]\nassertions: [{type: runpack_verifies}]\n",
			want: "spec is required",
		},
		{
			name: "spec not found",
			body: "name: n\ndescription: d\nspec: nope.json\nflow: [{action: next, trigger_id: t}]\nassertions: [{type: runpack_verifies}]\n",
			want: "spec file not found",
		},
		{
			name: "empty flow",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: []\nassertions: [{type: runpack_verifies}]\n",
			want: "flow list is required",
		},
		{
			name: "empty assertions",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: next, trigger_id: t}]\nassertions: []\n",
			want: "assertions list is required",
		},
		{
			name: "missing action",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{trigger_id: t}]\nassertions: [{type: runpack_verifies}]\n",
			want: "flow[0]: action is required",
		},
		{
			name: "unknown action",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: jump}]\nassertions: [{type: runpack_verifies}]\n",
			want: `unknown action "jump"`,
		},
		{
			name: "next without trigger",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: next}]\nassertions: [{type: runpack_verifies}]\n",
			want: "trigger_id is required for next",
		},
		{
			name: "unknown trigger kind",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: trigger, trigger_id: t, kind: cron}]\nassertions: [{type: runpack_verifies}]\n",
			want: `unknown trigger kind "cron"`,
		},
		{
			name: "submit without id",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: submit, submission: {value: 1}}]\nassertions: [{type: runpack_verifies}]\n",
			want: "submission.submission_id is required",
		},
		{
			name: "negative advance",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: next, trigger_id: t, advance: -1}]\nassertions: [{type: runpack_verifies}]\n",
			want: "advance must be non-negative",
		},
		{
			name: "bad lane",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: next, trigger_id: t, evidence: [{provider: p, check: c, lane: signed}]}]\nassertions: [{type: runpack_verifies}]\n",
			want: `unknown trust lane "signed"`,
		},
		{
			name: "bad target",
			body: "name: n\ndescription: d\nspec: approval.json\nrun: {targets: [{kind: agent}]}\nflow: [{action: next, trigger_id: t}]\nassertions: [{type: runpack_verifies}]\n",
			want: "run.targets[0]",
		},
		{
			name: "unknown assertion",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: next, trigger_id: t}]\nassertions: [{type: trace_magic}]\n",
			want: `unknown assertion type "trace_magic"`,
		},
		{
			name: "trace_order without outcomes",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: next, trigger_id: t}]\nassertions: [{type: trace_order}]\n",
			want: "outcomes list is required",
		},
		{
			name: "final_state without expect",
			body: "name: n\ndescription: d\nspec: approval.json\nflow: [{action: next, trigger_id: t}]\nassertions: [{type: final_state}]\n",
			want: "expect is required for final_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// TestLoadExampleScenarios validates the scenario files in testdata/scenarios.
func TestLoadExampleScenarios(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, scenario.Flow)
			assert.NotEmpty(t, scenario.Assertions)
		})
	}
}
