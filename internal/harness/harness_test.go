package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(t *testing.T, body string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(writeScenario(t, body))
	require.NoError(t, err)
	return scenario
}

func TestRun_MinimalScenario(t *testing.T) {
	result, err := Run(loadScenario(t, validScenario))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "start", result.Trace[0].Action)
	assert.Equal(t, "decision-1", result.Trace[0].DecisionID)
	assert.Equal(t, "next", result.Trace[1].Action)
	assert.Equal(t, "complete", result.Trace[1].Outcome)
	assert.Equal(t, "approve", result.Trace[1].From)
	assert.Equal(t, 2, result.Trace[1].Step)

	require.NotNil(t, result.State)
	assert.Len(t, result.State.Decisions, 2)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario := loadScenario(t, `
name: wrong_expectation
description: "Asserted evidence cannot complete a verified gate"
spec: approval.json
flow:
  - action: next
    trigger_id: t-1
    evidence:
      - {provider: review, check: approved, value: true, lane: asserted}
    expect:
      outcome: complete
      gates: {g1: "true"}
assertions:
  - type: final_state
    expect: {status: active}
`)
	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `flow[0]: expected outcome "complete", got "hold"`)
	assert.Contains(t, result.Errors[1], `expected gate g1 "true", got "unknown"`)
}

func TestRun_AssertedLaneAllowedByEngineDefault(t *testing.T) {
	scenario := loadScenario(t, `
name: asserted_default
description: "An asserted engine default accepts asserted evidence"
spec: approval.json
engine:
  default_min_lane: asserted
flow:
  - action: next
    trigger_id: t-1
    evidence:
      - {provider: review, check: approved, value: true, lane: asserted}
    expect:
      outcome: complete
assertions:
  - type: trace_count
    outcome: complete
    count: 1
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ProviderErrorIsUnknown(t *testing.T) {
	scenario := loadScenario(t, `
name: provider_down
description: "A failing provider holds the run"
spec: approval.json
flow:
  - action: next
    trigger_id: t-1
    evidence:
      - {provider: review, check: approved, error: connection refused}
    expect:
      outcome: hold
      gates: {g1: unknown}
assertions:
  - type: final_state
    expect: {status: active, stage: approve, decisions: 2}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectedEngineError(t *testing.T) {
	scenario := loadScenario(t, `
name: conflicting_submission
description: "Resubmitting an id with different content is rejected"
spec: approval.json
flow:
  - action: submit
    submission: {submission_id: s-1, value: {v: 1}}
  - action: submit
    submission: {submission_id: s-1, value: {v: 2}}
    expect:
      error: VALIDATION
assertions:
  - type: final_state
    expect: {submissions: 1}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "VALIDATION", result.Trace[2].Error)
}

func TestRun_UnexpectedEngineErrorAborts(t *testing.T) {
	scenario := loadScenario(t, `
name: conflicting_submission
description: "An engine error without an expectation aborts the run"
spec: approval.json
flow:
  - action: submit
    submission: {submission_id: s-1, value: {v: 1}}
  - action: submit
    submission: {submission_id: s-1, value: {v: 2}}
assertions:
  - type: runpack_verifies
`)
	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow step 1")
}

func TestRun_TickTrigger(t *testing.T) {
	scenario := loadScenario(t, `
name: tick
description: "A tick trigger re-evaluates like any other trigger"
spec: approval.json
run:
  evidence:
    - {provider: review, check: approved, value: true, lane: verified}
flow:
  - action: trigger
    kind: tick
    trigger_id: tick-1
    advance: 0
    expect:
      outcome: complete
assertions:
  - type: trace_contains
    outcome: complete
    stage: approve
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "tick", result.Trace[1].Action)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/release_happy_path.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, FormatTrace(scenario.Name, first), FormatTrace(scenario.Name, second))
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestResult_Decisions(t *testing.T) {
	r := NewResult()
	r.AddTrace(TraceEvent{Action: "start", DecisionID: "decision-1", Outcome: "start"})
	r.AddTrace(TraceEvent{Action: "submit", SubmissionID: "s-1"})
	r.AddTrace(TraceEvent{Action: "next", DecisionID: "decision-2", Outcome: "hold"})
	r.AddTrace(TraceEvent{Action: "next", DecisionID: "decision-2", Outcome: "hold", Repeat: true})

	got := r.Decisions()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Step)
	assert.Equal(t, 3, got[1].Step)
}
