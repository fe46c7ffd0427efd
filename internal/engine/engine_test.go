package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/dispatch"
	"github.com/roach88/dgate/internal/store"
	"github.com/roach88/dgate/internal/testutil"
)

const (
	testTenant    = "tenant-1"
	testNamespace = "default"
)

// singleGateSpecJSON is one stage with one gate over a condition that
// requires verified evidence equal to true.
const singleGateSpecJSON = `{
  "scenario_id": "approval",
  "namespace_id": "default",
  "spec_version": "1.0.0",
  "stages": [
    {
      "stage_id": "approve",
      "gates": [{"gate_id": "g1", "requirement": {"condition": "c1"}}],
      "advance_to": {"kind": "terminal"}
    }
  ],
  "conditions": [
    {"condition_id": "c1", "query": {"provider_id": "review", "check_id": "approved"},
     "comparator": "equals", "expected": true, "trust": {"min_lane": "verified"},
     "policy_tags": ["review"]}
  ]
}`

// releaseSpecJSON moves from review to ship; ship issues a notes packet on
// entry.
const releaseSpecJSON = `{
  "scenario_id": "release",
  "namespace_id": "default",
  "spec_version": "1.0.0",
  "stages": [
    {
      "stage_id": "review",
      "gates": [{"gate_id": "ci", "requirement": {"condition": "ci_green"}}],
      "advance_to": {"kind": "linear"}
    },
    {
      "stage_id": "ship",
      "entry_packets": [
        {"packet_id": "notes", "schema_id": "notes", "content_type": "application/json",
         "visibility_labels": ["internal"],
         "payload": {"kind": "json", "value": {"text": "go", "build": 42}}}
      ],
      "gates": [{"gate_id": "signed", "requirement": {"condition": "sig"}}],
      "advance_to": {"kind": "terminal"}
    }
  ],
  "conditions": [
    {"condition_id": "ci_green", "query": {"provider_id": "ci", "check_id": "status"},
     "comparator": "eq", "expected": "green"},
    {"condition_id": "sig", "query": {"provider_id": "sig", "check_id": "present"},
     "comparator": "exists"}
  ]
}`

var (
	agentTarget    = core.DispatchTarget{Kind: core.TargetAgent, AgentID: "agent-1"}
	externalTarget = core.DispatchTarget{Kind: core.TargetExternal, System: "jira", Target: "REL"}
)

type testEnv struct {
	engine     *Engine
	provider   *testutil.ScriptedProvider
	dispatcher *dispatch.Recording
	store      *store.MemoryStore
	clock      *testutil.DeterministicClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		provider:   testutil.NewScriptedProvider("review", "ci", "sig"),
		dispatcher: dispatch.NewRecording(),
		store:      store.NewMemoryStore(),
		clock:      testutil.NewDeterministicClock(),
	}
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	env.engine = New(env.store, env.provider, env.dispatcher, opts...)
	return env
}

func loadSpec(t *testing.T, data string) *core.ScenarioSpec {
	t.Helper()
	var spec core.ScenarioSpec
	require.NoError(t, core.DecodeJSON([]byte(data), &spec))
	return &spec
}

func (env *testEnv) register(t *testing.T, data string) *core.ScenarioSpec {
	t.Helper()
	spec := loadSpec(t, data)
	_, err := env.engine.RegisterScenario(spec)
	require.NoError(t, err)
	return spec
}

func (env *testEnv) start(t *testing.T, scenarioID, runID string, targets ...core.DispatchTarget) *core.RunState {
	t.Helper()
	state, err := env.engine.StartRun(context.Background(), StartRunRequest{
		Config: RunConfig{
			TenantID:        testTenant,
			NamespaceID:     testNamespace,
			RunID:           runID,
			ScenarioID:      scenarioID,
			DispatchTargets: targets,
		},
		StartedAt:         env.clock.Current(),
		IssueEntryPackets: true,
	})
	require.NoError(t, err)
	return state
}

func (env *testEnv) next(runID, triggerID string) (*TriggerResult, error) {
	return env.engine.ScenarioNext(context.Background(), nextRequest(runID, triggerID, env.clock.Next()))
}

func (env *testEnv) load(t *testing.T, runID string) *core.RunState {
	t.Helper()
	state, err := env.store.Load(context.Background(), runKey(runID))
	require.NoError(t, err)
	require.NotNil(t, state)
	return state
}

func nextRequest(runID, triggerID string, at core.Timestamp) NextRequest {
	return NextRequest{
		TenantID:    testTenant,
		NamespaceID: testNamespace,
		RunID:       runID,
		TriggerID:   triggerID,
		AgentID:     "agent-1",
		Time:        at,
	}
}

func runKey(runID string) core.RunKey {
	return core.RunKey{TenantID: testTenant, NamespaceID: testNamespace, RunID: runID}
}
