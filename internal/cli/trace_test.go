package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/ret"
)

func traceFixture() *core.RunState {
	agent := core.DispatchTarget{Kind: core.TargetAgent, AgentID: "agent-1"}
	channel := core.DispatchTarget{Kind: core.TargetChannel, Channel: "#releases"}
	return &core.RunState{
		RunID:      "r-1",
		ScenarioID: "deploy",
		Status:     core.RunTerminal,
		Triggers: []core.TriggerRecord{
			{Seq: 1, Event: core.TriggerEvent{TriggerID: "t-1", Kind: core.TriggerAgentRequestNext}},
			{Seq: 2, Event: core.TriggerEvent{TriggerID: "t-2", Kind: core.TriggerTick}},
			{Seq: 3, Event: core.TriggerEvent{TriggerID: "t-3", Kind: core.TriggerExternalEvent}},
		},
		Decisions: []core.DecisionRecord{
			{
				DecisionID: "d-1", Seq: 1, TriggerID: "t-1", StageID: "build", DecidedAt: core.Logical(1),
				Outcome: core.DecisionOutcome{Kind: core.OutcomeHold, StageID: "build"},
				Gates:   []core.GateOutcome{{GateID: "ci", Status: ret.False}},
			},
			{
				DecisionID: "d-2", Seq: 2, TriggerID: "t-2", StageID: "build", DecidedAt: core.Logical(2),
				Outcome: core.DecisionOutcome{Kind: core.OutcomeAdvance, FromStage: "build", ToStage: "ship"},
				Gates:   []core.GateOutcome{{GateID: "ci", Status: ret.True}},
			},
			{
				DecisionID: "d-3", Seq: 3, TriggerID: "t-3", StageID: "ship", DecidedAt: core.Logical(3),
				Outcome: core.DecisionOutcome{Kind: core.OutcomeComplete, StageID: "ship"},
			},
		},
		Packets: []core.PacketRecord{{
			DecisionID: "d-2",
			Envelope:   core.PacketEnvelope{PacketID: "release_notes"},
			Receipts: []core.DispatchReceipt{
				{Target: agent, Dispatcher: "log"},
				{Target: channel, Dispatcher: "log", Error: &core.DispatchFailure{Code: "unreachable", Message: "channel closed"}},
			},
		}},
		Submissions: []core.SubmissionRecord{{SubmissionID: "s-1"}},
	}
}

func TestBuildTrace(t *testing.T) {
	result := BuildTrace(traceFixture(), "")

	require.Len(t, result.Timeline, 3)
	assert.Equal(t, "hold", result.Timeline[0].Outcome)
	assert.Equal(t, "agent_request_next", result.Timeline[0].TriggerKind)
	assert.Equal(t, []string{"ci=false"}, result.Timeline[0].Gates)
	assert.Equal(t, "ship", result.Timeline[1].ToStage)
	assert.Equal(t, "tick", result.Timeline[1].TriggerKind)
	assert.Equal(t, "logical:3", result.Timeline[2].At)

	require.Len(t, result.Deliveries, 2)
	assert.Equal(t, DeliveryEdge{DecisionID: "d-2", PacketID: "release_notes", Target: "agent:agent-1", Dispatcher: "log", Delivered: true}, result.Deliveries[0])
	assert.False(t, result.Deliveries[1].Delivered)
	assert.Equal(t, "unreachable: channel closed", result.Deliveries[1].Error)

	assert.Equal(t, TraceStats{
		Triggers:    3,
		Decisions:   3,
		Holds:       1,
		Advances:    1,
		Packets:     1,
		Failed:      1,
		Submissions: 1,
		IsComplete:  true,
	}, result.Stats)
}

func TestBuildTraceStageFilter(t *testing.T) {
	result := BuildTrace(traceFixture(), "ship")

	require.Len(t, result.Timeline, 1)
	assert.Equal(t, "d-3", result.Timeline[0].DecisionID)
	assert.Empty(t, result.Deliveries, "deliveries follow the decisions kept")
	assert.Equal(t, 3, result.Stats.Decisions, "stats cover the whole run")
}

func TestTraceRenderText(t *testing.T) {
	buf := &bytes.Buffer{}
	BuildTrace(traceFixture(), "").renderText(buf)
	out := buf.String()

	assert.Contains(t, out, "Run: r-1 (deploy, terminal)")
	assert.Contains(t, out, "[2] d-2 advance build -> ship")
	assert.Contains(t, out, "trigger: t-2 (tick) at logical:2")
	assert.Contains(t, out, "✓ release_notes → agent:agent-1 (d-2)")
	assert.Contains(t, out, "✗ release_notes → channel:#releases (d-2): unreachable: channel closed")
	assert.Contains(t, out, "Stats: 3 decision(s), 1 hold(s), 1 advance(s)")
}

func TestTraceEmptyRun(t *testing.T) {
	buf := &bytes.Buffer{}
	BuildTrace(&core.RunState{RunID: "r-0", Status: core.RunActive}, "").renderText(buf)
	assert.Contains(t, buf.String(), "No decisions recorded.")
}

func TestTraceCommand(t *testing.T) {
	env := completedRun(t)

	out, err := env.run(t, "trace", "--namespace", "releases", "--run-id", "r-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Run: r-1 (deploy, terminal)")
	assert.Contains(t, out, "release_notes → agent:agent-1")

	out, err = env.run(t, "--format", "json", "trace", "--namespace", "releases", "--run-id", "r-1")
	require.NoError(t, err)
	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data.Timeline, 3)
	assert.Equal(t, 1, resp.Data.Stats.Advances)
	assert.True(t, resp.Data.Stats.IsComplete)
}

func TestTraceCommandUnknownRun(t *testing.T) {
	env := newTestEnv(t, "green", "approved")

	out, err := env.run(t, "trace", "--namespace", "releases", "--run-id", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestTraceCommandRequiresFlags(t *testing.T) {
	_, err := execute(t, "trace", "--run-id", "r-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "namespace")
}
