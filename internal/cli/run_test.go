package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/engine"
)

type triggerResponse struct {
	Status string              `json:"status"`
	Data   engine.TriggerResult `json:"data"`
}

func decodeTrigger(t *testing.T, out string) engine.TriggerResult {
	t.Helper()
	var resp triggerResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t, "green", "approved")

	out, err := env.run(t, "run", "start", env.spec, "--run-id", "r-1", "--target", "agent:agent-1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Run r-1 started")
	assert.Contains(t, out, "stage: build")

	out, err = env.run(t, "--format", "json", "run", "next", env.spec, "--run-id", "r-1", "--trigger-id", "t-1", "--agent-id", "agent-1")
	require.NoError(t, err)
	first := decodeTrigger(t, out)
	assert.Equal(t, core.OutcomeAdvance, first.Decision.Outcome.Kind)
	assert.Equal(t, "ship", first.Decision.Outcome.ToStage)
	require.Len(t, first.Packets, 1)
	assert.Equal(t, "release_notes", first.Packets[0].Envelope.PacketID)
	require.Len(t, first.Packets[0].Receipts, 1)
	assert.True(t, first.Packets[0].Receipts[0].Delivered())

	out, err = env.run(t, "run", "status", env.spec, "--run-id", "r-1")
	require.NoError(t, err)
	assert.Contains(t, out, "stage: ship")
	assert.Contains(t, out, "packets: release_notes")

	out, err = env.run(t, "run", "next", env.spec, "--run-id", "r-1", "--trigger-id", "t-2")
	require.NoError(t, err)
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "status: terminal")

	out, err = env.run(t, "run", "list", "--namespace", "releases")
	require.NoError(t, err)
	assert.Contains(t, out, "r-1  deploy  terminal  ship")
}

func TestRunNextIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "red", "approved")
	_, err := env.run(t, "run", "start", env.spec, "--run-id", "r-1")
	require.NoError(t, err)

	next := func() engine.TriggerResult {
		out, err := env.run(t, "--format", "json", "run", "next", env.spec, "--run-id", "r-1", "--trigger-id", "t-1")
		require.NoError(t, err)
		return decodeTrigger(t, out)
	}
	first, second := next(), next()
	assert.Equal(t, core.OutcomeHold, first.Decision.Outcome.Kind)
	assert.Equal(t, first.Decision.DecisionID, second.Decision.DecisionID)
	assert.Equal(t, first.Decision.Seq, second.Decision.Seq)
}

func TestRunNextDefaultsAgent(t *testing.T) {
	env := newTestEnv(t, "red", "approved")
	_, err := env.run(t, "run", "start", env.spec, "--run-id", "r-1")
	require.NoError(t, err)

	_, err = env.run(t, "run", "next", env.spec, "--run-id", "r-1", "--trigger-id", "t-1")
	require.NoError(t, err)

	state := loadRun(t, env, "r-1")
	require.NotEmpty(t, state.Triggers)
	last := state.Triggers[len(state.Triggers)-1].Event
	assert.Equal(t, "t-1", last.TriggerID)
	assert.Equal(t, "agent:"+DefaultAgentID, last.SourceID)
}

func TestRunNextEngineErrorIsNotDoubled(t *testing.T) {
	env := newTestEnv(t, "red", "approved")
	_, err := env.run(t, "run", "start", env.spec, "--run-id", "r-1")
	require.NoError(t, err)

	out, err := env.run(t, "run", "next", env.spec, "--run-id", "r-1", "--agent-id", "")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "VALIDATION: agent_id is required", err.Error())
	assert.Contains(t, out, "Error [VALIDATION]: agent_id is required")
	assert.NotContains(t, out, "VALIDATION: VALIDATION")
}

func TestRunNextHoldsWithSummary(t *testing.T) {
	env := newTestEnv(t, "red", "approved")
	_, err := env.run(t, "run", "start", env.spec, "--run-id", "r-1")
	require.NoError(t, err)

	out, err := env.run(t, "run", "next", env.spec, "--run-id", "r-1", "--trigger-id", "t-1")
	require.NoError(t, err)
	assert.Contains(t, out, "hold")
	assert.Contains(t, out, "gate ci: false")
	assert.Contains(t, out, "unmet: ci")
}

func TestRunTrigger(t *testing.T) {
	env := newTestEnv(t, "red", "approved")
	_, err := env.run(t, "run", "start", env.spec, "--run-id", "r-1")
	require.NoError(t, err)
	payload := writeFile(t, env.dir, "event.json", `{"build": 42}`)

	out, err := env.run(t, "--format", "json", "run", "trigger", env.spec,
		"--run-id", "r-1", "--trigger-id", "t-ext", "--kind", "external_event", "--payload", payload)
	require.NoError(t, err)
	res := decodeTrigger(t, out)
	assert.Equal(t, "t-ext", res.Decision.TriggerID)
	assert.Equal(t, core.RunActive, res.Status)

	_, err = env.run(t, "run", "trigger", env.spec, "--run-id", "r-1", "--kind", "carrier_pigeon")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown trigger kind")
}

func TestRunSubmit(t *testing.T) {
	env := newTestEnv(t, "red", "approved")
	_, err := env.run(t, "run", "start", env.spec, "--run-id", "r-1")
	require.NoError(t, err)
	payload := writeFile(t, env.dir, "notes.json", `{"summary": "looks good"}`)

	out, err := env.run(t, "run", "submit", env.spec, "--run-id", "r-1", "--submission-id", "s-1", "--payload", payload)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Submission s-1 recorded on r-1")

	// Submissions never advance a run.
	out, err = env.run(t, "run", "status", env.spec, "--run-id", "r-1")
	require.NoError(t, err)
	assert.Contains(t, out, "stage: build")

	_, err = env.run(t, "run", "submit", env.spec, "--run-id", "r-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--payload is required")

	out, err = env.run(t, "run", "submit", env.spec, "--run-id", "r-1", "--payload", filepath.Join(env.dir, "absent.json"))
	require.Error(t, err)
	assert.Contains(t, out, ErrCodePayloadFile)
}

func TestRunStatusUnknownRun(t *testing.T) {
	env := newTestEnv(t, "green", "approved")

	out, err := env.run(t, "run", "status", env.spec, "--run-id", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "RUN_NOT_FOUND")
}

func TestRunRequiresRunID(t *testing.T) {
	env := newTestEnv(t, "green", "approved")

	for _, sub := range []string{"next", "trigger", "status", "submit"} {
		t.Run(sub, func(t *testing.T) {
			_, err := env.run(t, "run", sub, env.spec)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), "--run-id is required")
		})
	}
}

func TestRunStartGeneratesRunID(t *testing.T) {
	env := newTestEnv(t, "green", "approved")

	out, err := env.run(t, "--format", "json", "run", "start", env.spec)
	require.NoError(t, err)
	var resp struct {
		Data core.RunState `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data.RunID, 36, "run ids are UUIDs")
	assert.Equal(t, "releases", resp.Data.NamespaceID)
}

func TestRunStartRejectsBadTarget(t *testing.T) {
	env := newTestEnv(t, "green", "approved")

	_, err := env.run(t, "run", "start", env.spec, "--target", "pigeon:coo")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunListFilters(t *testing.T) {
	env := newTestEnv(t, "red", "approved")
	for _, id := range []string{"r-1", "r-2", "r-3"} {
		_, err := env.run(t, "run", "start", env.spec, "--run-id", id)
		require.NoError(t, err)
	}

	out, err := env.run(t, "run", "list", "--namespace", "releases", "--status", "active", "--stage", "build", "--scenario", "deploy")
	require.NoError(t, err)
	assert.Contains(t, out, "r-1  deploy  active  build")
	assert.Contains(t, out, "r-3  deploy  active  build")

	out, err = env.run(t, "run", "list", "--namespace", "releases", "--stage", "ship,build", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "r-2")
	assert.NotContains(t, out, "r-3")

	out, err = env.run(t, "run", "list", "--namespace", "releases", "--status", "terminal")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")

	_, err = env.run(t, "run", "list", "--namespace", "releases", "--status", "paused")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunListRequiresNamespace(t *testing.T) {
	env := newTestEnv(t, "green", "approved")

	_, err := env.run(t, "run", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--namespace is required")
}

func TestRunOptionsDefaults(t *testing.T) {
	opts := &RunOptions{IDGenerator: engine.NewFixedGenerator("a", "b")}
	assert.Equal(t, "a", opts.generate())
	assert.Equal(t, "b", opts.generate())

	spec := &core.ScenarioSpec{NamespaceID: "releases"}
	assert.Equal(t, "releases", opts.namespace(spec))
	opts.NamespaceID = "override"
	assert.Equal(t, "override", opts.namespace(spec))
}

func TestParseTargets(t *testing.T) {
	targets, err := parseTargets([]string{
		"agent:a-1",
		"session:s-1",
		"channel:#releases",
		"external:slack/C123",
	})
	require.NoError(t, err)
	require.Len(t, targets, 4)
	assert.Equal(t, core.DispatchTarget{Kind: core.TargetAgent, AgentID: "a-1"}, targets[0])
	assert.Equal(t, core.DispatchTarget{Kind: core.TargetSession, SessionID: "s-1"}, targets[1])
	assert.Equal(t, core.DispatchTarget{Kind: core.TargetChannel, Channel: "#releases"}, targets[2])
	assert.Equal(t, core.DispatchTarget{Kind: core.TargetExternal, System: "slack", Target: "C123"}, targets[3])

	for _, bad := range []string{"agent", "agent:", "external:slack", "pigeon:x"} {
		_, err := parseTargets([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestReadPayload(t *testing.T) {
	dir := t.TempDir()

	p, err := readPayload(writeFile(t, dir, "a.json", `{"k": 1}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, core.PayloadJSON, p.Kind)

	p, err = readPayload(writeFile(t, dir, "a.bin", "raw"), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, core.PayloadBytes, p.Kind)
	assert.Equal(t, []byte("raw"), p.Bytes)

	_, err = readPayload(writeFile(t, dir, "bad.json", "{"), "application/json")
	assert.Error(t, err)
}
