package engine

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/evidence"
	"github.com/roach88/dgate/internal/ret"
)

// sharedConditionSpecJSON has two gates over the same condition.
const sharedConditionSpecJSON = `{
  "scenario_id": "shared",
  "namespace_id": "default",
  "spec_version": "1.0.0",
  "stages": [
    {
      "stage_id": "approve",
      "gates": [
        {"gate_id": "g1", "requirement": {"condition": "c1"}},
        {"gate_id": "g2", "requirement": {"condition": "c1"}}
      ],
      "advance_to": {"kind": "terminal"}
    }
  ],
  "conditions": [
    {"condition_id": "c1", "query": {"provider_id": "review", "check_id": "approved"},
     "comparator": "equals", "expected": true}
  ]
}`

// stallingProvider blocks until its context ends, or panics when told to.
type stallingProvider struct {
	calls  atomic.Int32
	panics bool
}

func (p *stallingProvider) Query(ctx context.Context, _ core.EvidenceQuery, _ core.EvidenceContext) (core.EvidenceResult, error) {
	p.calls.Add(1)
	if p.panics {
		panic("provider blew up")
	}
	<-ctx.Done()
	return core.EvidenceResult{}, ctx.Err()
}

func (p *stallingProvider) ValidateProviders(*core.ScenarioSpec) error { return nil }

func newStallingEnv(t *testing.T, p core.EvidenceProvider, opts ...Option) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	env.engine = New(env.store, p, env.dispatcher, opts...)
	return env
}

func TestScenarioNext_SharedConditionQueriedOncePerPass(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, sharedConditionSpecJSON)
	env.start(t, "shared", "run-1")

	env.provider.SetValue("review", "approved", false, core.LaneVerified)
	res, err := env.next("run-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeHold, res.Decision.Outcome.Kind)
	assert.Equal(t, 1, env.provider.Calls())

	state := env.load(t, "run-1")
	require.Len(t, state.GateEvals, 2)
	for _, rec := range state.GateEvals {
		assert.Equal(t, ret.False, rec.Evaluation.Status, rec.Evaluation.GateID)
	}

	env.provider.SetValue("review", "approved", true, core.LaneVerified)
	res, err = env.next("run-1", "t-2")
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeComplete, res.Decision.Outcome.Kind)
	assert.Equal(t, 2, env.provider.Calls())
}

func TestScenarioNext_ProviderTimeoutIsUnknownWithoutRetry(t *testing.T) {
	p := &stallingProvider{}
	env := newStallingEnv(t, p, WithProviderTimeout(20*time.Millisecond))
	env.register(t, sharedConditionSpecJSON)
	env.start(t, "shared", "run-1")

	started := time.Now()
	res, err := env.next("run-1", "t-1")
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, core.OutcomeHold, res.Decision.Outcome.Kind)
	assert.Equal(t, int32(1), p.calls.Load())

	state := env.load(t, "run-1")
	require.Len(t, state.GateEvals, 2)
	for _, rec := range state.GateEvals {
		assert.Equal(t, ret.Unknown, rec.Evaluation.Status, rec.Evaluation.GateID)
		require.Len(t, rec.Evidence, 1)
		require.NotNil(t, rec.Evidence[0].Result.Error)
		assert.Equal(t, evidence.CodeProviderTimeout, rec.Evidence[0].Result.Error.Code)
	}

	_, err = env.next("run-1", "t-2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestScenarioNext_ProviderPanicIsUnknown(t *testing.T) {
	p := &stallingProvider{panics: true}
	env := newStallingEnv(t, p)
	env.register(t, singleGateSpecJSON)
	env.start(t, "approval", "run-1")

	var res *TriggerResult
	var err error
	require.NotPanics(t, func() { res, err = env.next("run-1", "t-1") })
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeHold, res.Decision.Outcome.Kind)

	state := env.load(t, "run-1")
	require.Len(t, state.GateEvals, 1)
	rec := state.GateEvals[0]
	assert.Equal(t, ret.Unknown, rec.Evaluation.Status)
	require.Len(t, rec.Evidence, 1)
	require.NotNil(t, rec.Evidence[0].Result.Error)
	assert.Equal(t, evidence.CodeProviderError, rec.Evidence[0].Result.Error.Code)
	assert.Contains(t, rec.Evidence[0].Result.Error.Message, "provider blew up")
}
