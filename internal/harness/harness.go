package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/roach88/dgate/internal/compiler"
	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/datashape"
	"github.com/roach88/dgate/internal/dispatch"
	"github.com/roach88/dgate/internal/engine"
	"github.com/roach88/dgate/internal/policy"
	"github.com/roach88/dgate/internal/ret"
	"github.com/roach88/dgate/internal/store"
	"github.com/roach88/dgate/internal/testutil"
)

// Harness is the test execution engine.
// It runs one scenario against a real engine backed by an in-memory
// store, a scripted evidence provider and a recording dispatcher, all
// driven by a deterministic logical clock.
type Harness struct {
	scenario   *Scenario
	spec       *core.ScenarioSpec
	engine     *engine.Engine
	runs       *store.MemoryStore
	provider   *testutil.ScriptedProvider
	dispatcher *dispatch.Recording
	clock      *testutil.DeterministicClock
	logger     *slog.Logger
	key        core.RunKey
	seen       map[string]bool
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger passed to the engine. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store for isolation.
// Execution flow:
// 1. Load and compile the scenario spec
// 2. Start the run at logical time 0
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions against the trace and final state
//
// A returned error means the scenario could not be executed at all;
// behavioral mismatches are reported on Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := newHarness(scenario, opts...)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	result := NewResult()
	result.Spec = h.spec
	if err := h.start(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	if err := h.executeFlow(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	state, err := h.runs.Load(ctx, h.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load final state: %w", err)
	}
	result.State = state
	result.Deliveries = h.dispatcher.Deliveries()

	actx := &AssertionContext{Ctx: ctx, Spec: h.spec, State: state, Deliveries: result.Deliveries, Logger: h.logger}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, opts ...Option) (*Harness, error) {
	spec, err := compiler.LoadFile(scenario.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to load spec: %w", err)
	}

	h := &Harness{
		scenario:   scenario,
		spec:       spec,
		runs:       store.NewMemoryStore(),
		provider:   testutil.NewScriptedProvider(),
		dispatcher: dispatch.NewRecording(),
		clock:      testutil.NewDeterministicClock(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		seen:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, c := range spec.Conditions {
		h.provider.Bind(c.Query.ProviderID)
	}

	engineOpts := []engine.Option{engine.WithLogger(h.logger), engine.WithDispatcherName("harness")}
	if scenario.Engine.LogicMode != "" {
		mode, err := ret.ParseLogicMode(scenario.Engine.LogicMode)
		if err != nil {
			return nil, fmt.Errorf("engine.logic_mode: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithLogicMode(mode))
	}
	if scenario.Engine.DefaultMinLane != "" {
		lane, err := core.ParseTrustLane(scenario.Engine.DefaultMinLane)
		if err != nil {
			return nil, fmt.Errorf("engine.default_min_lane: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithDefaultMinLane(lane))
	}
	if scenario.Policy != nil {
		decider, err := policy.NewCELDecider(scenario.Policy.Rules, scenario.Policy.Default)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithPolicy(decider))
	}
	if len(spec.DataShapes) > 0 {
		shapes := datashape.NewRegistry()
		for _, shape := range spec.DataShapes {
			if shape.Schema == nil {
				continue
			}
			if err := shapes.Register(shape); err != nil {
				return nil, fmt.Errorf("data shape %q: %w", shape.SchemaID, err)
			}
		}
		engineOpts = append(engineOpts, engine.WithDataShapes(shapes))
	}

	h.engine = engine.New(h.runs, h.provider, h.dispatcher, engineOpts...)
	if _, err := h.engine.RegisterScenario(spec); err != nil {
		return nil, fmt.Errorf("failed to register scenario: %w", err)
	}

	run := scenario.Run
	h.key = core.RunKey{
		TenantID:    orDefault(run.TenantID, orDefault(spec.DefaultTenantID, DefaultTenantID)),
		NamespaceID: orDefault(run.NamespaceID, spec.NamespaceID),
		RunID:       orDefault(run.RunID, DefaultRunID),
	}
	return h, nil
}

// start records the run start as the first trace event.
func (h *Harness) start(ctx context.Context, result *Result) error {
	run := h.scenario.Run
	h.script(run.Evidence)

	targets := make([]core.DispatchTarget, 0, len(run.Targets))
	for _, t := range run.Targets {
		targets = append(targets, t.target())
	}
	state, err := h.engine.StartRun(ctx, engine.StartRunRequest{
		Config: engine.RunConfig{
			TenantID:        h.key.TenantID,
			NamespaceID:     h.key.NamespaceID,
			RunID:           h.key.RunID,
			ScenarioID:      h.spec.ScenarioID,
			DispatchTargets: targets,
		},
		StartedAt:         h.clock.Current(),
		IssueEntryPackets: run.IssueEntryPackets,
	})
	if err != nil {
		return err
	}

	d, _ := state.LastDecision()
	h.seen[d.DecisionID] = true
	ev := result.AddTrace(TraceEvent{
		Action:     "start",
		TriggerID:  d.TriggerID,
		DecisionID: d.DecisionID,
		Outcome:    string(d.Outcome.Kind),
		From:       d.StageID,
		Stage:      state.CurrentStageID,
		Status:     string(state.Status),
		Packets:    packetIDs(state.PacketsForDecision(d.DecisionID)),
	})
	h.check(result, "run", ev, run.Expect)
	h.logger.Info("scenario run started",
		"scenario", h.scenario.Name,
		"run_id", h.key.RunID,
		"stage_id", ev.Stage,
	)
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
func (h *Harness) executeFlow(ctx context.Context, result *Result) error {
	for i, step := range h.scenario.Flow {
		h.script(step.Evidence)
		advance := int64(1)
		if step.Advance != nil {
			advance = *step.Advance
		}
		now := h.clock.Advance(advance)

		var ev TraceEvent
		var err error
		switch step.Action {
		case ActionNext:
			ev, err = h.next(ctx, step, now)
		case ActionTrigger:
			ev, err = h.trigger(ctx, step, now)
		case ActionSubmit:
			ev, err = h.submit(ctx, step, now)
		default:
			return fmt.Errorf("flow step %d: unknown action %q", i, step.Action)
		}
		if err != nil {
			if step.Expect == nil || step.Expect.Error == "" {
				return fmt.Errorf("flow step %d: %w", i, err)
			}
			ev.Error = string(engine.CodeOf(err))
		}
		if err := h.fillStatus(ctx, &ev); err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		ev = result.AddTrace(ev)
		h.check(result, fmt.Sprintf("flow[%d]", i), ev, step.Expect)

		h.logger.Info("flow step completed",
			"step", i,
			"action", step.Action,
			"decision_id", ev.DecisionID,
			"outcome", ev.Outcome,
			"status", ev.Status,
		)
	}
	return nil
}

func (h *Harness) next(ctx context.Context, step FlowStep, now core.Timestamp) (TraceEvent, error) {
	res, err := h.engine.ScenarioNext(ctx, engine.NextRequest{
		TenantID:    h.key.TenantID,
		NamespaceID: h.key.NamespaceID,
		RunID:       h.key.RunID,
		TriggerID:   step.TriggerID,
		AgentID:     orDefault(h.scenario.Run.AgentID, DefaultAgentID),
		Time:        now,
	})
	return h.decisionEvent(ActionNext, step.TriggerID, res), err
}

func (h *Harness) trigger(ctx context.Context, step FlowStep, now core.Timestamp) (TraceEvent, error) {
	kind := core.TriggerKind(orDefault(step.Kind, string(core.TriggerExternalEvent)))
	res, err := h.engine.Trigger(ctx, core.TriggerEvent{
		TriggerID:   step.TriggerID,
		TenantID:    h.key.TenantID,
		NamespaceID: h.key.NamespaceID,
		RunID:       h.key.RunID,
		Kind:        kind,
		Time:        now,
		SourceID:    "harness",
	})
	return h.decisionEvent(string(kind), step.TriggerID, res), err
}

func (h *Harness) submit(ctx context.Context, step FlowStep, now core.Timestamp) (TraceEvent, error) {
	sub := step.Submission
	ev := TraceEvent{Action: ActionSubmit, SubmissionID: sub.SubmissionID}
	_, err := h.engine.ScenarioSubmit(ctx, engine.SubmitRequest{
		TenantID:     h.key.TenantID,
		NamespaceID:  h.key.NamespaceID,
		RunID:        h.key.RunID,
		SubmissionID: sub.SubmissionID,
		SchemaID:     sub.SchemaID,
		ContentType:  orDefault(sub.ContentType, "application/json"),
		Payload:      core.PacketPayload{Kind: core.PayloadJSON, Value: sub.Value},
		SubmittedAt:  now,
	})
	return ev, err
}

func (h *Harness) decisionEvent(action, triggerID string, res *engine.TriggerResult) TraceEvent {
	ev := TraceEvent{Action: action, TriggerID: triggerID}
	if res == nil {
		return ev
	}
	d := res.Decision
	ev.DecisionID = d.DecisionID
	ev.Outcome = string(d.Outcome.Kind)
	ev.From = d.StageID
	ev.Reason = d.Outcome.Reason
	ev.Timeout = d.Outcome.Timeout
	ev.Gates = d.Gates
	ev.Packets = packetIDs(res.Packets)
	ev.Repeat = h.seen[d.DecisionID]
	h.seen[d.DecisionID] = true
	return ev
}

// fillStatus records the run's stage and status after the step.
func (h *Harness) fillStatus(ctx context.Context, ev *TraceEvent) error {
	status, err := h.engine.ScenarioStatus(ctx, engine.StatusRequest{
		TenantID:    h.key.TenantID,
		NamespaceID: h.key.NamespaceID,
		RunID:       h.key.RunID,
	})
	if err != nil {
		return err
	}
	ev.Stage = status.CurrentStageID
	ev.Status = string(status.Status)
	return nil
}

// script applies evidence entries to the scripted provider.
func (h *Harness) script(entries []EvidenceEntry) {
	for _, e := range entries {
		if e.Error != "" {
			h.provider.SetError(e.Provider, e.Check, errors.New(e.Error))
			continue
		}
		h.provider.SetValue(e.Provider, e.Check, e.Value, core.TrustLane(e.Lane))
	}
}

// check compares a trace event with an expect clause.
func (h *Harness) check(result *Result, where string, ev TraceEvent, want *ExpectClause) {
	if want == nil {
		return
	}
	mismatch := func(field, expected, actual string) {
		result.AddError(fmt.Sprintf("%s: expected %s %q, got %q", where, field, expected, actual))
	}
	if want.Outcome != "" && want.Outcome != ev.Outcome {
		mismatch("outcome", want.Outcome, ev.Outcome)
	}
	if want.Status != "" && want.Status != ev.Status {
		mismatch("status", want.Status, ev.Status)
	}
	if want.Stage != "" && want.Stage != ev.Stage {
		mismatch("stage", want.Stage, ev.Stage)
	}
	if want.Reason != "" && want.Reason != ev.Reason {
		mismatch("reason", want.Reason, ev.Reason)
	}
	if want.Error != "" && want.Error != ev.Error {
		mismatch("error", want.Error, ev.Error)
	}
	if len(want.Gates) > 0 {
		got := make(map[string]string, len(ev.Gates))
		for _, g := range ev.Gates {
			got[g.GateID] = g.Status.String()
		}
		for id, status := range want.Gates {
			if got[id] != status {
				mismatch("gate "+id, status, got[id])
			}
		}
	}
	if want.Packets != nil && !reflect.DeepEqual(want.Packets, nonNilStrings(ev.Packets)) {
		mismatch("packets", fmt.Sprint(want.Packets), fmt.Sprint(ev.Packets))
	}
}

func packetIDs(packets []core.PacketRecord) []string {
	var ids []string
	for _, p := range packets {
		ids = append(ids, p.Envelope.PacketID)
	}
	return ids
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
