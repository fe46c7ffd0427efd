package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/ret"
)

// ScenarioNext is an agent asking the run to re-evaluate its current
// stage. It feeds the same idempotent pipeline as Trigger.
func (e *Engine) ScenarioNext(ctx context.Context, req NextRequest) (*TriggerResult, error) {
	if req.AgentID == "" {
		return nil, NewValidationError("agent_id is required")
	}
	return e.handleTrigger(ctx, req.Event(), MethodNext, req)
}

// Trigger processes an externally sourced event.
func (e *Engine) Trigger(ctx context.Context, ev core.TriggerEvent) (*TriggerResult, error) {
	return e.handleTrigger(ctx, ev, MethodTrigger, ev)
}

func validateTrigger(ev core.TriggerEvent) error {
	switch {
	case ev.TriggerID == "":
		return NewValidationError("trigger_id is required")
	case ev.TriggerID == StartTriggerID:
		return NewValidationError("trigger_id %q is reserved for the start decision", StartTriggerID)
	case ev.TenantID == "" || ev.NamespaceID == "" || ev.RunID == "":
		return NewValidationError("tenant_id, namespace_id and run_id are required")
	case !ev.Kind.Known():
		return NewValidationError("unknown trigger kind %q", ev.Kind)
	}
	if err := ev.Time.Validate(); err != nil {
		return NewValidationError("trigger time: %v", err)
	}
	return nil
}

func (e *Engine) handleTrigger(ctx context.Context, ev core.TriggerEvent, method string, request any) (result *TriggerResult, err error) {
	if err := validateTrigger(ev); err != nil {
		return nil, err
	}
	key := ev.Key()
	ctx, done := e.track(ctx, "dgate."+method, append(runAttrs(key), attribute.String("dgate.trigger_id", ev.TriggerID))...)
	defer func() { done(err) }()

	unlock := e.locks.lock(key)
	defer unlock()

	state, reg, err := e.loadRun(ctx, key)
	if err != nil {
		return nil, err
	}

	if d, ok := state.DecisionForTrigger(ev.TriggerID); ok {
		if state.PendingDispatch != nil && state.PendingDispatch.DecisionID == d.DecisionID {
			if err := e.resumeDispatch(ctx, state); err != nil {
				return nil, err
			}
		}
		e.logger.Info("trigger replayed",
			"run_id", state.RunID,
			"trigger_id", ev.TriggerID,
			"decision_id", d.DecisionID,
			"event", "trigger_replayed",
		)
		return triggerResult(state, d), nil
	}
	if state.PendingDispatch != nil {
		if err := e.resumeDispatch(ctx, state); err != nil {
			return nil, err
		}
	}
	if state.Status.Absorbing() {
		last, _ := state.LastDecision()
		e.logger.Info("trigger on inactive run",
			"run_id", state.RunID,
			"trigger_id", ev.TriggerID,
			"status", string(state.Status),
			"event", "trigger_ignored",
		)
		return triggerResult(state, last), nil
	}

	spec := reg.Spec
	stage, ok := spec.Stage(state.CurrentStageID)
	if !ok {
		return nil, newError(ErrCodeStageNotFound, state.RunID, nil, "stage %q not in scenario", state.CurrentStageID)
	}

	state.RecordTrigger(ev)
	ec := core.EvidenceContext{
		TenantID:      state.TenantID,
		NamespaceID:   state.NamespaceID,
		RunID:         state.RunID,
		ScenarioID:    state.ScenarioID,
		StageID:       stage.StageID,
		TriggerID:     ev.TriggerID,
		TriggerTime:   ev.Time,
		CorrelationID: ev.CorrelationID,
	}
	results := e.gatherEvidence(ctx, spec, stage.StageConditionIDs(), ec)
	eval := e.evaluateStage(spec, stage, results, state.RunID)
	appendGateEvals(state, ev.TriggerID, stage, eval)

	d, err := e.decide(spec, stage, state, eval, ev)
	if err != nil {
		return nil, err
	}
	if err := recordToolCall(state, method, request, d, ev.Time, ev.CorrelationID); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, state, d.DecisionID, ev.Time); err != nil {
		return nil, err
	}

	e.logger.Info("trigger decided",
		"run_id", state.RunID,
		"trigger_id", ev.TriggerID,
		"decision_id", d.DecisionID,
		"outcome", string(d.Outcome.Kind),
		"stage_id", state.CurrentStageID,
		"status", string(state.Status),
		"event", "trigger_decided",
	)
	return triggerResult(state, d), nil
}

// decide applies the gate outcome to state and appends the decision.
func (e *Engine) decide(spec *core.ScenarioSpec, stage *core.StageSpec, state *core.RunState, eval *stageEvaluation, ev core.TriggerEvent) (core.DecisionRecord, error) {
	decision := core.DecisionRecord{
		TriggerID:     ev.TriggerID,
		StageID:       stage.StageID,
		DecidedAt:     ev.Time,
		Gates:         gateOutcomes(eval),
		CorrelationID: ev.CorrelationID,
	}

	var enter string
	switch {
	case eval.AllTrue():
		decision.Outcome, enter = advance(spec, stage.StageID, eval.Outcomes, false)
	case stageTimedOut(stage, state, ev.Time):
		policy := stage.OnTimeout.Effective()
		e.logger.Warn("stage timeout elapsed",
			"run_id", state.RunID,
			"stage_id", stage.StageID,
			"on_timeout", string(policy),
			"event", "stage_timeout",
		)
		switch policy {
		case core.OnTimeoutHold:
			state.TimeoutFlagged = true
			decision.Outcome = core.DecisionOutcome{
				Kind:    core.OutcomeHold,
				StageID: stage.StageID,
				Timeout: true,
				Summary: safeSummary(spec, stage, eval, stage.Timeout.PolicyTags),
			}
		case core.OnTimeoutAdvance:
			decision.Outcome, enter = advance(spec, stage.StageID, eval.Outcomes, true)
		default:
			decision.Outcome = core.DecisionOutcome{Kind: core.OutcomeFail, StageID: stage.StageID, Reason: core.ReasonStageTimeout}
		}
	default:
		decision.Outcome = core.DecisionOutcome{
			Kind:    core.OutcomeHold,
			StageID: stage.StageID,
			Summary: safeSummary(spec, stage, eval, nil),
		}
	}

	decisionID := fmt.Sprintf("decision-%d", len(state.Decisions)+1)
	if enter != "" {
		next, ok := spec.Stage(enter)
		if !ok {
			return core.DecisionRecord{}, newError(ErrCodeStageNotFound, state.RunID, nil, "stage %q not in scenario", enter)
		}
		packets, err := e.issuePackets(spec, next, state, decisionID, ev.Time, ev.CorrelationID)
		if err != nil {
			e.logger.Error("entry packet rejected",
				"run_id", state.RunID,
				"stage_id", enter,
				"error", err,
				"event", "packet_invalid",
			)
			decision.Outcome = core.DecisionOutcome{Kind: core.OutcomeFail, StageID: stage.StageID, Reason: core.ReasonPacketInvalid}
		} else {
			state.CurrentStageID = enter
			state.StageEnteredAt = ev.Time
			state.TimeoutFlagged = false
			state.Packets = append(state.Packets, packets...)
		}
	}

	state.Status = decision.Outcome.RunStatus()
	return state.AppendDecision(decision), nil
}

// advance resolves the outgoing edge of stageID. It returns the stage to
// enter, or "" when the run completes or fails.
func advance(spec *core.ScenarioSpec, stageID string, gates map[string]ret.TriState, timeout bool) (core.DecisionOutcome, string) {
	next, ok := spec.NextStage(stageID, gates)
	switch {
	case !ok && timeout:
		return core.DecisionOutcome{Kind: core.OutcomeFail, StageID: stageID, Reason: core.ReasonTimeoutUnresolved}, ""
	case !ok:
		return core.DecisionOutcome{Kind: core.OutcomeFail, StageID: stageID, Reason: core.ReasonBranchUnresolved}, ""
	case next == "":
		return core.DecisionOutcome{Kind: core.OutcomeComplete, StageID: stageID, Timeout: timeout}, ""
	default:
		return core.DecisionOutcome{Kind: core.OutcomeAdvance, FromStage: stageID, ToStage: next, Timeout: timeout}, next
	}
}

// stageTimedOut reports whether the stage's timeout has elapsed at now.
// Timestamps of different kinds never time out.
func stageTimedOut(stage *core.StageSpec, state *core.RunState, now core.Timestamp) bool {
	if stage.Timeout == nil {
		return false
	}
	elapsed, ok := now.Elapsed(state.StageEnteredAt)
	return ok && elapsed >= stage.Timeout.TimeoutMs
}

func appendGateEvals(state *core.RunState, triggerID string, stage *core.StageSpec, eval *stageEvaluation) {
	for i, g := range eval.Gates {
		ids := map[string]bool{}
		for _, id := range stage.Gates[i].Requirement.ConditionIDs() {
			ids[id] = true
		}
		records := []core.EvidenceRecord{}
		for _, rec := range eval.Evidence {
			if ids[rec.ConditionID] {
				records = append(records, rec)
			}
		}
		state.GateEvals = append(state.GateEvals, core.GateEvalRecord{
			TriggerID:  triggerID,
			StageID:    stage.StageID,
			Evaluation: g,
			Evidence:   records,
		})
	}
}

func triggerResult(state *core.RunState, d core.DecisionRecord) *TriggerResult {
	return &TriggerResult{
		Decision: d,
		Packets:  state.PacketsForDecision(d.DecisionID),
		Status:   d.Outcome.RunStatus(),
	}
}
