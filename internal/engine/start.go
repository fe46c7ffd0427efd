package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/dgate/internal/core"
)

// StartTriggerID is the trigger id recorded on a run's start decision.
const StartTriggerID = "run_start"

// StartRun creates a run at its scenario's initial stage, optionally
// issuing and dispatching that stage's entry packets. An existing run is
// never overwritten.
func (e *Engine) StartRun(ctx context.Context, req StartRunRequest) (state *core.RunState, err error) {
	cfg := req.Config
	if cfg.TenantID == "" || cfg.NamespaceID == "" || cfg.RunID == "" || cfg.ScenarioID == "" {
		return nil, NewValidationError("tenant_id, namespace_id, run_id and scenario_id are required")
	}
	if err := req.StartedAt.Validate(); err != nil {
		return nil, NewValidationError("started_at: %v", err)
	}
	for _, t := range cfg.DispatchTargets {
		if err := t.Validate(); err != nil {
			return nil, NewValidationError("dispatch target: %v", err)
		}
	}

	key := cfg.Key()
	ctx, done := e.track(ctx, "dgate.start_run", append(runAttrs(key), attribute.String("dgate.scenario_id", cfg.ScenarioID))...)
	defer func() { done(err) }()

	reg, ok := e.registry.Lookup(cfg.NamespaceID, cfg.ScenarioID)
	if !ok {
		return nil, newError(ErrCodeScenarioNotFound, cfg.RunID, nil, "scenario %q is not registered", cfg.ScenarioID)
	}
	stage, err := reg.Spec.InitialStage()
	if err != nil {
		return nil, newError(ErrCodeValidation, cfg.RunID, err, "scenario has no initial stage")
	}

	unlock := e.locks.lock(key)
	defer unlock()

	existing, err := e.store.Load(ctx, key)
	if err != nil {
		return nil, newError(ErrCodeStore, cfg.RunID, err, "load run")
	}
	if existing != nil {
		return nil, newError(ErrCodeRunExists, cfg.RunID, nil, "run %s already exists", key)
	}

	targets := cfg.DispatchTargets
	if targets == nil {
		targets = []core.DispatchTarget{}
	}
	state = &core.RunState{
		TenantID:            cfg.TenantID,
		NamespaceID:         cfg.NamespaceID,
		RunID:               cfg.RunID,
		ScenarioID:          cfg.ScenarioID,
		SpecHash:            reg.Hash,
		CurrentStageID:      stage.StageID,
		StageEnteredAt:      req.StartedAt,
		Status:              core.RunActive,
		StartedAt:           req.StartedAt,
		DispatchTargets:     targets,
		Triggers:            []core.TriggerRecord{},
		ProcessedTriggerIDs: []string{},
		GateEvals:           []core.GateEvalRecord{},
		Decisions:           []core.DecisionRecord{},
		Packets:             []core.PacketRecord{},
		Submissions:         []core.SubmissionRecord{},
		ToolCalls:           []core.ToolCallRecord{},
	}

	decision := core.DecisionRecord{
		TriggerID:     StartTriggerID,
		StageID:       stage.StageID,
		DecidedAt:     req.StartedAt,
		Outcome:       core.DecisionOutcome{Kind: core.OutcomeStart, StageID: stage.StageID},
		CorrelationID: req.CorrelationID,
	}
	if req.IssueEntryPackets {
		packets, err := e.issuePackets(reg.Spec, stage, state, "decision-1", req.StartedAt, req.CorrelationID)
		if err != nil {
			return nil, newError(ErrCodeDataShape, cfg.RunID, err, "issue entry packets")
		}
		state.Packets = packets
	}
	d := state.AppendDecision(decision)
	if err := recordToolCall(state, MethodStartRun, req, d, req.StartedAt, req.CorrelationID); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, state, d.DecisionID, req.StartedAt); err != nil {
		return nil, err
	}

	e.logger.Info("run started",
		"run_id", state.RunID,
		"scenario_id", state.ScenarioID,
		"stage_id", state.CurrentStageID,
		"packets", len(state.Packets),
		"event", "run_started",
	)
	return state, nil
}
