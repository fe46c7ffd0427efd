package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/dgate/internal/core"
)

// Precheck evaluates a stage against caller-asserted evidence and reports
// what a trigger would decide. It reads no store, calls no provider and
// dispatches nothing.
//
// Every supplied result is downgraded to the asserted lane, so conditions
// requiring verified evidence resolve Unknown here.
func (e *Engine) Precheck(ctx context.Context, req PrecheckRequest) (result *PrecheckResult, err error) {
	spec := req.Spec
	if spec == nil {
		reg, ok := e.registry.Lookup(req.NamespaceID, req.ScenarioID)
		if !ok {
			return nil, newError(ErrCodeScenarioNotFound, "", nil, "scenario %q is not registered", req.ScenarioID)
		}
		spec = reg.Spec
	} else if err := spec.Validate(); err != nil {
		return nil, newError(ErrCodeValidation, "", err, "scenario %q is invalid", spec.ScenarioID)
	}

	_, done := e.track(ctx, "dgate.precheck",
		attribute.String("dgate.scenario_id", spec.ScenarioID),
		attribute.String("dgate.stage_id", req.StageID),
	)
	defer func() { done(err) }()

	var stage *core.StageSpec
	if req.StageID == "" {
		if stage, err = spec.InitialStage(); err != nil {
			return nil, newError(ErrCodeValidation, "", err, "scenario has no stages")
		}
	} else {
		var ok bool
		if stage, ok = spec.Stage(req.StageID); !ok {
			return nil, newError(ErrCodeStageNotFound, "", nil, "stage %q not in scenario", req.StageID)
		}
	}

	asserted := make(map[string]core.EvidenceResult, len(req.Evidence))
	for id, res := range req.Evidence {
		res.Lane = core.LaneAsserted
		asserted[id] = res
	}
	eval := e.evaluateStage(spec, stage, asserted, "")

	result = &PrecheckResult{
		StageID:  stage.StageID,
		Gates:    eval.Gates,
		Evidence: eval.Evidence,
	}
	if eval.AllTrue() {
		outcome, next := advance(spec, stage.StageID, eval.Outcomes, false)
		result.Decision = outcome.Kind
		result.NextStageID = next
	} else {
		result.Decision = core.OutcomeHold
		result.Summary = safeSummary(spec, stage, eval, nil)
	}
	return result, nil
}
