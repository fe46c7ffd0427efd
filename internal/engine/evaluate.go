package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/evidence"
	"github.com/roach88/dgate/internal/ret"
)

// stageEvaluation is the outcome of one pass over a stage's gates.
type stageEvaluation struct {
	Gates    []core.GateEvaluation
	Evidence []core.EvidenceRecord
	Outcomes map[string]ret.TriState
}

// AllTrue reports whether every gate passed. A stage with no gates passes.
func (s *stageEvaluation) AllTrue() bool {
	for _, g := range s.Gates {
		if g.Status != ret.True {
			return false
		}
	}
	return true
}

// gatherEvidence queries every condition concurrently. Each query runs
// under the provider timeout; failures become erroring results.
func (e *Engine) gatherEvidence(ctx context.Context, spec *core.ScenarioSpec, ids []string, ec core.EvidenceContext) map[string]core.EvidenceResult {
	results := make(map[string]core.EvidenceResult, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		cond, ok := spec.Condition(id)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(cond core.ConditionSpec) {
			defer wg.Done()
			res := e.queryProvider(ctx, cond, ec)
			mu.Lock()
			results[cond.ConditionID] = res
			mu.Unlock()
		}(*cond)
	}
	wg.Wait()
	return results
}

func (e *Engine) queryProvider(ctx context.Context, cond core.ConditionSpec, ec core.EvidenceContext) core.EvidenceResult {
	ctx, done := e.track(ctx, "dgate.provider_query",
		attribute.String("dgate.condition_id", cond.ConditionID),
		attribute.String("dgate.provider_id", cond.Query.ProviderID),
		attribute.String("dgate.check_id", cond.Query.CheckID),
	)
	if e.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.providerTimeout)
		defer cancel()
	}

	res, err := e.callProvider(ctx, cond.Query, ec)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &evidence.ProviderError{
				ProviderID: cond.Query.ProviderID,
				CheckID:    cond.Query.CheckID,
				Code:       evidence.CodeProviderTimeout,
				Message:    "provider query timed out",
			}
		}
		e.logger.Warn("provider query failed",
			"condition_id", cond.ConditionID,
			"provider_id", cond.Query.ProviderID,
			"check_id", cond.Query.CheckID,
			"run_id", ec.RunID,
			"error", err,
			"event", "provider_error",
		)
		done(err)
		return evidence.ErrorResult(err)
	}
	done(nil)
	return res
}

// callProvider runs one provider query. A panic becomes a provider error
// for that condition alone.
func (e *Engine) callProvider(ctx context.Context, q core.EvidenceQuery, ec core.EvidenceContext) (res core.EvidenceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = core.EvidenceResult{}
			err = &evidence.ProviderError{
				ProviderID: q.ProviderID,
				CheckID:    q.CheckID,
				Code:       evidence.CodeProviderError,
				Message:    fmt.Sprintf("provider panicked: %v", r),
			}
		}
	}()
	return e.provider.Query(ctx, q, ec)
}

// evaluateStage resolves every gate of stage against results. Each leaf
// is resolved once per distinct required lane; evidence records use the
// strictest lane any referencing gate demands.
func (e *Engine) evaluateStage(spec *core.ScenarioSpec, stage *core.StageSpec, results map[string]core.EvidenceResult, runID string) *stageEvaluation {
	normalized := make(map[string]core.EvidenceResult, len(results))
	for id, res := range results {
		n, err := evidence.Normalize(res)
		if err != nil {
			n = core.EvidenceResult{Error: &core.EvidenceError{Code: "evidence_not_hashable", Message: err.Error()}}
		}
		normalized[id] = n
	}

	recordLane := make(map[string]core.TrustLane)
	eval := &stageEvaluation{
		Gates:    make([]core.GateEvaluation, 0, len(stage.Gates)),
		Outcomes: make(map[string]ret.TriState, len(stage.Gates)),
	}
	for _, gate := range stage.Gates {
		gate := gate
		leaf := ret.Memoize(ret.ResolverFunc(func(id string) ret.TriState {
			cond, ok := spec.Condition(id)
			if !ok {
				return ret.Unknown
			}
			required := evidence.RequiredLane(e.defaultLane, gate.Trust, cond.Trust)
			if cur, seen := recordLane[id]; !seen || required.Rank() > cur.Rank() {
				recordLane[id] = required
			}
			return evidence.Resolve(*cond, resultFor(normalized, id), required).Status
		}))
		status, trace := e.evaluator.EvalTrace(gate.Requirement, leaf)
		eval.Gates = append(eval.Gates, core.GateEvaluation{GateID: gate.GateID, Status: status, Trace: trace})
		eval.Outcomes[gate.GateID] = status
	}

	ids := make([]string, 0, len(recordLane))
	for id := range recordLane {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	eval.Evidence = make([]core.EvidenceRecord, 0, len(ids))
	for _, id := range ids {
		cond, _ := spec.Condition(id)
		rec := evidence.Resolve(*cond, resultFor(normalized, id), recordLane[id])
		if rec.TrustViolation != nil {
			e.logger.Warn("trust lane violation",
				"condition_id", id,
				"required_lane", string(rec.TrustViolation.Required),
				"actual_lane", string(rec.TrustViolation.Actual),
				"run_id", runID,
				"event", "trust_violation",
			)
		}
		eval.Evidence = append(eval.Evidence, rec)
	}
	return eval
}

// resultFor returns the result for id, or a missing-evidence error.
func resultFor(results map[string]core.EvidenceResult, id string) core.EvidenceResult {
	if res, ok := results[id]; ok {
		return res
	}
	return core.EvidenceResult{Error: &core.EvidenceError{Code: "evidence_missing", Message: "no evidence for condition"}}
}

// safeSummary explains a hold without exposing evidence values.
func safeSummary(spec *core.ScenarioSpec, stage *core.StageSpec, eval *stageEvaluation, extraTags []string) *core.SafeSummary {
	unmet := []string{}
	tags := map[string]bool{}
	for _, t := range extraTags {
		tags[t] = true
	}
	for i, g := range eval.Gates {
		if g.Status == ret.True {
			continue
		}
		unmet = append(unmet, g.GateID)
		for _, id := range stage.Gates[i].Requirement.ConditionIDs() {
			if cond, ok := spec.Condition(id); ok {
				for _, t := range cond.PolicyTags {
					tags[t] = true
				}
			}
		}
	}
	policyTags := make([]string, 0, len(tags))
	for t := range tags {
		policyTags = append(policyTags, t)
	}
	sort.Strings(policyTags)
	return &core.SafeSummary{
		Status:     "hold",
		UnmetGates: unmet,
		RetryHint:  "await_evidence",
		PolicyTags: policyTags,
	}
}

func gateOutcomes(eval *stageEvaluation) []core.GateOutcome {
	out := make([]core.GateOutcome, len(eval.Gates))
	for i, g := range eval.Gates {
		out[i] = core.GateOutcome{GateID: g.GateID, Status: g.Status}
	}
	return out
}

func cloneSpec(spec *core.ScenarioSpec) (*core.ScenarioSpec, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	var out core.ScenarioSpec
	if err := core.DecodeJSON(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
