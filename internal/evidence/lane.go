package evidence

import (
	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/ret"
)

// RequiredLane returns the strictest of the engine default, the gate
// requirement and the condition requirement.
func RequiredLane(defaultLane core.TrustLane, gate, cond *core.TrustRequirement) core.TrustLane {
	lane := defaultLane
	if gate != nil {
		lane = core.Stricter(lane, gate.MinLane)
	}
	if cond != nil {
		lane = core.Stricter(lane, cond.MinLane)
	}
	return lane
}

// Resolve produces the leaf record for one condition. The comparator runs
// only when the result carries no error and its lane satisfies required;
// otherwise the leaf is Unknown. A lane mismatch is recorded as a
// TrustViolation so audits can tell it apart from missing evidence.
func Resolve(cond core.ConditionSpec, result core.EvidenceResult, required core.TrustLane) core.EvidenceRecord {
	rec := core.EvidenceRecord{ConditionID: cond.ConditionID, Result: result, Status: ret.Unknown}
	if result.Error != nil {
		return rec
	}
	// An unlabelled result is treated as unattested.
	lane := result.Lane
	if lane == "" {
		lane = core.LaneAsserted
	}
	if !lane.Satisfies(required) {
		rec.TrustViolation = &core.TrustViolation{Required: required, Actual: lane}
		return rec
	}
	rec.Status = Compare(cond.Comparator, cond.Expected, result.Value)
	return rec
}
