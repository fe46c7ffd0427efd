package core

import (
	"fmt"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/ret"
)

// ScenarioSpec is an immutable scenario definition. Its identity is the
// canonical hash of its content (see Hash).
type ScenarioSpec struct {
	ScenarioID      string          `json:"scenario_id"`
	NamespaceID     string          `json:"namespace_id"`
	SpecVersion     string          `json:"spec_version"`
	Stages          []StageSpec     `json:"stages"`
	Conditions      []ConditionSpec `json:"conditions"`
	Policies        []PolicyRef     `json:"policies,omitempty"`
	DataShapes      []DataShapeRef  `json:"data_shapes,omitempty"`
	DefaultTenantID string          `json:"default_tenant_id,omitempty"`
}

// StageSpec is one step of the scenario's stage graph.
type StageSpec struct {
	StageID      string        `json:"stage_id"`
	EntryPackets []PacketSpec  `json:"entry_packets,omitempty"`
	Gates        []GateSpec    `json:"gates"`
	AdvanceTo    AdvanceTo     `json:"advance_to"`
	Timeout      *TimeoutSpec  `json:"timeout,omitempty"`
	OnTimeout    TimeoutPolicy `json:"on_timeout,omitempty"`
}

// TimeoutSpec bounds how long a stage may hold.
type TimeoutSpec struct {
	TimeoutMs  int64    `json:"timeout_ms"`
	PolicyTags []string `json:"policy_tags,omitempty"`
}

// TimeoutPolicy selects what happens when a stage timeout elapses.
type TimeoutPolicy string

const (
	OnTimeoutFail    TimeoutPolicy = "fail"
	OnTimeoutHold    TimeoutPolicy = "hold"
	OnTimeoutAdvance TimeoutPolicy = "advance"
)

// Effective returns the policy with the fail-closed default applied.
func (p TimeoutPolicy) Effective() TimeoutPolicy {
	if p == "" {
		return OnTimeoutFail
	}
	return p
}

// AdvanceKind tags an AdvanceTo.
type AdvanceKind string

const (
	// AdvanceLinear moves to the next stage in declaration order. The last
	// stage completes the run.
	AdvanceLinear AdvanceKind = "linear"
	// AdvanceFixed moves to a named stage.
	AdvanceFixed AdvanceKind = "fixed"
	// AdvanceBranch picks the next stage from gate outcomes.
	AdvanceBranch AdvanceKind = "branch"
	// AdvanceTerminal completes the run.
	AdvanceTerminal AdvanceKind = "terminal"
)

// AdvanceTo declares the outgoing edges of a stage.
type AdvanceTo struct {
	Kind     AdvanceKind  `json:"kind"`
	StageID  string       `json:"stage_id,omitempty"`
	Branches []BranchRule `json:"branches,omitempty"`
	Default  string       `json:"default,omitempty"`
}

// BranchRule routes to NextStageID when GateID evaluated to Outcome.
type BranchRule struct {
	GateID      string       `json:"gate_id"`
	Outcome     ret.TriState `json:"outcome"`
	NextStageID string       `json:"next_stage_id"`
}

// GateSpec is a named requirement tree.
type GateSpec struct {
	GateID      string            `json:"gate_id"`
	Requirement ret.Requirement   `json:"requirement"`
	Trust       *TrustRequirement `json:"trust,omitempty"`
}

// TrustRequirement sets the minimum evidence lane.
type TrustRequirement struct {
	MinLane TrustLane `json:"min_lane"`
}

// ConditionSpec binds a condition id to an evidence query and comparator.
type ConditionSpec struct {
	ConditionID string            `json:"condition_id"`
	Query       EvidenceQuery     `json:"query"`
	Comparator  Comparator        `json:"comparator"`
	Expected    any               `json:"expected,omitempty"`
	PolicyTags  []string          `json:"policy_tags,omitempty"`
	Trust       *TrustRequirement `json:"trust,omitempty"`
}

// PolicyRef names a policy the scenario is governed by.
type PolicyRef struct {
	PolicyID    string `json:"policy_id"`
	Description string `json:"description,omitempty"`
}

// DataShapeRef declares a schema used by submissions or packets. Schema,
// when present, is an inline JSON Schema document.
type DataShapeRef struct {
	SchemaID string `json:"schema_id"`
	Version  string `json:"version,omitempty"`
	Schema   any    `json:"schema,omitempty"`
}

// PacketSpec is a disclosure packet issued on stage entry.
type PacketSpec struct {
	PacketID         string        `json:"packet_id"`
	SchemaID         string        `json:"schema_id"`
	ContentType      string        `json:"content_type"`
	VisibilityLabels []string      `json:"visibility_labels,omitempty"`
	PolicyTags       []string      `json:"policy_tags,omitempty"`
	Expiry           *Timestamp    `json:"expiry,omitempty"`
	Payload          PacketPayload `json:"payload"`
}

// PayloadKind tags a PacketPayload.
type PayloadKind string

const (
	PayloadJSON     PayloadKind = "json"
	PayloadBytes    PayloadKind = "bytes"
	PayloadExternal PayloadKind = "external"
)

// PacketPayload is the body of a packet or submission.
type PacketPayload struct {
	Kind       PayloadKind `json:"kind"`
	Value      any         `json:"value,omitempty"`
	Bytes      []byte      `json:"bytes,omitempty"`
	ContentRef *ContentRef `json:"content_ref,omitempty"`
}

// ContentRef points at payload content stored outside the run.
type ContentRef struct {
	URI         string               `json:"uri"`
	ContentHash canonical.HashDigest `json:"content_hash"`
	Encryption  string               `json:"encryption,omitempty"`
}

// Hash returns the canonical content hash of the spec.
func (s *ScenarioSpec) Hash() (canonical.HashDigest, error) {
	return canonical.HashValue(s)
}

// Stage returns the stage with the given id.
func (s *ScenarioSpec) Stage(stageID string) (*StageSpec, bool) {
	for i := range s.Stages {
		if s.Stages[i].StageID == stageID {
			return &s.Stages[i], true
		}
	}
	return nil, false
}

// Condition returns the condition with the given id.
func (s *ScenarioSpec) Condition(conditionID string) (*ConditionSpec, bool) {
	for i := range s.Conditions {
		if s.Conditions[i].ConditionID == conditionID {
			return &s.Conditions[i], true
		}
	}
	return nil, false
}

// InitialStage returns the first declared stage.
func (s *ScenarioSpec) InitialStage() (*StageSpec, error) {
	if len(s.Stages) == 0 {
		return nil, fmt.Errorf("scenario %q has no stages", s.ScenarioID)
	}
	return &s.Stages[0], nil
}

// StageConditionIDs returns the distinct condition ids referenced by the
// stage's gates, sorted.
func (s *StageSpec) StageConditionIDs() []string {
	if len(s.Gates) == 0 {
		return []string{}
	}
	children := make([]ret.Requirement, len(s.Gates))
	for i, g := range s.Gates {
		children[i] = g.Requirement
	}
	return ret.And(children...).ConditionIDs()
}

// NextStage resolves the stage that follows stageID given the per-gate
// outcomes. An empty result with ok=true means the run completes.
// ok=false means a branch matched nothing and has no default.
func (s *ScenarioSpec) NextStage(stageID string, gates map[string]ret.TriState) (next string, ok bool) {
	idx := -1
	for i := range s.Stages {
		if s.Stages[i].StageID == stageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}

	adv := s.Stages[idx].AdvanceTo
	switch adv.Kind {
	case AdvanceLinear:
		if idx+1 < len(s.Stages) {
			return s.Stages[idx+1].StageID, true
		}
		return "", true
	case AdvanceFixed:
		return adv.StageID, true
	case AdvanceBranch:
		for _, b := range adv.Branches {
			if outcome, seen := gates[b.GateID]; seen && outcome == b.Outcome {
				return b.NextStageID, true
			}
		}
		if adv.Default != "" {
			return adv.Default, true
		}
		return "", false
	case AdvanceTerminal:
		return "", true
	default:
		return "", false
	}
}
