package core

import (
	"encoding/json"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/ret"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunActive   RunStatus = "active"
	RunTerminal RunStatus = "terminal"
	RunFailed   RunStatus = "failed"
	RunTimedOut RunStatus = "timed_out"
)

// Absorbing reports whether no trigger can mutate a run in this status.
func (s RunStatus) Absorbing() bool {
	return s == RunTerminal || s == RunFailed || s == RunTimedOut
}

// RunKey identifies a run within a tenant and namespace.
type RunKey struct {
	TenantID    string `json:"tenant_id"`
	NamespaceID string `json:"namespace_id"`
	RunID       string `json:"run_id"`
}

func (k RunKey) String() string {
	return k.TenantID + "/" + k.NamespaceID + "/" + k.RunID
}

// TriggerKind classifies a trigger's source.
type TriggerKind string

const (
	TriggerAgentRequestNext TriggerKind = "agent_request_next"
	TriggerTick             TriggerKind = "tick"
	TriggerExternalEvent    TriggerKind = "external_event"
	TriggerBackendEvent     TriggerKind = "backend_event"
)

// Known reports whether k is a supported trigger kind.
func (k TriggerKind) Known() bool {
	switch k {
	case TriggerAgentRequestNext, TriggerTick, TriggerExternalEvent, TriggerBackendEvent:
		return true
	}
	return false
}

// TriggerEvent is an idempotency-keyed request to re-evaluate a run.
type TriggerEvent struct {
	TriggerID     string      `json:"trigger_id"`
	TenantID      string      `json:"tenant_id"`
	NamespaceID   string      `json:"namespace_id"`
	RunID         string      `json:"run_id"`
	Kind          TriggerKind `json:"kind"`
	Time          Timestamp   `json:"time"`
	SourceID      string      `json:"source_id"`
	Payload       any         `json:"payload,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// Key returns the run key the trigger addresses.
func (e TriggerEvent) Key() RunKey {
	return RunKey{TenantID: e.TenantID, NamespaceID: e.NamespaceID, RunID: e.RunID}
}

// TriggerRecord is a trigger as logged on the run.
type TriggerRecord struct {
	Seq   int64        `json:"seq"`
	Event TriggerEvent `json:"event"`
}

// PendingDispatch marks a decision whose packets were persisted but whose
// receipts have not been committed yet.
type PendingDispatch struct {
	DecisionID string `json:"decision_id"`
}

// RunState is the full mutable state of one run. It is only mutated by
// the engine and persisted through a RunStateStore after each transition.
type RunState struct {
	TenantID            string               `json:"tenant_id"`
	NamespaceID         string               `json:"namespace_id"`
	RunID               string               `json:"run_id"`
	ScenarioID          string               `json:"scenario_id"`
	SpecHash            canonical.HashDigest `json:"spec_hash"`
	CurrentStageID      string               `json:"current_stage_id"`
	StageEnteredAt      Timestamp            `json:"stage_entered_at"`
	Status              RunStatus            `json:"status"`
	Version             int64                `json:"version"`
	StartedAt           Timestamp            `json:"started_at"`
	TimeoutFlagged      bool                 `json:"timeout_flagged,omitempty"`
	DispatchTargets     []DispatchTarget     `json:"dispatch_targets"`
	Triggers            []TriggerRecord      `json:"triggers"`
	ProcessedTriggerIDs []string             `json:"processed_trigger_ids"`
	GateEvals           []GateEvalRecord     `json:"gate_evals"`
	Decisions           []DecisionRecord     `json:"decisions"`
	Packets             []PacketRecord       `json:"packets"`
	Submissions         []SubmissionRecord   `json:"submissions"`
	ToolCalls           []ToolCallRecord     `json:"tool_calls"`
	PendingDispatch     *PendingDispatch     `json:"pending_dispatch,omitempty"`
}

// Key returns the run's identity.
func (s *RunState) Key() RunKey {
	return RunKey{TenantID: s.TenantID, NamespaceID: s.NamespaceID, RunID: s.RunID}
}

// Clone deep-copies the state through its JSON form.
func (s *RunState) Clone() (*RunState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out RunState
	if err := DecodeJSON(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GateOutcome is a gate's status as summarized on a decision.
type GateOutcome struct {
	GateID string       `json:"gate_id"`
	Status ret.TriState `json:"status"`
}

// SafeSummary explains a hold without leaking evidence values.
type SafeSummary struct {
	Status     string   `json:"status"`
	UnmetGates []string `json:"unmet_gates"`
	RetryHint  string   `json:"retry_hint,omitempty"`
	PolicyTags []string `json:"policy_tags"`
}

// OutcomeKind tags a DecisionOutcome.
type OutcomeKind string

const (
	OutcomeStart    OutcomeKind = "start"
	OutcomeComplete OutcomeKind = "complete"
	OutcomeAdvance  OutcomeKind = "advance"
	OutcomeHold     OutcomeKind = "hold"
	OutcomeFail     OutcomeKind = "fail"
)

// DecisionOutcome is what a trigger decided.
type DecisionOutcome struct {
	Kind      OutcomeKind  `json:"kind"`
	StageID   string       `json:"stage_id,omitempty"`
	FromStage string       `json:"from_stage,omitempty"`
	ToStage   string       `json:"to_stage,omitempty"`
	Timeout   bool         `json:"timeout,omitempty"`
	Summary   *SafeSummary `json:"summary,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// Fail reasons recorded on fail outcomes.
const (
	ReasonStageTimeout      = "stage_timeout"
	ReasonTimeoutUnresolved = "stage_timeout_unresolved"
	ReasonBranchUnresolved  = "branch_unresolved"
	ReasonPacketInvalid     = "packet_invalid"
)

// RunStatus returns the run status this outcome leaves the run in.
func (o DecisionOutcome) RunStatus() RunStatus {
	switch o.Kind {
	case OutcomeComplete:
		return RunTerminal
	case OutcomeFail:
		if o.Reason == ReasonTimeoutUnresolved {
			return RunTimedOut
		}
		return RunFailed
	default:
		return RunActive
	}
}

// DecisionRecord is one append-only decision log entry.
type DecisionRecord struct {
	DecisionID    string          `json:"decision_id"`
	Seq           int64           `json:"seq"`
	TriggerID     string          `json:"trigger_id"`
	StageID       string          `json:"stage_id"`
	DecidedAt     Timestamp       `json:"decided_at"`
	Outcome       DecisionOutcome `json:"outcome"`
	Gates         []GateOutcome   `json:"gates,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}
