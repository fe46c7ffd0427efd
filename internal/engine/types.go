package engine

import (
	"github.com/roach88/dgate/internal/core"
)

// RunConfig identifies a new run and where its packets go.
type RunConfig struct {
	TenantID        string                `json:"tenant_id"`
	NamespaceID     string                `json:"namespace_id"`
	RunID           string                `json:"run_id"`
	ScenarioID      string                `json:"scenario_id"`
	DispatchTargets []core.DispatchTarget `json:"dispatch_targets"`
}

// Key returns the run key.
func (c RunConfig) Key() core.RunKey {
	return core.RunKey{TenantID: c.TenantID, NamespaceID: c.NamespaceID, RunID: c.RunID}
}

// StartRunRequest is the input to StartRun.
type StartRunRequest struct {
	Config            RunConfig      `json:"config"`
	StartedAt         core.Timestamp `json:"started_at"`
	IssueEntryPackets bool           `json:"issue_entry_packets"`
	CorrelationID     string         `json:"correlation_id,omitempty"`
}

// NextRequest is an agent asking the run to re-evaluate.
type NextRequest struct {
	TenantID      string         `json:"tenant_id"`
	NamespaceID   string         `json:"namespace_id"`
	RunID         string         `json:"run_id"`
	TriggerID     string         `json:"trigger_id"`
	AgentID       string         `json:"agent_id"`
	Time          core.Timestamp `json:"time"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Event converts the request into its trigger.
func (r NextRequest) Event() core.TriggerEvent {
	return core.TriggerEvent{
		TriggerID:     r.TriggerID,
		TenantID:      r.TenantID,
		NamespaceID:   r.NamespaceID,
		RunID:         r.RunID,
		Kind:          core.TriggerAgentRequestNext,
		Time:          r.Time,
		SourceID:      "agent:" + r.AgentID,
		CorrelationID: r.CorrelationID,
	}
}

// TriggerResult is what a trigger decided. Replaying a trigger returns a
// byte-identical result.
type TriggerResult struct {
	Decision core.DecisionRecord `json:"decision"`
	Packets  []core.PacketRecord `json:"packets"`
	Status   core.RunStatus      `json:"status"`
}

// StatusRequest selects a run.
type StatusRequest struct {
	TenantID    string `json:"tenant_id"`
	NamespaceID string `json:"namespace_id"`
	RunID       string `json:"run_id"`
}

// Key returns the run key.
func (r StatusRequest) Key() core.RunKey {
	return core.RunKey{TenantID: r.TenantID, NamespaceID: r.NamespaceID, RunID: r.RunID}
}

// StatusResponse is a read-only snapshot of a run.
type StatusResponse struct {
	RunID           string               `json:"run_id"`
	ScenarioID      string               `json:"scenario_id"`
	CurrentStageID  string               `json:"current_stage_id"`
	Status          core.RunStatus       `json:"status"`
	Version         int64                `json:"version"`
	TimeoutFlagged  bool                 `json:"timeout_flagged,omitempty"`
	LastDecision    *core.DecisionRecord `json:"last_decision,omitempty"`
	IssuedPacketIDs []string             `json:"issued_packet_ids"`
	SafeSummary     *core.SafeSummary    `json:"safe_summary,omitempty"`
	PendingDispatch bool                 `json:"pending_dispatch,omitempty"`
}

// SubmitRequest is a payload submitted to a run for audit.
type SubmitRequest struct {
	TenantID      string             `json:"tenant_id"`
	NamespaceID   string             `json:"namespace_id"`
	RunID         string             `json:"run_id"`
	SubmissionID  string             `json:"submission_id"`
	SchemaID      string             `json:"schema_id,omitempty"`
	SchemaVersion string             `json:"schema_version,omitempty"`
	ContentType   string             `json:"content_type"`
	Payload       core.PacketPayload `json:"payload"`
	SubmittedAt   core.Timestamp     `json:"submitted_at"`
	CorrelationID string             `json:"correlation_id,omitempty"`
}

// Key returns the run key.
func (r SubmitRequest) Key() core.RunKey {
	return core.RunKey{TenantID: r.TenantID, NamespaceID: r.NamespaceID, RunID: r.RunID}
}

// PrecheckRequest evaluates a stage against caller-asserted evidence.
// Either Spec or (NamespaceID, ScenarioID) of a registered scenario is
// required. An empty StageID means the initial stage.
type PrecheckRequest struct {
	Spec        *core.ScenarioSpec             `json:"spec,omitempty"`
	NamespaceID string                         `json:"namespace_id,omitempty"`
	ScenarioID  string                         `json:"scenario_id,omitempty"`
	StageID     string                         `json:"stage_id,omitempty"`
	Evidence    map[string]core.EvidenceResult `json:"evidence"`
}

// PrecheckResult reports what a trigger would decide.
type PrecheckResult struct {
	StageID     string                `json:"stage_id"`
	Decision    core.OutcomeKind      `json:"decision"`
	NextStageID string                `json:"next_stage_id,omitempty"`
	Gates       []core.GateEvaluation `json:"gates"`
	Evidence    []core.EvidenceRecord `json:"evidence"`
	Summary     *core.SafeSummary     `json:"summary,omitempty"`
}
