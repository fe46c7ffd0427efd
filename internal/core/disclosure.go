package core

import (
	"fmt"

	"github.com/roach88/dgate/internal/canonical"
)

// TargetKind tags a DispatchTarget.
type TargetKind string

const (
	TargetAgent    TargetKind = "agent"
	TargetSession  TargetKind = "session"
	TargetExternal TargetKind = "external"
	TargetChannel  TargetKind = "channel"
)

// DispatchTarget is where a run's packets are delivered.
type DispatchTarget struct {
	Kind      TargetKind `json:"kind"`
	AgentID   string     `json:"agent_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	System    string     `json:"system,omitempty"`
	Target    string     `json:"target,omitempty"`
	Channel   string     `json:"channel,omitempty"`
}

// Validate checks that the kind-specific field is set.
func (t DispatchTarget) Validate() error {
	switch t.Kind {
	case TargetAgent:
		if t.AgentID == "" {
			return fmt.Errorf("agent target requires agent_id")
		}
	case TargetSession:
		if t.SessionID == "" {
			return fmt.Errorf("session target requires session_id")
		}
	case TargetExternal:
		if t.System == "" || t.Target == "" {
			return fmt.Errorf("external target requires system and target")
		}
	case TargetChannel:
		if t.Channel == "" {
			return fmt.Errorf("channel target requires channel")
		}
	default:
		return fmt.Errorf("unknown dispatch target kind %q", t.Kind)
	}
	return nil
}

// String renders the target as "kind:id".
func (t DispatchTarget) String() string {
	switch t.Kind {
	case TargetAgent:
		return "agent:" + t.AgentID
	case TargetSession:
		return "session:" + t.SessionID
	case TargetExternal:
		return "external:" + t.System + "/" + t.Target
	case TargetChannel:
		return "channel:" + t.Channel
	default:
		return string(t.Kind)
	}
}

// Visibility carries disclosure labels on an envelope.
type Visibility struct {
	Labels     []string `json:"labels"`
	PolicyTags []string `json:"policy_tags"`
}

// PacketEnvelope is the metadata sent with every packet.
type PacketEnvelope struct {
	ScenarioID    string               `json:"scenario_id"`
	RunID         string               `json:"run_id"`
	StageID       string               `json:"stage_id"`
	PacketID      string               `json:"packet_id"`
	SchemaID      string               `json:"schema_id"`
	ContentType   string               `json:"content_type"`
	ContentHash   canonical.HashDigest `json:"content_hash"`
	Visibility    Visibility           `json:"visibility"`
	Expiry        *Timestamp           `json:"expiry,omitempty"`
	CorrelationID string               `json:"correlation_id,omitempty"`
	IssuedAt      Timestamp            `json:"issued_at"`
}

// DispatchFailure is a per-target dispatch error recorded on a receipt.
type DispatchFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DispatchReceipt is the outcome of delivering one packet to one target.
// DispatchID is derived from the decision, packet and target, so a resumed
// dispatch reuses it and idempotent targets can dedupe.
type DispatchReceipt struct {
	DispatchID   string                `json:"dispatch_id"`
	Target       DispatchTarget        `json:"target"`
	ReceiptHash  *canonical.HashDigest `json:"receipt_hash,omitempty"`
	DispatchedAt Timestamp             `json:"dispatched_at"`
	Dispatcher   string                `json:"dispatcher,omitempty"`
	Error        *DispatchFailure      `json:"error,omitempty"`
}

// Delivered reports whether the receipt records a success.
func (r DispatchReceipt) Delivered() bool {
	return r.Error == nil
}

// PacketRecord is an issued packet with its receipts.
type PacketRecord struct {
	Envelope   PacketEnvelope    `json:"envelope"`
	Payload    PacketPayload     `json:"payload"`
	Receipts   []DispatchReceipt `json:"receipts"`
	DecisionID string            `json:"decision_id"`
}

// SubmissionRecord is an audited payload submitted to a run. Submissions
// never feed gate evaluation.
type SubmissionRecord struct {
	SubmissionID  string               `json:"submission_id"`
	RunID         string               `json:"run_id"`
	SchemaID      string               `json:"schema_id,omitempty"`
	Payload       PacketPayload        `json:"payload"`
	ContentType   string               `json:"content_type"`
	ContentHash   canonical.HashDigest `json:"content_hash"`
	SubmittedAt   Timestamp            `json:"submitted_at"`
	CorrelationID string               `json:"correlation_id,omitempty"`
}

// ToolCallError is the error side of a ToolCallRecord.
type ToolCallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToolCallRecord audits one mutating control-plane call by hash.
type ToolCallRecord struct {
	CallID        string                `json:"call_id"`
	Method        string                `json:"method"`
	RequestHash   canonical.HashDigest  `json:"request_hash"`
	ResponseHash  *canonical.HashDigest `json:"response_hash,omitempty"`
	CalledAt      Timestamp             `json:"called_at"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	Error         *ToolCallError        `json:"error,omitempty"`
}

// DispatchID derives the deterministic id of a delivery.
func DispatchID(decisionID, packetID string, target DispatchTarget) string {
	d := canonical.MustHashValue(map[string]any{
		"decision_id": decisionID,
		"packet_id":   packetID,
		"target":      target.String(),
	})
	return "dispatch-" + d.Value[:16]
}
