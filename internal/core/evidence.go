package core

import (
	"fmt"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/ret"
)

// TrustLane classifies evidence provenance.
type TrustLane string

const (
	// LaneVerified is evidence attested by a bound provider.
	LaneVerified TrustLane = "verified"
	// LaneAsserted is evidence supplied by a caller without attestation.
	LaneAsserted TrustLane = "asserted"
)

// Rank orders lanes. Unknown or empty lanes rank lowest.
func (l TrustLane) Rank() int {
	switch l {
	case LaneVerified:
		return 2
	case LaneAsserted:
		return 1
	default:
		return 0
	}
}

// Satisfies reports whether l meets the minimum lane.
func (l TrustLane) Satisfies(min TrustLane) bool {
	return l.Rank() > 0 && l.Rank() >= min.Rank()
}

// ParseTrustLane validates a lane name.
func ParseTrustLane(s string) (TrustLane, error) {
	switch TrustLane(s) {
	case LaneVerified, LaneAsserted:
		return TrustLane(s), nil
	default:
		return "", fmt.Errorf("unknown trust lane %q", s)
	}
}

// Stricter returns the higher-ranked of two lanes.
func Stricter(a, b TrustLane) TrustLane {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Comparator names the operator applied to evidence and expected values.
type Comparator string

const (
	CmpEquals                 Comparator = "equals"
	CmpNotEquals              Comparator = "not_equals"
	CmpGreaterThan            Comparator = "greater_than"
	CmpGreaterThanOrEqual     Comparator = "greater_than_or_equal"
	CmpLessThan               Comparator = "less_than"
	CmpLessThanOrEqual        Comparator = "less_than_or_equal"
	CmpLexGreaterThan         Comparator = "lex_greater_than"
	CmpLexGreaterThanOrEqual  Comparator = "lex_greater_than_or_equal"
	CmpLexLessThan            Comparator = "lex_less_than"
	CmpLexLessThanOrEqual     Comparator = "lex_less_than_or_equal"
	CmpContains               Comparator = "contains"
	CmpInSet                  Comparator = "in_set"
	CmpDeepEquals             Comparator = "deep_equals"
	CmpDeepNotEquals          Comparator = "deep_not_equals"
	CmpExists                 Comparator = "exists"
	CmpNotExists              Comparator = "not_exists"
)

var comparatorAliases = map[string]Comparator{
	"eq":  CmpEquals,
	"ne":  CmpNotEquals,
	"gt":  CmpGreaterThan,
	"gte": CmpGreaterThanOrEqual,
	"lt":  CmpLessThan,
	"lte": CmpLessThanOrEqual,
}

var knownComparators = map[Comparator]bool{
	CmpEquals: true, CmpNotEquals: true,
	CmpGreaterThan: true, CmpGreaterThanOrEqual: true,
	CmpLessThan: true, CmpLessThanOrEqual: true,
	CmpLexGreaterThan: true, CmpLexGreaterThanOrEqual: true,
	CmpLexLessThan: true, CmpLexLessThanOrEqual: true,
	CmpContains: true, CmpInSet: true,
	CmpDeepEquals: true, CmpDeepNotEquals: true,
	CmpExists: true, CmpNotExists: true,
}

// Known reports whether c is a supported comparator.
func (c Comparator) Known() bool {
	return knownComparators[c]
}

// UnmarshalText accepts canonical names and short aliases.
func (c *Comparator) UnmarshalText(text []byte) error {
	if alias, ok := comparatorAliases[string(text)]; ok {
		*c = alias
		return nil
	}
	*c = Comparator(text)
	return nil
}

// NeedsExpected reports whether the comparator reads the expected value.
func (c Comparator) NeedsExpected() bool {
	return c != CmpExists && c != CmpNotExists
}

// EvidenceQuery addresses a provider check.
type EvidenceQuery struct {
	ProviderID string `json:"provider_id"`
	CheckID    string `json:"check_id"`
	Params     any    `json:"params,omitempty"`
}

// EvidenceContext identifies the run and trigger a query is made for.
type EvidenceContext struct {
	TenantID      string    `json:"tenant_id"`
	NamespaceID   string    `json:"namespace_id"`
	RunID         string    `json:"run_id"`
	ScenarioID    string    `json:"scenario_id"`
	StageID       string    `json:"stage_id"`
	TriggerID     string    `json:"trigger_id"`
	TriggerTime   Timestamp `json:"trigger_time"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EvidenceValueKind tags an EvidenceValue.
type EvidenceValueKind string

const (
	EvidenceJSON  EvidenceValueKind = "json"
	EvidenceBytes EvidenceValueKind = "bytes"
)

// EvidenceValue is a typed evidence payload.
type EvidenceValue struct {
	Kind  EvidenceValueKind `json:"kind"`
	Value any               `json:"value,omitempty"`
	Bytes []byte            `json:"bytes,omitempty"`
}

// JSONValue wraps a decoded JSON value.
func JSONValue(v any) *EvidenceValue {
	return &EvidenceValue{Kind: EvidenceJSON, Value: v}
}

// BytesValue wraps raw bytes.
func BytesValue(b []byte) *EvidenceValue {
	return &EvidenceValue{Kind: EvidenceBytes, Bytes: b}
}

// EvidenceResult is what a provider (or a precheck caller) returns for a
// query.
type EvidenceResult struct {
	Value          *EvidenceValue        `json:"value,omitempty"`
	Lane           TrustLane             `json:"lane"`
	Error          *EvidenceError        `json:"error,omitempty"`
	EvidenceHash   *canonical.HashDigest `json:"evidence_hash,omitempty"`
	EvidenceRef    *EvidenceRef          `json:"evidence_ref,omitempty"`
	EvidenceAnchor *EvidenceAnchor       `json:"evidence_anchor,omitempty"`
	Signature      *EvidenceSignature    `json:"signature,omitempty"`
	ContentType    string                `json:"content_type,omitempty"`
}

// EvidenceError is a structured provider failure carried inside a result.
type EvidenceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *EvidenceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EvidenceRef is an opaque pointer to the evidence source.
type EvidenceRef struct {
	URI string `json:"uri"`
}

// EvidenceAnchor binds evidence to an external reference point.
type EvidenceAnchor struct {
	AnchorType  string `json:"anchor_type"`
	AnchorValue string `json:"anchor_value"`
}

// EvidenceSignature carries a provider signature over the evidence hash.
type EvidenceSignature struct {
	Scheme    string `json:"scheme"`
	KeyID     string `json:"key_id"`
	Signature []byte `json:"signature"`
}

// TrustViolation records a lane mismatch, distinct from missing evidence.
type TrustViolation struct {
	Required TrustLane `json:"required"`
	Actual   TrustLane `json:"actual"`
}

// EvidenceRecord is the resolved outcome of one condition in one pass.
type EvidenceRecord struct {
	ConditionID    string          `json:"condition_id"`
	Status         ret.TriState    `json:"status"`
	Result         EvidenceResult  `json:"result"`
	TrustViolation *TrustViolation `json:"trust_violation,omitempty"`
}

// GateEvaluation is the outcome of one gate with its leaf trace.
type GateEvaluation struct {
	GateID string           `json:"gate_id"`
	Status ret.TriState     `json:"status"`
	Trace  []ret.TraceEntry `json:"trace"`
}

// GateEvalRecord is the audit record of a gate evaluation for a trigger.
type GateEvalRecord struct {
	TriggerID  string           `json:"trigger_id"`
	StageID    string           `json:"stage_id"`
	Evaluation GateEvaluation   `json:"evaluation"`
	Evidence   []EvidenceRecord `json:"evidence"`
}
