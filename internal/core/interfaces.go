package core

import (
	"context"
)

// EvidenceProvider answers evidence queries. A returned error is absorbed
// by the engine into an Unknown leaf; it never aborts an evaluation pass.
type EvidenceProvider interface {
	Query(ctx context.Context, query EvidenceQuery, ec EvidenceContext) (EvidenceResult, error)

	// ValidateProviders fails when the spec references a provider id with
	// no binding. Called at scenario registration.
	ValidateProviders(spec *ScenarioSpec) error
}

// Dispatcher delivers a packet to one target. Implementations should be
// idempotent on receipt DispatchID.
type Dispatcher interface {
	Dispatch(ctx context.Context, dispatchID string, target DispatchTarget, envelope PacketEnvelope, payload PacketPayload) (DispatchReceipt, error)
}

// RunStateStore persists run state.
//
// Load returns (nil, nil) when the run does not exist.
//
// Save is atomic and versioned: a state with Version 0 is created and
// fails with ErrRunExists if the key is taken; otherwise the stored
// version must equal state.Version or Save fails with ErrVersionConflict.
// On success the store records Version+1 and updates state.Version.
type RunStateStore interface {
	Load(ctx context.Context, key RunKey) (*RunState, error)
	Save(ctx context.Context, state *RunState) error
}

// PolicyDecision is the verdict of a PolicyDecider.
type PolicyDecision string

const (
	PolicyPermit PolicyDecision = "permit"
	PolicyDeny   PolicyDecision = "deny"
)

// PolicyDecider is an optional disclosure hook consulted per target. It
// supplements, and never replaces, gate evaluation.
type PolicyDecider interface {
	Authorize(ctx context.Context, target DispatchTarget, envelope PacketEnvelope, payload PacketPayload) (PolicyDecision, error)
}

// DataShapeRegistry validates payloads against registered schemas.
type DataShapeRegistry interface {
	Register(shape DataShapeRef) error
	Validate(schemaID, version string, payload any) error
}
