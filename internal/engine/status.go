package engine

import (
	"context"

	"github.com/roach88/dgate/internal/core"
)

// ScenarioStatus returns a read-only snapshot of a run. It never mutates
// the run and records no tool call.
func (e *Engine) ScenarioStatus(ctx context.Context, req StatusRequest) (*StatusResponse, error) {
	key := req.Key()
	if key.TenantID == "" || key.NamespaceID == "" || key.RunID == "" {
		return nil, NewValidationError("tenant_id, namespace_id and run_id are required")
	}
	state, err := e.store.Load(ctx, key)
	if err != nil {
		return nil, newError(ErrCodeStore, key.RunID, err, "load run")
	}
	if state == nil {
		return nil, newError(ErrCodeRunNotFound, key.RunID, nil, "run %s not found", key)
	}

	resp := &StatusResponse{
		RunID:           state.RunID,
		ScenarioID:      state.ScenarioID,
		CurrentStageID:  state.CurrentStageID,
		Status:          state.Status,
		Version:         state.Version,
		TimeoutFlagged:  state.TimeoutFlagged,
		IssuedPacketIDs: []string{},
		PendingDispatch: state.PendingDispatch != nil,
	}
	for _, p := range state.Packets {
		resp.IssuedPacketIDs = append(resp.IssuedPacketIDs, p.Envelope.PacketID)
	}
	if last, ok := state.LastDecision(); ok {
		resp.LastDecision = &last
		if last.Outcome.Kind == core.OutcomeHold {
			resp.SafeSummary = last.Outcome.Summary
		}
	}
	return resp, nil
}
