package engine

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

var errPolicyDenied = errors.New("disclosure denied by policy")

// Receipt error codes.
const (
	DispatchCodeFailed       = "dispatch_failed"
	DispatchCodePolicyDenied = "policy_denied"
	DispatchCodePolicyError  = "policy_error"
)

// commit persists a transition. When the decision issued packets to
// dispatch, the state is saved with a pending-dispatch intent first, then
// packets are delivered, then the state is saved again with receipts.
func (e *Engine) commit(ctx context.Context, state *core.RunState, decisionID string, at core.Timestamp) error {
	if !e.needsDispatch(state, decisionID) {
		return e.save(ctx, state)
	}
	state.PendingDispatch = &core.PendingDispatch{DecisionID: decisionID}
	if err := e.save(ctx, state); err != nil {
		return err
	}
	e.dispatchPackets(ctx, state, decisionID, at)
	state.PendingDispatch = nil
	return e.save(ctx, state)
}

// resumeDispatch completes a dispatch a previous call persisted but never
// committed. Dispatch ids are deterministic, so idempotent targets see the
// same ids again.
func (e *Engine) resumeDispatch(ctx context.Context, state *core.RunState) error {
	pending := state.PendingDispatch
	d, ok := state.Decision(pending.DecisionID)
	if !ok {
		return newError(ErrCodeRunMismatch, state.RunID, nil, "pending dispatch references unknown decision %q", pending.DecisionID)
	}
	e.logger.Warn("resuming uncommitted dispatch",
		"run_id", state.RunID,
		"decision_id", d.DecisionID,
		"event", "dispatch_resumed",
	)
	e.dispatchPackets(ctx, state, d.DecisionID, d.DecidedAt)
	state.PendingDispatch = nil
	return e.save(ctx, state)
}

func (e *Engine) needsDispatch(state *core.RunState, decisionID string) bool {
	if e.dispatcher == nil || len(state.DispatchTargets) == 0 {
		return false
	}
	for _, p := range state.Packets {
		if p.DecisionID == decisionID {
			return true
		}
	}
	return false
}

// dispatchPackets delivers every packet of decisionID to every target
// concurrently. Receipts are stored in target order; one target's failure
// never blocks another.
func (e *Engine) dispatchPackets(ctx context.Context, state *core.RunState, decisionID string, at core.Timestamp) {
	targets := state.DispatchTargets
	var wg sync.WaitGroup
	for i := range state.Packets {
		pkt := &state.Packets[i]
		if pkt.DecisionID != decisionID {
			continue
		}
		receipts := make([]core.DispatchReceipt, len(targets))
		for j, target := range targets {
			wg.Add(1)
			go func(j int, target core.DispatchTarget, env core.PacketEnvelope, payload core.PacketPayload) {
				defer wg.Done()
				receipts[j] = e.deliver(ctx, state.RunID, decisionID, target, env, payload, at)
			}(j, target, pkt.Envelope, pkt.Payload)
		}
		pkt.Receipts = receipts
	}
	wg.Wait()
}

// deliver sends one packet to one target, consulting the policy first.
// Failures are captured on the receipt.
func (e *Engine) deliver(ctx context.Context, runID, decisionID string, target core.DispatchTarget, env core.PacketEnvelope, payload core.PacketPayload, at core.Timestamp) core.DispatchReceipt {
	dispatchID := core.DispatchID(decisionID, env.PacketID, target)
	ctx, done := e.track(ctx, "dgate.dispatch",
		attribute.String("dgate.dispatch_id", dispatchID),
		attribute.String("dgate.packet_id", env.PacketID),
		attribute.String("dgate.target", target.String()),
	)
	receipt := core.DispatchReceipt{
		DispatchID:   dispatchID,
		Target:       target,
		DispatchedAt: at,
		Dispatcher:   e.dispatcherName,
	}
	fail := func(code string, err error) core.DispatchReceipt {
		e.logger.Warn("packet dispatch failed",
			"run_id", runID,
			"dispatch_id", dispatchID,
			"packet_id", env.PacketID,
			"target", target.String(),
			"code", code,
			"error", err,
			"event", "dispatch_failed",
		)
		done(err)
		receipt.Error = &core.DispatchFailure{Code: code, Message: err.Error()}
		return receipt
	}

	if e.policy != nil {
		decision, err := e.policy.Authorize(ctx, target, env, payload)
		if err != nil {
			return fail(DispatchCodePolicyError, err)
		}
		if decision != core.PolicyPermit {
			return fail(DispatchCodePolicyDenied, errPolicyDenied)
		}
	}

	got, err := e.dispatcher.Dispatch(ctx, dispatchID, target, env, payload)
	if err != nil {
		return fail(DispatchCodeFailed, err)
	}
	receipt.ReceiptHash = got.ReceiptHash
	if got.Dispatcher != "" {
		receipt.Dispatcher = got.Dispatcher
	}
	if receipt.ReceiptHash == nil {
		h, err := canonical.HashValue(map[string]any{
			"dispatch_id":  dispatchID,
			"target":       target,
			"content_hash": env.ContentHash,
		})
		if err == nil {
			receipt.ReceiptHash = &h
		}
	}
	done(nil)
	e.logger.Debug("packet dispatched",
		"run_id", runID,
		"dispatch_id", dispatchID,
		"packet_id", env.PacketID,
		"target", target.String(),
		"event", "packet_dispatched",
	)
	return receipt
}
