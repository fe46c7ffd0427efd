package dispatch

import (
	"context"
	"sync"

	"github.com/roach88/dgate/internal/core"
)

// Recording keeps deliveries in memory. Used by tests and the harness.
type Recording struct {
	mu         sync.Mutex
	deliveries []Delivery
	seen       map[string]core.DispatchReceipt
	fail       map[string]error
}

// NewRecording returns an empty recording dispatcher.
func NewRecording() *Recording {
	return &Recording{
		seen: make(map[string]core.DispatchReceipt),
		fail: make(map[string]error),
	}
}

// FailTarget makes every delivery to target fail with err.
func (r *Recording) FailTarget(target core.DispatchTarget, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[target.String()] = err
}

// Dispatch records the delivery once per dispatch id.
func (r *Recording) Dispatch(ctx context.Context, dispatchID string, target core.DispatchTarget, envelope core.PacketEnvelope, payload core.PacketPayload) (core.DispatchReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[target.String()]; ok {
		return core.DispatchReceipt{}, err
	}
	if rec, ok := r.seen[dispatchID]; ok {
		return rec, nil
	}
	d := Delivery{DispatchID: dispatchID, Target: target, Envelope: envelope, Payload: payload}
	rec, err := receipt("recording", d)
	if err != nil {
		return core.DispatchReceipt{}, err
	}
	r.deliveries = append(r.deliveries, d)
	r.seen[dispatchID] = rec
	return rec, nil
}

// Deliveries returns a copy of the recorded deliveries in arrival order.
func (r *Recording) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// Count returns the number of distinct deliveries.
func (r *Recording) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}
