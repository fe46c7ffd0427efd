package dispatch

import (
	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

// Delivery is one packet as a dispatcher saw it.
type Delivery struct {
	DispatchID string              `json:"dispatch_id"`
	Target     core.DispatchTarget `json:"target"`
	Envelope   core.PacketEnvelope `json:"envelope"`
	Payload    core.PacketPayload  `json:"payload"`
}

// receipt builds the receipt of a delivery. The hash covers the delivery
// id, target and content hash, so it is stable across retries.
func receipt(name string, d Delivery) (core.DispatchReceipt, error) {
	h, err := canonical.HashValue(map[string]any{
		"dispatch_id":  d.DispatchID,
		"target":       d.Target,
		"content_hash": d.Envelope.ContentHash,
	})
	if err != nil {
		return core.DispatchReceipt{}, err
	}
	return core.DispatchReceipt{
		DispatchID:   d.DispatchID,
		Target:       d.Target,
		ReceiptHash:  &h,
		DispatchedAt: d.Envelope.IssuedAt,
		Dispatcher:   name,
	}, nil
}
