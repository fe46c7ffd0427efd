package dispatch

import (
	"context"
	"log/slog"

	"github.com/roach88/dgate/internal/core"
)

// Log writes each delivery as a structured log line instead of sending it.
// Payload values are never logged, only the envelope hash.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a log dispatcher. A nil logger means slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Dispatch(ctx context.Context, dispatchID string, target core.DispatchTarget, envelope core.PacketEnvelope, payload core.PacketPayload) (core.DispatchReceipt, error) {
	rec, err := receipt("log", Delivery{DispatchID: dispatchID, Target: target, Envelope: envelope})
	if err != nil {
		return core.DispatchReceipt{}, err
	}
	l.logger.InfoContext(ctx, "packet delivered",
		"dispatch_id", dispatchID,
		"target", target.String(),
		"run_id", envelope.RunID,
		"packet_id", envelope.PacketID,
		"content_hash", envelope.ContentHash.String(),
		"payload_kind", string(payload.Kind),
		"event", "packet_delivered",
	)
	return rec, nil
}
