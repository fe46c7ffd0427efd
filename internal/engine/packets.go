package engine

import (
	"fmt"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

// issuePackets builds the entry packets of stage for decisionID. Payloads
// whose schema is declared as a data shape are validated first.
func (e *Engine) issuePackets(spec *core.ScenarioSpec, stage *core.StageSpec, state *core.RunState, decisionID string, at core.Timestamp, correlationID string) ([]core.PacketRecord, error) {
	out := make([]core.PacketRecord, 0, len(stage.EntryPackets))
	for _, p := range stage.EntryPackets {
		if err := e.validatePacket(spec, p); err != nil {
			return nil, err
		}
		hash, err := payloadHash(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("packet %q: %w", p.PacketID, err)
		}
		env := core.PacketEnvelope{
			ScenarioID:  spec.ScenarioID,
			RunID:       state.RunID,
			StageID:     stage.StageID,
			PacketID:    p.PacketID,
			SchemaID:    p.SchemaID,
			ContentType: p.ContentType,
			ContentHash: hash,
			Visibility: core.Visibility{
				Labels:     nonNil(p.VisibilityLabels),
				PolicyTags: nonNil(p.PolicyTags),
			},
			Expiry:        p.Expiry,
			CorrelationID: correlationID,
			IssuedAt:      at,
		}
		out = append(out, core.PacketRecord{
			Envelope:   env,
			Payload:    p.Payload,
			Receipts:   []core.DispatchReceipt{},
			DecisionID: decisionID,
		})
	}
	return out, nil
}

func (e *Engine) validatePacket(spec *core.ScenarioSpec, p core.PacketSpec) error {
	if e.shapes == nil || p.Payload.Kind != core.PayloadJSON {
		return nil
	}
	for _, shape := range spec.DataShapes {
		if shape.SchemaID != p.SchemaID {
			continue
		}
		if err := e.shapes.Validate(shape.SchemaID, shape.Version, p.Payload.Value); err != nil {
			return fmt.Errorf("packet %q: %w", p.PacketID, err)
		}
	}
	return nil
}

// payloadHash hashes a payload by kind: canonical JSON, raw bytes, or the
// digest carried by an external reference.
func payloadHash(p core.PacketPayload) (canonical.HashDigest, error) {
	switch p.Kind {
	case core.PayloadJSON:
		return canonical.HashValue(p.Value)
	case core.PayloadBytes:
		return canonical.HashBytes(p.Bytes), nil
	case core.PayloadExternal:
		if p.ContentRef == nil {
			return canonical.HashDigest{}, fmt.Errorf("external payload has no content_ref")
		}
		return p.ContentRef.ContentHash, nil
	default:
		return canonical.HashDigest{}, fmt.Errorf("unknown payload kind %q", p.Kind)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
