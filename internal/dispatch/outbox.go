package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/dgate/internal/core"
)

// Outbox writes each delivery as <dir>/<dispatch_id>.json for another
// process to forward. A file that already exists is left untouched.
type Outbox struct {
	dir string
}

// NewOutbox creates dir if needed.
func NewOutbox(dir string) (*Outbox, error) {
	if dir == "" {
		return nil, errors.New("outbox: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("outbox: %w", err)
	}
	return &Outbox{dir: dir}, nil
}

// Dir returns the outbox directory.
func (o *Outbox) Dir() string {
	return o.dir
}

func (o *Outbox) Dispatch(ctx context.Context, dispatchID string, target core.DispatchTarget, envelope core.PacketEnvelope, payload core.PacketPayload) (core.DispatchReceipt, error) {
	d := Delivery{DispatchID: dispatchID, Target: target, Envelope: envelope, Payload: payload}
	rec, err := receipt("outbox", d)
	if err != nil {
		return core.DispatchReceipt{}, err
	}
	path := filepath.Join(o.dir, dispatchID+".json")
	if _, err := os.Stat(path); err == nil {
		return rec, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return core.DispatchReceipt{}, fmt.Errorf("outbox: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return core.DispatchReceipt{}, fmt.Errorf("outbox: marshal: %w", err)
	}
	// Write then rename so readers never see a partial file.
	tmp, err := os.CreateTemp(o.dir, ".dispatch-*")
	if err != nil {
		return core.DispatchReceipt{}, fmt.Errorf("outbox: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return core.DispatchReceipt{}, fmt.Errorf("outbox: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return core.DispatchReceipt{}, fmt.Errorf("outbox: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return core.DispatchReceipt{}, fmt.Errorf("outbox: rename: %w", err)
	}
	return rec, nil
}
