package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/dgate/internal/core"
)

// marshalState converts a RunState to JSON TEXT for storage.
func marshalState(state *core.RunState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return string(data), nil
}

// unmarshalState parses stored JSON TEXT. Numbers decode as json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalState(data string) (*core.RunState, error) {
	var state core.RunState
	if err := core.DecodeJSON([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}
