package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeJSON decodes data into v keeping numbers as json.Number, so
// integers survive a round trip exactly.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected trailing data after JSON value")
	}
	return nil
}
