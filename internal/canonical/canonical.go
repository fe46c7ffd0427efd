package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// maxSafeInteger is 2^53-1. Integers beyond it cannot survive the
// ECMAScript number serialization mandated by RFC 8785.
var maxSafeInteger = big.NewInt(1<<53 - 1)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing.
// CRITICAL: This is the ONLY serialization that should be used for
// content-addressed identity computation.
//
// The value is first encoded with encoding/json so struct tags and
// json.Marshaler implementations are honoured, then normalized and
// handed to jcs.Transform for key ordering and number formatting.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &CanonicalizationError{Path: "$", Reason: "value is not JSON encodable", Err: err}
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON re-encodes an existing JSON document in canonical form.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, &CanonicalizationError{Path: "$", Reason: "invalid JSON", Err: err}
	}
	if dec.More() {
		return nil, &CanonicalizationError{Path: "$", Reason: "trailing data after JSON value"}
	}

	normalized, err := normalize(generic, "$")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, &CanonicalizationError{Path: "$", Reason: "re-encode failed", Err: err}
	}

	out, err := jcs.Transform(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
	if err != nil {
		return nil, &CanonicalizationError{Path: "$", Reason: "jcs transform failed", Err: err}
	}
	return out, nil
}

// normalize walks a decoded JSON tree, NFC-normalizing strings and keys
// and rejecting numbers that have no exact canonical form.
func normalize(v any, path string) (any, error) {
	switch val := v.(type) {
	case nil, bool:
		return val, nil
	case string:
		return norm.NFC.String(val), nil
	case json.Number:
		if err := checkNumber(val); err != nil {
			return nil, &CanonicalizationError{Path: path, Reason: err.Error()}
		}
		return val, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := normalize(elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			key := norm.NFC.String(k)
			if _, dup := out[key]; dup {
				return nil, &CanonicalizationError{Path: path, Reason: fmt.Sprintf("keys collide after NFC normalization: %q", key)}
			}
			n, err := normalize(elem, path+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	default:
		return nil, &CanonicalizationError{Path: path, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

// checkNumber rejects integer literals outside the exact float64 range.
// Decimal and exponent forms are left to the ECMAScript formatter.
func checkNumber(n json.Number) error {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		if _, err := n.Float64(); err != nil {
			return fmt.Errorf("number %s is not finite", s)
		}
		return nil
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("malformed number %s", s)
	}
	if new(big.Int).Abs(i).Cmp(maxSafeInteger) > 0 {
		return fmt.Errorf("integer %s exceeds 2^53-1", s)
	}
	return nil
}
