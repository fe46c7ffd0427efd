package canonical

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type entry struct {
	key string
	val int64
}

// objectText writes a JSON object with members in the given order.
func objectText(entries []entry) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(e.key)
		vb, _ := json.Marshal(e.val)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// entriesFrom pairs unique keys with values, cycling through vals.
func entriesFrom(keys []string, vals []int64) []entry {
	if len(vals) == 0 {
		vals = []int64{0}
	}
	seen := make(map[string]bool, len(keys))
	out := make([]entry, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, entry{key: k, val: vals[len(out)%len(vals)]})
	}
	return out
}

func TestProperty_CanonicalFormIgnoresMemberOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("permuted objects canonicalize identically", prop.ForAll(
		func(keys []string, vals []int64) bool {
			fwd := entriesFrom(keys, vals)
			rev := make([]entry, len(fwd))
			for i, e := range fwd {
				rev[len(fwd)-1-i] = e
			}
			a, errA := CanonicalizeJSON(objectText(fwd))
			b, errB := CanonicalizeJSON(objectText(rev))
			return errA == nil && errB == nil && bytes.Equal(a, b)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int64Range(-1_000_000, 1_000_000)),
	))

	properties.Property("canonicalization is idempotent", prop.ForAll(
		func(keys []string, vals []int64) bool {
			once, err := CanonicalizeJSON(objectText(entriesFrom(keys, vals)))
			if err != nil {
				return false
			}
			twice, err := CanonicalizeJSON(once)
			return err == nil && bytes.Equal(once, twice)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int64Range(-1_000_000, 1_000_000)),
	))

	properties.TestingRun(t)
}
