package evidence

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/ret"
)

// Compare applies cmp to the evidence value and the expected value.
//
// exists/not_exists only look at presence. Every other comparator resolves
// Unknown when the value is absent or the operand types do not fit.
func Compare(cmp core.Comparator, expected any, value *core.EvidenceValue) ret.TriState {
	switch cmp {
	case core.CmpExists:
		return ret.FromBool(value != nil)
	case core.CmpNotExists:
		return ret.FromBool(value == nil)
	}
	if value == nil || expected == nil {
		return ret.Unknown
	}
	switch value.Kind {
	case core.EvidenceJSON:
		return compareJSON(cmp, value.Value, expected)
	case core.EvidenceBytes:
		return compareBytes(cmp, value.Bytes, expected)
	default:
		return ret.Unknown
	}
}

func compareJSON(cmp core.Comparator, left, right any) ret.TriState {
	switch cmp {
	case core.CmpEquals:
		return ret.FromBool(jsonEqual(left, right))
	case core.CmpNotEquals:
		return ret.FromBool(!jsonEqual(left, right))
	case core.CmpGreaterThan, core.CmpGreaterThanOrEqual, core.CmpLessThan, core.CmpLessThanOrEqual:
		return compareOrdering(cmp, left, right)
	case core.CmpLexGreaterThan, core.CmpLexGreaterThanOrEqual, core.CmpLexLessThan, core.CmpLexLessThanOrEqual:
		l, lok := left.(string)
		r, rok := right.(string)
		if !lok || !rok {
			return ret.Unknown
		}
		return orderingResult(cmp, strings.Compare(l, r))
	case core.CmpContains:
		return compareContains(left, right)
	case core.CmpInSet:
		set, ok := right.([]any)
		if !ok || isContainer(left) {
			return ret.Unknown
		}
		for _, member := range set {
			if jsonEqual(left, member) {
				return ret.True
			}
		}
		return ret.False
	case core.CmpDeepEquals, core.CmpDeepNotEquals:
		if !sameContainer(left, right) {
			return ret.Unknown
		}
		eq := jsonEqual(left, right)
		if cmp == core.CmpDeepNotEquals {
			eq = !eq
		}
		return ret.FromBool(eq)
	default:
		return ret.Unknown
	}
}

func compareBytes(cmp core.Comparator, got []byte, expected any) ret.TriState {
	want, ok := expectedBytes(expected)
	if !ok {
		return ret.Unknown
	}
	switch cmp {
	case core.CmpEquals:
		return ret.FromBool(string(got) == string(want))
	case core.CmpNotEquals:
		return ret.FromBool(string(got) != string(want))
	default:
		return ret.Unknown
	}
}

// expectedBytes reads an expected value written as an array of octets.
func expectedBytes(v any) ([]byte, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]byte, 0, len(items))
	for _, item := range items {
		r, ok := toRat(item)
		if !ok || !r.IsInt() {
			return nil, false
		}
		n := r.Num()
		if n.Sign() < 0 || n.Cmp(big.NewInt(255)) > 0 {
			return nil, false
		}
		out = append(out, byte(n.Int64()))
	}
	return out, true
}

func compareOrdering(cmp core.Comparator, left, right any) ret.TriState {
	if l, ok := toRat(left); ok {
		r, ok := toRat(right)
		if !ok {
			return ret.Unknown
		}
		return orderingResult(cmp, l.Cmp(r))
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if !lok || !rok {
		return ret.Unknown
	}
	c, ok := temporalCompare(ls, rs)
	if !ok {
		return ret.Unknown
	}
	return orderingResult(cmp, c)
}

func orderingResult(cmp core.Comparator, c int) ret.TriState {
	switch cmp {
	case core.CmpGreaterThan, core.CmpLexGreaterThan:
		return ret.FromBool(c > 0)
	case core.CmpGreaterThanOrEqual, core.CmpLexGreaterThanOrEqual:
		return ret.FromBool(c >= 0)
	case core.CmpLessThan, core.CmpLexLessThan:
		return ret.FromBool(c < 0)
	case core.CmpLessThanOrEqual, core.CmpLexLessThanOrEqual:
		return ret.FromBool(c <= 0)
	default:
		return ret.Unknown
	}
}

// temporalCompare orders two RFC 3339 timestamps, or two calendar dates.
func temporalCompare(a, b string) (int, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		ta, errA := time.Parse(layout, a)
		tb, errB := time.Parse(layout, b)
		if errA == nil && errB == nil {
			return ta.Compare(tb), true
		}
	}
	return 0, false
}

func compareContains(left, right any) ret.TriState {
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		if !ok {
			return ret.Unknown
		}
		return ret.FromBool(strings.Contains(l, r))
	case []any:
		needles, ok := right.([]any)
		if !ok {
			return ret.Unknown
		}
		for _, needle := range needles {
			found := false
			for _, item := range l {
				if jsonEqual(item, needle) {
					found = true
					break
				}
			}
			if !found {
				return ret.False
			}
		}
		return ret.True
	default:
		return ret.Unknown
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

func sameContainer(a, b any) bool {
	switch a.(type) {
	case []any:
		_, ok := b.([]any)
		return ok
	case map[string]any:
		_, ok := b.(map[string]any)
		return ok
	}
	return false
}

// jsonEqual is structural equality over decoded JSON. Numbers compare by
// value, so 1, 1.0 and json.Number("1e0") are equal.
func jsonEqual(a, b any) bool {
	if ra, ok := toRat(a); ok {
		rb, ok := toRat(b)
		return ok && ra.Cmp(rb) == 0
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !jsonEqual(v, w) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// toRat converts any JSON-ish number to an exact rational.
func toRat(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case json.Number:
		r, ok := new(big.Rat).SetString(n.String())
		return r, ok
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, false
		}
		return new(big.Rat).SetFloat64(n), true
	case float32:
		return toRat(float64(n))
	case int:
		return new(big.Rat).SetInt64(int64(n)), true
	case int8, int16, int32, int64:
		return new(big.Rat).SetInt64(toInt64(n)), true
	case uint, uint8, uint16, uint32, uint64:
		r, ok := new(big.Rat).SetString(fmt.Sprint(n))
		return r, ok
	default:
		return nil, false
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	}
	return 0
}
