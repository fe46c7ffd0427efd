package queryir

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a Select.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid run query: " + strings.Join(e.Problems, "; ")
}

// Validate checks that q names a namespace and that its filter only uses
// known columns, non-empty In lists and real run statuses. It returns nil
// or a *ValidationError.
func Validate(q Select) error {
	v := &validator{}
	if q.TenantID == "" {
		v.add("tenant id is required")
	}
	if q.NamespaceID == "" {
		v.add("namespace id is required")
	}
	if q.Limit < 0 {
		v.add("limit %d is negative", q.Limit)
	}
	v.predicate(q.Filter)
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

type validator struct {
	problems []string
}

func (v *validator) add(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) predicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Equals:
		v.value(pred.Field, pred.Value)
	case In:
		if len(pred.Values) == 0 {
			v.add("%s: empty value list", pred.Field)
		}
		for _, val := range pred.Values {
			v.value(pred.Field, val)
		}
	case And:
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	default:
		v.add("unsupported predicate %T", p)
	}
}

func (v *validator) value(f Field, val string) {
	if !f.Known() {
		v.add("unknown field %q", f)
		return
	}
	if f == FieldStatus && !validStatus(val) {
		v.add("unknown status %q", val)
	}
}
