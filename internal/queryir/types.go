package queryir

import "github.com/roach88/dgate/internal/core"

// Field is a filterable run column.
type Field string

const (
	FieldRunID      Field = "run_id"
	FieldScenarioID Field = "scenario_id"
	FieldStatus     Field = "status"
	FieldStageID    Field = "current_stage_id"
)

// Fields lists every filterable column.
var Fields = []Field{FieldRunID, FieldScenarioID, FieldStatus, FieldStageID}

// Known reports whether f is a filterable column.
func (f Field) Known() bool {
	for _, k := range Fields {
		if f == k {
			return true
		}
	}
	return false
}

// Predicate is a filter condition over a run row.
type Predicate interface {
	predicateNode()
}

// Equals matches rows whose Field equals Value.
type Equals struct {
	Field Field
	Value string
}

func (Equals) predicateNode() {}

// In matches rows whose Field equals any of Values. Values must not be
// empty.
type In struct {
	Field  Field
	Values []string
}

func (In) predicateNode() {}

// And matches rows satisfying every predicate. An empty And matches all
// rows.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Select lists the runs of one namespace.
type Select struct {
	TenantID    string
	NamespaceID string
	Filter      Predicate // nil matches every run
	Limit       int       // 0 means unlimited
}

// Namespace returns an unfiltered listing of a namespace.
func Namespace(tenantID, namespaceID string) Select {
	return Select{TenantID: tenantID, NamespaceID: namespaceID}
}

// AnyOf returns the predicate matching field against values: nil for no
// values, Equals for one, In otherwise.
func AnyOf(field Field, values ...string) Predicate {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return Equals{Field: field, Value: values[0]}
	default:
		return In{Field: field, Values: append([]string(nil), values...)}
	}
}

// AllOf conjoins the non-nil predicates, collapsing trivial cases.
func AllOf(preds ...Predicate) Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}

// Row yields a candidate run's value for a field.
type Row func(Field) string

// Match evaluates p against row. A nil predicate matches.
func Match(p Predicate, row Row) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case Equals:
		return row(pred.Field) == pred.Value
	case In:
		v := row(pred.Field)
		for _, want := range pred.Values {
			if v == want {
				return true
			}
		}
		return false
	case And:
		for _, sub := range pred.Predicates {
			if !Match(sub, row) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// validStatus reports whether s names a run status.
func validStatus(s string) bool {
	switch core.RunStatus(s) {
	case core.RunActive, core.RunTerminal, core.RunFailed, core.RunTimedOut:
		return true
	}
	return false
}
