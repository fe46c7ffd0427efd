package ret

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags a Requirement node.
type Kind string

const (
	KindCondition Kind = "condition"
	KindAnd       Kind = "and"
	KindOr        Kind = "or"
	KindNot       Kind = "not"
	KindThreshold Kind = "threshold"
)

// Requirement is one node of a requirement tree. Parents own their
// children by value; there are no back-references.
//
// Wire form (externally tagged):
//
//	{"condition": "c1"}
//	{"and": [ ... ]}
//	{"or": [ ... ]}
//	{"not": { ... }}
//	{"threshold": {"k": 2, "of": [ ... ]}}
type Requirement struct {
	Kind        Kind
	ConditionID string
	K           int
	Children    []Requirement
}

// Cond builds a leaf referencing a scenario condition.
func Cond(conditionID string) Requirement {
	return Requirement{Kind: KindCondition, ConditionID: conditionID}
}

// And requires every child to hold.
func And(children ...Requirement) Requirement {
	return Requirement{Kind: KindAnd, Children: children}
}

// Or requires at least one child to hold.
func Or(children ...Requirement) Requirement {
	return Requirement{Kind: KindOr, Children: children}
}

// Not negates its child.
func Not(child Requirement) Requirement {
	return Requirement{Kind: KindNot, Children: []Requirement{child}}
}

// Threshold requires at least k children to hold.
func Threshold(k int, children ...Requirement) Requirement {
	return Requirement{Kind: KindThreshold, K: k, Children: children}
}

// ConditionIDs returns the distinct condition ids referenced by the tree,
// sorted.
func (r Requirement) ConditionIDs() []string {
	seen := make(map[string]struct{})
	r.walk(func(n Requirement) {
		if n.Kind == KindCondition {
			seen[n.ConditionID] = struct{}{}
		}
	})
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the number of nodes in the tree.
func (r Requirement) Size() int {
	n := 0
	r.walk(func(Requirement) { n++ })
	return n
}

func (r Requirement) walk(fn func(Requirement)) {
	fn(r)
	for _, c := range r.Children {
		c.walk(fn)
	}
}

type thresholdWire struct {
	K  int           `json:"k"`
	Of []Requirement `json:"of"`
}

// MarshalJSON encodes the externally tagged wire form.
func (r Requirement) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindCondition:
		return json.Marshal(map[string]string{"condition": r.ConditionID})
	case KindAnd, KindOr:
		children := r.Children
		if children == nil {
			children = []Requirement{}
		}
		return json.Marshal(map[string][]Requirement{string(r.Kind): children})
	case KindNot:
		if len(r.Children) != 1 {
			return nil, fmt.Errorf("not requires exactly one child, got %d", len(r.Children))
		}
		return json.Marshal(map[string]Requirement{"not": r.Children[0]})
	case KindThreshold:
		children := r.Children
		if children == nil {
			children = []Requirement{}
		}
		return json.Marshal(map[string]thresholdWire{"threshold": {K: r.K, Of: children}})
	default:
		return nil, fmt.Errorf("unknown requirement kind %q", r.Kind)
	}
}

// UnmarshalJSON decodes the externally tagged wire form. Exactly one tag
// must be present.
func (r *Requirement) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("requirement must be an object: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("requirement must have exactly one tag, got %d", len(tagged))
	}

	for tag, body := range tagged {
		switch Kind(tag) {
		case KindCondition:
			var id string
			if err := json.Unmarshal(body, &id); err != nil {
				return fmt.Errorf("condition: %w", err)
			}
			*r = Cond(id)
		case KindAnd, KindOr:
			if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
				return fmt.Errorf("%s: children must be an array", tag)
			}
			var children []Requirement
			if err := json.Unmarshal(body, &children); err != nil {
				return fmt.Errorf("%s: %w", tag, err)
			}
			*r = Requirement{Kind: Kind(tag), Children: children}
		case KindNot:
			var child Requirement
			if err := json.Unmarshal(body, &child); err != nil {
				return fmt.Errorf("not: %w", err)
			}
			*r = Not(child)
		case KindThreshold:
			var w thresholdWire
			if err := json.Unmarshal(body, &w); err != nil {
				return fmt.Errorf("threshold: %w", err)
			}
			*r = Threshold(w.K, w.Of...)
		default:
			return fmt.Errorf("unknown requirement tag %q", tag)
		}
	}
	return nil
}
