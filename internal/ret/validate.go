package ret

import (
	"errors"
	"fmt"
)

// MaxDepth bounds tree nesting so evaluation recursion stays bounded.
const MaxDepth = 32

// ValidationError describes a malformed requirement node.
type ValidationError struct {
	// Path locates the node, e.g. "$.and[1].not".
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("requirement %s: %s", e.Path, e.Message)
}

// Validate checks structural rules. It runs at scenario registration,
// never during evaluation.
func Validate(r Requirement) error {
	return validate(r, "$", 1)
}

// ValidateReferences checks that every condition leaf names a known id.
func ValidateReferences(r Requirement, known map[string]bool) error {
	var errs []error
	for _, id := range r.ConditionIDs() {
		if !known[id] {
			errs = append(errs, &ValidationError{Path: "$", Message: fmt.Sprintf("undefined condition %q", id)})
		}
	}
	return errors.Join(errs...)
}

func validate(r Requirement, path string, depth int) error {
	if depth > MaxDepth {
		return &ValidationError{Path: path, Message: fmt.Sprintf("nesting exceeds %d levels", MaxDepth)}
	}

	switch r.Kind {
	case KindCondition:
		if r.ConditionID == "" {
			return &ValidationError{Path: path, Message: "condition id is empty"}
		}
		if len(r.Children) > 0 {
			return &ValidationError{Path: path, Message: "condition must not have children"}
		}
		return nil
	case KindAnd, KindOr:
		if len(r.Children) == 0 {
			return &ValidationError{Path: path, Message: fmt.Sprintf("empty %s", r.Kind)}
		}
	case KindNot:
		if len(r.Children) != 1 {
			return &ValidationError{Path: path, Message: fmt.Sprintf("not requires exactly one child, got %d", len(r.Children))}
		}
	case KindThreshold:
		if len(r.Children) == 0 {
			return &ValidationError{Path: path, Message: "empty threshold"}
		}
		if r.K < 1 || r.K > len(r.Children) {
			return &ValidationError{Path: path, Message: fmt.Sprintf("threshold k=%d out of range 1..%d", r.K, len(r.Children))}
		}
	default:
		return &ValidationError{Path: path, Message: fmt.Sprintf("unknown kind %q", r.Kind)}
	}

	for i, c := range r.Children {
		childPath := fmt.Sprintf("%s.%s[%d]", path, r.Kind, i)
		if r.Kind == KindNot {
			childPath = path + ".not"
		}
		if err := validate(c, childPath, depth+1); err != nil {
			return err
		}
	}
	return nil
}
