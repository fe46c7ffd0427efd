package canonical

import (
	"errors"
	"fmt"
)

// CanonicalizationError reports a value that has no canonical form.
type CanonicalizationError struct {
	// Path locates the offending value ("$" is the root).
	Path string

	// Reason is a short human-readable description.
	Reason string

	// Err is the underlying encoder error, if any.
	Err error
}

func (e *CanonicalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("canonicalization failed at %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("canonicalization failed at %s: %s", e.Path, e.Reason)
}

func (e *CanonicalizationError) Unwrap() error {
	return e.Err
}

// IsCanonicalizationError reports whether err wraps a CanonicalizationError.
func IsCanonicalizationError(err error) bool {
	var ce *CanonicalizationError
	return errors.As(err, &ce)
}
