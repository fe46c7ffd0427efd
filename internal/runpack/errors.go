package runpack

import (
	"errors"
	"fmt"
	"strings"
)

// ErrArtifactNotFound is wrapped by readers when a path does not exist.
var ErrArtifactNotFound = errors.New("artifact not found")

// CorruptionError reports a runpack whose bytes do not match its
// manifest. It is never recoverable.
type CorruptionError struct {
	Problems []string
}

func (e *CorruptionError) Error() string {
	return "runpack corrupted: " + strings.Join(e.Problems, "; ")
}

// MissingArtifactError reports required artifacts absent from the
// runpack. Everything that was present verified.
type MissingArtifactError struct {
	Paths []string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("runpack missing artifacts: %s", strings.Join(e.Paths, ", "))
}

// IsCorruption reports whether err wraps a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsMissingArtifact reports whether err wraps a MissingArtifactError.
func IsMissingArtifact(err error) bool {
	var me *MissingArtifactError
	return errors.As(err, &me)
}
