package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed spec, trigger or request.
	// Nothing was mutated.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeRunNotFound indicates no run exists for the key.
	ErrCodeRunNotFound ErrorCode = "RUN_NOT_FOUND"

	// ErrCodeRunExists indicates start_run targeted an existing run.
	ErrCodeRunExists ErrorCode = "RUN_EXISTS"

	// ErrCodeRunMismatch indicates the stored run does not match its
	// registered scenario (spec hash drift) or a concurrent writer won.
	ErrCodeRunMismatch ErrorCode = "RUN_MISMATCH"

	// ErrCodeScenarioNotFound indicates the scenario was never registered.
	ErrCodeScenarioNotFound ErrorCode = "SCENARIO_NOT_FOUND"

	// ErrCodeScenarioConflict indicates a scenario id was re-registered
	// with different content.
	ErrCodeScenarioConflict ErrorCode = "SCENARIO_CONFLICT"

	// ErrCodeStageNotFound indicates a stage id is absent from the spec.
	ErrCodeStageNotFound ErrorCode = "STAGE_NOT_FOUND"

	// ErrCodeProviderMissing indicates the spec references an unbound
	// provider or unsupported check.
	ErrCodeProviderMissing ErrorCode = "PROVIDER_MISSING"

	// ErrCodeStore indicates the run store failed. The call's transition
	// was not persisted.
	ErrCodeStore ErrorCode = "STORE"

	// ErrCodeCanonicalization indicates a value could not be hashed.
	ErrCodeCanonicalization ErrorCode = "CANONICALIZATION"

	// ErrCodeDataShape indicates a payload failed schema validation.
	ErrCodeDataShape ErrorCode = "DATA_SHAPE"
)

// Error is a systemic failure of an engine call. Evidence shortfalls are
// never Errors; they surface as Unknown gates and hold decisions.
type Error struct {
	Code    ErrorCode
	Message string
	RunID   string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RunID != "" {
		msg += fmt.Sprintf(" (run=%s)", e.RunID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first engine Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidationError reports whether err was rejected before any mutation.
func IsValidationError(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

// IsNotFound reports whether err names a missing run, scenario or stage.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case ErrCodeRunNotFound, ErrCodeScenarioNotFound, ErrCodeStageNotFound:
		return true
	}
	return false
}

// IsStoreError reports whether err came from the run store.
func IsStoreError(err error) bool {
	return CodeOf(err) == ErrCodeStore
}

func newError(code ErrorCode, runID string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), RunID: runID, Err: err}
}

// NewValidationError builds a VALIDATION error.
func NewValidationError(format string, args ...any) *Error {
	return newError(ErrCodeValidation, "", nil, format, args...)
}
