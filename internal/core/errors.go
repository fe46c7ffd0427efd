package core

import (
	"errors"
	"fmt"
	"strings"
)

// Store sentinels. Adapters wrap these with %w.
var (
	ErrRunExists       = errors.New("run already exists")
	ErrVersionConflict = errors.New("run state version conflict")
)

// SpecErrorCode categorizes scenario validation failures.
type SpecErrorCode string

const (
	SpecNoStages           SpecErrorCode = "NO_STAGES"
	SpecMissingID          SpecErrorCode = "MISSING_ID"
	SpecDuplicateStage     SpecErrorCode = "DUPLICATE_STAGE"
	SpecDuplicateGate      SpecErrorCode = "DUPLICATE_GATE"
	SpecDuplicatePacket    SpecErrorCode = "DUPLICATE_PACKET"
	SpecDuplicateCondition SpecErrorCode = "DUPLICATE_CONDITION"
	SpecDuplicateShape     SpecErrorCode = "DUPLICATE_DATA_SHAPE"
	SpecUndefinedCondition SpecErrorCode = "UNDEFINED_CONDITION"
	SpecEmptyQuery         SpecErrorCode = "EMPTY_QUERY"
	SpecUnknownComparator  SpecErrorCode = "UNKNOWN_COMPARATOR"
	SpecMissingExpected    SpecErrorCode = "MISSING_EXPECTED"
	SpecInvalidRequirement SpecErrorCode = "INVALID_REQUIREMENT"
	SpecInvalidAdvance     SpecErrorCode = "INVALID_ADVANCE"
	SpecUnknownStage       SpecErrorCode = "UNKNOWN_STAGE"
	SpecInvalidTimeout     SpecErrorCode = "INVALID_TIMEOUT"
	SpecInvalidLane        SpecErrorCode = "INVALID_LANE"
	SpecInvalidPayload     SpecErrorCode = "INVALID_PAYLOAD"
)

// SpecError is one validation failure in a scenario spec.
type SpecError struct {
	Code    SpecErrorCode `json:"code"`
	Path    string        `json:"path"`
	Message string        `json:"message"`
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Path, e.Message)
}

// SpecErrors collects every failure found in one validation pass.
type SpecErrors []*SpecError

func (es SpecErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "invalid scenario spec: " + strings.Join(msgs, "; ")
}

// IsSpecError reports whether err carries scenario validation failures.
func IsSpecError(err error) bool {
	var se *SpecError
	var ses SpecErrors
	return errors.As(err, &se) || errors.As(err, &ses)
}
