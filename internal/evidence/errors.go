package evidence

import (
	"errors"
	"fmt"
	"strings"
)

// Provider error codes.
const (
	CodeProviderError    = "provider_error"
	CodeProviderMissing  = "provider_missing"
	CodeProviderTimeout  = "provider_timeout"
	CodeUnsupportedCheck = "unsupported_check"
	CodeParamsMissing    = "params_missing"
	CodeParamsInvalid    = "params_invalid"
)

// ProviderError is a failed provider query. The engine absorbs it into an
// Unknown leaf and records it on the evidence record.
type ProviderError struct {
	ProviderID string
	CheckID    string
	Code       string
	Message    string
	Details    any
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s/%s: %s: %s", e.ProviderID, e.CheckID, e.Code, e.Message)
}

// IsProviderError reports whether err is a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

func newProviderError(providerID, checkID, code, format string, args ...any) *ProviderError {
	return &ProviderError{
		ProviderID: providerID,
		CheckID:    checkID,
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
	}
}

// ProviderMissingError lists provider ids a spec references without a
// binding, and checks a bound provider does not support.
type ProviderMissingError struct {
	MissingProviders  []string
	UnsupportedChecks []string
}

func (e *ProviderMissingError) Error() string {
	var parts []string
	if len(e.MissingProviders) > 0 {
		parts = append(parts, "missing providers: "+strings.Join(e.MissingProviders, ", "))
	}
	if len(e.UnsupportedChecks) > 0 {
		parts = append(parts, "unsupported checks: "+strings.Join(e.UnsupportedChecks, ", "))
	}
	return strings.Join(parts, "; ")
}

// IsProviderMissingError reports whether err is a ProviderMissingError.
func IsProviderMissingError(err error) bool {
	var pm *ProviderMissingError
	return errors.As(err, &pm)
}
