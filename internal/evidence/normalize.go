package evidence

import (
	"errors"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

// Normalize fills EvidenceHash from the value when the provider left it
// empty. JSON values hash canonically; byte values hash raw.
func Normalize(result core.EvidenceResult) (core.EvidenceResult, error) {
	if result.EvidenceHash != nil || result.Value == nil {
		return result, nil
	}
	var digest canonical.HashDigest
	switch result.Value.Kind {
	case core.EvidenceBytes:
		digest = canonical.HashBytes(result.Value.Bytes)
	default:
		d, err := canonical.HashValue(result.Value.Value)
		if err != nil {
			return result, err
		}
		digest = d
	}
	result.EvidenceHash = &digest
	return result, nil
}

// ErrorResult wraps a provider failure as an erroring result.
func ErrorResult(err error) core.EvidenceResult {
	var ee *core.EvidenceError
	if errors.As(err, &ee) {
		return core.EvidenceResult{Error: ee}
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return core.EvidenceResult{Error: &core.EvidenceError{Code: pe.Code, Message: pe.Message, Details: pe.Details}}
	}
	return core.EvidenceResult{Error: &core.EvidenceError{Code: CodeProviderError, Message: err.Error()}}
}
