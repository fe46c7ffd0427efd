package evidence

import (
	"github.com/roach88/dgate/internal/core"
)

// paramsObject returns query params as an object.
func paramsObject(q core.EvidenceQuery) (map[string]any, error) {
	if q.Params == nil {
		return nil, newProviderError(q.ProviderID, q.CheckID, CodeParamsMissing, "check requires params")
	}
	m, ok := q.Params.(map[string]any)
	if !ok {
		return nil, newProviderError(q.ProviderID, q.CheckID, CodeParamsInvalid, "params must be an object")
	}
	return m, nil
}

// stringParam reads a required string param.
func stringParam(q core.EvidenceQuery, m map[string]any, name string) (string, error) {
	raw, ok := m[name]
	if !ok {
		return "", newProviderError(q.ProviderID, q.CheckID, CodeParamsMissing, "missing %s param", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", newProviderError(q.ProviderID, q.CheckID, CodeParamsInvalid, "%s param must be a string", name)
	}
	return s, nil
}

func unsupportedCheck(q core.EvidenceQuery) error {
	return newProviderError(q.ProviderID, q.CheckID, CodeUnsupportedCheck, "unsupported check %q", q.CheckID)
}
