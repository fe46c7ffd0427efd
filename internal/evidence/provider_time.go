package evidence

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/roach88/dgate/internal/core"
)

// TimeConfig configures the time provider.
type TimeConfig struct {
	AllowLogical bool `yaml:"allow_logical"`
}

// TimeProvider answers checks against the trigger timestamp. It never reads
// the wall clock.
//
// Checks:
//   - now: the trigger time value
//   - after: trigger time is strictly after params.timestamp
//   - before: trigger time is strictly before params.timestamp
type TimeProvider struct {
	cfg TimeConfig
}

// NewTimeProvider builds a time provider.
func NewTimeProvider(cfg TimeConfig) *TimeProvider {
	return &TimeProvider{cfg: cfg}
}

func (p *TimeProvider) Checks() []string { return []string{"now", "after", "before"} }

func (p *TimeProvider) Query(_ context.Context, q core.EvidenceQuery, ec core.EvidenceContext) (core.EvidenceResult, error) {
	ts := ec.TriggerTime
	if ts.Kind == core.TimestampLogical && !p.cfg.AllowLogical {
		return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeProviderError, "logical timestamps are not permitted")
	}
	if err := ts.Validate(); err != nil {
		return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeProviderError, "%v", err)
	}

	var value any
	switch q.CheckID {
	case "now":
		value = json.Number(strconv.FormatInt(ts.Value, 10))
	case "after", "before":
		threshold, err := p.threshold(q, ts.Kind)
		if err != nil {
			return core.EvidenceResult{}, err
		}
		if q.CheckID == "after" {
			value = ts.Value > threshold
		} else {
			value = ts.Value < threshold
		}
	default:
		return core.EvidenceResult{}, unsupportedCheck(q)
	}

	return core.EvidenceResult{
		Value:       core.JSONValue(value),
		Lane:        core.LaneVerified,
		ContentType: "application/json",
		EvidenceAnchor: &core.EvidenceAnchor{
			AnchorType:  "trigger_time_" + string(ts.Kind),
			AnchorValue: strconv.FormatInt(ts.Value, 10),
		},
	}, nil
}

// threshold reads params.timestamp in the trigger's time domain. Wall-clock
// triggers also accept RFC 3339 strings.
func (p *TimeProvider) threshold(q core.EvidenceQuery, kind core.TimestampKind) (int64, error) {
	m, err := paramsObject(q)
	if err != nil {
		return 0, err
	}
	raw, ok := m["timestamp"]
	if !ok {
		return 0, newProviderError(q.ProviderID, q.CheckID, CodeParamsMissing, "missing timestamp param")
	}
	if s, ok := raw.(string); ok && kind == core.TimestampUnixMillis {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, newProviderError(q.ProviderID, q.CheckID, CodeParamsInvalid, "invalid rfc3339 timestamp %q", s)
		}
		return t.UnixMilli(), nil
	}
	r, ok := toRat(raw)
	if !ok || !r.IsInt() || !r.Num().IsInt64() {
		return 0, newProviderError(q.ProviderID, q.CheckID, CodeParamsInvalid, "timestamp must be an integer")
	}
	return r.Num().Int64(), nil
}
