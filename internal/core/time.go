package core

import (
	"fmt"
	"time"
)

// TimestampKind distinguishes wall-clock from logical time.
type TimestampKind string

const (
	TimestampUnixMillis TimestampKind = "unix_millis"
	TimestampLogical    TimestampKind = "logical"
)

// Timestamp is supplied by the caller on every trigger. The engine never
// reads the wall clock, so replays are deterministic.
type Timestamp struct {
	Kind  TimestampKind `json:"kind"`
	Value int64         `json:"value"`
}

// UnixMillis builds a wall-clock timestamp.
func UnixMillis(ms int64) Timestamp {
	return Timestamp{Kind: TimestampUnixMillis, Value: ms}
}

// Logical builds a logical timestamp.
func Logical(n int64) Timestamp {
	return Timestamp{Kind: TimestampLogical, Value: n}
}

// FromTime converts a time.Time to a unix_millis timestamp.
func FromTime(t time.Time) Timestamp {
	return UnixMillis(t.UnixMilli())
}

// IsZero reports whether the timestamp is unset.
func (t Timestamp) IsZero() bool {
	return t.Kind == "" && t.Value == 0
}

// Validate checks the kind tag.
func (t Timestamp) Validate() error {
	switch t.Kind {
	case TimestampUnixMillis, TimestampLogical:
		return nil
	default:
		return fmt.Errorf("invalid timestamp kind %q", t.Kind)
	}
}

// Elapsed returns t - since when both share a kind. Logical ticks are
// compared as-is.
func (t Timestamp) Elapsed(since Timestamp) (int64, bool) {
	if t.Kind != since.Kind || t.Kind == "" {
		return 0, false
	}
	return t.Value - since.Value, true
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.Value)
}
