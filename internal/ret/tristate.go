package ret

import (
	"fmt"
)

// TriState is the outcome of a requirement: True, False or Unknown.
// The zero value is Unknown so an unset outcome never passes.
type TriState uint8

const (
	Unknown TriState = iota
	True
	False
)

// FromBool lifts a boolean into the tri-state domain.
func FromBool(b bool) TriState {
	if b {
		return True
	}
	return False
}

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome as "true", "false" or "unknown".
func (t TriState) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes "true", "false" or "unknown".
func (t *TriState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "true":
		*t = True
	case "false":
		*t = False
	case "unknown":
		*t = Unknown
	default:
		return fmt.Errorf("invalid tri-state %q", text)
	}
	return nil
}

// LogicMode selects the truth tables used for And/Or.
type LogicMode string

const (
	// Kleene is strong Kleene logic: a decisive operand wins over Unknown.
	Kleene LogicMode = "kleene"

	// Bochvar is internal Bochvar logic: Unknown is infectious.
	Bochvar LogicMode = "bochvar"
)

// ParseLogicMode validates a logic mode name. Empty selects Kleene.
func ParseLogicMode(s string) (LogicMode, error) {
	switch LogicMode(s) {
	case "", Kleene:
		return Kleene, nil
	case Bochvar:
		return Bochvar, nil
	default:
		return "", fmt.Errorf("unknown logic mode %q", s)
	}
}

// And combines two outcomes.
func (m LogicMode) And(a, b TriState) TriState {
	if m == Bochvar && (a == Unknown || b == Unknown) {
		return Unknown
	}
	switch {
	case a == False || b == False:
		return False
	case a == True && b == True:
		return True
	default:
		return Unknown
	}
}

// Or combines two outcomes.
func (m LogicMode) Or(a, b TriState) TriState {
	if m == Bochvar && (a == Unknown || b == Unknown) {
		return Unknown
	}
	switch {
	case a == True || b == True:
		return True
	case a == False && b == False:
		return False
	default:
		return Unknown
	}
}

// Not flips True and False; Unknown stays Unknown.
func (m LogicMode) Not(a TriState) TriState {
	switch a {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

// Threshold decides "at least k of n" from the counts of True and Unknown
// children. It is identical under both logic modes.
func (m LogicMode) Threshold(k, trueCount, unknownCount int) TriState {
	switch {
	case trueCount >= k:
		return True
	case trueCount+unknownCount < k:
		return False
	default:
		return Unknown
	}
}
