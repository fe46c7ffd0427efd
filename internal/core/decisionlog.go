package core

import (
	"fmt"
)

// The decision log is the append-only Decisions slice of a RunState. The
// helpers below are the only code that appends to it.

// AppendDecision assigns the next seq and id and appends d.
func (s *RunState) AppendDecision(d DecisionRecord) DecisionRecord {
	next := int64(len(s.Decisions)) + 1
	d.Seq = next
	d.DecisionID = fmt.Sprintf("decision-%d", next)
	s.Decisions = append(s.Decisions, d)
	return d
}

// LastDecision returns the most recent decision.
func (s *RunState) LastDecision() (DecisionRecord, bool) {
	if len(s.Decisions) == 0 {
		return DecisionRecord{}, false
	}
	return s.Decisions[len(s.Decisions)-1], true
}

// DecisionForTrigger returns the decision recorded for a trigger id.
func (s *RunState) DecisionForTrigger(triggerID string) (DecisionRecord, bool) {
	for _, d := range s.Decisions {
		if d.TriggerID == triggerID {
			return d, true
		}
	}
	return DecisionRecord{}, false
}

// Decision returns the decision with the given id.
func (s *RunState) Decision(decisionID string) (DecisionRecord, bool) {
	for _, d := range s.Decisions {
		if d.DecisionID == decisionID {
			return d, true
		}
	}
	return DecisionRecord{}, false
}

// PacketsForDecision returns the packets issued by a decision, in issue
// order. Never nil.
func (s *RunState) PacketsForDecision(decisionID string) []PacketRecord {
	out := []PacketRecord{}
	for _, p := range s.Packets {
		if p.DecisionID == decisionID {
			out = append(out, p)
		}
	}
	return out
}

// HasProcessedTrigger reports whether triggerID is in the idempotency
// ledger.
func (s *RunState) HasProcessedTrigger(triggerID string) bool {
	for _, id := range s.ProcessedTriggerIDs {
		if id == triggerID {
			return true
		}
	}
	return false
}

// RecordTrigger logs the trigger and adds its id to the ledger.
func (s *RunState) RecordTrigger(ev TriggerEvent) TriggerRecord {
	rec := TriggerRecord{Seq: int64(len(s.Triggers)) + 1, Event: ev}
	s.Triggers = append(s.Triggers, rec)
	if !s.HasProcessedTrigger(ev.TriggerID) {
		s.ProcessedTriggerIDs = append(s.ProcessedTriggerIDs, ev.TriggerID)
	}
	return rec
}

// CheckDecisionLog verifies the structural invariants of a decision log:
// seqs are 1..n in order, ids match seqs, and no trigger is decided twice.
func CheckDecisionLog(decisions []DecisionRecord) error {
	seen := make(map[string]string, len(decisions))
	for i, d := range decisions {
		want := int64(i) + 1
		if d.Seq != want {
			return fmt.Errorf("decision %q has seq %d, expected %d", d.DecisionID, d.Seq, want)
		}
		if d.DecisionID != fmt.Sprintf("decision-%d", want) {
			return fmt.Errorf("decision at seq %d has id %q", want, d.DecisionID)
		}
		if prev, dup := seen[d.TriggerID]; dup {
			return fmt.Errorf("trigger %q decided twice (%s, %s)", d.TriggerID, prev, d.DecisionID)
		}
		seen[d.TriggerID] = d.DecisionID
	}
	return nil
}
