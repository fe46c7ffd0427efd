package core

import (
	"fmt"

	"github.com/roach88/dgate/internal/ret"
)

// Validate checks every structural rule of the spec and returns all
// failures as SpecErrors, or nil.
func (s *ScenarioSpec) Validate() error {
	v := &specValidator{}
	v.validate(s)
	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

type specValidator struct {
	errs SpecErrors
}

func (v *specValidator) add(code SpecErrorCode, path, format string, args ...any) {
	v.errs = append(v.errs, &SpecError{Code: code, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *specValidator) validate(s *ScenarioSpec) {
	if s.ScenarioID == "" {
		v.add(SpecMissingID, "scenario_id", "scenario_id is required")
	}
	if s.NamespaceID == "" {
		v.add(SpecMissingID, "namespace_id", "namespace_id is required")
	}
	if len(s.Stages) == 0 {
		v.add(SpecNoStages, "stages", "scenario has no stages")
	}

	conditions := make(map[string]bool, len(s.Conditions))
	for i, c := range s.Conditions {
		path := fmt.Sprintf("conditions[%d]", i)
		v.validateCondition(path, c)
		if c.ConditionID == "" {
			continue
		}
		if conditions[c.ConditionID] {
			v.add(SpecDuplicateCondition, path, "duplicate condition_id %q", c.ConditionID)
		}
		conditions[c.ConditionID] = true
	}

	stages := make(map[string]bool, len(s.Stages))
	for i, st := range s.Stages {
		path := fmt.Sprintf("stages[%d]", i)
		if st.StageID == "" {
			v.add(SpecMissingID, path+".stage_id", "stage_id is required")
			continue
		}
		if stages[st.StageID] {
			v.add(SpecDuplicateStage, path, "duplicate stage_id %q", st.StageID)
		}
		stages[st.StageID] = true
	}

	packets := make(map[string]bool)
	for i, st := range s.Stages {
		path := fmt.Sprintf("stages[%d]", i)
		v.validateStage(path, st, conditions, stages, packets)
	}

	shapes := make(map[string]bool, len(s.DataShapes))
	for i, d := range s.DataShapes {
		path := fmt.Sprintf("data_shapes[%d]", i)
		if d.SchemaID == "" {
			v.add(SpecMissingID, path+".schema_id", "schema_id is required")
			continue
		}
		key := d.SchemaID + "@" + d.Version
		if shapes[key] {
			v.add(SpecDuplicateShape, path, "duplicate data shape %q", key)
		}
		shapes[key] = true
	}
}

func (v *specValidator) validateCondition(path string, c ConditionSpec) {
	if c.ConditionID == "" {
		v.add(SpecMissingID, path+".condition_id", "condition_id is required")
	}
	if c.Query.ProviderID == "" {
		v.add(SpecEmptyQuery, path+".query.provider_id", "provider_id is required")
	}
	if c.Query.CheckID == "" {
		v.add(SpecEmptyQuery, path+".query.check_id", "check_id is required")
	}
	if !c.Comparator.Known() {
		v.add(SpecUnknownComparator, path+".comparator", "unknown comparator %q", c.Comparator)
	} else if c.Comparator.NeedsExpected() && c.Expected == nil {
		v.add(SpecMissingExpected, path+".expected", "comparator %q requires an expected value", c.Comparator)
	}
	if c.Trust != nil {
		v.validateTrust(path+".trust", c.Trust)
	}
}

func (v *specValidator) validateTrust(path string, t *TrustRequirement) {
	if _, err := ParseTrustLane(string(t.MinLane)); err != nil {
		v.add(SpecInvalidLane, path+".min_lane", "%v", err)
	}
}

func (v *specValidator) validateStage(path string, st StageSpec, conditions, stages, packets map[string]bool) {
	gates := make(map[string]bool, len(st.Gates))
	for j, g := range st.Gates {
		gpath := fmt.Sprintf("%s.gates[%d]", path, j)
		if g.GateID == "" {
			v.add(SpecMissingID, gpath+".gate_id", "gate_id is required")
		} else if gates[g.GateID] {
			v.add(SpecDuplicateGate, gpath, "duplicate gate_id %q", g.GateID)
		}
		gates[g.GateID] = true

		if err := ret.Validate(g.Requirement); err != nil {
			v.add(SpecInvalidRequirement, gpath+".requirement", "%v", err)
		} else {
			for _, id := range g.Requirement.ConditionIDs() {
				if !conditions[id] {
					v.add(SpecUndefinedCondition, gpath+".requirement", "gate references undefined condition %q", id)
				}
			}
		}
		if g.Trust != nil {
			v.validateTrust(gpath+".trust", g.Trust)
		}
	}

	for j, p := range st.EntryPackets {
		ppath := fmt.Sprintf("%s.entry_packets[%d]", path, j)
		if p.PacketID == "" {
			v.add(SpecMissingID, ppath+".packet_id", "packet_id is required")
		} else if packets[p.PacketID] {
			v.add(SpecDuplicatePacket, ppath, "duplicate packet_id %q", p.PacketID)
		}
		packets[p.PacketID] = true
		v.validatePayload(ppath+".payload", p.Payload)
	}

	v.validateAdvance(path+".advance_to", st.AdvanceTo, gates, stages)

	if st.Timeout != nil && st.Timeout.TimeoutMs <= 0 {
		v.add(SpecInvalidTimeout, path+".timeout.timeout_ms", "timeout_ms must be positive")
	}
	switch st.OnTimeout {
	case "", OnTimeoutFail, OnTimeoutHold, OnTimeoutAdvance:
	default:
		v.add(SpecInvalidTimeout, path+".on_timeout", "unknown on_timeout policy %q", st.OnTimeout)
	}
}

func (v *specValidator) validateAdvance(path string, a AdvanceTo, gates, stages map[string]bool) {
	switch a.Kind {
	case AdvanceLinear, AdvanceTerminal:
	case AdvanceFixed:
		if !stages[a.StageID] {
			v.add(SpecUnknownStage, path+".stage_id", "unknown stage %q", a.StageID)
		}
	case AdvanceBranch:
		if len(a.Branches) == 0 && a.Default == "" {
			v.add(SpecInvalidAdvance, path, "branch needs at least one rule or a default")
		}
		for k, b := range a.Branches {
			bpath := fmt.Sprintf("%s.branches[%d]", path, k)
			if !gates[b.GateID] {
				v.add(SpecInvalidAdvance, bpath+".gate_id", "branch references unknown gate %q", b.GateID)
			}
			if !stages[b.NextStageID] {
				v.add(SpecUnknownStage, bpath+".next_stage_id", "unknown stage %q", b.NextStageID)
			}
		}
		if a.Default != "" && !stages[a.Default] {
			v.add(SpecUnknownStage, path+".default", "unknown stage %q", a.Default)
		}
	default:
		v.add(SpecInvalidAdvance, path+".kind", "unknown advance kind %q", a.Kind)
	}
}

func (v *specValidator) validatePayload(path string, p PacketPayload) {
	switch p.Kind {
	case PayloadJSON:
		if p.Value == nil {
			v.add(SpecInvalidPayload, path+".value", "json payload requires a value")
		}
	case PayloadBytes:
	case PayloadExternal:
		if p.ContentRef == nil || p.ContentRef.URI == "" {
			v.add(SpecInvalidPayload, path+".content_ref", "external payload requires content_ref.uri")
		}
	default:
		v.add(SpecInvalidPayload, path+".kind", "unknown payload kind %q", p.Kind)
	}
}
