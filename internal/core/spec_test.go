package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/ret"
)

const releaseSpecJSON = `{
  "scenario_id": "release",
  "namespace_id": "default",
  "spec_version": "1.0.0",
  "stages": [
    {
      "stage_id": "review",
      "gates": [{"gate_id": "approved", "requirement": {"condition": "ci_green"}}],
      "advance_to": {"kind": "linear"},
      "timeout": {"timeout_ms": 60000},
      "on_timeout": "hold"
    },
    {
      "stage_id": "ship",
      "entry_packets": [
        {"packet_id": "notes", "schema_id": "notes/v1", "content_type": "application/json",
         "payload": {"kind": "json", "value": {"text": "go"}}}
      ],
      "gates": [{"gate_id": "signed", "requirement": {"and": [{"condition": "ci_green"}, {"condition": "sig"}]},
                 "trust": {"min_lane": "verified"}}],
      "advance_to": {"kind": "terminal"}
    }
  ],
  "conditions": [
    {"condition_id": "ci_green", "query": {"provider_id": "ci", "check_id": "status"},
     "comparator": "eq", "expected": "green"},
    {"condition_id": "sig", "query": {"provider_id": "sig", "check_id": "present"},
     "comparator": "exists", "trust": {"min_lane": "asserted"}}
  ]
}`

func loadReleaseSpec(t *testing.T) *ScenarioSpec {
	t.Helper()
	var spec ScenarioSpec
	require.NoError(t, DecodeJSON([]byte(releaseSpecJSON), &spec))
	return &spec
}

func TestScenarioSpec_DecodeAndValidate(t *testing.T) {
	spec := loadReleaseSpec(t)
	require.NoError(t, spec.Validate())

	assert.Equal(t, CmpEquals, spec.Conditions[0].Comparator, "alias eq decodes to equals")
	assert.Equal(t, ret.And(ret.Cond("ci_green"), ret.Cond("sig")), spec.Stages[1].Gates[0].Requirement)
	assert.Equal(t, OnTimeoutHold, spec.Stages[0].OnTimeout)
	assert.Equal(t, []string{"ci_green", "sig"}, spec.Stages[1].StageConditionIDs())
}

func TestScenarioSpec_HashIgnoresFieldOrder(t *testing.T) {
	a := loadReleaseSpec(t)

	reordered := `{"conditions":[{"expected":"green","comparator":"equals","query":{"check_id":"status","provider_id":"ci"},"condition_id":"ci_green"},
	{"trust":{"min_lane":"asserted"},"comparator":"exists","query":{"check_id":"present","provider_id":"sig"},"condition_id":"sig"}],
	"stages":[{"on_timeout":"hold","timeout":{"timeout_ms":60000},"advance_to":{"kind":"linear"},"gates":[{"requirement":{"condition":"ci_green"},"gate_id":"approved"}],"stage_id":"review"},
	{"advance_to":{"kind":"terminal"},"gates":[{"trust":{"min_lane":"verified"},"requirement":{"and":[{"condition":"ci_green"},{"condition":"sig"}]},"gate_id":"signed"}],
	 "entry_packets":[{"payload":{"value":{"text":"go"},"kind":"json"},"content_type":"application/json","schema_id":"notes/v1","packet_id":"notes"}],"stage_id":"ship"}],
	"spec_version":"1.0.0","namespace_id":"default","scenario_id":"release"}`
	var b ScenarioSpec
	require.NoError(t, DecodeJSON([]byte(reordered), &b))

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b.Stages[0].Timeout.TimeoutMs = 1
	hc, err := b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestScenarioSpec_ValidateCollectsErrors(t *testing.T) {
	spec := &ScenarioSpec{
		ScenarioID:  "bad",
		NamespaceID: "default",
		Stages: []StageSpec{
			{
				StageID: "a",
				Gates: []GateSpec{
					{GateID: "g", Requirement: ret.Cond("missing")},
					{GateID: "g", Requirement: ret.And()},
				},
				AdvanceTo: AdvanceTo{Kind: AdvanceFixed, StageID: "nowhere"},
				OnTimeout: "explode",
			},
			{StageID: "a", AdvanceTo: AdvanceTo{Kind: "sideways"}},
		},
		Conditions: []ConditionSpec{
			{ConditionID: "c", Query: EvidenceQuery{}, Comparator: "approximately"},
			{ConditionID: "c", Query: EvidenceQuery{ProviderID: "p", CheckID: "x"}, Comparator: CmpEquals},
		},
	}

	err := spec.Validate()
	require.Error(t, err)
	assert.True(t, IsSpecError(err))

	var errs SpecErrors
	require.ErrorAs(t, err, &errs)
	codes := map[SpecErrorCode]bool{}
	for _, e := range errs {
		codes[e.Code] = true
	}
	for _, want := range []SpecErrorCode{
		SpecUndefinedCondition, SpecDuplicateGate, SpecInvalidRequirement, SpecUnknownStage,
		SpecInvalidTimeout, SpecDuplicateStage, SpecInvalidAdvance, SpecEmptyQuery,
		SpecUnknownComparator, SpecDuplicateCondition, SpecMissingExpected,
	} {
		assert.True(t, codes[want], "expected %s", want)
	}
}

func TestScenarioSpec_ValidateNoStages(t *testing.T) {
	err := (&ScenarioSpec{ScenarioID: "s", NamespaceID: "n"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(SpecNoStages))
}

func TestScenarioSpec_NextStage(t *testing.T) {
	spec := &ScenarioSpec{Stages: []StageSpec{
		{StageID: "a", AdvanceTo: AdvanceTo{Kind: AdvanceLinear}},
		{StageID: "b", AdvanceTo: AdvanceTo{Kind: AdvanceBranch, Branches: []BranchRule{
			{GateID: "risk", Outcome: ret.True, NextStageID: "d"},
		}, Default: "c"}},
		{StageID: "c", AdvanceTo: AdvanceTo{Kind: AdvanceFixed, StageID: "a"}},
		{StageID: "d", AdvanceTo: AdvanceTo{Kind: AdvanceLinear}},
		{StageID: "e", AdvanceTo: AdvanceTo{Kind: AdvanceBranch, Branches: []BranchRule{
			{GateID: "risk", Outcome: ret.False, NextStageID: "a"},
		}}},
	}}

	next, ok := spec.NextStage("a", nil)
	assert.True(t, ok)
	assert.Equal(t, "b", next)

	next, ok = spec.NextStage("b", map[string]ret.TriState{"risk": ret.True})
	assert.True(t, ok)
	assert.Equal(t, "d", next)

	next, ok = spec.NextStage("b", map[string]ret.TriState{"risk": ret.Unknown})
	assert.True(t, ok)
	assert.Equal(t, "c", next)

	next, ok = spec.NextStage("c", nil)
	assert.True(t, ok)
	assert.Equal(t, "a", next)

	next, ok = spec.NextStage("d", nil)
	assert.True(t, ok)
	assert.Equal(t, "e", next)

	_, ok = spec.NextStage("e", map[string]ret.TriState{"risk": ret.True})
	assert.False(t, ok)

	_, ok = spec.NextStage("zzz", nil)
	assert.False(t, ok)
}
