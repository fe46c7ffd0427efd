package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/ret"
)

func stage(id string, adv core.AdvanceTo, gates ...string) core.StageSpec {
	st := core.StageSpec{StageID: id, AdvanceTo: adv, Gates: []core.GateSpec{}}
	for _, g := range gates {
		st.Gates = append(st.Gates, core.GateSpec{GateID: g, Requirement: ret.Cond("c")})
	}
	return st
}

func linear() core.AdvanceTo { return core.AdvanceTo{Kind: core.AdvanceLinear} }
func terminal() core.AdvanceTo { return core.AdvanceTo{Kind: core.AdvanceTerminal} }
func fixed(to string) core.AdvanceTo { return core.AdvanceTo{Kind: core.AdvanceFixed, StageID: to} }
func specOf(stages ...core.StageSpec) *core.ScenarioSpec {
	return &core.ScenarioSpec{ScenarioID: "s", Stages: stages}
}

// TestAnalyzeCycles_Empty tests that empty input produces no warnings.
func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(nil))
	assert.Empty(t, AnalyzeCycles(specOf()))
}

// TestAnalyzeCycles_DAG tests that a linear pipeline produces no warnings.
func TestAnalyzeCycles_DAG(t *testing.T) {
	spec := specOf(
		stage("build", linear()),
		stage("test", linear()),
		stage("ship", terminal()),
	)
	assert.Empty(t, AnalyzeCycles(spec), "DAG should produce no cycle warnings")
}

// TestAnalyzeCycles_SelfLoop tests detection of a stage that advances to
// itself.
func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	spec := specOf(stage("poll", fixed("poll")))

	warnings := AnalyzeCycles(spec)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"poll", "poll"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "advances to itself")
	assert.Equal(t, "warning", warnings[0].Level)
}

// TestAnalyzeCycles_ReworkLoop tests review → rework → review through a
// branch edge.
func TestAnalyzeCycles_ReworkLoop(t *testing.T) {
	spec := specOf(
		stage("review", core.AdvanceTo{
			Kind: core.AdvanceBranch,
			Branches: []core.BranchRule{
				{GateID: "approved", Outcome: ret.True, NextStageID: "ship"},
				{GateID: "approved", Outcome: ret.False, NextStageID: "rework"},
			},
		}, "approved"),
		stage("rework", fixed("review")),
		stage("ship", terminal()),
	)

	warnings := AnalyzeCycles(spec)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"review", "rework", "review"}, warnings[0].Path)
	assert.Equal(t, "Stage loop detected: review → rework → review", warnings[0].Message)
}

// TestAnalyzeCycles_MultipleIndependentCycles tests two disjoint loops.
func TestAnalyzeCycles_MultipleIndependentCycles(t *testing.T) {
	spec := specOf(
		stage("a", fixed("b")),
		stage("b", fixed("a")),
		stage("c", fixed("d")),
		stage("d", fixed("c")),
	)
	warnings := AnalyzeCycles(spec)
	require.Len(t, warnings, 2)
	assert.Equal(t, []string{"a", "b", "a"}, warnings[0].Path)
	assert.Equal(t, []string{"c", "d", "c"}, warnings[1].Path)
}

// TestAnalyzeCycles_LinearLastStageCompletes checks linear at the end of
// the list adds no edge.
func TestAnalyzeCycles_LinearLastStageCompletes(t *testing.T) {
	graph := buildStageGraph(specOf(stage("a", linear()), stage("b", linear())))
	assert.Equal(t, []string{"b"}, graph["a"])
	assert.Empty(t, graph["b"])
}

func TestBuildStageGraph_BranchDedupesAndIncludesDefault(t *testing.T) {
	spec := specOf(
		stage("a", core.AdvanceTo{
			Kind: core.AdvanceBranch,
			Branches: []core.BranchRule{
				{GateID: "g", Outcome: ret.True, NextStageID: "b"},
				{GateID: "g", Outcome: ret.Unknown, NextStageID: "b"},
			},
			Default: "c",
		}, "g"),
		stage("b", terminal()),
		stage("c", terminal()),
	)
	assert.Equal(t, []string{"b", "c"}, buildStageGraph(spec)["a"])
}

func TestHasSelfLoop(t *testing.T) {
	graph := stageGraph{"a": {"a"}, "b": {"c"}}
	assert.True(t, hasSelfLoop("a", graph))
	assert.False(t, hasSelfLoop("b", graph))
}

func TestReconstructCyclePath_Empty(t *testing.T) {
	assert.Empty(t, reconstructCyclePath(nil, stageGraph{}))
}
