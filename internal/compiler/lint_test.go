package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/core"
)

func TestLint_Clean(t *testing.T) {
	spec, err := CompileBytes("approval.json", []byte(approvalJSON))
	require.NoError(t, err)
	assert.Empty(t, Lint(spec))
}

func TestLint_Findings(t *testing.T) {
	spec := specOf(
		stage("start", fixed("finish"), "g"),
		stage("orphan", terminal(), "g"),
		stage("loop", fixed("loop"), "g"),
		stage("finish", linear()),
	)
	spec.Conditions = []core.ConditionSpec{{ConditionID: "c"}, {ConditionID: "unused"}}

	warnings := Lint(spec)
	codes := make([]string, len(warnings))
	for i, w := range warnings {
		codes[i] = w.Code
	}
	assert.Equal(t, []string{
		WarnUnusedCondition,
		WarnUnreachableStage,
		WarnUnreachableStage,
		WarnNoGates,
		WarnStageLoop,
	}, codes)
	assert.Equal(t, "conditions.unused", warnings[0].Field)
	assert.Equal(t, "stages.loop", warnings[1].Field)
	assert.Equal(t, "stages.orphan", warnings[2].Field)
	assert.Equal(t, "stages.finish", warnings[3].Field)
	assert.Contains(t, warnings[4].String(), "[W104]")
}

func TestLint_Nil(t *testing.T) {
	assert.Empty(t, Lint(nil))
}
