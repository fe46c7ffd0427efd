package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/core"
)

func TestScriptedProvider_Script(t *testing.T) {
	p := NewScriptedProvider()
	ctx := context.Background()
	q := core.EvidenceQuery{ProviderID: "ci", CheckID: "build"}

	_, err := p.Query(ctx, q, core.EvidenceContext{})
	assert.Error(t, err, "unscripted query errors")

	p.SetValue("ci", "build", "green", core.LaneVerified)
	res, err := p.Query(ctx, q, core.EvidenceContext{})
	require.NoError(t, err)
	assert.Equal(t, "green", res.Value.Value)
	assert.Equal(t, core.LaneVerified, res.Lane)

	boom := errors.New("down")
	p.SetError("ci", "build", boom)
	_, err = p.Query(ctx, q, core.EvidenceContext{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, p.Calls())
}

func TestScriptedProvider_ValidateProviders(t *testing.T) {
	p := NewScriptedProvider("ci")
	spec := &core.ScenarioSpec{Conditions: []core.ConditionSpec{
		{ConditionID: "a", Query: core.EvidenceQuery{ProviderID: "ci", CheckID: "x"}},
	}}
	assert.NoError(t, p.ValidateProviders(spec))

	spec.Conditions = append(spec.Conditions, core.ConditionSpec{ConditionID: "b", Query: core.EvidenceQuery{ProviderID: "scm", CheckID: "y"}})
	assert.Error(t, p.ValidateProviders(spec))
}

func TestScriptedProvider_Bind(t *testing.T) {
	p := NewScriptedProvider()
	spec := &core.ScenarioSpec{Conditions: []core.ConditionSpec{
		{ConditionID: "a", Query: core.EvidenceQuery{ProviderID: "ci", CheckID: "x"}},
	}}
	require.Error(t, p.ValidateProviders(spec))
	p.Bind("ci")
	assert.NoError(t, p.ValidateProviders(spec))
}
