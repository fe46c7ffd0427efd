package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/core"
)

func TestRegistry_RegisterAndQuery(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("static", ProviderFunc(func(_ context.Context, q core.EvidenceQuery, _ core.EvidenceContext) (core.EvidenceResult, error) {
		return core.EvidenceResult{Value: core.JSONValue(q.CheckID), Lane: core.LaneVerified}, nil
	})))

	assert.Error(t, r.Register("static", NewEnvProvider(EnvConfig{})))
	assert.Error(t, r.Register("", NewEnvProvider(EnvConfig{})))
	assert.Error(t, r.Register("nil", nil))

	res, err := r.Query(context.Background(), core.EvidenceQuery{ProviderID: "static", CheckID: "ping"}, core.EvidenceContext{})
	require.NoError(t, err)
	assert.Equal(t, "ping", res.Value.Value)

	_, err = r.Query(context.Background(), core.EvidenceQuery{ProviderID: "ghost", CheckID: "x"}, core.EvidenceContext{})
	require.Error(t, err)
	assert.True(t, IsProviderError(err))

	assert.Equal(t, []string{"static"}, r.IDs())
}

func TestRegistry_ValidateProviders(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinConfig{}))
	assert.Equal(t, []string{"env", "http", "time"}, r.IDs())

	ok := &core.ScenarioSpec{Conditions: []core.ConditionSpec{
		{ConditionID: "a", Query: core.EvidenceQuery{ProviderID: "time", CheckID: "after"}},
		{ConditionID: "b", Query: core.EvidenceQuery{ProviderID: "env", CheckID: "get"}},
	}}
	assert.NoError(t, r.ValidateProviders(ok))

	bad := &core.ScenarioSpec{Conditions: []core.ConditionSpec{
		{ConditionID: "a", Query: core.EvidenceQuery{ProviderID: "time", CheckID: "yesterday"}},
		{ConditionID: "b", Query: core.EvidenceQuery{ProviderID: "ci", CheckID: "green"}},
		{ConditionID: "c", Query: core.EvidenceQuery{ProviderID: "ci", CheckID: "red"}},
	}}
	err := r.ValidateProviders(bad)
	require.Error(t, err)
	assert.True(t, IsProviderMissingError(err))

	var pm *ProviderMissingError
	require.ErrorAs(t, err, &pm)
	assert.Equal(t, []string{"ci"}, pm.MissingProviders)
	assert.Equal(t, []string{"time/yesterday"}, pm.UnsupportedChecks)
}
