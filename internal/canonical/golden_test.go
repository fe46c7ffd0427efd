package canonical

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	value := map[string]any{
		"stages": []any{
			map[string]any{"stage_id": "review", "gates": []any{}},
		},
		"scenario_id": "release",
		"html":        "<b>&</b>",
		"version":     1.0,
		"ratio":       0.25,
		"tags":        []any{"b", "a"},
	}

	got, err := MarshalCanonical(value)
	require.NoError(t, err)
	g.Assert(t, "scenario_fragment", got)
}
