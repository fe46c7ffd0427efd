package runpack

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/dispatch"
	"github.com/roach88/dgate/internal/engine"
	"github.com/roach88/dgate/internal/store"
	"github.com/roach88/dgate/internal/testutil"
)

const releaseSpecJSON = `{
  "scenario_id": "release",
  "namespace_id": "default",
  "spec_version": "1.0.0",
  "stages": [
    {
      "stage_id": "review",
      "gates": [{"gate_id": "ci", "requirement": {"condition": "ci_green"}}],
      "advance_to": {"kind": "linear"}
    },
    {
      "stage_id": "ship",
      "entry_packets": [
        {"packet_id": "notes", "schema_id": "notes", "content_type": "application/json",
         "payload": {"kind": "json", "value": {"text": "go", "build": 42}}}
      ],
      "gates": [{"gate_id": "signed", "requirement": {"condition": "sig"}}],
      "advance_to": {"kind": "terminal"}
    }
  ],
  "conditions": [
    {"condition_id": "ci_green", "query": {"provider_id": "ci", "check_id": "status"},
     "comparator": "equals", "expected": "green"},
    {"condition_id": "sig", "query": {"provider_id": "sig", "check_id": "present"},
     "comparator": "exists"}
  ]
}`

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// runFixture drives a release run through one hold and one advance.
func runFixture(t *testing.T) (*core.ScenarioSpec, *core.RunState) {
	t.Helper()
	ctx := context.Background()

	var spec core.ScenarioSpec
	require.NoError(t, core.DecodeJSON([]byte(releaseSpecJSON), &spec))

	provider := testutil.NewScriptedProvider("ci", "sig")
	runs := store.NewMemoryStore()
	clock := testutil.NewDeterministicClock()
	eng := engine.New(runs, provider, dispatch.NewRecording(), engine.WithLogger(quiet))
	_, err := eng.RegisterScenario(&spec)
	require.NoError(t, err)

	_, err = eng.StartRun(ctx, engine.StartRunRequest{
		Config: engine.RunConfig{
			TenantID:        "tenant-1",
			NamespaceID:     "default",
			RunID:           "run-1",
			ScenarioID:      "release",
			DispatchTargets: []core.DispatchTarget{{Kind: core.TargetAgent, AgentID: "agent-1"}},
		},
		StartedAt: clock.Current(),
	})
	require.NoError(t, err)

	next := func(triggerID string) {
		_, err := eng.ScenarioNext(ctx, engine.NextRequest{
			TenantID:    "tenant-1",
			NamespaceID: "default",
			RunID:       "run-1",
			TriggerID:   triggerID,
			AgentID:     "agent-1",
			Time:        clock.Next(),
		})
		require.NoError(t, err)
	}
	provider.SetValue("ci", "status", "red", core.LaneVerified)
	next("t-1")
	provider.SetValue("ci", "status", "green", core.LaneVerified)
	next("t-2")

	state, err := runs.Load(ctx, core.RunKey{TenantID: "tenant-1", NamespaceID: "default", RunID: "run-1"})
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Len(t, state.Decisions, 3)
	return &spec, state
}

func build(t *testing.T, opts ...BuildOption) (*Manifest, *MemoryStore) {
	t.Helper()
	spec, state := runFixture(t)
	mem := NewMemoryStore()
	opts = append([]BuildOption{WithBuildLogger(quiet)}, opts...)
	m, err := Build(context.Background(), spec, state, mem, opts...)
	require.NoError(t, err)
	return m, mem
}

func TestBuild_Manifest(t *testing.T) {
	spec, state := runFixture(t)
	m, err := Build(context.Background(), spec, state, NewMemoryStore(), WithBuildLogger(quiet))
	require.NoError(t, err)

	assert.Equal(t, ManifestVersion, m.ManifestVersion)
	assert.Equal(t, "release", m.ScenarioID)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, state.Version, m.RunVersion)
	assert.True(t, m.SpecHash.Equal(state.SpecHash))
	assert.Equal(t, state.Decisions[len(state.Decisions)-1].DecidedAt, m.GeneratedAt)
	require.Len(t, m.Artifacts, 8)
	require.Len(t, m.Integrity.FileHashes, 8)

	root, err := m.ComputeRootHash()
	require.NoError(t, err)
	assert.True(t, root.Equal(m.Integrity.RootHash))

	specEntry, ok := m.Artifact(KindScenarioSpec)
	require.True(t, ok)
	assert.True(t, specEntry.Hash.Equal(m.SpecHash))
}

func TestBuild_Deterministic(t *testing.T) {
	m1, mem1 := build(t)
	m2, mem2 := build(t)

	assert.Equal(t, m1, m2)
	for _, p := range mem1.Paths() {
		a, err := mem1.Read(context.Background(), p)
		require.NoError(t, err)
		b, err := mem2.Read(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, a, b, p)
	}
}

func TestBuild_RejectsForeignSpec(t *testing.T) {
	spec, state := runFixture(t)
	other := *spec
	other.SpecVersion = "2.0.0"

	_, err := Build(context.Background(), &other, state, NewMemoryStore(), WithBuildLogger(quiet))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match run state")

	_, err = Build(context.Background(), spec, nil, NewMemoryStore())
	require.Error(t, err)
}

func TestVerify_RoundTrip(t *testing.T) {
	_, mem := build(t)

	report, err := Verify(context.Background(), mem)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, report.Status)
	assert.Equal(t, 8, report.CheckedFiles)
	assert.Empty(t, report.Errors)
}

func TestVerify_OneByteMutationIsCorruption(t *testing.T) {
	paths := []string{
		PathScenarioSpec, PathRunState, PathTriggers, PathGateEvals,
		PathDecisions, PathPackets, PathSubmissions, PathToolCalls,
		ManifestPath,
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			_, mem := build(t)
			ctx := context.Background()
			data, err := mem.Read(ctx, p)
			require.NoError(t, err)
			require.NotEmpty(t, data)

			// Flip a byte inside the document so the JSON stays parseable
			// where possible.
			i := len(data) / 2
			data[i] ^= 0x01
			require.NoError(t, mem.Write(ctx, p, data, contentTypeJSON))

			report, err := Verify(ctx, mem)
			require.Error(t, err)
			assert.True(t, IsCorruption(err), "got %v", err)
			assert.False(t, IsMissingArtifact(err))
			assert.Equal(t, StatusFail, report.Status)
			assert.NotEmpty(t, report.Errors)
		})
	}
}

func TestVerify_MissingArtifact(t *testing.T) {
	_, mem := build(t)
	mem.Delete(PathToolCalls)

	report, err := Verify(context.Background(), mem)
	require.Error(t, err)
	assert.True(t, IsMissingArtifact(err))
	assert.False(t, IsCorruption(err))
	assert.Equal(t, StatusFail, report.Status)
	assert.Equal(t, 7, report.CheckedFiles)

	var me *MissingArtifactError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, []string{PathToolCalls}, me.Paths)
}

func TestVerify_CorruptionTakesPrecedence(t *testing.T) {
	_, mem := build(t)
	ctx := context.Background()
	mem.Delete(PathPackets)
	require.NoError(t, mem.Write(ctx, PathDecisions, []byte(`[]`), contentTypeJSON))

	_, err := Verify(ctx, mem)
	assert.True(t, IsCorruption(err))
}

func TestVerify_MissingManifest(t *testing.T) {
	_, err := Verify(context.Background(), NewMemoryStore())
	require.Error(t, err)

	var me *MissingArtifactError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, []string{ManifestPath}, me.Paths)
}

func TestVerify_ResealedTamperingIsCaught(t *testing.T) {
	m, mem := build(t)
	ctx := context.Background()

	// Rewrite the decisions with a duplicate trigger and reseal the
	// manifest so every hash is self-consistent.
	data, err := mem.Read(ctx, PathDecisions)
	require.NoError(t, err)
	var decisions []core.DecisionRecord
	require.NoError(t, core.DecodeJSON(data, &decisions))
	decisions[2].TriggerID = decisions[1].TriggerID

	entry, err := writeArtifact(ctx, mem, KindDecisions, PathDecisions, decisions)
	require.NoError(t, err)
	for i := range m.Artifacts {
		if m.Artifacts[i].Kind == KindDecisions {
			m.Artifacts[i] = entry
		}
	}
	require.NoError(t, m.seal())
	require.NoError(t, writeManifest(ctx, mem, m))

	report, err := Verify(ctx, mem)
	require.Error(t, err)
	assert.True(t, IsCorruption(err))
	assert.Contains(t, report.Errors[0], "decided twice")
}

func TestVerify_ManifestMemberInjection(t *testing.T) {
	m, mem := build(t)
	ctx := context.Background()
	data, err := mem.Read(ctx, ManifestPath)
	require.NoError(t, err)

	// "approved_by" sorts before "artifacts", so the spliced document is
	// still canonical and only the extra member differs.
	spliced := append([]byte(`{"approved_by":"mallory",`), data[1:]...)

	root, err := rootHashOf(data)
	require.NoError(t, err)
	assert.True(t, root.Equal(m.Integrity.RootHash))
	splicedRoot, err := rootHashOf(spliced)
	require.NoError(t, err)
	assert.False(t, splicedRoot.Equal(root), "root hash must cover unknown members")

	require.NoError(t, mem.Write(ctx, ManifestPath, spliced, contentTypeJSON))
	report, err := Verify(ctx, mem)
	require.Error(t, err)
	assert.True(t, IsCorruption(err), "got %v", err)
	assert.Equal(t, StatusFail, report.Status)
	assert.Contains(t, strings.Join(report.Errors, "\n"), "approved_by")
}

func TestVerify_NonCanonicalManifest(t *testing.T) {
	_, mem := build(t)
	ctx := context.Background()
	data, err := mem.Read(ctx, ManifestPath)
	require.NoError(t, err)

	padded := append([]byte("{ "), data[1:]...)
	require.NoError(t, mem.Write(ctx, ManifestPath, padded, contentTypeJSON))

	report, err := Verify(ctx, mem)
	require.Error(t, err)
	assert.True(t, IsCorruption(err))
	assert.Contains(t, report.Errors, "manifest is not in canonical form")
}

func TestVerify_ManifestVersion(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{"v1", true},
		{"1.2.0", true},
		{"v2", false},
		{"0.9.0", false},
		{"latest", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := checkManifestVersion(tt.version)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBuild_VerifierReport(t *testing.T) {
	m, mem := build(t, WithVerifierReport())

	entry, ok := m.Artifact(KindVerifierReport)
	require.True(t, ok)
	assert.False(t, entry.Required)

	data, err := mem.Read(context.Background(), PathVerifierReport)
	require.NoError(t, err)
	var report Report
	require.NoError(t, core.DecodeJSON(data, &report))
	assert.Equal(t, StatusPass, report.Status)

	_, err = Verify(context.Background(), mem)
	require.NoError(t, err)
}

func TestBuild_GeneratedAtOverride(t *testing.T) {
	m, _ := build(t, WithGeneratedAt(core.UnixMillis(1700000000000)))
	assert.Equal(t, core.UnixMillis(1700000000000), m.GeneratedAt)
}
