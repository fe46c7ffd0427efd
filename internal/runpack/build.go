package runpack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

// ArtifactSink receives runpack files. Paths are slash-separated and
// relative to the runpack root.
type ArtifactSink interface {
	Write(ctx context.Context, path string, data []byte, contentType string) error
}

// ArtifactReader reads runpack files back. A missing path returns an
// error wrapping ErrArtifactNotFound.
type ArtifactReader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	generatedAt    *core.Timestamp
	verifierReport bool
	logger         *slog.Logger
}

// WithGeneratedAt overrides the manifest timestamp. By default it is the
// time of the run's latest decision, so a build is a pure function of the
// spec and run state.
func WithGeneratedAt(ts core.Timestamp) BuildOption {
	return func(c *buildConfig) { c.generatedAt = &ts }
}

// WithVerifierReport verifies the pack after writing it and adds the
// report as an artifact.
func WithVerifierReport() BuildOption {
	return func(c *buildConfig) { c.verifierReport = true }
}

// WithBuildLogger sets the logger. Default: slog.Default().
func WithBuildLogger(l *slog.Logger) BuildOption {
	return func(c *buildConfig) { c.logger = l }
}

// Build snapshots spec and state into sink and returns the manifest it
// wrote. The spec must be the one the run was started from.
func Build(ctx context.Context, spec *core.ScenarioSpec, state *core.RunState, sink ArtifactSink, opts ...BuildOption) (*Manifest, error) {
	cfg := buildConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if spec == nil || state == nil {
		return nil, fmt.Errorf("runpack: spec and run state are required")
	}
	if spec.ScenarioID != state.ScenarioID {
		return nil, fmt.Errorf("runpack: run %s belongs to scenario %q, not %q", state.RunID, state.ScenarioID, spec.ScenarioID)
	}
	specHash, err := spec.Hash()
	if err != nil {
		return nil, fmt.Errorf("runpack: hash spec: %w", err)
	}
	if !specHash.Equal(state.SpecHash) {
		return nil, fmt.Errorf("runpack: spec hash %s does not match run state %s", specHash, state.SpecHash)
	}

	m := &Manifest{
		ManifestVersion: ManifestVersion,
		GeneratedAt:     generatedAt(cfg, state),
		ScenarioID:      state.ScenarioID,
		TenantID:        state.TenantID,
		NamespaceID:     state.NamespaceID,
		RunID:           state.RunID,
		SpecHash:        specHash,
		RunVersion:      state.Version,
		HashAlgorithm:   canonical.SHA256,
		VerifierMode:    VerifierModeOfflineStrict,
	}

	// A verifier report needs to read back what was written.
	out := sink
	var mem *MemoryStore
	if cfg.verifierReport {
		mem = NewMemoryStore()
		out = teeSink{sink, mem}
	}

	sources := []struct {
		kind  ArtifactKind
		path  string
		value any
	}{
		{KindScenarioSpec, PathScenarioSpec, spec},
		{KindRunState, PathRunState, state},
		{KindTriggers, PathTriggers, orEmpty(state.Triggers)},
		{KindGateEvals, PathGateEvals, orEmpty(state.GateEvals)},
		{KindDecisions, PathDecisions, orEmpty(state.Decisions)},
		{KindPackets, PathPackets, orEmpty(state.Packets)},
		{KindSubmissions, PathSubmissions, orEmpty(state.Submissions)},
		{KindToolCalls, PathToolCalls, orEmpty(state.ToolCalls)},
	}
	for _, src := range sources {
		entry, err := writeArtifact(ctx, out, src.kind, src.path, src.value)
		if err != nil {
			return nil, err
		}
		m.Artifacts = append(m.Artifacts, entry)
	}
	if err := m.seal(); err != nil {
		return nil, fmt.Errorf("runpack: seal manifest: %w", err)
	}

	if cfg.verifierReport {
		if err := writeManifest(ctx, mem, m); err != nil {
			return nil, err
		}
		report, _ := Verify(ctx, mem)
		entry, err := writeArtifact(ctx, sink, KindVerifierReport, PathVerifierReport, report)
		if err != nil {
			return nil, err
		}
		entry.Required = false
		m.Artifacts = append(m.Artifacts, entry)
		if err := m.seal(); err != nil {
			return nil, fmt.Errorf("runpack: seal manifest: %w", err)
		}
	}

	if err := writeManifest(ctx, sink, m); err != nil {
		return nil, err
	}
	cfg.logger.Info("runpack built",
		"run_id", state.RunID,
		"scenario_id", state.ScenarioID,
		"run_version", state.Version,
		"root_hash", m.Integrity.RootHash.String(),
		"event", "runpack_built",
	)
	return m, nil
}

func writeArtifact(ctx context.Context, sink ArtifactSink, kind ArtifactKind, path string, value any) (ArtifactEntry, error) {
	data, err := canonical.MarshalCanonical(value)
	if err != nil {
		return ArtifactEntry{}, fmt.Errorf("runpack: encode %s: %w", path, err)
	}
	if err := sink.Write(ctx, path, data, contentTypeJSON); err != nil {
		return ArtifactEntry{}, fmt.Errorf("runpack: write %s: %w", path, err)
	}
	return ArtifactEntry{
		ArtifactID:  string(kind),
		Kind:        kind,
		Path:        path,
		ContentType: contentTypeJSON,
		Hash:        canonical.HashBytes(data),
		Required:    true,
	}, nil
}

func writeManifest(ctx context.Context, sink ArtifactSink, m *Manifest) error {
	data, err := canonical.MarshalCanonical(m)
	if err != nil {
		return fmt.Errorf("runpack: encode manifest: %w", err)
	}
	if err := sink.Write(ctx, ManifestPath, data, contentTypeJSON); err != nil {
		return fmt.Errorf("runpack: write manifest: %w", err)
	}
	return nil
}

func generatedAt(cfg buildConfig, state *core.RunState) core.Timestamp {
	if cfg.generatedAt != nil {
		return *cfg.generatedAt
	}
	if d, ok := state.LastDecision(); ok {
		return d.DecidedAt
	}
	return state.StartedAt
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type teeSink struct {
	a, b ArtifactSink
}

func (t teeSink) Write(ctx context.Context, path string, data []byte, contentType string) error {
	if err := t.a.Write(ctx, path, data, contentType); err != nil {
		return err
	}
	return t.b.Write(ctx, path, data, contentType)
}
