package runpack

import (
	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

const (
	// ManifestPath is the manifest's path inside a runpack.
	ManifestPath = "manifest.json"

	// ManifestVersion is the version written by Build.
	ManifestVersion = "v1"

	// VerifierModeOfflineStrict requires every artifact to be present and
	// every hash to match.
	VerifierModeOfflineStrict = "offline_strict"

	contentTypeJSON = "application/json"
)

// ArtifactKind classifies a runpack artifact.
type ArtifactKind string

const (
	KindScenarioSpec   ArtifactKind = "scenario_spec"
	KindRunState       ArtifactKind = "run_state"
	KindTriggers       ArtifactKind = "triggers"
	KindGateEvals      ArtifactKind = "gate_evals"
	KindDecisions      ArtifactKind = "decisions"
	KindPackets        ArtifactKind = "packets"
	KindSubmissions    ArtifactKind = "submissions"
	KindToolCalls      ArtifactKind = "tool_calls"
	KindVerifierReport ArtifactKind = "verifier_report"
)

// Artifact paths, relative to the runpack root.
const (
	PathScenarioSpec   = "artifacts/scenario_spec.json"
	PathRunState       = "artifacts/run_state.json"
	PathTriggers       = "artifacts/triggers.json"
	PathGateEvals      = "artifacts/gate_evals.json"
	PathDecisions      = "artifacts/decisions.json"
	PathPackets        = "artifacts/packets.json"
	PathSubmissions    = "artifacts/submissions.json"
	PathToolCalls      = "artifacts/tool_calls.json"
	PathVerifierReport = "artifacts/verifier_report.json"
)

// ArtifactEntry describes one artifact in the manifest.
type ArtifactEntry struct {
	ArtifactID  string               `json:"artifact_id"`
	Kind        ArtifactKind         `json:"kind"`
	Path        string               `json:"path"`
	ContentType string               `json:"content_type"`
	Hash        canonical.HashDigest `json:"hash"`
	Required    bool                 `json:"required"`
}

// FileHash pairs a path with the hash of its bytes.
type FileHash struct {
	Path string               `json:"path"`
	Hash canonical.HashDigest `json:"hash"`
}

// Integrity holds the per-file hashes and the root hash.
type Integrity struct {
	FileHashes []FileHash           `json:"file_hashes"`
	RootHash   canonical.HashDigest `json:"root_hash"`
}

// Manifest indexes a runpack.
type Manifest struct {
	ManifestVersion string                  `json:"manifest_version"`
	GeneratedAt     core.Timestamp          `json:"generated_at"`
	ScenarioID      string                  `json:"scenario_id"`
	TenantID        string                  `json:"tenant_id"`
	NamespaceID     string                  `json:"namespace_id"`
	RunID           string                  `json:"run_id"`
	SpecHash        canonical.HashDigest    `json:"spec_hash"`
	RunVersion      int64                   `json:"run_version"`
	HashAlgorithm   canonical.HashAlgorithm `json:"hash_algorithm"`
	VerifierMode    string                  `json:"verifier_mode"`
	Artifacts       []ArtifactEntry         `json:"artifacts"`
	Integrity       Integrity               `json:"integrity"`
}

// Artifact returns the entry for a kind.
func (m *Manifest) Artifact(kind ArtifactKind) (ArtifactEntry, bool) {
	for _, a := range m.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return ArtifactEntry{}, false
}

// ComputeRootHash hashes the canonical manifest without its root hash.
// The stored root hash is ignored.
func (m *Manifest) ComputeRootHash() (canonical.HashDigest, error) {
	data, err := canonical.MarshalCanonical(m)
	if err != nil {
		return canonical.HashDigest{}, err
	}
	return rootHashOf(data)
}

// rootHashOf hashes a manifest document as generic JSON with
// integrity.root_hash removed. Every other member, known to Manifest or
// not, is covered.
func rootHashOf(doc []byte) (canonical.HashDigest, error) {
	var generic map[string]any
	if err := core.DecodeJSON(doc, &generic); err != nil {
		return canonical.HashDigest{}, err
	}
	if integrity, ok := generic["integrity"].(map[string]any); ok {
		delete(integrity, "root_hash")
	}
	return canonical.HashValue(generic)
}

// seal recomputes file hashes from the artifact list and sets the root
// hash.
func (m *Manifest) seal() error {
	m.Integrity.FileHashes = make([]FileHash, len(m.Artifacts))
	for i, a := range m.Artifacts {
		m.Integrity.FileHashes[i] = FileHash{Path: a.Path, Hash: a.Hash}
	}
	root, err := m.ComputeRootHash()
	if err != nil {
		return err
	}
	m.Integrity.RootHash = root
	return nil
}
