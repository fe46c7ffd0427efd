package runpack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/Masterminds/semver/v3"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

// supportedManifests is the manifest version range this verifier reads.
const supportedManifests = ">= 1.0.0, < 2.0.0"

// VerificationStatus is the verdict of Verify.
type VerificationStatus string

const (
	StatusPass VerificationStatus = "pass"
	StatusFail VerificationStatus = "fail"
)

// Report summarizes a verification.
type Report struct {
	Status       VerificationStatus `json:"status"`
	CheckedFiles int                `json:"checked_files"`
	Errors       []string           `json:"errors"`
}

// Verify checks a runpack using only its bytes. It returns a report in
// every case where the manifest could be read; the error is a
// *CorruptionError when any hash or cross-check fails, otherwise a
// *MissingArtifactError when required artifacts are absent.
func Verify(ctx context.Context, reader ArtifactReader) (*Report, error) {
	v := verifier{report: &Report{Status: StatusPass, Errors: []string{}}}
	m, raw, err := v.readManifest(ctx, reader)
	if err != nil {
		return v.finish(err)
	}
	v.checkHeader(m)
	v.checkIntegrity(m, raw)

	contents := make(map[ArtifactKind][]byte, len(m.Artifacts))
	for _, a := range m.Artifacts {
		if !fs.ValidPath(a.Path) || a.Path == ManifestPath {
			v.corrupt("artifact %s has invalid path %q", a.ArtifactID, a.Path)
			continue
		}
		data, err := reader.Read(ctx, a.Path)
		if errors.Is(err, ErrArtifactNotFound) {
			if a.Required {
				v.missing = append(v.missing, a.Path)
				v.report.Errors = append(v.report.Errors, fmt.Sprintf("missing artifact %s", a.Path))
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("runpack: read %s: %w", a.Path, err)
		}
		v.report.CheckedFiles++
		if got := canonical.HashBytes(data); !got.Equal(a.Hash) {
			v.corrupt("hash mismatch for %s: manifest %s, computed %s", a.Path, a.Hash, got)
			continue
		}
		contents[a.Kind] = data
	}

	if a, ok := m.Artifact(KindScenarioSpec); !ok {
		v.corrupt("manifest lists no scenario spec")
	} else if !a.Hash.Equal(m.SpecHash) {
		v.corrupt("scenario spec hash %s does not match spec_hash %s", a.Hash, m.SpecHash)
	}
	if data, ok := contents[KindDecisions]; ok {
		v.checkDecisions(data)
	}
	if data, ok := contents[KindRunState]; ok {
		v.checkRunState(m, data)
	}
	return v.finish(nil)
}

type verifier struct {
	report   *Report
	problems []string
	missing  []string
}

func (v *verifier) corrupt(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	v.problems = append(v.problems, msg)
	v.report.Errors = append(v.report.Errors, msg)
}

func (v *verifier) finish(err error) (*Report, error) {
	if err == nil {
		switch {
		case len(v.problems) > 0:
			err = &CorruptionError{Problems: v.problems}
		case len(v.missing) > 0:
			err = &MissingArtifactError{Paths: v.missing}
		}
	}
	if err != nil {
		v.report.Status = StatusFail
	}
	return v.report, err
}

// readManifest returns the decoded manifest and its bytes. The bytes must
// already be canonical and must not carry members Manifest does not
// declare.
func (v *verifier) readManifest(ctx context.Context, reader ArtifactReader) (*Manifest, []byte, error) {
	data, err := reader.Read(ctx, ManifestPath)
	if errors.Is(err, ErrArtifactNotFound) {
		v.report.Errors = append(v.report.Errors, "missing manifest")
		return nil, nil, &MissingArtifactError{Paths: []string{ManifestPath}}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("runpack: read manifest: %w", err)
	}
	if canon, err := canonical.CanonicalizeJSON(data); err != nil {
		v.corrupt("manifest is not valid JSON: %v", err)
		return nil, nil, &CorruptionError{Problems: v.problems}
	} else if !bytes.Equal(canon, data) {
		v.corrupt("manifest is not in canonical form")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		v.corrupt("manifest does not decode: %v", err)
		return nil, nil, &CorruptionError{Problems: v.problems}
	}
	return &m, data, nil
}

func (v *verifier) checkHeader(m *Manifest) {
	if err := checkManifestVersion(m.ManifestVersion); err != nil {
		v.corrupt("%v", err)
	}
	if m.HashAlgorithm != canonical.SHA256 {
		v.corrupt("unsupported hash algorithm %q", m.HashAlgorithm)
	}
	if m.VerifierMode != VerifierModeOfflineStrict {
		v.corrupt("unsupported verifier mode %q", m.VerifierMode)
	}
}

func (v *verifier) checkIntegrity(m *Manifest, raw []byte) {
	root, err := rootHashOf(raw)
	if err != nil {
		v.corrupt("manifest cannot be canonicalized: %v", err)
	} else if !root.Equal(m.Integrity.RootHash) {
		v.corrupt("root hash mismatch: manifest %s, computed %s", m.Integrity.RootHash, root)
	}
	if len(m.Integrity.FileHashes) != len(m.Artifacts) {
		v.corrupt("manifest lists %d artifacts but %d file hashes", len(m.Artifacts), len(m.Integrity.FileHashes))
		return
	}
	for i, fh := range m.Integrity.FileHashes {
		a := m.Artifacts[i]
		if fh.Path != a.Path || !fh.Hash.Equal(a.Hash) {
			v.corrupt("file hash entry %d (%s) disagrees with artifact %s", i, fh.Path, a.Path)
		}
	}
}

func (v *verifier) checkDecisions(data []byte) {
	var decisions []core.DecisionRecord
	if err := core.DecodeJSON(data, &decisions); err != nil {
		v.corrupt("decisions artifact: %v", err)
		return
	}
	if err := core.CheckDecisionLog(decisions); err != nil {
		v.corrupt("decision log: %v", err)
	}
}

func (v *verifier) checkRunState(m *Manifest, data []byte) {
	var state core.RunState
	if err := core.DecodeJSON(data, &state); err != nil {
		v.corrupt("run state artifact: %v", err)
		return
	}
	if state.RunID != m.RunID || state.ScenarioID != m.ScenarioID {
		v.corrupt("run state %s/%s does not match manifest %s/%s", state.ScenarioID, state.RunID, m.ScenarioID, m.RunID)
	}
	if state.Version != m.RunVersion {
		v.corrupt("run state version %d does not match manifest run_version %d", state.Version, m.RunVersion)
	}
	if !state.SpecHash.Equal(m.SpecHash) {
		v.corrupt("run state spec hash %s does not match manifest %s", state.SpecHash, m.SpecHash)
	}
}

func checkManifestVersion(raw string) error {
	ver, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid manifest version %q: %w", raw, err)
	}
	c, err := semver.NewConstraint(supportedManifests)
	if err != nil {
		return err
	}
	if !c.Check(ver) {
		return fmt.Errorf("unsupported manifest version %s (want %s)", raw, supportedManifests)
	}
	return nil
}
