package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertedLaneConfig lowers the default lane so asserted evidence counts.
const assertedLaneConfig = `
store: {driver: memory}
engine: {default_min_lane: asserted}
log: {level: error}
`

func TestPrecheckAdvancesOnAssertedEvidence(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "deploy.yaml", deploySpec)
	cfg := writeFile(t, dir, "dgate.yaml", assertedLaneConfig)
	evidence := writeFile(t, dir, "evidence.yaml", "ci_green: green\n")

	out, err := execute(t, "--config", cfg, "precheck", spec, "--evidence", evidence)
	require.NoError(t, err)
	assert.Contains(t, out, "stage build: advance -> ship")
	assert.Contains(t, out, "gate ci: true")
}

func TestPrecheckHoldsWhenLaneTooLow(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "deploy.yaml", deploySpec)
	cfg := writeFile(t, dir, "dgate.yaml", "store: {driver: memory}\nlog: {level: error}\n")
	evidence := writeFile(t, dir, "evidence.json", `{"ci_green": "green"}`)

	out, err := execute(t, "--config", cfg, "--format", "json", "precheck", spec, "--evidence", evidence)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			StageID  string `json:"stage_id"`
			Decision string `json:"decision"`
			Gates    []struct {
				GateID string `json:"gate_id"`
				Status string `json:"status"`
			} `json:"gates"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "build", resp.Data.StageID)
	assert.Equal(t, "hold", resp.Data.Decision)
	require.Len(t, resp.Data.Gates, 1)
	assert.Equal(t, "unknown", resp.Data.Gates[0].Status, "asserted evidence is below the verified default lane")
}

func TestPrecheckExplicitStage(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "deploy.yaml", deploySpec)
	cfg := writeFile(t, dir, "dgate.yaml", assertedLaneConfig)
	evidence := writeFile(t, dir, "evidence.yaml", "approved: rejected\n")

	out, err := execute(t, "--config", cfg, "precheck", spec, "--stage", "ship", "--evidence", evidence)
	require.NoError(t, err)
	assert.Contains(t, out, "stage ship: hold")
	assert.Contains(t, out, "gate approval: false")
	assert.Contains(t, out, "unmet: approval")
}

func TestPrecheckUnknownStage(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "deploy.yaml", deploySpec)
	cfg := writeFile(t, dir, "dgate.yaml", assertedLaneConfig)

	out, err := execute(t, "--config", cfg, "precheck", spec, "--stage", "nowhere")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "STAGE_NOT_FOUND")
}

func TestPrecheckMissingEvidenceFile(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "deploy.yaml", deploySpec)

	out, err := execute(t, "precheck", spec, "--evidence", filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeEvidenceFile)
}

func TestLoadEvidenceFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "evidence.yaml", "ci_green: green\ncount: 3\nflags: [a, b]\n")

	ev, err := loadEvidenceFile(path)
	require.NoError(t, err)
	require.Len(t, ev, 3)
	for _, r := range ev {
		assert.Equal(t, "asserted", string(r.Lane))
	}

	_, err = loadEvidenceFile(writeFile(t, dir, "bad.yaml", "key: [unclosed"))
	assert.Error(t, err)
}
