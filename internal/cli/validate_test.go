package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidSpecs(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{harnessSpecs})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ All specs valid")
}

func TestValidateValidSpecsJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{harnessSpecs})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Files)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/path"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateInvalidSpec(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.yaml", invalidSpec)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err), "validation failures exit 1")

	output := buf.String()
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, path)
	assert.Contains(t, output, "missing")
}

func TestValidateInvalidSpecJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", invalidSpec)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Error  CLIError         `json:"error"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, resp.Data.Errors[0].Code, resp.Error.Code)
}

func TestValidateDecodeErrorCarriesLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.cue", "scenario_id: \"x\"\nstages: [\n")

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.Error(t, cmd.Execute())

	var resp struct {
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, ErrCodeSpecDecode, resp.Data.Errors[0].Code)
	assert.Positive(t, resp.Data.Errors[0].Line)
}

func TestValidateMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "deploy.yaml", deploySpec)
	writeFile(t, dir, "broken.yaml", invalidSpec)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.Error(t, cmd.Execute())

	var resp struct {
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Files)
	for _, issue := range resp.Data.Errors {
		assert.Contains(t, issue.File, "broken.yaml")
	}
}

func TestValidateVerboseOutput(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(out)
	cmd.SetErr(diag)
	cmd.SetArgs([]string{harnessSpecs})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, diag.String(), "Validating")
	assert.Contains(t, out.String(), "✓ All specs valid")
}
