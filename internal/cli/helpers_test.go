package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// deploySpec gates a build stage on CI_STATUS and a ship stage on
// APPROVED, both read through the env provider.
const deploySpec = `
scenario_id: deploy
namespace_id: releases
spec_version: 1.0.0
stages:
  - stage_id: build
    gates:
      - gate_id: ci
        requirement: {condition: ci_green}
    advance_to: {kind: linear}
  - stage_id: ship
    entry_packets:
      - packet_id: release_notes
        schema_id: notes
        content_type: application/json
        payload:
          kind: json
          value: {text: ship it}
    gates:
      - gate_id: approval
        requirement: {condition: approved}
    advance_to: {kind: terminal}
conditions:
  - condition_id: ci_green
    query: {provider_id: env, check_id: get, params: {key: CI_STATUS}}
    comparator: equals
    expected: green
  - condition_id: approved
    query: {provider_id: env, check_id: get, params: {key: APPROVED}}
    comparator: equals
    expected: approved
`

// invalidSpec references a condition that is never defined.
const invalidSpec = `
scenario_id: broken
namespace_id: releases
spec_version: 1.0.0
stages:
  - stage_id: only
    gates:
      - gate_id: g
        requirement: {condition: missing}
    advance_to: {kind: terminal}
conditions: []
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// testEnv is a temp workspace with a spec and a sqlite-backed config.
type testEnv struct {
	dir    string
	spec   string
	config string
}

// newTestEnv writes deploySpec and a config whose env provider reports
// the given CI_STATUS and APPROVED values.
func newTestEnv(t *testing.T, ciStatus, approved string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{dir: dir, spec: writeFile(t, dir, "deploy.yaml", deploySpec)}
	env.config = writeFile(t, dir, "dgate.yaml", fmt.Sprintf(`
store:
  driver: sqlite
  dsn: %s
providers:
  env:
    overrides:
      CI_STATUS: %q
      APPROVED: %q
runpack:
  dir: %s
log:
  level: error
`, filepath.Join(dir, "dgate.db"), ciStatus, approved, filepath.Join(dir, "runpacks")))
	return env
}

// run executes the root command with --config set to the env's config.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--config", e.config}, args...)...)
}

// execute runs the root command and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
