package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

// createTestStore creates a new SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestState creates a fresh run state with minimal required fields.
func createTestState(runID string) *core.RunState {
	return &core.RunState{
		TenantID:            "tenant-1",
		NamespaceID:         "ns-1",
		RunID:               runID,
		ScenarioID:          "release",
		SpecHash:            canonical.HashBytes([]byte("spec")),
		CurrentStageID:      "build",
		StageEnteredAt:      core.Logical(0),
		Status:              core.RunActive,
		StartedAt:           core.Logical(0),
		DispatchTargets:     []core.DispatchTarget{},
		Triggers:            []core.TriggerRecord{},
		ProcessedTriggerIDs: []string{},
		GateEvals:           []core.GateEvalRecord{},
		Decisions:           []core.DecisionRecord{},
		Packets:             []core.PacketRecord{},
		Submissions:         []core.SubmissionRecord{},
		ToolCalls:           []core.ToolCallRecord{},
	}
}
