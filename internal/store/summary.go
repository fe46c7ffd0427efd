package store

import (
	"context"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/queryir"
)

// RunSummary is the listing projection of a stored run.
type RunSummary struct {
	Key            core.RunKey    `json:"key"`
	ScenarioID     string         `json:"scenario_id"`
	Status         core.RunStatus `json:"status"`
	CurrentStageID string         `json:"current_stage_id"`
	Version        int64          `json:"version"`
}

// Lister enumerates the runs of a namespace ordered by run id.
type Lister interface {
	List(ctx context.Context, tenantID, namespaceID string) ([]RunSummary, error)
	Query(ctx context.Context, q queryir.Select) ([]RunSummary, error)
}

func summarize(s *core.RunState) RunSummary {
	return RunSummary{
		Key:            s.Key(),
		ScenarioID:     s.ScenarioID,
		Status:         s.Status,
		CurrentStageID: s.CurrentStageID,
		Version:        s.Version,
	}
}

// field exposes the summary as a queryir row.
func (s RunSummary) field(f queryir.Field) string {
	switch f {
	case queryir.FieldRunID:
		return s.Key.RunID
	case queryir.FieldScenarioID:
		return s.ScenarioID
	case queryir.FieldStatus:
		return string(s.Status)
	case queryir.FieldStageID:
		return s.CurrentStageID
	}
	return ""
}
