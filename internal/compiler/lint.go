package compiler

import (
	"fmt"
	"sort"

	"github.com/roach88/dgate/internal/core"
)

// Lint codes (W100-W199). Lint findings never block registration.
const (
	WarnUnusedCondition  = "W101" // condition not referenced by any gate
	WarnUnreachableStage = "W102" // stage cannot be reached from the initial stage
	WarnNoGates          = "W103" // non-terminal stage with no gates advances on any trigger
	WarnStageLoop        = "W104" // stage graph contains a loop
)

// LintWarning is a non-fatal finding about a valid spec.
type LintWarning struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (w LintWarning) String() string {
	return fmt.Sprintf("[%s] %s: %s", w.Code, w.Field, w.Message)
}

// Lint reports findings in a deterministic order. The spec is assumed to
// have passed core validation.
func Lint(spec *core.ScenarioSpec) []LintWarning {
	warnings := []LintWarning{}
	if spec == nil {
		return warnings
	}

	used := make(map[string]bool)
	for _, st := range spec.Stages {
		for _, id := range st.StageConditionIDs() {
			used[id] = true
		}
	}
	for _, c := range spec.Conditions {
		if !used[c.ConditionID] {
			warnings = append(warnings, LintWarning{
				Code:    WarnUnusedCondition,
				Field:   "conditions." + c.ConditionID,
				Message: "condition is not referenced by any gate",
			})
		}
	}

	for _, id := range unreachableStages(spec) {
		warnings = append(warnings, LintWarning{
			Code:    WarnUnreachableStage,
			Field:   "stages." + id,
			Message: "stage is not reachable from the initial stage",
		})
	}

	for _, st := range spec.Stages {
		if len(st.Gates) == 0 && st.AdvanceTo.Kind != core.AdvanceTerminal {
			warnings = append(warnings, LintWarning{
				Code:    WarnNoGates,
				Field:   "stages." + st.StageID,
				Message: "stage has no gates and advances on the first trigger",
			})
		}
	}

	for _, c := range AnalyzeCycles(spec) {
		warnings = append(warnings, LintWarning{
			Code:    WarnStageLoop,
			Field:   "stages." + c.Path[0],
			Message: c.Message,
		})
	}
	return warnings
}

func unreachableStages(spec *core.ScenarioSpec) []string {
	if len(spec.Stages) == 0 {
		return nil
	}
	graph := buildStageGraph(spec)
	seen := map[string]bool{spec.Stages[0].StageID: true}
	queue := []string{spec.Stages[0].StageID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range graph[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	var out []string
	for _, st := range spec.Stages {
		if !seen[st.StageID] {
			out = append(out, st.StageID)
		}
	}
	sort.Strings(out)
	return out
}
