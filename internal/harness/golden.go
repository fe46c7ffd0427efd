package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a result as the line-oriented text stored in golden
// files. Every field is deterministic for a given scenario: ids come from
// the decision log and times from the logical clock, so no hashes or wall
// clock values appear.
func FormatTrace(scenarioName string, result *Result) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", scenarioName)
	if result.Spec != nil {
		fmt.Fprintf(&buf, "spec: %s@%s\n", result.Spec.ScenarioID, result.Spec.SpecVersion)
	}
	for _, ev := range result.Trace {
		buf.WriteString(formatEvent(ev))
		buf.WriteByte('\n')
	}
	if s := result.State; s != nil {
		fmt.Fprintf(&buf, "final: status=%s stage=%s decisions=%d packets=%d submissions=%d deliveries=%d\n",
			s.Status, s.CurrentStageID, len(s.Decisions), len(s.Packets), len(s.Submissions), len(result.Deliveries))
	}
	return []byte(buf.String())
}

func formatEvent(ev TraceEvent) string {
	parts := []string{fmt.Sprintf("[%d] %s", ev.Step, ev.Action)}
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+value)
		}
	}
	add("trigger", ev.TriggerID)
	add("submission", ev.SubmissionID)
	add("decision", ev.DecisionID)
	add("outcome", ev.Outcome)
	add("reason", ev.Reason)
	if ev.Timeout {
		parts = append(parts, "timeout")
	}
	if len(ev.Gates) > 0 {
		gates := make([]string, len(ev.Gates))
		for i, g := range ev.Gates {
			gates[i] = g.GateID + ":" + g.Status.String()
		}
		add("gates", strings.Join(gates, ","))
	}
	add("packets", strings.Join(ev.Packets, ","))
	if ev.Repeat {
		parts = append(parts, "repeat")
	}
	add("error", ev.Error)
	add("stage", ev.Stage)
	add("status", ev.Status)
	return strings.Join(parts, " ")
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, FormatTrace(scenarioName, result))
}
