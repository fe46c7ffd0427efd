package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/dispatch"
	"github.com/roach88/dgate/internal/runpack"
)

// AssertionContext carries what assertions need beyond the trace.
type AssertionContext struct {
	Ctx        context.Context
	Spec       *core.ScenarioSpec
	State      *core.RunState
	Deliveries []dispatch.Delivery
	Logger     *slog.Logger
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", formatEvent(event))
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(actx.State, a)
		case AssertDispatchCount:
			err = assertDispatchCount(actx.Deliveries, a)
		case AssertRunpackVerifies:
			err = assertRunpackVerifies(actx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

// assertTraceContains checks that some decision has the outcome, and the
// stage when one is given. The stage matched is the stage the decision
// was made in, not the stage it entered.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range decisions(trace) {
		if event.Outcome != assertion.Outcome {
			continue
		}
		if assertion.Stage == "" || event.From == assertion.Stage {
			return nil
		}
	}

	expected := "outcome " + assertion.Outcome
	if assertion.Stage != "" {
		expected += " in stage " + assertion.Stage
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that outcomes appear in the given order.
// Outcomes don't need to be consecutive (intervening decisions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	events := decisions(trace)
	pos := 0
	for _, want := range assertion.Outcomes {
		found := false
		for pos < len(events) {
			pos++
			if events[pos-1].Outcome == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("outcomes in order: %v", assertion.Outcomes),
				Actual:   fmt.Sprintf("outcomes %v", outcomes(events)),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the outcome appears exactly the specified
// number of times. Replayed decisions are counted once.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range decisions(trace) {
		if event.Outcome == assertion.Outcome {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Outcome),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares the final run against the expected fields
// using subset semantics.
func assertFinalState(state *core.RunState, assertion Assertion) error {
	if state == nil {
		return &AssertionError{Type: AssertFinalState, Expected: "a run", Actual: "run not found"}
	}
	actual := finalFields(state)

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Errorf("final_state: unsupported field %q", k)
		}
		if want := fmt.Sprint(assertion.Expect[k]); want != got {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s = %s", k, want),
				Actual:   fmt.Sprintf("%s = %s", k, got),
			}
		}
	}
	return nil
}

func finalFields(state *core.RunState) map[string]string {
	return map[string]string{
		"status":          string(state.Status),
		"stage":           state.CurrentStageID,
		"decisions":       fmt.Sprint(len(state.Decisions)),
		"packets":         fmt.Sprint(len(state.Packets)),
		"submissions":     fmt.Sprint(len(state.Submissions)),
		"timeout_flagged": fmt.Sprint(state.TimeoutFlagged),
	}
}

// assertDispatchCount checks the number of accepted deliveries.
func assertDispatchCount(deliveries []dispatch.Delivery, assertion Assertion) error {
	if len(deliveries) != assertion.Count {
		return &AssertionError{
			Type:     AssertDispatchCount,
			Expected: fmt.Sprintf("%d deliveries", assertion.Count),
			Actual:   fmt.Sprintf("%d deliveries", len(deliveries)),
		}
	}
	return nil
}

// assertRunpackVerifies builds a runpack from the final run into memory
// and verifies it offline.
func assertRunpackVerifies(actx *AssertionContext) error {
	if actx.State == nil || actx.Spec == nil {
		return &AssertionError{Type: AssertRunpackVerifies, Expected: "a run", Actual: "run not found"}
	}
	mem := runpack.NewMemoryStore()
	var opts []runpack.BuildOption
	if actx.Logger != nil {
		opts = append(opts, runpack.WithBuildLogger(actx.Logger))
	}
	if _, err := runpack.Build(actx.Ctx, actx.Spec, actx.State, mem, opts...); err != nil {
		return fmt.Errorf("build runpack: %w", err)
	}
	report, err := runpack.Verify(actx.Ctx, mem)
	if err != nil {
		return fmt.Errorf("verify runpack: %w", err)
	}
	if report.Status != runpack.StatusPass {
		return &AssertionError{
			Type:     AssertRunpackVerifies,
			Expected: "status pass",
			Actual:   fmt.Sprintf("status %s: %v", report.Status, report.Errors),
		}
	}
	return nil
}

func decisions(trace []TraceEvent) []TraceEvent {
	r := Result{Trace: trace}
	return r.Decisions()
}

func outcomes(events []TraceEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Outcome
	}
	return out
}
