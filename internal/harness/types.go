package harness

import (
	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/dispatch"
)

// TraceEvent records one step of a scenario: the run start, a trigger
// decision, or a submission.
type TraceEvent struct {
	Step         int                `json:"step"`
	Action       string             `json:"action"`
	TriggerID    string             `json:"trigger_id,omitempty"`
	SubmissionID string             `json:"submission_id,omitempty"`
	DecisionID   string             `json:"decision_id,omitempty"`
	Outcome      string             `json:"outcome,omitempty"`
	From         string             `json:"from,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Timeout      bool               `json:"timeout,omitempty"`
	Stage        string             `json:"stage"`
	Status       string             `json:"status"`
	Gates        []core.GateOutcome `json:"gates,omitempty"`
	Packets      []string           `json:"packets,omitempty"`
	Repeat       bool               `json:"repeat,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains one event per executed step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final run state.
	State *core.RunState `json:"state,omitempty"`

	// Spec is the compiled scenario spec the run executed.
	Spec *core.ScenarioSpec `json:"-"`

	// Deliveries are the packets the dispatcher accepted.
	Deliveries []dispatch.Delivery `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it.
func (r *Result) AddTrace(ev TraceEvent) TraceEvent {
	ev.Step = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
	return ev
}

// Decisions returns the trace events that carry a decision, skipping
// repeats and submissions.
func (r *Result) Decisions() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.DecisionID != "" && !ev.Repeat {
			out = append(out, ev)
		}
	}
	return out
}
