package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dgate/internal/core"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	TenantID    string
	NamespaceID string
	RunID       string
	Stage       string // optional - filter to decisions made in one stage
}

// TraceEvent is one decision in the run's timeline.
type TraceEvent struct {
	Seq         int64    `json:"seq"`
	DecisionID  string   `json:"decision_id"`
	TriggerID   string   `json:"trigger_id"`
	TriggerKind string   `json:"trigger_kind,omitempty"`
	At          string   `json:"at"`
	Outcome     string   `json:"outcome"`
	StageID     string   `json:"stage_id"`
	ToStage     string   `json:"to_stage,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Timeout     bool     `json:"timeout,omitempty"`
	Gates       []string `json:"gates,omitempty"`
}

// DeliveryEdge links a decision to a packet receipt for one target.
type DeliveryEdge struct {
	DecisionID string `json:"decision_id"`
	PacketID   string `json:"packet_id"`
	Target     string `json:"target"`
	Dispatcher string `json:"dispatcher,omitempty"`
	Delivered  bool   `json:"delivered"`
	Error      string `json:"error,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID      string         `json:"run_id"`
	ScenarioID string         `json:"scenario_id"`
	Status     core.RunStatus `json:"status"`
	Timeline   []TraceEvent   `json:"timeline"`
	Deliveries []DeliveryEdge `json:"deliveries"`
	Stats      TraceStats     `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Triggers    int  `json:"triggers"`
	Decisions   int  `json:"decisions"`
	Holds       int  `json:"holds"`
	Advances    int  `json:"advances"`
	Packets     int  `json:"packets"`
	Failed      int  `json:"failed_deliveries"`
	Submissions int  `json:"submissions"`
	IsComplete  bool `json:"is_complete"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show a run's decision timeline",
		Long: `Show the decision log of a run with the packets each decision issued.

The output includes:
- Timeline: every decision with its trigger, outcome and gate statuses
- Deliveries: each packet receipt, linked to the decision that issued it
- Stats: summary statistics for the run

Examples:
  dgate trace --namespace releases --run-id r-1
  dgate trace --namespace releases --run-id r-1 --stage review
  dgate trace --namespace releases --run-id r-1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TenantID, "tenant", "default", "tenant id")
	cmd.Flags().StringVar(&opts.NamespaceID, "namespace", "", "namespace id (required)")
	_ = cmd.MarkFlagRequired("namespace")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run to trace (required)")
	_ = cmd.MarkFlagRequired("run-id")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "filter to decisions made in this stage")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	st, _, closer, err := openStore(ctx, cfg)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeBuildFailed, "open store", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	key := core.RunKey{TenantID: opts.TenantID, NamespaceID: opts.NamespaceID, RunID: opts.RunID}
	state, err := st.Load(ctx, key)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "load run", err)
	}
	if state == nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", key), nil)
	}

	return formatter.Success(BuildTrace(state, opts.Stage))
}

// BuildTrace projects a run's decision log into a timeline. When stage is
// set only decisions made in it, and their deliveries, are included.
func BuildTrace(state *core.RunState, stage string) *TraceResult {
	kinds := make(map[string]core.TriggerKind, len(state.Triggers))
	for _, t := range state.Triggers {
		kinds[t.Event.TriggerID] = t.Event.Kind
	}

	result := &TraceResult{
		RunID:      state.RunID,
		ScenarioID: state.ScenarioID,
		Status:     state.Status,
		Timeline:   []TraceEvent{},
		Deliveries: []DeliveryEdge{},
		Stats: TraceStats{
			Triggers:    len(state.Triggers),
			Decisions:   len(state.Decisions),
			Packets:     len(state.Packets),
			Submissions: len(state.Submissions),
			IsComplete:  state.Status.Absorbing(),
		},
	}

	for _, d := range state.Decisions {
		switch d.Outcome.Kind {
		case core.OutcomeHold:
			result.Stats.Holds++
		case core.OutcomeAdvance:
			result.Stats.Advances++
		}
		if stage != "" && d.StageID != stage {
			continue
		}

		ev := TraceEvent{
			Seq:         d.Seq,
			DecisionID:  d.DecisionID,
			TriggerID:   d.TriggerID,
			TriggerKind: string(kinds[d.TriggerID]),
			At:          d.DecidedAt.String(),
			Outcome:     string(d.Outcome.Kind),
			StageID:     d.StageID,
			ToStage:     d.Outcome.ToStage,
			Reason:      d.Outcome.Reason,
			Timeout:     d.Outcome.Timeout,
		}
		for _, g := range d.Gates {
			ev.Gates = append(ev.Gates, g.GateID+"="+g.Status.String())
		}
		result.Timeline = append(result.Timeline, ev)

		for _, p := range state.PacketsForDecision(d.DecisionID) {
			for _, r := range p.Receipts {
				edge := DeliveryEdge{
					DecisionID: d.DecisionID,
					PacketID:   p.Envelope.PacketID,
					Target:     r.Target.String(),
					Dispatcher: r.Dispatcher,
					Delivered:  r.Delivered(),
				}
				if r.Error != nil {
					edge.Error = r.Error.Code + ": " + r.Error.Message
				}
				result.Deliveries = append(result.Deliveries, edge)
			}
		}
	}
	for _, p := range state.Packets {
		for _, r := range p.Receipts {
			if !r.Delivered() {
				result.Stats.Failed++
			}
		}
	}
	return result
}

func (r *TraceResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "Run: %s (%s, %s)\n\n", r.RunID, r.ScenarioID, r.Status)

	if len(r.Timeline) == 0 {
		fmt.Fprintln(w, "No decisions recorded.")
	} else {
		fmt.Fprintln(w, "Timeline:")
		for _, ev := range r.Timeline {
			fmt.Fprintf(w, "  [%d] %s %s", ev.Seq, ev.DecisionID, ev.Outcome)
			if ev.ToStage != "" {
				fmt.Fprintf(w, " %s -> %s", ev.StageID, ev.ToStage)
			} else {
				fmt.Fprintf(w, " in %s", ev.StageID)
			}
			if ev.Reason != "" {
				fmt.Fprintf(w, " (%s)", ev.Reason)
			}
			if ev.Timeout {
				fmt.Fprint(w, " [timeout]")
			}
			fmt.Fprintln(w)
			trigger := ev.TriggerID
			if ev.TriggerKind != "" {
				trigger += " (" + ev.TriggerKind + ")"
			}
			fmt.Fprintf(w, "      trigger: %s at %s\n", trigger, ev.At)
			if len(ev.Gates) > 0 {
				fmt.Fprintf(w, "      gates: %s\n", strings.Join(ev.Gates, ", "))
			}
		}
	}

	if len(r.Deliveries) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Deliveries:")
		for _, d := range r.Deliveries {
			mark := "✓"
			if !d.Delivered {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s → %s (%s)", mark, d.PacketID, d.Target, d.DecisionID)
			if d.Error != "" {
				fmt.Fprintf(w, ": %s", d.Error)
			}
			fmt.Fprintln(w)
		}
	}

	s := r.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d decision(s), %d hold(s), %d advance(s), %d packet(s), %d failed deliver(ies), %d submission(s)\n",
		s.Decisions, s.Holds, s.Advances, s.Packets, s.Failed, s.Submissions)
}
