package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dgate/internal/config"
	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/evidence"
	"github.com/roach88/dgate/internal/ret"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	TenantID    string
	NamespaceID string
	RunID       string
}

// ReplayMismatch is a gate whose replayed status differs from the log.
type ReplayMismatch struct {
	TriggerID string `json:"trigger_id"`
	StageID   string `json:"stage_id"`
	GateID    string `json:"gate_id"`
	Recorded  string `json:"recorded"`
	Replayed  string `json:"replayed"`
}

// ReplayResult holds the replay result for one run.
type ReplayResult struct {
	RunID         string           `json:"run_id"`
	Decisions     int              `json:"decisions"`
	GateEvals     int              `json:"gate_evals"`
	LogError      string           `json:"log_error,omitempty"`
	Mismatches    []ReplayMismatch `json:"mismatches"`
	Deterministic bool             `json:"deterministic"`
}

func (r *ReplayResult) renderText(w io.Writer) {
	if r.Deterministic {
		fmt.Fprintf(w, "✓ Run %s replays deterministically\n", r.RunID)
		fmt.Fprintf(w, "  decisions: %d\n  gate evaluations: %d\n", r.Decisions, r.GateEvals)
		return
	}
	fmt.Fprintf(w, "✗ Run %s diverges from its recorded log\n\n", r.RunID)
	if r.LogError != "" {
		fmt.Fprintf(w, "  decision log: %s\n", r.LogError)
	}
	for _, m := range r.Mismatches {
		fmt.Fprintf(w, "  %s %s/%s: recorded %s, replayed %s\n", m.TriggerID, m.StageID, m.GateID, m.Recorded, m.Replayed)
	}
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <spec-file>",
		Short: "Re-evaluate a run's recorded gates and verify determinism",
		Long: `Re-evaluate every recorded gate evaluation of a run from the evidence
recorded alongside it, without querying any provider.

Each condition is re-resolved under the same trust lanes, each gate's
requirement is re-evaluated, and the result is compared against both the
gate evaluation log and the gate outcomes on the matching decision. The
decision log's structure (sequence numbers, ids, one decision per trigger)
is checked too.

Exit codes:
  0 - The run replays deterministically
  1 - Replay diverged from the recorded log
  2 - Command error (run not found, spec mismatch, etc.)

Examples:
  dgate replay ./specs/release.yaml --run-id r-1
  dgate replay ./specs/release.yaml --run-id r-1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TenantID, "tenant", "default", "tenant id")
	cmd.Flags().StringVar(&opts.NamespaceID, "namespace", "", "namespace id (defaults to the spec's namespace)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run to replay (required)")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func runReplay(opts *ReplayOptions, specPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	spec, err := LoadSpec(specPath)
	if err != nil {
		return outputLoadError(formatter, err)
	}
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

	ns := opts.NamespaceID
	if ns == "" {
		ns = spec.NamespaceID
	}
	key := core.RunKey{TenantID: opts.TenantID, NamespaceID: ns, RunID: opts.RunID}
	state, err := st.Load(ctx, key)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "load run", err)
	}
	if state == nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", key), nil)
	}
	hash, err := spec.Hash()
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeSpecInvalid, "hash spec", err)
	}
	if !hash.Equal(state.SpecHash) {
		return formatter.fail(ExitCommandError, ErrCodeSpecInvalid,
			fmt.Sprintf("spec hash %s does not match run %s", hash, state.SpecHash), nil)
	}

	formatter.VerboseLog("Replaying %d gate evaluation(s) of %s", len(state.GateEvals), key)
	result := ReplayRun(spec, state, cfg)

	if !result.Deterministic {
		_ = formatter.Failure(ErrCodeReplayDiff, "replay diverged from the recorded log", result)
		return NewExitError(ExitFailure, fmt.Sprintf("replay diverged with %d mismatch(es)", len(result.Mismatches)))
	}
	return formatter.Success(result)
}

// ReplayRun re-evaluates every gate evaluation recorded on state using
// only the evidence recorded with it.
func ReplayRun(spec *core.ScenarioSpec, state *core.RunState, cfg *config.Config) *ReplayResult {
	result := &ReplayResult{
		RunID:      state.RunID,
		Decisions:  len(state.Decisions),
		GateEvals:  len(state.GateEvals),
		Mismatches: []ReplayMismatch{},
	}
	if err := core.CheckDecisionLog(state.Decisions); err != nil {
		result.LogError = err.Error()
	}

	evaluator := ret.NewEvaluator(cfg.LogicMode())
	defaultLane := cfg.DefaultMinLane()

	// Gate outcomes as the decision log recorded them, by trigger.
	decided := make(map[string]map[string]ret.TriState, len(state.Decisions))
	for _, d := range state.Decisions {
		gates := make(map[string]ret.TriState, len(d.Gates))
		for _, g := range d.Gates {
			gates[g.GateID] = g.Status
		}
		decided[d.TriggerID] = gates
	}

	for _, rec := range state.GateEvals {
		mismatch := ReplayMismatch{
			TriggerID: rec.TriggerID,
			StageID:   rec.StageID,
			GateID:    rec.Evaluation.GateID,
			Recorded:  rec.Evaluation.Status.String(),
		}
		replayed, ok := replayGate(spec, rec, evaluator, defaultLane)
		if !ok {
			mismatch.Replayed = "gate not in spec"
			result.Mismatches = append(result.Mismatches, mismatch)
			continue
		}
		if replayed != rec.Evaluation.Status {
			mismatch.Replayed = replayed.String()
			result.Mismatches = append(result.Mismatches, mismatch)
			continue
		}
		if gates, ok := decided[rec.TriggerID]; ok {
			if logged, ok := gates[rec.Evaluation.GateID]; ok && logged != replayed {
				mismatch.Recorded = logged.String()
				mismatch.Replayed = replayed.String()
				result.Mismatches = append(result.Mismatches, mismatch)
			}
		}
	}

	result.Deterministic = result.LogError == "" && len(result.Mismatches) == 0
	return result
}

// replayGate re-resolves the recorded evidence of one gate and evaluates
// the gate's requirement over it.
func replayGate(spec *core.ScenarioSpec, rec core.GateEvalRecord, evaluator ret.Evaluator, defaultLane core.TrustLane) (ret.TriState, bool) {
	stage, ok := spec.Stage(rec.StageID)
	if !ok {
		return ret.Unknown, false
	}
	var gate *core.GateSpec
	for i := range stage.Gates {
		if stage.Gates[i].GateID == rec.Evaluation.GateID {
			gate = &stage.Gates[i]
			break
		}
	}
	if gate == nil {
		return ret.Unknown, false
	}

	leaves := make(ret.Outcomes, len(rec.Evidence))
	for _, ev := range rec.Evidence {
		cond, ok := spec.Condition(ev.ConditionID)
		if !ok {
			continue
		}
		required := evidence.RequiredLane(defaultLane, gate.Trust, cond.Trust)
		leaves[ev.ConditionID] = evidence.Resolve(*cond, ev.Result, required).Status
	}
	return evaluator.Eval(gate.Requirement, leaves), true
}
