package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/engine"
	"github.com/roach88/dgate/internal/queryir"
)

// DefaultAgentID identifies run next requests that name no agent.
const DefaultAgentID = "cli"

// RunOptions holds flags shared by the run subcommands.
type RunOptions struct {
	*RootOptions
	TenantID      string
	NamespaceID   string // defaults to the spec's namespace
	RunID         string
	CorrelationID string

	// IDGenerator allows overriding run, trigger and submission id
	// generation (for testing). If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator

	// Now allows overriding the wall clock (for testing).
	Now func() time.Time
}

func (o *RunOptions) generate() string {
	if o.IDGenerator == nil {
		o.IDGenerator = engine.UUIDv7Generator{}
	}
	return o.IDGenerator.Generate()
}

func (o *RunOptions) now() core.Timestamp {
	if o.Now != nil {
		return core.FromTime(o.Now())
	}
	return core.FromTime(time.Now())
}

func (o *RunOptions) namespace(spec *core.ScenarioSpec) string {
	if o.NamespaceID != "" {
		return o.NamespaceID
	}
	return spec.NamespaceID
}

// NewRunCommand creates the run command and its subcommands.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and drive runs",
		Long: `Start runs of a scenario and drive them with triggers.

Every subcommand that touches a run takes the spec file the run was started
with. The spec is registered on a fresh engine for the call, and a run only
loads if its recorded spec hash matches.

The store, providers, dispatcher, disclosure policy and data shapes come
from --config.

Examples:
  dgate run start ./specs/release.yaml --run-id r-1 --target agent:agent-1
  dgate run next ./specs/release.yaml --run-id r-1 --agent-id agent-1
  dgate run trigger ./specs/release.yaml --run-id r-1 --kind tick
  dgate run status ./specs/release.yaml --run-id r-1 --format json
  dgate run submit ./specs/release.yaml --run-id r-1 --payload notes.json
  dgate run list --namespace releases`,
	}

	cmd.PersistentFlags().StringVar(&opts.TenantID, "tenant", "default", "tenant id")
	cmd.PersistentFlags().StringVar(&opts.NamespaceID, "namespace", "", "namespace id (defaults to the spec's namespace)")
	cmd.PersistentFlags().StringVar(&opts.RunID, "run-id", "", "run id")
	cmd.PersistentFlags().StringVar(&opts.CorrelationID, "correlation-id", "", "correlation id echoed on records")

	cmd.AddCommand(newRunStartCommand(opts))
	cmd.AddCommand(newRunNextCommand(opts))
	cmd.AddCommand(newRunTriggerCommand(opts))
	cmd.AddCommand(newRunStatusCommand(opts))
	cmd.AddCommand(newRunSubmitCommand(opts))
	cmd.AddCommand(newRunListCommand(opts))

	return cmd
}

// runCall is the shared shape of a run subcommand: load the spec, open the
// runtime, call the engine and print the result.
func runCall(opts *RunOptions, specPath string, cmd *cobra.Command, call func(ctx context.Context, rt *runtime, spec *core.ScenarioSpec) (any, error)) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	spec, err := LoadSpec(specPath)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	rt, err := openRuntime(ctx, opts.RootOptions, spec, formatter.GetErrWriter())
	if err != nil {
		if engine.CodeOf(err) != "" {
			return outputEngineError(formatter, err)
		}
		return outputLoadError(formatter, &LoadError{Code: ErrCodeBuildFailed, Message: err.Error()})
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			rt.logger.Error("error closing store", "error", closeErr)
		}
	}()

	result, err := call(ctx, rt, spec)
	if err != nil {
		return outputEngineError(formatter, err)
	}
	return formatter.SuccessWithTrace(result, opts.CorrelationID)
}

// commandContext cancels on SIGINT or SIGTERM so in-flight provider
// queries stop promptly.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// requireRunID rejects subcommands that need an existing run.
func requireRunID(opts *RunOptions) error {
	if opts.RunID == "" {
		return NewExitError(ExitCommandError, "--run-id is required")
	}
	return nil
}

// runState wraps a started run for text rendering.
type runState struct {
	*core.RunState
}

func (s runState) renderText(w io.Writer) {
	fmt.Fprintf(w, "✓ Run %s started\n", s.RunID)
	fmt.Fprintf(w, "  scenario: %s\n  stage: %s\n  status: %s\n  spec: %s\n",
		s.ScenarioID, s.CurrentStageID, s.Status, s.SpecHash)
	if n := len(s.Packets); n > 0 {
		fmt.Fprintf(w, "  packets: %d\n", n)
	}
}

func newRunStartCommand(opts *RunOptions) *cobra.Command {
	var (
		targets     []string
		issuePacket bool
	)

	cmd := &cobra.Command{
		Use:   "start <spec-file>",
		Short: "Start a run at the scenario's initial stage",
		Long: `Start a run bound to the spec's canonical hash.

Dispatch targets take the form kind:value, one of
  agent:<agent-id>  session:<session-id>  channel:<channel>
  external:<system>/<target>

A run id is generated (UUIDv7) when --run-id is omitted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseTargets(targets)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --target", err)
			}
			if opts.RunID == "" {
				opts.RunID = opts.generate()
			}
			return runCall(opts, args[0], cmd, func(ctx context.Context, rt *runtime, spec *core.ScenarioSpec) (any, error) {
				state, err := rt.engine.StartRun(ctx, engine.StartRunRequest{
					Config: engine.RunConfig{
						TenantID:        opts.TenantID,
						NamespaceID:     opts.namespace(spec),
						RunID:           opts.RunID,
						ScenarioID:      spec.ScenarioID,
						DispatchTargets: parsed,
					},
					StartedAt:         opts.now(),
					IssueEntryPackets: issuePacket || rt.cfg.Engine.DispatchInitial,
					CorrelationID:     opts.CorrelationID,
				})
				if err != nil {
					return nil, err
				}
				return runState{state}, nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&targets, "target", nil, "dispatch target kind:value (repeatable)")
	cmd.Flags().BoolVar(&issuePacket, "issue-entry-packets", false, "issue the initial stage's entry packets (also enabled by engine.dispatch_initial)")

	return cmd
}

// triggerReport wraps a trigger result for text rendering.
type triggerReport struct {
	*engine.TriggerResult
}

func (r triggerReport) renderText(w io.Writer) {
	d := r.Decision
	fmt.Fprintf(w, "%s %s: %s", d.DecisionID, d.TriggerID, d.Outcome.Kind)
	switch {
	case d.Outcome.ToStage != "":
		fmt.Fprintf(w, " %s -> %s", d.Outcome.FromStage, d.Outcome.ToStage)
	case d.Outcome.StageID != "":
		fmt.Fprintf(w, " in %s", d.Outcome.StageID)
	}
	if d.Outcome.Reason != "" {
		fmt.Fprintf(w, " (%s)", d.Outcome.Reason)
	}
	if d.Outcome.Timeout {
		fmt.Fprint(w, " [timeout]")
	}
	fmt.Fprintf(w, "\n  status: %s\n", r.Status)
	for _, g := range d.Gates {
		fmt.Fprintf(w, "  gate %s: %s\n", g.GateID, g.Status)
	}
	for _, p := range r.Packets {
		fmt.Fprintf(w, "  packet %s: %d receipt(s)\n", p.Envelope.PacketID, len(p.Receipts))
	}
	if s := d.Outcome.Summary; s != nil && len(s.UnmetGates) > 0 {
		fmt.Fprintf(w, "  unmet: %s\n", strings.Join(s.UnmetGates, ", "))
		if s.RetryHint != "" {
			fmt.Fprintf(w, "  hint: %s\n", s.RetryHint)
		}
	}
}

func newRunNextCommand(opts *RunOptions) *cobra.Command {
	var triggerID, agentID string

	cmd := &cobra.Command{
		Use:   "next <spec-file>",
		Short: "Ask the run to evaluate its current stage",
		Long: `Send an agent_request_next trigger. Reusing a trigger id returns the
decision already recorded for it without re-evaluating.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRunID(opts); err != nil {
				return err
			}
			if triggerID == "" {
				triggerID = opts.generate()
			}
			return runCall(opts, args[0], cmd, func(ctx context.Context, rt *runtime, spec *core.ScenarioSpec) (any, error) {
				res, err := rt.engine.ScenarioNext(ctx, engine.NextRequest{
					TenantID:      opts.TenantID,
					NamespaceID:   opts.namespace(spec),
					RunID:         opts.RunID,
					TriggerID:     triggerID,
					AgentID:       agentID,
					Time:          opts.now(),
					CorrelationID: opts.CorrelationID,
				})
				if err != nil {
					return nil, err
				}
				return triggerReport{res}, nil
			})
		},
	}

	cmd.Flags().StringVar(&triggerID, "trigger-id", "", "idempotency key (generated when empty)")
	cmd.Flags().StringVar(&agentID, "agent-id", DefaultAgentID, "requesting agent")

	return cmd
}

func newRunTriggerCommand(opts *RunOptions) *cobra.Command {
	var triggerID, kind, sourceID, payloadPath string

	cmd := &cobra.Command{
		Use:   "trigger <spec-file>",
		Short: "Deliver a tick, external or backend event to a run",
		Args:  cobra.ExactArgs(1),
		Long: `Deliver a trigger of the given kind (tick, external_event, backend_event
or agent_request_next). The optional payload is recorded with the trigger
but never feeds gate evaluation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRunID(opts); err != nil {
				return err
			}
			k := core.TriggerKind(kind)
			if !k.Known() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown trigger kind %q", kind))
			}
			var payload any
			if payloadPath != "" {
				data, err := os.ReadFile(payloadPath)
				if err != nil {
					return WrapExitError(ExitCommandError, "reading payload", err)
				}
				if err := core.DecodeJSON(data, &payload); err != nil {
					return WrapExitError(ExitCommandError, "payload must be JSON", err)
				}
			}
			if triggerID == "" {
				triggerID = opts.generate()
			}
			return runCall(opts, args[0], cmd, func(ctx context.Context, rt *runtime, spec *core.ScenarioSpec) (any, error) {
				res, err := rt.engine.Trigger(ctx, core.TriggerEvent{
					TriggerID:     triggerID,
					TenantID:      opts.TenantID,
					NamespaceID:   opts.namespace(spec),
					RunID:         opts.RunID,
					Kind:          k,
					Time:          opts.now(),
					SourceID:      sourceID,
					Payload:       payload,
					CorrelationID: opts.CorrelationID,
				})
				if err != nil {
					return nil, err
				}
				return triggerReport{res}, nil
			})
		},
	}

	cmd.Flags().StringVar(&triggerID, "trigger-id", "", "idempotency key (generated when empty)")
	cmd.Flags().StringVar(&kind, "kind", string(core.TriggerExternalEvent), "trigger kind")
	cmd.Flags().StringVar(&sourceID, "source", "cli", "source id recorded on the trigger")
	cmd.Flags().StringVar(&payloadPath, "payload", "", "JSON payload file")

	return cmd
}

// statusReport wraps a status response for text rendering.
type statusReport struct {
	*engine.StatusResponse
}

func (s statusReport) renderText(w io.Writer) {
	fmt.Fprintf(w, "run %s (%s)\n", s.RunID, s.ScenarioID)
	fmt.Fprintf(w, "  stage: %s\n  status: %s\n  version: %d\n", s.CurrentStageID, s.Status, s.Version)
	if s.TimeoutFlagged {
		fmt.Fprintln(w, "  timeout: flagged")
	}
	if s.LastDecision != nil {
		fmt.Fprintf(w, "  last decision: %s %s\n", s.LastDecision.DecisionID, s.LastDecision.Outcome.Kind)
	}
	if len(s.IssuedPacketIDs) > 0 {
		fmt.Fprintf(w, "  packets: %s\n", strings.Join(s.IssuedPacketIDs, ", "))
	}
	if s.PendingDispatch {
		fmt.Fprintln(w, "  dispatch: pending")
	}
}

func newRunStatusCommand(opts *RunOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <spec-file>",
		Short:         "Show a run's current stage and last decision",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRunID(opts); err != nil {
				return err
			}
			return runCall(opts, args[0], cmd, func(ctx context.Context, rt *runtime, spec *core.ScenarioSpec) (any, error) {
				res, err := rt.engine.ScenarioStatus(ctx, engine.StatusRequest{
					TenantID:    opts.TenantID,
					NamespaceID: opts.namespace(spec),
					RunID:       opts.RunID,
				})
				if err != nil {
					return nil, err
				}
				return statusReport{res}, nil
			})
		},
	}
}

// submissionReport wraps a submission record for text rendering.
type submissionReport struct {
	*core.SubmissionRecord
}

func (s submissionReport) renderText(w io.Writer) {
	fmt.Fprintf(w, "✓ Submission %s recorded on %s\n", s.SubmissionID, s.RunID)
	fmt.Fprintf(w, "  content: %s %s\n", s.ContentType, s.ContentHash)
}

func newRunSubmitCommand(opts *RunOptions) *cobra.Command {
	var submissionID, schemaID, schemaVersion, contentType, payloadPath string

	cmd := &cobra.Command{
		Use:   "submit <spec-file>",
		Short: "Record an audited submission on a run",
		Long: `Record a payload on the run's audit trail. JSON payloads are validated
against --schema when given. Submissions never advance a run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRunID(opts); err != nil {
				return err
			}
			if payloadPath == "" {
				return NewExitError(ExitCommandError, "--payload is required")
			}
			payload, err := readPayload(payloadPath, contentType)
			if err != nil {
				formatter := newFormatter(opts.RootOptions, cmd)
				return formatter.fail(ExitCommandError, ErrCodePayloadFile, "reading payload", err)
			}
			if submissionID == "" {
				submissionID = opts.generate()
			}
			return runCall(opts, args[0], cmd, func(ctx context.Context, rt *runtime, spec *core.ScenarioSpec) (any, error) {
				rec, err := rt.engine.ScenarioSubmit(ctx, engine.SubmitRequest{
					TenantID:      opts.TenantID,
					NamespaceID:   opts.namespace(spec),
					RunID:         opts.RunID,
					SubmissionID:  submissionID,
					SchemaID:      schemaID,
					SchemaVersion: schemaVersion,
					ContentType:   contentType,
					Payload:       payload,
					SubmittedAt:   opts.now(),
					CorrelationID: opts.CorrelationID,
				})
				if err != nil {
					return nil, err
				}
				return submissionReport{rec}, nil
			})
		},
	}

	cmd.Flags().StringVar(&submissionID, "submission-id", "", "idempotency key (generated when empty)")
	cmd.Flags().StringVar(&schemaID, "schema", "", "data shape id to validate against")
	cmd.Flags().StringVar(&schemaVersion, "schema-version", "", "data shape version")
	cmd.Flags().StringVar(&contentType, "content-type", "application/json", "payload content type")
	cmd.Flags().StringVar(&payloadPath, "payload", "", "payload file")

	return cmd
}

// readPayload reads a JSON payload, or raw bytes for other content types.
func readPayload(path, contentType string) (core.PacketPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.PacketPayload{}, err
	}
	if contentType != "application/json" {
		return core.PacketPayload{Kind: core.PayloadBytes, Bytes: data}, nil
	}
	var v any
	if err := core.DecodeJSON(data, &v); err != nil {
		return core.PacketPayload{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return core.PacketPayload{Kind: core.PayloadJSON, Value: v}, nil
}

// runList is the run listing for text rendering.
type runList struct {
	Runs []runSummary `json:"runs"`
}

type runSummary struct {
	RunID          string         `json:"run_id"`
	ScenarioID     string         `json:"scenario_id"`
	Status         core.RunStatus `json:"status"`
	CurrentStageID string         `json:"current_stage_id"`
	Version        int64          `json:"version"`
}

func (l runList) renderText(w io.Writer) {
	if len(l.Runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	for _, r := range l.Runs {
		fmt.Fprintf(w, "%s  %s  %s  %s  v%d\n", r.RunID, r.ScenarioID, r.Status, r.CurrentStageID, r.Version)
	}
}

func newRunListCommand(opts *RunOptions) *cobra.Command {
	var (
		statuses  []string
		stages    []string
		scenarios []string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the runs of a namespace",
		Long: `List the runs of a namespace ordered by run id.

Repeated or comma-separated --status, --stage and --scenario values match
any of the given values; different flags must all match.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts.RootOptions, cmd)
			if opts.NamespaceID == "" {
				return NewExitError(ExitCommandError, "--namespace is required")
			}
			q := queryir.Select{
				TenantID:    opts.TenantID,
				NamespaceID: opts.NamespaceID,
				Filter: queryir.AllOf(
					queryir.AnyOf(queryir.FieldStatus, statuses...),
					queryir.AnyOf(queryir.FieldStageID, stages...),
					queryir.AnyOf(queryir.FieldScenarioID, scenarios...),
				),
				Limit: limit,
			}
			if err := queryir.Validate(q); err != nil {
				return formatter.fail(ExitCommandError, ErrCodeGeneric, "invalid filter", err)
			}
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return outputLoadError(formatter, err)
			}
			ctx, stop := commandContext(cmd)
			defer stop()

			_, lister, closer, err := openStore(ctx, cfg)
			if err != nil {
				return formatter.fail(ExitCommandError, ErrCodeBuildFailed, "open store", err)
			}
			if closer != nil {
				defer closer.Close()
			}
			summaries, err := lister.Query(ctx, q)
			if err != nil {
				return formatter.fail(ExitCommandError, ErrCodeGeneric, "list runs", err)
			}
			out := runList{Runs: make([]runSummary, len(summaries))}
			for i, s := range summaries {
				out.Runs[i] = runSummary{
					RunID:          s.Key.RunID,
					ScenarioID:     s.ScenarioID,
					Status:         s.Status,
					CurrentStageID: s.CurrentStageID,
					Version:        s.Version,
				}
			}
			formatter.VerboseLog("Listed %d run(s) in %s/%s", len(out.Runs), opts.TenantID, opts.NamespaceID)
			return formatter.Success(out)
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only runs in these statuses")
	cmd.Flags().StringSliceVar(&stages, "stage", nil, "only runs currently in these stages")
	cmd.Flags().StringSliceVar(&scenarios, "scenario", nil, "only runs of these scenarios")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum runs to list (0 lists all)")

	return cmd
}

// parseTargets parses kind:value dispatch targets.
func parseTargets(specs []string) ([]core.DispatchTarget, error) {
	targets := make([]core.DispatchTarget, 0, len(specs))
	for _, s := range specs {
		kind, value, ok := strings.Cut(s, ":")
		if !ok || value == "" {
			return nil, fmt.Errorf("target %q: want kind:value", s)
		}
		t := core.DispatchTarget{Kind: core.TargetKind(kind)}
		switch t.Kind {
		case core.TargetAgent:
			t.AgentID = value
		case core.TargetSession:
			t.SessionID = value
		case core.TargetChannel:
			t.Channel = value
		case core.TargetExternal:
			system, target, ok := strings.Cut(value, "/")
			if !ok {
				return nil, fmt.Errorf("target %q: external targets are system/target", s)
			}
			t.System, t.Target = system, target
		default:
			return nil, fmt.Errorf("target %q: unknown kind %q", s, kind)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("target %q: %w", s, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}
