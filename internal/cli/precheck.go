package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/dispatch"
	"github.com/roach88/dgate/internal/engine"
	"github.com/roach88/dgate/internal/store"
)

// PrecheckOptions holds flags for the precheck command.
type PrecheckOptions struct {
	*RootOptions
	Stage    string
	Evidence string // YAML or JSON file mapping condition id to value
}

// precheckReport wraps the engine result for text rendering.
type precheckReport struct {
	*engine.PrecheckResult
}

func (r precheckReport) renderText(w io.Writer) {
	fmt.Fprintf(w, "stage %s: %s", r.StageID, r.Decision)
	if r.NextStageID != "" {
		fmt.Fprintf(w, " -> %s", r.NextStageID)
	}
	fmt.Fprintln(w)
	for _, g := range r.Gates {
		fmt.Fprintf(w, "  gate %s: %s\n", g.GateID, g.Status)
	}
	if r.Summary != nil && len(r.Summary.UnmetGates) > 0 {
		fmt.Fprintf(w, "  unmet: %s\n", strings.Join(r.Summary.UnmetGates, ", "))
	}
}

// NewPrecheckCommand creates the precheck command.
func NewPrecheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PrecheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "precheck <spec-file>",
		Short: "Dry-run a stage against asserted evidence",
		Long: `Evaluate a stage's gates against caller-supplied evidence without
touching any run, provider or dispatcher.

Supplied evidence is always treated as asserted, so gates that require
verified evidence stay unknown unless the configured default lane is
lowered to asserted.

Example evidence file:
  ci_green: green
  approved: true

Examples:
  dgate precheck ./specs/release.yaml --evidence evidence.yaml
  dgate precheck ./specs/release.yaml --stage ship --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrecheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage to evaluate (defaults to the initial stage)")
	cmd.Flags().StringVar(&opts.Evidence, "evidence", "", "evidence file (YAML or JSON map of condition id to value)")

	return cmd
}

func runPrecheck(opts *PrecheckOptions, specPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	spec, err := LoadSpec(specPath)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	evidence := map[string]core.EvidenceResult{}
	if opts.Evidence != "" {
		if evidence, err = loadEvidenceFile(opts.Evidence); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeEvidenceFile, "reading evidence", err)
		}
	}
	formatter.VerboseLog("Prechecking %s with %d evidence value(s)", spec.ScenarioID, len(evidence))

	// Precheck never reads the store or dispatches, so nothing is opened.
	logger := cfg.NewLogger(formatter.GetErrWriter(), opts.Verbose)
	eng := engine.New(store.NewMemoryStore(), nil, dispatch.NewLog(logger),
		engine.WithLogger(logger),
		engine.WithLogicMode(cfg.LogicMode()),
		engine.WithDefaultMinLane(cfg.DefaultMinLane()),
	)
	result, err := eng.Precheck(cmd.Context(), engine.PrecheckRequest{
		Spec:     spec,
		StageID:  opts.Stage,
		Evidence: evidence,
	})
	if err != nil {
		return outputEngineError(formatter, err)
	}
	return formatter.Success(precheckReport{result})
}

// loadEvidenceFile decodes a condition id to value map. YAML is a
// superset of JSON, so both formats decode the same way.
func loadEvidenceFile(path string) (map[string]core.EvidenceResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]core.EvidenceResult, len(raw))
	for id, v := range raw {
		out[id] = core.EvidenceResult{Value: core.JSONValue(v), Lane: core.LaneAsserted}
	}
	return out, nil
}

// outputEngineError reports an engine failure under its engine code.
// Missing runs and scenarios are command errors; everything else fails.
func outputEngineError(formatter *OutputFormatter, err error) error {
	code := engine.CodeOf(err)
	if code == "" {
		code = ErrCodeGeneric
	}
	_ = formatter.Error(string(code), engineMessage(err), nil)
	exit := ExitFailure
	if engine.IsNotFound(err) || engine.IsStoreError(err) {
		exit = ExitCommandError
	}
	return &ExitError{Code: exit, Err: err}
}

// engineMessage is err's text without the leading engine code, which the
// formatter already prints.
func engineMessage(err error) string {
	var e *engine.Error
	if errors.As(err, &e) {
		return strings.TrimPrefix(err.Error(), string(e.Code)+": ")
	}
	return err.Error()
}
