package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/runpack"
)

// RunpackOptions holds flags for the runpack subcommands.
type RunpackOptions struct {
	*RootOptions
	TenantID    string
	NamespaceID string
	RunID       string
	Dir         string // overrides runpack.dir and S3
}

func (o *RunpackOptions) key(spec *core.ScenarioSpec) core.RunKey {
	ns := o.NamespaceID
	if ns == "" && spec != nil {
		ns = spec.NamespaceID
	}
	return core.RunKey{TenantID: o.TenantID, NamespaceID: ns, RunID: o.RunID}
}

// NewRunpackCommand creates the runpack command.
func NewRunpackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunpackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runpack",
		Short: "Export and verify run audit bundles",
		Long: `Export a run as a runpack, a manifest-indexed bundle of the spec, run
state, decision log, gate evaluations, packets and submissions, and verify
runpacks offline.

Runpacks are written to runpack.dir/<tenant>/<namespace>/<run>, to S3 when
runpack.s3.bucket is configured, or to --dir.`,
	}

	cmd.PersistentFlags().StringVar(&opts.TenantID, "tenant", "default", "tenant id")
	cmd.PersistentFlags().StringVar(&opts.NamespaceID, "namespace", "", "namespace id (defaults to the spec's namespace)")
	cmd.PersistentFlags().StringVar(&opts.RunID, "run-id", "", "run id")
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "runpack directory")

	cmd.AddCommand(newRunpackBuildCommand(opts))
	cmd.AddCommand(newRunpackVerifyCommand(opts))

	return cmd
}

// buildReport is the result of a runpack build.
type buildReport struct {
	Location string            `json:"location"`
	Manifest *runpack.Manifest `json:"manifest"`
	Verified *runpack.Report   `json:"verified,omitempty"`
}

func (r buildReport) renderText(w io.Writer) {
	m := r.Manifest
	fmt.Fprintf(w, "✓ Runpack for %s written to %s\n", m.RunID, r.Location)
	fmt.Fprintf(w, "  artifacts: %d\n  run version: %d\n  root hash: %s\n",
		len(m.Artifacts), m.RunVersion, m.Integrity.RootHash)
	if r.Verified != nil {
		fmt.Fprintf(w, "  verification: %s\n", r.Verified.Status)
	}
}

func newRunpackBuildCommand(opts *RunpackOptions) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "build <spec-file>",
		Short: "Export a run as a runpack",
		Long: `Snapshot a stored run into a runpack. The spec must be the one the run
was started from; a hash mismatch is refused. With --verify the pack is read
back and verified, and the report is included as an optional artifact.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunpackBuild(opts, args[0], verify, cmd)
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "verify after writing and embed the report")

	return cmd
}

func runRunpackBuild(opts *RunpackOptions, specPath string, verify bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.RunID == "" {
		return NewExitError(ExitCommandError, "--run-id is required")
	}

	spec, err := LoadSpec(specPath)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	logger := cfg.NewLogger(formatter.GetErrWriter(), opts.Verbose)

	ctx, stop := commandContext(cmd)
	defer stop()

	st, _, closer, err := openStore(ctx, cfg)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeBuildFailed, "open store", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	key := opts.key(spec)
	state, err := st.Load(ctx, key)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "load run", err)
	}
	if state == nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", key), nil)
	}

	sink, location, err := openArtifacts(ctx, cfg, opts.Dir, key)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeBuildFailed, "open runpack store", err)
	}
	buildOpts := []runpack.BuildOption{runpack.WithBuildLogger(logger)}
	if verify {
		buildOpts = append(buildOpts, runpack.WithVerifierReport())
	}
	manifest, err := runpack.Build(ctx, spec, state, sink, buildOpts...)
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeBuildFailed, "build runpack", err)
	}

	result := buildReport{Location: location, Manifest: manifest}
	if verify {
		report, err := runpack.Verify(ctx, sink)
		if report == nil {
			return formatter.fail(ExitCommandError, ErrCodeVerifyFailed, "verify runpack", err)
		}
		result.Verified = report
		if report.Status != runpack.StatusPass {
			_ = formatter.Failure(ErrCodeVerifyFailed, "runpack failed verification", result)
			return NewExitError(ExitFailure, "runpack failed verification")
		}
	}
	return formatter.Success(result)
}

// verifyReport wraps a verification report for text rendering.
type verifyReport struct {
	Location string `json:"location"`
	*runpack.Report
}

func (r verifyReport) renderText(w io.Writer) {
	if r.Status == runpack.StatusPass {
		fmt.Fprintf(w, "✓ Runpack verified (%d file(s) checked)\n", r.CheckedFiles)
		return
	}
	fmt.Fprintln(w, "✗ Runpack verification failed")
	fmt.Fprintln(w)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func newRunpackVerifyCommand(opts *RunpackOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [runpack-dir]",
		Short: "Verify a runpack offline",
		Long: `Verify a runpack without any store or engine: the manifest version,
every artifact and file hash, the root hash, the decision log's structure,
and that the run state matches the manifest.

The runpack is read from the given directory, or from the location a build
for --run-id would have written to.

Exit codes:
  0 - Runpack verified
  1 - Verification failed
  2 - Command error (runpack unreadable, etc.)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			return runRunpackVerify(opts, dir, cmd)
		},
	}
}

func runRunpackVerify(opts *RunpackOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if dir == "" && (opts.RunID == "" || opts.NamespaceID == "") {
		return NewExitError(ExitCommandError, "a runpack directory or --run-id with --namespace is required")
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	reader, location, err := openArtifacts(ctx, cfg, dir, opts.key(nil))
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, "open runpack", err)
	}
	formatter.VerboseLog("Verifying runpack at %s", location)

	// A report comes back for every pack whose manifest could be read;
	// its errors are verification failures, not command errors.
	report, err := runpack.Verify(ctx, reader)
	if report == nil {
		return formatter.fail(ExitCommandError, ErrCodeLoadFailed, "read runpack", err)
	}
	result := verifyReport{Location: location, Report: report}
	if report.Status != runpack.StatusPass {
		_ = formatter.Failure(ErrCodeVerifyFailed, "runpack failed verification", result)
		return NewExitError(ExitFailure, fmt.Sprintf("runpack failed verification with %d error(s)", len(report.Errors)))
	}
	return formatter.Success(result)
}
