package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledSpec summarizes one compiled scenario.
type CompiledSpec struct {
	Path        string `json:"path"`
	ScenarioID  string `json:"scenario_id"`
	NamespaceID string `json:"namespace_id"`
	SpecVersion string `json:"spec_version"`
	SpecHash    string `json:"spec_hash"`
	Stages      int    `json:"stages"`
	Conditions  int    `json:"conditions"`
}

// CompilationResult holds every compiled scenario.
type CompilationResult struct {
	Specs  []CompiledSpec `json:"specs"`
	Output string         `json:"output,omitempty"`
}

func (r *CompilationResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "✓ Compiled %d spec(s)\n\n", len(r.Specs))
	for _, s := range r.Specs {
		fmt.Fprintf(w, "  %s@%s (%s): %d stage(s), %d condition(s)\n",
			s.ScenarioID, s.SpecVersion, s.NamespaceID, s.Stages, s.Conditions)
		fmt.Fprintf(w, "    %s\n", s.SpecHash)
	}
	if r.Output != "" {
		fmt.Fprintf(w, "\nWrote canonical spec to %s\n", r.Output)
	}
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <spec-path>",
		Short: "Compile specs to canonical JSON and print their hashes",
		Long: `Compile scenario specs (CUE, YAML or JSON) to their canonical JSON form.

Each spec is decoded, validated, and hashed over its RFC 8785 canonical
encoding. The hash is the value a run binds to at start, so two sources that
compile to the same hash are interchangeable.

Examples:
  dgate compile ./specs/release.cue
  dgate compile ./specs --format json
  dgate compile ./specs/release.yaml -o release.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the canonical spec to this file (single spec only)")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	files, err := FindSpecFiles(path)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Found %d spec file(s) in %s", len(files), path)

	var (
		specs []*core.ScenarioSpec
		errs  []error
	)
	result := &CompilationResult{Specs: make([]CompiledSpec, 0, len(files))}
	for _, f := range files {
		formatter.VerboseLog("Compiling %s", f)
		spec, err := LoadSpec(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		hash, err := spec.Hash()
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeSpecInvalid, Message: fmt.Sprintf("%s: hash: %v", f, err)})
			continue
		}
		specs = append(specs, spec)
		result.Specs = append(result.Specs, CompiledSpec{
			Path:        f,
			ScenarioID:  spec.ScenarioID,
			NamespaceID: spec.NamespaceID,
			SpecVersion: spec.SpecVersion,
			SpecHash:    hash.String(),
			Stages:      len(spec.Stages),
			Conditions:  len(spec.Conditions),
		})
	}
	if len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}

	if opts.Output != "" {
		if len(specs) != 1 {
			return formatter.fail(ExitCommandError, ErrCodeGeneric,
				fmt.Sprintf("--output needs exactly one spec, got %d", len(specs)), nil)
		}
		if err := writeCanonical(specs[0], opts.Output); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeWriteFailed, "writing output file", err)
		}
		result.Output = opts.Output
	}

	return formatter.Success(result)
}

// outputLoadError reports a single load failure as a command error.
func outputLoadError(formatter *OutputFormatter, err error) error {
	code, message := parseCompileError(err)
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		code, message := parseCompileError(err)
		cliErrors[i] = CLIError{Code: code, Message: message}
	}

	if formatter.JSON() {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for i, err := range errs {
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", cliErrors[i].Code, cliErrors[i].Message)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeCanonical writes the spec's canonical JSON, the exact bytes its
// hash is computed over.
func writeCanonical(spec *core.ScenarioSpec, filename string) error {
	data, err := canonical.MarshalCanonical(spec)
	if err != nil {
		return fmt.Errorf("canonicalize spec: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}
