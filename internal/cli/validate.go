package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dgate/internal/compiler"
	"github.com/roach88/dgate/internal/core"
)

// ValidationIssue is one error found in a spec file.
type ValidationIssue struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                   `json:"valid"`
	Files    int                    `json:"files"`
	Errors   []ValidationIssue      `json:"errors,omitempty"`
	Warnings []compiler.LintWarning `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <spec-path>",
		Short: "Validate specs and lint their stage graphs",
		Long: `Validate scenario specs without registering them.

Checks structure (unique ids, defined conditions, valid comparators, trust
lanes, timeouts and branch targets) and reports lint warnings such as unused
conditions, unreachable stages and stage loops. Warnings never fail
validation unless --strict is set.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], strict, cmd)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat lint warnings as failures")

	return cmd
}

func runValidate(opts *RootOptions, path string, strict bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	files, err := FindSpecFiles(path)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Found %d spec file(s) in %s", len(files), path)

	result := ValidationResult{Files: len(files)}
	for _, f := range files {
		formatter.VerboseLog("Validating %s", f)
		issues, warnings := validateFile(f)
		result.Errors = append(result.Errors, issues...)
		result.Warnings = append(result.Warnings, warnings...)
	}
	result.Valid = len(result.Errors) == 0 && (!strict || len(result.Warnings) == 0)

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// validateFile compiles one file and lints it when it is structurally
// valid.
func validateFile(path string) ([]ValidationIssue, []compiler.LintWarning) {
	spec, err := compiler.LoadFile(path)
	if err != nil {
		return specIssues(path, err), nil
	}
	return nil, compiler.Lint(spec)
}

// specIssues flattens a load failure into per-field issues.
func specIssues(path string, err error) []ValidationIssue {
	var specErrs core.SpecErrors
	if errors.As(err, &specErrs) {
		issues := make([]ValidationIssue, len(specErrs))
		for i, se := range specErrs {
			issues[i] = ValidationIssue{File: path, Code: string(se.Code), Field: se.Path, Message: se.Message}
		}
		return issues
	}
	var specErr *core.SpecError
	if errors.As(err, &specErr) {
		return []ValidationIssue{{File: path, Code: string(specErr.Code), Field: specErr.Path, Message: specErr.Message}}
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		issue := ValidationIssue{
			File:    path,
			Code:    MapFieldToErrorCode(compileErr.Field),
			Field:   compileErr.Field,
			Message: compileErr.Message,
		}
		if compileErr.Pos.IsValid() {
			issue.Line = compileErr.Pos.Line()
		}
		return []ValidationIssue{issue}
	}
	return []ValidationIssue{{File: path, Code: ErrCodeLoadFailed, Message: err.Error()}}
}

func (r ValidationResult) renderWarnings(w io.Writer) {
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  warning %s\n", warn)
	}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ All specs valid")
	if len(result.Warnings) > 0 {
		fmt.Fprintln(formatter.Writer)
		result.renderWarnings(formatter.Writer)
	}
	return nil
}

// outputValidationErrors outputs every validation error. Validation
// failures exit with ExitFailure.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	if len(result.Errors) == 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d warning(s) in strict mode", len(result.Warnings)))
	}

	if formatter.JSON() {
		cliErr := &CLIError{Code: "W100", Message: failure.Message}
		if len(result.Errors) > 0 {
			cliErr = &CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].Message}
		}
		if err := formatter.encode(CLIResponse{Status: "error", Data: result, Error: cliErr}); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range result.Errors {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		} else {
			fmt.Fprintln(formatter.Writer, issue.File)
		}
		if issue.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s at %s: %s\n\n", issue.Code, issue.Field, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}
	result.renderWarnings(formatter.Writer)

	return failure
}
