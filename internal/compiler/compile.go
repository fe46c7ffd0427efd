// Package compiler turns scenario spec source files into validated
// core.ScenarioSpec values and statically analyses their stage graphs.
//
// Specs may be written in CUE (.cue), YAML (.yaml, .yml) or JSON (.json).
// A CUE file may declare the scenario at the top level or under a
// "scenario" field, which lets authors keep helper definitions alongside.
package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dgate/internal/core"
)

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads a spec file, picking the decoder from its extension, and
// validates the result.
func LoadFile(path string) (*core.ScenarioSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	return CompileBytes(path, data)
}

// CompileBytes decodes data according to filename's extension.
func CompileBytes(filename string, data []byte) (*core.ScenarioSpec, error) {
	var (
		spec *core.ScenarioSpec
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".cue":
		ctx := cuecontext.New()
		v := ctx.CompileBytes(data, cue.Filename(filename))
		spec, err = decodeCUE(v)
	case ".yaml", ".yml":
		spec, err = decodeYAML(data)
	case ".json":
		spec, err = decodeJSON(data)
	default:
		return nil, &CompileError{Field: "file", Message: fmt.Sprintf("unsupported spec extension %q", filepath.Ext(filename))}
	}
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Compile converts an evaluated CUE value into a validated spec.
func Compile(v cue.Value) (*core.ScenarioSpec, error) {
	spec, err := decodeCUE(v)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func decodeCUE(v cue.Value) (*core.ScenarioSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if nested := v.LookupPath(cue.ParsePath("scenario")); nested.Exists() {
		v = nested
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	spec, err := decodeJSON(raw)
	if err != nil {
		return nil, &CompileError{Field: "scenario", Message: err.Error(), Pos: v.Pos()}
	}
	return spec, nil
}

func decodeYAML(data []byte) (*core.ScenarioSpec, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &CompileError{Field: "yaml", Message: err.Error()}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &CompileError{Field: "yaml", Message: err.Error()}
	}
	return decodeJSON(raw)
}

func decodeJSON(data []byte) (*core.ScenarioSpec, error) {
	var spec core.ScenarioSpec
	if err := core.DecodeJSON(data, &spec); err != nil {
		return nil, &CompileError{Field: "json", Message: err.Error()}
	}
	return &spec, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
