// Package datashape validates payloads against JSON Schema (draft
// 2020-12) documents registered by schema id and version.
package datashape

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/dgate/internal/core"
)

const schemaBase = "https://dgate.schemas.local/"

// ErrUnknownShape is returned when validating against an unregistered
// schema.
var ErrUnknownShape = errors.New("unknown data shape")

// ValidationError reports a payload that does not match its schema.
type ValidationError struct {
	SchemaID string
	Version  string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload does not match %s: %v", shapeKey(e.SchemaID, e.Version), e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Registry is a concurrency-safe core.DataShapeRegistry.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
	hashes  map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*jsonschema.Schema),
		hashes:  make(map[string]string),
	}
}

func shapeKey(schemaID, version string) string {
	if version == "" {
		return schemaID
	}
	return schemaID + "@" + version
}

// Register compiles shape.Schema. Registering the same document twice is a
// no-op; a different document under the same id and version is an error.
func (r *Registry) Register(shape core.DataShapeRef) error {
	if shape.SchemaID == "" {
		return fmt.Errorf("data shape: schema_id is required")
	}
	if shape.Schema == nil {
		return fmt.Errorf("data shape %q: schema document is required", shape.SchemaID)
	}
	doc, err := json.Marshal(shape.Schema)
	if err != nil {
		return fmt.Errorf("data shape %q: %w", shape.SchemaID, err)
	}
	return r.RegisterDocument(shape.SchemaID, shape.Version, doc)
}

// RegisterDocument compiles a raw schema document.
func (r *Registry) RegisterDocument(schemaID, version string, doc []byte) error {
	key := shapeKey(schemaID, version)

	r.mu.RLock()
	existing, ok := r.hashes[key]
	r.mu.RUnlock()
	if ok {
		if existing == string(doc) {
			return nil
		}
		return fmt.Errorf("data shape %s already registered with a different schema", key)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaBase + key + ".schema.json"
	if err := c.AddResource(url, bytes.NewReader(doc)); err != nil {
		return fmt.Errorf("data shape %s: load: %w", key, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("data shape %s: compile: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[key] = compiled
	r.hashes[key] = string(doc)
	return nil
}

// Validate checks payload against the schema. An empty version falls back
// to the unversioned registration.
func (r *Registry) Validate(schemaID, version string, payload any) error {
	r.mu.RLock()
	s, ok := r.schemas[shapeKey(schemaID, version)]
	if !ok && version != "" {
		s, ok = r.schemas[schemaID]
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownShape, shapeKey(schemaID, version))
	}

	// The validator expects values as produced by encoding/json with
	// UseNumber; round-trip to normalize Go-typed payloads.
	data, err := json.Marshal(payload)
	if err != nil {
		return &ValidationError{SchemaID: schemaID, Version: version, Err: err}
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return &ValidationError{SchemaID: schemaID, Version: version, Err: err}
	}
	if err := s.Validate(v); err != nil {
		return &ValidationError{SchemaID: schemaID, Version: version, Err: err}
	}
	return nil
}

// IDs returns the registered shape keys, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
