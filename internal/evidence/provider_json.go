package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dgate/internal/core"
)

const defaultJSONMaxBytes = 1 << 20

// JSONConfig configures the json provider. Root is the only directory
// files may be read from; RootID names it in evidence references.
type JSONConfig struct {
	Root      string `yaml:"root"`
	RootID    string `yaml:"root_id"`
	MaxBytes  int64  `yaml:"max_bytes"`
	AllowYAML bool   `yaml:"allow_yaml"`
}

// JSONProvider answers the "path" check: read params.file under the root,
// parse it as JSON (or YAML when enabled) and select params.jsonpath.
//
// File-level failures are returned as results carrying an error, so the
// reference and anchor are still recorded.
type JSONProvider struct {
	cfg  JSONConfig
	root string
}

// NewJSONProvider validates the root and builds the provider.
func NewJSONProvider(cfg JSONConfig) (*JSONProvider, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("json provider requires root")
	}
	if cfg.RootID == "" {
		return nil, fmt.Errorf("json provider requires root_id")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultJSONMaxBytes
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve json root: %w", err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve json root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat json root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("json root %s is not a directory", root)
	}
	return &JSONProvider{cfg: cfg, root: root}, nil
}

func (p *JSONProvider) Checks() []string { return []string{"path"} }

func (p *JSONProvider) Query(_ context.Context, q core.EvidenceQuery, _ core.EvidenceContext) (core.EvidenceResult, error) {
	if q.CheckID != "path" {
		return core.EvidenceResult{}, unsupportedCheck(q)
	}
	m, err := paramsObject(q)
	if err != nil {
		return core.EvidenceResult{}, err
	}
	file, err := stringParam(q, m, "file")
	if err != nil {
		return core.EvidenceResult{}, err
	}
	jsonpath := ""
	if _, ok := m["jsonpath"]; ok {
		if jsonpath, err = stringParam(q, m, "jsonpath"); err != nil {
			return core.EvidenceResult{}, err
		}
	}

	rel := filepath.ToSlash(filepath.Clean(file))
	ref := &core.EvidenceRef{URI: "dg+file://" + p.cfg.RootID + "/" + rel}
	anchor := &core.EvidenceAnchor{AnchorType: "file_path_rooted", AnchorValue: p.cfg.RootID + ":" + rel}
	fail := func(code, format string, args ...any) (core.EvidenceResult, error) {
		return core.EvidenceResult{
			Error:          &core.EvidenceError{Code: code, Message: fmt.Sprintf(format, args...), Details: map[string]any{"file": file}},
			EvidenceRef:    ref,
			EvidenceAnchor: anchor,
		}, nil
	}

	abs, code, err := p.resolve(file)
	if err != nil {
		return fail(code, "%v", err)
	}
	data, err := readLimited(abs, p.cfg.MaxBytes)
	if err != nil {
		return fail("file_read_failed", "%v", err)
	}

	contentType := "application/json"
	if ext := strings.ToLower(filepath.Ext(abs)); ext == ".yaml" || ext == ".yml" {
		if !p.cfg.AllowYAML {
			return fail("yaml_not_allowed", "yaml documents are disabled")
		}
		if data, err = yamlToJSON(data); err != nil {
			return fail("invalid_yaml", "%v", err)
		}
		contentType = "application/yaml"
	}

	value, found, err := selectPath(data, jsonpath)
	if err != nil {
		return fail("invalid_document", "%v", err)
	}
	if !found {
		return fail("jsonpath_not_found", "jsonpath not found: %s", jsonpath)
	}
	return core.EvidenceResult{
		Value:          core.JSONValue(value),
		Lane:           core.LaneVerified,
		EvidenceRef:    ref,
		EvidenceAnchor: anchor,
		ContentType:    contentType,
	}, nil
}

// resolve maps a relative file param to an absolute path under the root.
func (p *JSONProvider) resolve(file string) (string, string, error) {
	if file == "" {
		return "", "path_missing", fmt.Errorf("file path is empty")
	}
	if filepath.IsAbs(file) {
		return "", "absolute_path_forbidden", fmt.Errorf("file path must be relative to the configured root")
	}
	abs, err := filepath.EvalSymlinks(filepath.Join(p.root, file))
	if err != nil {
		return "", "file_not_found", fmt.Errorf("unable to resolve %s", file)
	}
	rel, err := filepath.Rel(p.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "path_outside_root", fmt.Errorf("%s escapes the configured root", file)
	}
	return abs, "", nil
}

func readLimited(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("file exceeds %d bytes", max)
	}
	return data, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// selectPath evaluates a dotted JSONPath subset ("$", "$.a.b[0]") against
// a JSON document using CUE path selection.
func selectPath(data []byte, jsonpath string) (any, bool, error) {
	expr, err := cuejson.Extract("evidence", data)
	if err != nil {
		return nil, false, err
	}
	// A context per call: cue.Context is not safe for concurrent use.
	v := cuecontext.New().BuildExpr(expr)
	if v.Err() != nil {
		return nil, false, v.Err()
	}

	sels, err := parseJSONPath(jsonpath)
	if err != nil {
		return nil, false, err
	}
	if len(sels) > 0 {
		v = v.LookupPath(cue.MakePath(sels...))
		if !v.Exists() {
			return nil, false, nil
		}
	}

	out, err := v.MarshalJSON()
	if err != nil {
		return nil, false, err
	}
	var value any
	if err := core.DecodeJSON(out, &value); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// parseJSONPath turns "$.a.b[2]" into CUE selectors. An empty path or "$"
// selects the whole document.
func parseJSONPath(path string) ([]cue.Selector, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "$" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "$.") && !strings.HasPrefix(path, "$[") {
		return nil, fmt.Errorf("jsonpath %q must start with $", path)
	}
	rest := path[1:]
	var sels []cue.Selector
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return nil, fmt.Errorf("jsonpath %q has an empty segment", path)
			}
			sels = append(sels, cue.Str(rest[:end]))
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("jsonpath %q has an unclosed index", path)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("jsonpath %q has an invalid index", path)
			}
			sels = append(sels, cue.Index(idx))
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("jsonpath %q is malformed", path)
		}
	}
	return sels, nil
}
