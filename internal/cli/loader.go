package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/token"

	"github.com/roach88/dgate/internal/compiler"
	"github.com/roach88/dgate/internal/config"
	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/datashape"
	"github.com/roach88/dgate/internal/dispatch"
	"github.com/roach88/dgate/internal/engine"
	"github.com/roach88/dgate/internal/evidence"
	"github.com/roach88/dgate/internal/policy"
	"github.com/roach88/dgate/internal/runpack"
	"github.com/roach88/dgate/internal/store"
)

// Error code constants - unified across all CLI commands. Engine failures
// are reported with the engine's own codes (VALIDATION, RUN_NOT_FOUND, ...).
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No spec files found
	ErrCodeLoadFailed  = "E004" // Spec or config load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // Runtime or runpack build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Spec errors
	ErrCodeSpecInvalid  = "E101" // Spec failed structural validation
	ErrCodeSpecDecode   = "E102" // Spec source could not be decoded
	ErrCodeSpecFormat   = "E103" // Unsupported spec file extension
	ErrCodeEvidenceFile = "E110" // Evidence file unreadable
	ErrCodePayloadFile  = "E111" // Payload file unreadable

	// Verification errors
	ErrCodeVerifyFailed = "E201" // Runpack verification failed
	ErrCodeReplayDiff   = "E202" // Replay diverged from the recorded log
	ErrCodeTestFailed   = "E203" // One or more scenarios failed
)

// LoadError represents an error that occurred during spec loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// specExtensions are the source formats the compiler accepts.
var specExtensions = map[string]bool{".cue": true, ".yaml": true, ".yml": true, ".json": true}

// FindSpecFiles expands a path into spec files. A directory yields its
// spec files in sorted order.
func FindSpecFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", path, err)}
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && specExtensions[filepath.Ext(p)] {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no spec files found in %s", path)}
	}
	return files, nil
}

// LoadSpec compiles one spec file, mapping failures to LoadErrors.
func LoadSpec(path string) (*core.ScenarioSpec, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("spec file not found: %s", path)}
	}
	spec, err := compiler.LoadFile(path)
	if err != nil {
		return nil, convertCompileError(err, path)
	}
	return spec, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeSpecInvalid,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "scenario", "cue", "yaml", "json":
		return ErrCodeSpecDecode
	case "file":
		return ErrCodeSpecFormat
	default:
		return ErrCodeSpecInvalid
	}
}

// runtime is the wired engine stack a run command operates on.
type runtime struct {
	cfg    *config.Config
	store  core.RunStateStore
	lister store.Lister
	engine *engine.Engine
	logger *slog.Logger
	closer io.Closer
}

func (r *runtime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// loadConfig reads the file named by --config, or the defaults.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	}
	return cfg, nil
}

// openStore opens the configured run store.
func openStore(ctx context.Context, cfg *config.Config) (core.RunStateStore, store.Lister, io.Closer, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		m := store.NewMemoryStore()
		return m, m, nil, nil
	case config.DriverSQLite:
		s, err := store.Open(cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s, nil
	case config.DriverPostgres:
		p, err := store.OpenPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return p, p, p, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// newDispatcher builds the configured dispatcher and its receipt name.
func newDispatcher(cfg *config.Config, logger *slog.Logger) (core.Dispatcher, string, error) {
	switch cfg.Dispatch.Mode {
	case config.DispatchOutbox:
		o, err := dispatch.NewOutbox(cfg.Dispatch.OutboxDir)
		if err != nil {
			return nil, "", err
		}
		return o, "outbox", nil
	default:
		return dispatch.NewLog(logger), "log", nil
	}
}

// newShapes registers the configured schema documents.
func newShapes(cfg *config.Config) (*datashape.Registry, error) {
	reg := datashape.NewRegistry()
	for _, f := range cfg.DataShapes {
		doc, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("data shape %s: %w", f.SchemaID, err)
		}
		if err := reg.RegisterDocument(f.SchemaID, f.Version, doc); err != nil {
			return nil, fmt.Errorf("data shape %s: %w", f.SchemaID, err)
		}
	}
	return reg, nil
}

// openRuntime wires store, providers, dispatcher, policy and data shapes
// from the config, then registers the spec on a fresh engine.
func openRuntime(ctx context.Context, opts *RootOptions, spec *core.ScenarioSpec, diag io.Writer) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(diag, opts.Verbose)

	st, lister, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt := &runtime{cfg: cfg, store: st, lister: lister, logger: logger, closer: closer}

	providers := evidence.NewRegistry()
	if err := evidence.RegisterBuiltins(providers, cfg.Providers); err != nil {
		rt.Close()
		return nil, fmt.Errorf("register providers: %w", err)
	}
	dispatcher, name, err := newDispatcher(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	decider, err := policy.NewCELDecider(cfg.Policy.Rules, cfg.Policy.Default)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("policy: %w", err)
	}
	shapes, err := newShapes(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if spec != nil {
		for _, ds := range spec.DataShapes {
			if err := shapes.Register(ds); err != nil {
				rt.Close()
				return nil, fmt.Errorf("data shape %s: %w", ds.SchemaID, err)
			}
		}
	}

	rt.engine = engine.New(st, providers, dispatcher,
		engine.WithLogger(logger),
		engine.WithLogicMode(cfg.LogicMode()),
		engine.WithDefaultMinLane(cfg.DefaultMinLane()),
		engine.WithProviderTimeout(cfg.ProviderTimeout()),
		engine.WithPolicy(decider),
		engine.WithDataShapes(shapes),
		engine.WithDispatcherName(name),
	)
	if spec != nil {
		if _, err := rt.engine.RegisterScenario(spec); err != nil {
			rt.Close()
			return nil, err
		}
	}
	return rt, nil
}

// openArtifacts returns the runpack store for a run: S3 when a bucket is
// configured, otherwise a directory under runpack.dir (or dir when given).
func openArtifacts(ctx context.Context, cfg *config.Config, dir string, key core.RunKey) (interface {
	runpack.ArtifactSink
	runpack.ArtifactReader
}, string, error) {
	if dir == "" && cfg.Runpack.S3.Bucket != "" {
		prefix := cfg.Runpack.S3.Prefix
		if prefix == "" {
			prefix = key.TenantID + "/" + key.NamespaceID + "/" + key.RunID + "/"
		}
		s3, err := runpack.NewS3Store(ctx, runpack.S3Config{
			Bucket:   cfg.Runpack.S3.Bucket,
			Region:   cfg.Runpack.S3.Region,
			Endpoint: cfg.Runpack.S3.Endpoint,
			Prefix:   prefix,
		})
		if err != nil {
			return nil, "", err
		}
		return s3, "s3://" + cfg.Runpack.S3.Bucket + "/" + prefix, nil
	}
	if dir == "" {
		dir = filepath.Join(cfg.Runpack.Dir, key.TenantID, key.NamespaceID, key.RunID)
	}
	ds, err := runpack.NewDirStore(dir)
	if err != nil {
		return nil, "", err
	}
	return ds, ds.Root(), nil
}
