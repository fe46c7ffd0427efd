// Package config loads dgate configuration from a YAML file with
// DGATE_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/evidence"
	"github.com/roach88/dgate/internal/policy"
	"github.com/roach88/dgate/internal/ret"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Dispatch modes.
const (
	DispatchLog    = "log"
	DispatchOutbox = "outbox"
)

// Config is the full dgate configuration.
type Config struct {
	Store      StoreConfig            `yaml:"store"`
	Engine     EngineConfig           `yaml:"engine"`
	Providers  evidence.BuiltinConfig `yaml:"providers"`
	Policy     PolicyConfig           `yaml:"policy"`
	DataShapes []DataShapeFile        `yaml:"data_shapes"`
	Runpack    RunpackConfig          `yaml:"runpack"`
	Dispatch   DispatchConfig         `yaml:"dispatch"`
	Log        LogConfig              `yaml:"log"`
}

// StoreConfig selects the run state store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"` // file path for sqlite, connection string for postgres
}

// EngineConfig tunes evaluation.
type EngineConfig struct {
	LogicMode         string `yaml:"logic_mode"`
	ProviderTimeoutMs int64  `yaml:"provider_timeout_ms"`
	DefaultMinLane    string `yaml:"default_min_lane"`
	DispatchInitial   bool   `yaml:"dispatch_initial"`
}

// PolicyConfig holds the CEL disclosure rules.
type PolicyConfig struct {
	Default core.PolicyDecision `yaml:"default"`
	Rules   []policy.Rule       `yaml:"rules"`
}

// DataShapeFile registers a JSON Schema document from disk.
type DataShapeFile struct {
	SchemaID string `yaml:"schema_id"`
	Version  string `yaml:"version"`
	Path     string `yaml:"path"`
}

// RunpackConfig says where runpacks are written. S3 wins when a bucket is
// set.
type RunpackConfig struct {
	Dir string   `yaml:"dir"`
	S3  S3Config `yaml:"s3"`
}

// S3Config locates runpacks in S3.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// DispatchConfig selects the packet dispatcher.
type DispatchConfig struct {
	Mode      string `yaml:"mode"`
	OutboxDir string `yaml:"outbox_dir"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Driver: DriverSQLite, DSN: "dgate.db"},
		Engine: EngineConfig{
			LogicMode:         string(ret.Kleene),
			ProviderTimeoutMs: 5000,
			DefaultMinLane:    string(core.LaneVerified),
			DispatchInitial:   true,
		},
		Policy:   PolicyConfig{Default: core.PolicyPermit},
		Runpack:  RunpackConfig{Dir: "runpacks"},
		Dispatch: DispatchConfig{Mode: DispatchLog, OutboxDir: "outbox"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from DGATE_* variables.
func (c *Config) ApplyEnv() error {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	setString("DGATE_STORE_DRIVER", &c.Store.Driver)
	setString("DGATE_STORE_DSN", &c.Store.DSN)
	setString("DGATE_LOGIC_MODE", &c.Engine.LogicMode)
	setString("DGATE_DEFAULT_MIN_LANE", &c.Engine.DefaultMinLane)
	setString("DGATE_LOG_LEVEL", &c.Log.Level)
	setString("DGATE_LOG_FORMAT", &c.Log.Format)
	setString("DGATE_RUNPACK_DIR", &c.Runpack.Dir)
	setString("DGATE_RUNPACK_S3_BUCKET", &c.Runpack.S3.Bucket)
	setString("DGATE_RUNPACK_S3_PREFIX", &c.Runpack.S3.Prefix)
	setString("DGATE_DISPATCH_MODE", &c.Dispatch.Mode)
	setString("DGATE_OUTBOX_DIR", &c.Dispatch.OutboxDir)

	if v := os.Getenv("DGATE_PROVIDER_TIMEOUT_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("DGATE_PROVIDER_TIMEOUT_MS: %w", err)
		}
		c.Engine.ProviderTimeoutMs = ms
	}
	return nil
}

// Validate rejects unknown drivers, lanes, modes and levels.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if _, err := ret.ParseLogicMode(c.Engine.LogicMode); err != nil {
		errs = append(errs, fmt.Errorf("engine.logic_mode: %w", err))
	}
	if _, err := core.ParseTrustLane(c.Engine.DefaultMinLane); err != nil {
		errs = append(errs, fmt.Errorf("engine.default_min_lane: %w", err))
	}
	if c.Engine.ProviderTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("engine.provider_timeout_ms must be positive"))
	}
	switch c.Policy.Default {
	case "", core.PolicyPermit, core.PolicyDeny:
	default:
		errs = append(errs, fmt.Errorf("unknown policy.default %q", c.Policy.Default))
	}
	for i, s := range c.DataShapes {
		if s.SchemaID == "" || s.Path == "" {
			errs = append(errs, fmt.Errorf("data_shapes[%d]: schema_id and path are required", i))
		}
	}
	switch c.Dispatch.Mode {
	case DispatchLog:
	case DispatchOutbox:
		if c.Dispatch.OutboxDir == "" {
			errs = append(errs, fmt.Errorf("dispatch.outbox_dir is required in outbox mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dispatch.mode %q", c.Dispatch.Mode))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LogicMode returns the parsed logic mode.
func (c *Config) LogicMode() ret.LogicMode {
	m, _ := ret.ParseLogicMode(c.Engine.LogicMode)
	return m
}

// DefaultMinLane returns the parsed default lane.
func (c *Config) DefaultMinLane() core.TrustLane {
	l, err := core.ParseTrustLane(c.Engine.DefaultMinLane)
	if err != nil {
		return core.LaneVerified
	}
	return l
}

// ProviderTimeout returns the provider timeout as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Engine.ProviderTimeoutMs) * time.Millisecond
}

// SlogLevel parses log.level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds a logger writing to w. verbose forces Debug.
func (c *Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := c.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
