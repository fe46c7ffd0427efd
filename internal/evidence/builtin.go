package evidence

import (
	"fmt"
)

// BuiltinConfig selects and configures the built-in providers. The json
// provider is only registered when JSON.Root is set.
type BuiltinConfig struct {
	Time TimeConfig `yaml:"time"`
	Env  EnvConfig  `yaml:"env"`
	JSON JSONConfig `yaml:"json"`
	HTTP HTTPConfig `yaml:"http"`
}

// RegisterBuiltins binds the built-in providers under their conventional
// ids: time, env, json and http.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) error {
	if err := r.Register("time", NewTimeProvider(cfg.Time)); err != nil {
		return err
	}
	if err := r.Register("env", NewEnvProvider(cfg.Env)); err != nil {
		return err
	}
	if cfg.JSON.Root != "" {
		jp, err := NewJSONProvider(cfg.JSON)
		if err != nil {
			return fmt.Errorf("json provider: %w", err)
		}
		if err := r.Register("json", jp); err != nil {
			return err
		}
	}
	return r.Register("http", NewHTTPProvider(cfg.HTTP, nil))
}
