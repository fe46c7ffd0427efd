package evidence

import (
	"context"
	"os"

	"github.com/roach88/dgate/internal/core"
)

const (
	defaultEnvMaxValueBytes = 64 * 1024
	defaultEnvMaxKeyBytes   = 255
)

// EnvConfig configures the env provider. When Overrides is set it replaces
// the process environment entirely.
type EnvConfig struct {
	Allowlist     []string          `yaml:"allowlist"`
	Denylist      []string          `yaml:"denylist"`
	MaxValueBytes int               `yaml:"max_value_bytes"`
	MaxKeyBytes   int               `yaml:"max_key_bytes"`
	Overrides     map[string]string `yaml:"overrides"`
}

// EnvProvider reads environment variables through the "get" check.
// A missing variable yields a result with no value.
type EnvProvider struct {
	cfg   EnvConfig
	allow map[string]bool
	deny  map[string]bool
}

// NewEnvProvider builds an env provider.
func NewEnvProvider(cfg EnvConfig) *EnvProvider {
	if cfg.MaxValueBytes <= 0 {
		cfg.MaxValueBytes = defaultEnvMaxValueBytes
	}
	if cfg.MaxKeyBytes <= 0 {
		cfg.MaxKeyBytes = defaultEnvMaxKeyBytes
	}
	p := &EnvProvider{cfg: cfg, deny: toSet(cfg.Denylist)}
	if cfg.Allowlist != nil {
		p.allow = toSet(cfg.Allowlist)
	}
	return p
}

func (p *EnvProvider) Checks() []string { return []string{"get"} }

func (p *EnvProvider) Query(_ context.Context, q core.EvidenceQuery, _ core.EvidenceContext) (core.EvidenceResult, error) {
	if q.CheckID != "get" {
		return core.EvidenceResult{}, unsupportedCheck(q)
	}
	m, err := paramsObject(q)
	if err != nil {
		return core.EvidenceResult{}, err
	}
	key, err := stringParam(q, m, "key")
	if err != nil {
		return core.EvidenceResult{}, err
	}
	if key == "" || len(key) > p.cfg.MaxKeyBytes {
		return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeParamsInvalid, "env key length out of range")
	}
	if p.deny[key] || (p.allow != nil && !p.allow[key]) {
		return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeProviderError, "env key blocked by policy")
	}

	value, found := p.lookup(key)
	result := core.EvidenceResult{
		Lane:           core.LaneVerified,
		EvidenceAnchor: &core.EvidenceAnchor{AnchorType: "env", AnchorValue: key},
	}
	if !found {
		return result, nil
	}
	if len(value) > p.cfg.MaxValueBytes {
		return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeProviderError, "env value exceeds size limit")
	}
	result.Value = core.JSONValue(value)
	result.ContentType = "text/plain"
	return result, nil
}

func (p *EnvProvider) lookup(key string) (string, bool) {
	if p.cfg.Overrides != nil {
		v, ok := p.cfg.Overrides[key]
		return v, ok
	}
	return os.LookupEnv(key)
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}
