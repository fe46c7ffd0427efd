package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/dgate/internal/core"
)

// ScriptedProvider answers evidence queries from a script keyed by
// provider and check id. Unscripted queries return an error, which the
// engine absorbs into Unknown.
//
// Thread-safety: All methods are safe for concurrent use.
type ScriptedProvider struct {
	mu        sync.Mutex
	providers map[string]bool
	results   map[string]core.EvidenceResult
	errs      map[string]error
	calls     []core.EvidenceQuery
}

// NewScriptedProvider binds the given provider ids.
func NewScriptedProvider(providerIDs ...string) *ScriptedProvider {
	p := &ScriptedProvider{
		providers: make(map[string]bool),
		results:   make(map[string]core.EvidenceResult),
		errs:      make(map[string]error),
	}
	for _, id := range providerIDs {
		p.providers[id] = true
	}
	return p
}

// Bind marks provider ids as bound without scripting any check.
func (p *ScriptedProvider) Bind(providerIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range providerIDs {
		p.providers[id] = true
	}
}

func scriptKey(providerID, checkID string) string {
	return providerID + "/" + checkID
}

// Set scripts the result of a check, replacing any earlier script.
func (p *ScriptedProvider) Set(providerID, checkID string, result core.EvidenceResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providers[providerID] = true
	delete(p.errs, scriptKey(providerID, checkID))
	p.results[scriptKey(providerID, checkID)] = result
}

// SetValue scripts a JSON value at the given lane.
func (p *ScriptedProvider) SetValue(providerID, checkID string, value any, lane core.TrustLane) {
	p.Set(providerID, checkID, core.EvidenceResult{Value: core.JSONValue(value), Lane: lane})
}

// SetError makes a check fail with err.
func (p *ScriptedProvider) SetError(providerID, checkID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providers[providerID] = true
	delete(p.results, scriptKey(providerID, checkID))
	p.errs[scriptKey(providerID, checkID)] = err
}

func (p *ScriptedProvider) Query(ctx context.Context, query core.EvidenceQuery, ec core.EvidenceContext) (core.EvidenceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, query)
	key := scriptKey(query.ProviderID, query.CheckID)
	if err, ok := p.errs[key]; ok {
		return core.EvidenceResult{}, err
	}
	if res, ok := p.results[key]; ok {
		return res, nil
	}
	return core.EvidenceResult{}, fmt.Errorf("no scripted result for %s", key)
}

// ValidateProviders fails for provider ids that were never bound.
func (p *ScriptedProvider) ValidateProviders(spec *core.ScenarioSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var missing []string
	for _, c := range spec.Conditions {
		if !p.providers[c.Query.ProviderID] {
			missing = append(missing, c.Query.ProviderID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("unbound providers: %v", missing)
	}
	return nil
}

// Calls returns the number of queries answered so far.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
