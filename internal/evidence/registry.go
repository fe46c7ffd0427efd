package evidence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/dgate/internal/core"
)

// Provider answers queries for one provider_id.
type Provider interface {
	Query(ctx context.Context, query core.EvidenceQuery, ec core.EvidenceContext) (core.EvidenceResult, error)
}

// CheckLister is implemented by providers with a closed set of check ids.
// The registry uses it to reject specs at registration time.
type CheckLister interface {
	Checks() []string
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, query core.EvidenceQuery, ec core.EvidenceContext) (core.EvidenceResult, error)

func (f ProviderFunc) Query(ctx context.Context, query core.EvidenceQuery, ec core.EvidenceContext) (core.EvidenceResult, error) {
	return f(ctx, query, ec)
}

// Registry routes queries to providers by provider_id. It implements
// core.EvidenceProvider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds a provider id. Rebinding an id is an error.
func (r *Registry) Register(providerID string, p Provider) error {
	if providerID == "" {
		return fmt.Errorf("provider id is required")
	}
	if p == nil {
		return fmt.Errorf("provider %q is nil", providerID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[providerID]; exists {
		return fmt.Errorf("provider %q already registered", providerID)
	}
	r.providers[providerID] = p
	return nil
}

// IDs returns the bound provider ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Query dispatches to the provider bound to query.ProviderID.
func (r *Registry) Query(ctx context.Context, query core.EvidenceQuery, ec core.EvidenceContext) (core.EvidenceResult, error) {
	r.mu.RLock()
	p, ok := r.providers[query.ProviderID]
	r.mu.RUnlock()
	if !ok {
		return core.EvidenceResult{}, newProviderError(query.ProviderID, query.CheckID, CodeProviderMissing, "no provider bound")
	}
	return p.Query(ctx, query, ec)
}

// ValidateProviders fails closed when the spec references an unbound
// provider or a check a provider does not list.
func (r *Registry) ValidateProviders(spec *core.ScenarioSpec) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	missing := map[string]bool{}
	unsupported := map[string]bool{}
	for _, c := range spec.Conditions {
		p, ok := r.providers[c.Query.ProviderID]
		if !ok {
			missing[c.Query.ProviderID] = true
			continue
		}
		lister, ok := p.(CheckLister)
		if !ok {
			continue
		}
		supported := false
		for _, check := range lister.Checks() {
			if check == c.Query.CheckID {
				supported = true
				break
			}
		}
		if !supported {
			unsupported[c.Query.ProviderID+"/"+c.Query.CheckID] = true
		}
	}
	if len(missing) == 0 && len(unsupported) == 0 {
		return nil
	}
	return &ProviderMissingError{
		MissingProviders:  sortedKeys(missing),
		UnsupportedChecks: sortedKeys(unsupported),
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ core.EvidenceProvider = (*Registry)(nil)
