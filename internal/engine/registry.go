package engine

import (
	"sort"
	"sync"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

// RegisteredScenario is an immutable spec with its content hash.
type RegisteredScenario struct {
	Spec *core.ScenarioSpec
	Hash canonical.HashDigest
}

type scenarioKey struct {
	namespaceID string
	scenarioID  string
}

// Registry holds registered scenarios keyed by namespace and scenario id.
// A spec is identified by its canonical hash; an id can never be rebound
// to different content.
type Registry struct {
	mu   sync.RWMutex
	byID map[scenarioKey]*RegisteredScenario
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[scenarioKey]*RegisteredScenario)}
}

// Register stores a deep copy of spec. The caller must have validated it.
func (r *Registry) Register(spec *core.ScenarioSpec) (*RegisteredScenario, error) {
	hash, err := spec.Hash()
	if err != nil {
		return nil, newError(ErrCodeCanonicalization, "", err, "hash scenario %q", spec.ScenarioID)
	}
	frozen, err := cloneSpec(spec)
	if err != nil {
		return nil, newError(ErrCodeCanonicalization, "", err, "copy scenario %q", spec.ScenarioID)
	}

	key := scenarioKey{namespaceID: spec.NamespaceID, scenarioID: spec.ScenarioID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[key]; ok {
		if existing.Hash.Equal(hash) {
			return existing, nil
		}
		return nil, newError(ErrCodeScenarioConflict, "", nil,
			"scenario %q already registered with hash %s", spec.ScenarioID, existing.Hash)
	}
	reg := &RegisteredScenario{Spec: frozen, Hash: hash}
	r.byID[key] = reg
	return reg, nil
}

// Lookup returns a registered scenario.
func (r *Registry) Lookup(namespaceID, scenarioID string) (*RegisteredScenario, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[scenarioKey{namespaceID: namespaceID, scenarioID: scenarioID}]
	return reg, ok
}

// List returns every registered scenario ordered by namespace then id.
func (r *Registry) List() []*RegisteredScenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RegisteredScenario, 0, len(r.byID))
	for _, reg := range r.byID {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spec.NamespaceID != out[j].Spec.NamespaceID {
			return out[i].Spec.NamespaceID < out[j].Spec.NamespaceID
		}
		return out[i].Spec.ScenarioID < out[j].Spec.ScenarioID
	})
	return out
}
