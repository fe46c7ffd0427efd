package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/queryir"
)

// MemoryStore keeps run state in process. Stored states are deep copies,
// so callers never alias stored data.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[core.RunKey]*core.RunState
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[core.RunKey]*core.RunState)}
}

// Load returns a copy of the stored state, or (nil, nil).
func (m *MemoryStore) Load(ctx context.Context, key core.RunKey) (*core.RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.runs[key]
	if !ok {
		return nil, nil
	}
	return s.Clone()
}

// Save stores a copy of state under compare-and-swap on its version.
func (m *MemoryStore) Save(ctx context.Context, state *core.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := state.Key()
	current, exists := m.runs[key]
	switch {
	case state.Version == 0 && exists:
		return fmt.Errorf("save %s: %w", key, core.ErrRunExists)
	case state.Version != 0 && (!exists || current.Version != state.Version):
		return fmt.Errorf("save %s at version %d: %w", key, state.Version, core.ErrVersionConflict)
	}

	stored, err := state.Clone()
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	stored.Version = state.Version + 1
	m.runs[key] = stored
	state.Version = stored.Version
	return nil
}

// List returns the runs of a namespace ordered by run id.
func (m *MemoryStore) List(ctx context.Context, tenantID, namespaceID string) ([]RunSummary, error) {
	return m.Query(ctx, queryir.Namespace(tenantID, namespaceID))
}

// Query returns the runs matching q ordered by run id.
func (m *MemoryStore) Query(ctx context.Context, q queryir.Select) ([]RunSummary, error) {
	if err := queryir.Validate(q); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []RunSummary{}
	for key, s := range m.runs {
		if key.TenantID != q.TenantID || key.NamespaceID != q.NamespaceID {
			continue
		}
		summary := summarize(s)
		if queryir.Match(q.Filter, summary.field) {
			out = append(out, summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.RunID < out[j].Key.RunID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
