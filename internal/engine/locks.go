package engine

import (
	"sync"

	"github.com/roach88/dgate/internal/core"
)

// runLocks hands out one mutex per run key. Entries are reference counted
// and dropped once no caller holds or waits on them.
type runLocks struct {
	mu    sync.Mutex
	locks map[core.RunKey]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[core.RunKey]*runLock)}
}

// lock blocks until the caller holds key and returns the release func.
func (l *runLocks) lock(key core.RunKey) func() {
	l.mu.Lock()
	rl, ok := l.locks[key]
	if !ok {
		rl = &runLock{}
		l.locks[key] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
