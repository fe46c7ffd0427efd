package testutil

import (
	"sync"

	"github.com/roach88/dgate/internal/core"
)

// DeterministicClock provides a thread-safe monotonic logical clock for tests.
//
// Trigger times built from it are logical timestamps, so stage timeouts in
// tests are measured in ticks.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	tick int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns logical:1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances one tick and returns the new time.
func (c *DeterministicClock) Next() core.Timestamp {
	return c.Advance(1)
}

// Advance moves the clock forward n ticks and returns the new time.
func (c *DeterministicClock) Advance(n int64) core.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick += n
	return core.Logical(c.tick)
}

// Current returns the current time without advancing.
func (c *DeterministicClock) Current() core.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return core.Logical(c.tick)
}

// Reset resets the clock to 0.
//
// Used for test reuse. After Reset(), the next call to Next() returns logical:1.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = 0
}
