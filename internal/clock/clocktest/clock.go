// Package clocktest provides a fixed clock for deterministic tests.
package clocktest

import (
	"sync"
	"time"
)

// Clock returns a configurable instant and can be advanced manually.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// At creates a Clock frozen at the given instant.
func At(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the configured instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
