package testutil

import (
	"sync"
	"time"
)

// Clock is a manually driven wall clock for tests.
//
// Pass Now wherever a func() time.Time is accepted (store.WithClock,
// escalate.Engine) so time windows resolve against a fixed instant instead
// of the real clock, however slowly the test runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current instant. It never moves on its own.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Unix returns the current instant in Unix seconds.
func (c *Clock) Unix() int64 {
	return c.Now().Unix()
}

// Advance moves the clock forward by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
