package timectrl

import (
	"sync"
	"time"
)

// RealClock is the wall-clock source a VirtualClock scales. Production code
// uses SystemClock; tests drive a ManualClock so deadlines are deterministic.
type RealClock interface {
	// Now returns the current real time.
	Now() time.Time
}

// SystemClock reads the process wall clock.
type SystemClock struct{}

// Now implements RealClock.
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a RealClock that only moves when told to.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock constructs a ManualClock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements RealClock.
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
