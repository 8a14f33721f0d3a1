package host

import (
	"sync"
	"time"
)

// SystemClock reads wall-clock time.
type SystemClock struct{}

// Now implements oracle.TimeSource.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// ManualClock is advanced explicitly. It never moves backwards.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

// NewManualClock starts at unix second start.
func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements oracle.TimeSource.
func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, truncated to whole seconds.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now += uint64(d / time.Second)
	c.mu.Unlock()
}

// Set moves the clock to ts if ts is not in the past.
func (c *ManualClock) Set(ts uint64) {
	c.mu.Lock()
	if ts > c.now {
		c.now = ts
	}
	c.mu.Unlock()
}
