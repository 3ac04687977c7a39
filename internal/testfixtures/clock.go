package testfixtures

import (
	"sync"
	"time"
)

// Clock is a manual time source. A ticking clock moves forward by a fixed
// step after every read, which gives successive session updates distinct
// timestamps without sleeping.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock starts a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

// Ticking makes every Now call advance the clock by step afterwards.
func (c *Clock) Ticking(step time.Duration) *Clock {
	c.mu.Lock()
	c.step = step
	c.mu.Unlock()
	return c
}

// Now returns the clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Func returns Now for injection as a clock hook.
func (c *Clock) Func() func() time.Time {
	return c.Now
}

// Advance jumps forward by d, for example past a session TTL, and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
