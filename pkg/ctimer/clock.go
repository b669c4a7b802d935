package ctimer

import (
	"sync"
	"time"
)

// Clock is the time source of a Runner. Now is called fresh on every cycle.
type Clock interface {
	Now() time.Time
	// After delivers on the returned channel once d has elapsed.
	// d <= 0 must deliver immediately.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// SystemClock returns the wall clock backed by package time.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FakeClock is a deterministic Clock.
//
// Every After call advances the fake time and fires immediately. With a
// non-zero step the time moves by exactly step per call, otherwise by the
// requested duration. Requested waits are recorded for inspection.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	waits []time.Duration
}

// NewFakeClock returns a FakeClock reading start. See FakeClock for step.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	return &FakeClock{now: start, step: step}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	adv := c.step
	if adv == 0 && d > 0 {
		adv = d
	}
	c.now = c.now.Add(adv)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Set moves the fake time to t (forwards or backwards).
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the fake time forward by d without a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Waits returns a copy of every duration passed to After so far.
func (c *FakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}
