package session

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into a single delayed invocation of
// fn. At most one invocation is pending at any time; each Trigger pushes the
// pending invocation out by the full delay. NewDebouncer should be used to
// create instances of Debouncer.
// It is safe for concurrent use by multiple goroutines.
type Debouncer struct {
	mu      sync.Mutex
	clock   Clock
	delay   time.Duration
	fn      func()
	timer   Timer
	stopped bool
}

// NewDebouncer creates a debouncer that invokes fn after delay.
func NewDebouncer(clock Clock, delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{
		clock: clock,
		delay: delay,
		fn:    fn,
	}
}

// Trigger schedules (or reschedules) the pending invocation.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = d.clock.AfterFunc(d.delay, d.fire)
}

// Stop cancels any pending invocation. The debouncer must not be used after
// Stop is called.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	stopped := d.stopped
	d.mu.Unlock()

	if !stopped {
		d.fn()
	}
}
