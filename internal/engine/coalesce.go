package engine

import (
	"sync"
	"time"
)

// coalescer merges bursts of triggers into a single callback. In
// debounce mode every trigger restarts the window, so the callback fires
// only after the window elapses with no further triggers. In throttle
// mode the first trigger arms the window and later triggers are absorbed,
// so the callback fires at a steady cadence during a continuous burst.
//
// The recompute scheduler uses debounce; the cap-snapshot refresher uses
// throttle (a resetting window would starve it during a drag).
type coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	reset   bool // debounce when true, throttle when false
	fn      func()
	timer   *time.Timer
	pending bool
	stopped bool
}

func newCoalescer(window time.Duration, reset bool, fn func()) *coalescer {
	return &coalescer{window: window, reset: reset, fn: fn}
}

// Trigger arms (or in debounce mode re-arms) the window.
func (c *coalescer) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.pending {
		if c.reset {
			c.timer.Reset(c.window)
		}
		return
	}
	c.pending = true
	c.timer = time.AfterFunc(c.window, c.fire)
}

func (c *coalescer) fire() {
	c.mu.Lock()
	if c.stopped || !c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.mu.Unlock()
	c.fn()
}

// Flush fires immediately if a callback is pending and cancels the timer.
func (c *coalescer) Flush() {
	c.mu.Lock()
	if c.stopped || !c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.timer.Stop()
	c.mu.Unlock()
	c.fn()
}

// Pending reports whether a callback is scheduled.
func (c *coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Stop cancels any scheduled callback and refuses new windows. Callbacks
// already running are not interrupted.
func (c *coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.pending = false
	if c.timer != nil {
		c.timer.Stop()
	}
}
