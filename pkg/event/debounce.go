package event

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of Schedule calls into a single invocation of
// its callback. Every Schedule restarts the window; the callback runs once
// the window elapses with no further Schedule calls.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
	stopped bool
}

// NewDebouncer returns a Debouncer that calls fn after delay of quiet.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Schedule (re)starts the window.
func (d *Debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.pending = true
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Pending reports whether a callback is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush runs a pending callback immediately on the calling goroutine.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	d.gen++
	d.pending = false
	d.mu.Unlock()
	d.fn()
}

// Stop cancels any pending callback and disables the Debouncer.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A later Schedule or Flush superseded this timer.
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.fn()
}
