package pairing

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet window used when none is configured.
const DefaultDebounce = 100 * time.Millisecond

// Debouncer runs a function once after a burst of triggers has gone quiet.
// At most one run is scheduled at any time: each Trigger cancels the pending
// run and schedules a new one. It is safe for concurrent use.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	gen     uint64
	stopped bool
	running sync.WaitGroup
}

// NewDebouncer creates a debouncer that calls fn delay after the last Trigger.
// A non-positive delay uses DefaultDebounce.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger schedules a run, replacing any pending one.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() {
		d.fire(gen)
	})
}

// fire runs fn if gen is still the latest scheduled run.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	d.fn()
}

// Flush runs the pending call immediately on the calling goroutine and
// reports whether one was pending.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.stopped || d.timer == nil {
		d.mu.Unlock()
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	d.fn()
	return true
}

// Cancel drops the pending run without calling fn and reports whether one
// was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	return true
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// SetDelay changes the quiet window. A pending run keeps its old deadline.
func (d *Debouncer) SetDelay(delay time.Duration) {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

// Stop cancels the pending run and makes later Triggers no-ops. A run
// already in progress is not waited for; use Wait for that. Stop may be
// called from fn.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Wait blocks until no run is in progress. It must not be called from fn.
func (d *Debouncer) Wait() {
	d.running.Wait()
}
