// Package debounce coalesces bursts of triggers into one delayed call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs the most recently scheduled task after a quiet period with
// no further Schedule calls. At most one task is pending at a time.
type Debouncer struct {
	mu      sync.Mutex
	timer   *time.Timer
	task    func()
	gen     uint64
	stopped bool

	running sync.WaitGroup
}

// New creates a Debouncer
func New() *Debouncer {
	return &Debouncer{}
}

// Schedule replaces any pending task with task and restarts the quiet timer.
// Calls after Shutdown are ignored.
func (d *Debouncer) Schedule(task func(), quiet time.Duration) {
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
	d.task = task
	d.timer = time.AfterFunc(quiet, func() { d.fire(gen) })
}

// fire runs the pending task unless a newer Schedule or a Shutdown
// superseded the timer that called it.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen || d.task == nil {
		d.mu.Unlock()
		return
	}
	task := d.task
	d.task = nil
	d.timer = nil
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	task()
}

// Pending reports whether a task is waiting for its quiet period to end.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.task != nil
}

// Flush runs the pending task now, on the caller's goroutine. It reports
// whether there was one.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.stopped || d.task == nil {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	task := d.task
	d.task = nil
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	task()
	return true
}

// Shutdown cancels pending work irreversibly and waits for a task that is
// already running to return.
func (d *Debouncer) Shutdown() {
	d.mu.Lock()
	d.stopped = true
	d.gen++
	d.task = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.running.Wait()
}
