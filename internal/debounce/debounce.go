// Package debounce coalesces bursts of calls into a single invocation.
package debounce

import (
	"context"
	"sync"
	"time"
)

// Debouncer runs fn no sooner than wait after the last Call and no later than
// maxWait after the first Call of a burst.
type Debouncer struct {
	fn      func(context.Context)
	wait    time.Duration
	maxWait time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	maxTimer *time.Timer
	pending  bool
	gen      uint64
}

// New returns a Debouncer. A maxWait below wait is raised to wait; zero
// disables the upper bound.
func New(fn func(context.Context), wait, maxWait time.Duration) *Debouncer {
	if maxWait > 0 && maxWait < wait {
		maxWait = wait
	}
	return &Debouncer{fn: fn, wait: wait, maxWait: maxWait}
}

// Call schedules or reschedules fn.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	if !d.pending {
		d.gen++
		d.pending = true
	}
	g := d.gen
	d.timer = time.AfterFunc(d.wait, func() { d.fire(g) })
	if d.maxWait > 0 && d.maxTimer == nil {
		d.maxTimer = time.AfterFunc(d.maxWait, func() { d.fire(g) })
	}
}

func (d *Debouncer) fire(g uint64) {
	d.mu.Lock()
	if !d.pending || d.gen != g {
		d.mu.Unlock()
		return
	}
	d.cancelLocked()
	d.mu.Unlock()
	d.fn(context.Background())
}

// Cancel drops a pending invocation.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.cancelLocked()
	d.mu.Unlock()
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.maxTimer != nil {
		d.maxTimer.Stop()
		d.maxTimer = nil
	}
	if d.pending {
		d.pending = false
		d.gen++
	}
}

// Flush runs a pending invocation now, on the calling goroutine. It reports
// whether anything was pending.
func (d *Debouncer) Flush(ctx context.Context) bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	d.cancelLocked()
	d.mu.Unlock()
	d.fn(ctx)
	return true
}

// Pending reports whether an invocation is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
