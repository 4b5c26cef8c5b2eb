// Package debounce delays a rapidly changing value until it has been stable
// for a quiet period.
package debounce

import (
	"sync"
	"time"
)

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from running. It reports false if the call
	// already ran or was already stopped.
	Stop() bool
}

// Scheduler runs f once after d. A zero d still defers f to a later tick;
// it never runs f on the caller's stack.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on the runtime timer.
func RealScheduler() Scheduler {
	return realScheduler{}
}

// Debouncer emits the latest pushed value once no newer value has arrived
// for its delay. Values superseded before their timer fires are never emitted.
type Debouncer[T any] struct {
	mu     sync.Mutex
	delay  time.Duration
	sched  Scheduler
	emit   func(T)
	timer  Timer
	seq    uint64
	closed bool
}

// New creates a Debouncer calling emit with each settled value. emit runs on
// the scheduler's goroutine.
func New[T any](delay time.Duration, sched Scheduler, emit func(T)) *Debouncer[T] {
	if sched == nil {
		sched = RealScheduler()
	}
	if delay < 0 {
		delay = 0
	}
	return &Debouncer[T]{delay: delay, sched: sched, emit: emit}
}

// Push restarts the quiet period with v as the candidate value.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = d.sched.AfterFunc(d.delay, func() { d.fire(seq, v) })
}

func (d *Debouncer[T]) fire(seq uint64, v T) {
	d.mu.Lock()
	// A newer push or a cancel may have raced a timer that was already firing.
	if d.closed || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.emit(v)
}

// Pending reports whether a value is waiting for its quiet period.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Cancel drops the pending value, if any.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

// Close cancels the pending value and ignores later pushes.
func (d *Debouncer[T]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.closed = true
}

func (d *Debouncer[T]) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}
