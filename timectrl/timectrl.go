// Package timectrl provides the clock abstraction and the self-rescheduling
// task that drives periodic reconciliation.
package timectrl

import (
	"sync"
	"time"
)

// Clock is the time source used by schedulers. This allows components to
// depend on a clock abstraction rather than the wall clock, enabling
// deterministic tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc calls f on its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was
	// still pending.
	Stop() bool
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Task runs a callback at most once per armed deadline. A task holds at
// most one pending deadline: arming replaces whatever was pending, and a
// stopped task never fires again.
type Task struct {
	clock Clock
	run   func()

	mu      sync.Mutex
	timer   Timer
	next    time.Time
	gen     uint64
	stopped bool
}

// NewTask constructs a task that invokes run on clock's timer goroutine.
func NewTask(clock Clock, run func()) *Task {
	if clock == nil {
		clock = RealClock{}
	}
	return &Task{clock: clock, run: run}
}

// Arm schedules run after d, replacing any pending deadline. It returns false
// when the task has been stopped.
func (t *Task) Arm(d time.Duration) bool {
	if d < 0 {
		d = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}

	t.gen++
	gen := t.gen
	t.next = t.clock.Now().Add(d)
	t.timer = t.clock.AfterFunc(d, func() { t.fire(gen) })
	return true
}

// fire runs the callback unless the deadline it belongs to was replaced,
// cancelled, or the task was stopped in the meantime.
func (t *Task) fire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.next = time.Time{}
	t.mu.Unlock()

	t.run()
}

// Cancel drops the pending deadline, if any. The task can be armed again.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Stop cancels the pending deadline and disables the task permanently.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.stopped = true
}

func (t *Task) cancelLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.next = time.Time{}
}

// Next returns the pending deadline. ok is false when nothing is armed.
func (t *Task) Next() (deadline time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next, t.timer != nil
}

// Stopped reports whether Stop has been called.
func (t *Task) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
