// Package clock abstracts time for the field synchronization engine.
//
// Every suspension point in the engine (debounce timers, the composition
// grace delay, the deferred blur re-check, the typing idle timer) goes
// through a Scheduler so that tests can drive the engine with a virtual
// clock instead of waiting on the wall clock.
//
//   - RealTimeSource wraps the time package.
//   - EventTimeSource is a manually advanced clock whose timers fire
//     synchronously, in deadline order, on the goroutine that advances it.
package clock

import (
	"sync/atomic"
	"time"
)

// TimeSource provides the current time and one-shot timers.
type TimeSource interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a one-shot timer created by a TimeSource.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// CancelFunc cancels a scheduled callback. Calling it more than once, or
// after the callback ran, is a no-op.
type CancelFunc func()

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	After(d time.Duration, fn func()) CancelFunc
}

// NewScheduler returns a Scheduler that runs callbacks directly from the
// TimeSource's timers. With an EventTimeSource the callbacks run on the
// goroutine that advances the clock; with a RealTimeSource they run on
// timer goroutines, so real-time hosts should use loop.Loop instead.
func NewScheduler(ts TimeSource) Scheduler {
	return &timerScheduler{ts: ts}
}

type timerScheduler struct {
	ts TimeSource
}

func (s *timerScheduler) After(d time.Duration, fn func()) CancelFunc {
	var cancelled atomic.Bool
	t := s.ts.AfterFunc(d, func() {
		if cancelled.Load() {
			return
		}
		fn()
	})
	return func() {
		if cancelled.CompareAndSwap(false, true) {
			t.Stop()
		}
	}
}

// RealTimeSource is a TimeSource backed by the time package.
type RealTimeSource struct{}

// NewRealTimeSource returns the wall-clock TimeSource.
func NewRealTimeSource() RealTimeSource {
	return RealTimeSource{}
}

// Now returns time.Now().
func (RealTimeSource) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (RealTimeSource) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
