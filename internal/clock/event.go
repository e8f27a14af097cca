package clock

import (
	"sync"
	"time"
)

// Epoch is the initial time of a new EventTimeSource.
var Epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// EventTimeSource is a virtual clock. Time only moves when Update or Advance
// is called; due timers fire in deadline order (creation order breaks ties)
// with Now() set to each timer's deadline while its callback runs. Timers
// created by a callback fire in the same Advance if they fall due.
type EventTimeSource struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*eventTimer
}

type eventTimer struct {
	ts       *EventTimeSource
	deadline time.Time
	seq      uint64
	fn       func()
	done     bool
}

// NewEventTimeSource returns a virtual clock set to Epoch.
func NewEventTimeSource() *EventTimeSource {
	return &EventTimeSource{now: Epoch}
}

// Now returns the virtual time.
func (ts *EventTimeSource) Now() time.Time {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.now
}

// AfterFunc registers f to run once the virtual time reaches now+d.
func (ts *EventTimeSource) AfterFunc(d time.Duration, f func()) Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if d < 0 {
		d = 0
	}
	ts.seq++
	t := &eventTimer{
		ts:       ts,
		deadline: ts.now.Add(d),
		seq:      ts.seq,
		fn:       f,
	}
	ts.timers = append(ts.timers, t)
	return t
}

// Stop removes the timer if it has not fired yet.
func (t *eventTimer) Stop() bool {
	t.ts.mu.Lock()
	defer t.ts.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.ts.remove(t)
	return true
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (ts *EventTimeSource) Advance(d time.Duration) {
	ts.Update(ts.Now().Add(d))
}

// Update moves the clock to t, firing every timer due at or before t.
// Moving backwards only changes Now().
func (ts *EventTimeSource) Update(t time.Time) {
	for {
		ts.mu.Lock()
		next := ts.nextDue(t)
		if next == nil {
			ts.now = t
			ts.mu.Unlock()
			return
		}
		next.done = true
		ts.remove(next)
		if next.deadline.After(ts.now) {
			ts.now = next.deadline
		}
		fn := next.fn
		ts.mu.Unlock()

		fn()
	}
}

// NumTimers returns the number of timers that have not fired or stopped.
func (ts *EventTimeSource) NumTimers() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}

// NextDeadline reports the earliest pending deadline.
func (ts *EventTimeSource) NextDeadline() (time.Time, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	next := ts.nextDue(time.Time{})
	if next == nil {
		return time.Time{}, false
	}
	return next.deadline, true
}

// nextDue returns the earliest timer due at or before limit. A zero limit
// means no limit. Caller holds mu.
func (ts *EventTimeSource) nextDue(limit time.Time) *eventTimer {
	var best *eventTimer
	for _, t := range ts.timers {
		if !limit.IsZero() && t.deadline.After(limit) {
			continue
		}
		if best == nil || t.deadline.Before(best.deadline) ||
			(t.deadline.Equal(best.deadline) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// remove drops t from the pending list. Caller holds mu.
func (ts *EventTimeSource) remove(t *eventTimer) {
	for i, cur := range ts.timers {
		if cur == t {
			ts.timers = append(ts.timers[:i], ts.timers[i+1:]...)
			return
		}
	}
}
