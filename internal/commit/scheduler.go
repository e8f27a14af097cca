package commit

import (
	"time"

	"fieldsync/internal/clock"
)

// Request is a scheduled commit of Value.
type Request struct {
	Value       string
	Category    Category
	Delay       time.Duration
	ScheduledAt time.Time

	seq uint64
}

// Due returns when the request fires.
func (r Request) Due() time.Time {
	return r.ScheduledAt.Add(r.Delay)
}

// Scheduler holds at most one pending Request for a field. Every Schedule
// call replaces the previous request, so commits for one field are observed
// in edit order. Scheduler is confined to the engine's loop goroutine.
type Scheduler struct {
	classifier Classifier
	policy     Policy
	sched      clock.Scheduler
	ts         clock.TimeSource

	pending *Request
	cancel  clock.CancelFunc
	seq     uint64
}

// NewScheduler creates a Scheduler. A nil classifier or policy falls back
// to NewPatternClassifier and DefaultPolicy.
func NewScheduler(classifier Classifier, policy Policy, sched clock.Scheduler, ts clock.TimeSource) *Scheduler {
	if classifier == nil {
		classifier = NewPatternClassifier()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Scheduler{
		classifier: classifier,
		policy:     policy,
		sched:      sched,
		ts:         ts,
	}
}

// Schedule replaces any pending request with one for value. When the
// policy delay is zero, fire runs before Schedule returns; otherwise it
// runs when the delay elapses, unless the request is cancelled or
// superseded first.
func (s *Scheduler) Schedule(value string, fire func(Request)) Request {
	s.Cancel()

	cat := s.classifier.Classify(value)
	s.seq++
	req := Request{
		Value:       value,
		Category:    cat,
		Delay:       s.policy.Delay(cat),
		ScheduledAt: s.ts.Now(),
		seq:         s.seq,
	}

	if req.Delay == 0 {
		fire(req)
		return req
	}

	s.pending = &req
	s.cancel = s.sched.After(req.Delay, func() {
		if s.pending == nil || s.pending.seq != req.seq {
			return
		}
		s.pending = nil
		s.cancel = nil
		fire(req)
	})
	return req
}

// Cancel drops the pending request. It reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	if s.pending == nil {
		return false
	}
	s.cancel()
	s.pending = nil
	s.cancel = nil
	return true
}

// Pending returns the outstanding request, if any.
func (s *Scheduler) Pending() (Request, bool) {
	if s.pending == nil {
		return Request{}, false
	}
	return *s.pending, true
}

// Classify exposes the scheduler's classification of value.
func (s *Scheduler) Classify(value string) (Category, time.Duration) {
	c := s.classifier.Classify(value)
	return c, s.policy.Delay(c)
}

// SetPolicy swaps the delay table. A pending request keeps its delay.
func (s *Scheduler) SetPolicy(p Policy) {
	if p != nil {
		s.policy = p
	}
}

// SetClassifier swaps the classifier.
func (s *Scheduler) SetClassifier(c Classifier) {
	if c != nil {
		s.classifier = c
	}
}
