// Package loop provides the single-goroutine event loop that hosts the
// field synchronization engine.
//
// The engine is not safe for concurrent use. A Loop confines it to one
// goroutine: host events are posted with Post or Do, and timer callbacks
// scheduled through the Loop are posted back to it instead of running on
// timer goroutines. A cancelled timer whose callback is already queued is
// skipped when the loop reaches it.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/clock"
)

// ErrStopped is returned when posting to a loop that has exited.
var ErrStopped = errors.New("loop: stopped")

// DefaultQueueSize is the task buffer used when New is given zero.
const DefaultQueueSize = 256

// Loop executes posted tasks serially.
type Loop struct {
	ts     clock.TimeSource
	tasks  chan func()
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

// New creates a Loop. Run must be called to start processing.
func New(ts clock.TimeSource, queueSize int, logger *slog.Logger) *Loop {
	if ts == nil {
		ts = clock.NewRealTimeSource()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		ts:     ts,
		tasks:  make(chan func(), queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled. Tasks still queued at that
// point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", r)
		}
	}()
	fn()
}

// Post queues fn for execution on the loop goroutine. It blocks while the
// queue is full and fails once the loop has stopped.
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	stopped := l.stopped
	l.mu.RUnlock()
	if stopped {
		return ErrStopped
	}

	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Do posts fn and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now returns the loop's notion of the current time.
func (l *Loop) Now() time.Time {
	return l.ts.Now()
}

// After implements clock.Scheduler. fn runs on the loop goroutine.
func (l *Loop) After(d time.Duration, fn func()) clock.CancelFunc {
	var cancelled atomic.Bool
	t := l.ts.AfterFunc(d, func() {
		if cancelled.Load() {
			return
		}
		err := l.Post(func() {
			// Cancel may have run on the loop after the timer fired.
			if cancelled.Load() {
				return
			}
			fn()
		})
		if err != nil {
			l.logger.Debug("dropping timer callback", "error", err)
		}
	})
	return func() {
		if cancelled.CompareAndSwap(false, true) {
			t.Stop()
		}
	}
}
