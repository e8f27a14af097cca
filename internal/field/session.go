package field

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/clock"
	"fieldsync/internal/commit"
	"fieldsync/internal/compose"
)

// State is the externally visible phase of a session.
type State int

const (
	Idle State = iota
	Focused
	Typing
	Composing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Focused:
		return "focused"
	case Typing:
		return "typing"
	case Composing:
		return "composing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the sync guard of one mounted field. It buffers local edits,
// reports stable values to the change handler and decides whether external
// values may overwrite the buffer.
//
// A Session is not safe for concurrent use; the host must deliver every
// event and timer callback on one goroutine (see loop.Loop).
type Session struct {
	id       string
	instance string
	env      *Env
	opts     Options
	logger   *slog.Logger

	local     string
	committed string
	focused   bool
	typing    bool
	lastEdit  time.Time
	alive     bool

	composer *compose.Tracker
	commits  *commit.Scheduler

	blurCancel clock.CancelFunc
	idleCancel clock.CancelFunc
}

func newSession(id, initial string, env *Env, opts Options) *Session {
	instance := uuid.Must(uuid.NewV7()).String()
	return &Session{
		id:        id,
		instance:  instance,
		env:       env,
		opts:      opts,
		logger:    env.Logger.With("field", id, "instance", instance),
		local:     initial,
		committed: initial,
		alive:     true,
		composer:  compose.NewTracker(env.Scheduler, opts.CompositionGrace),
		commits:   commit.NewScheduler(opts.Classifier, opts.Policy, env.Scheduler, env.Clock),
	}
}

// ID returns the field id.
func (s *Session) ID() string { return s.id }

// Instance returns the id minted when the field was mounted.
func (s *Session) Instance() string { return s.instance }

// Value returns the local buffer.
func (s *Session) Value() string { return s.local }

// Committed returns the last value reported outward or accepted from an
// external push.
func (s *Session) Committed() string { return s.committed }

// Alive reports whether the session is still mounted.
func (s *Session) Alive() bool { return s.alive }

// State returns the current phase.
func (s *Session) State() State {
	switch {
	case !s.alive:
		return Idle
	case s.composer.Composing():
		return Composing
	case s.typing:
		return Typing
	case s.focused:
		return Focused
	default:
		return Idle
	}
}

// Focus marks the field focused and cancels a pending blur re-check. It is
// the only event that does; input arriving during the re-check is folded
// into the blur commit.
func (s *Session) Focus() {
	if !s.alive {
		return
	}
	s.cancelBlur()
	s.focus()
	s.logger.Debug("focus")
}

// Input handles a value change from the host. Edits carrying interim
// composition text only update the display buffer.
func (s *Session) Input(value, inputType string) {
	if !s.alive {
		return
	}
	if !s.focused {
		s.focus()
	}

	if s.composer.Composing() || compose.IsCompositionInput(inputType) {
		s.local = value
		s.refreshFocus()
		return
	}

	s.local = value
	s.touch()
	req := s.commits.Schedule(value, s.fire)
	s.logger.Debug("input", "category", req.Category.String(), "delay", req.Delay)
}

// CompositionStart opens an IME composition and drops any pending commit.
func (s *Session) CompositionStart() {
	if !s.alive {
		return
	}
	if !s.focused {
		s.focus()
	}
	s.commits.Cancel()
	s.composer.Begin()
	s.startTyping()
	s.refreshFocus()
	s.logger.Debug("composition start")
}

// CompositionUpdate shows interim composition text. text is the full
// display value of the field.
func (s *Session) CompositionUpdate(text string) {
	if !s.alive || !s.composer.Composing() {
		return
	}
	s.composer.Update(text)
	s.local = text
	s.refreshFocus()
}

// CompositionEnd closes the composition with the field's final value and
// commits it after the grace delay.
func (s *Session) CompositionEnd(text string) {
	if !s.alive {
		return
	}
	if !s.focused {
		s.focus()
	}
	s.local = compose.Normalize(text)
	s.touch()
	s.env.Metrics.CompositionsTotal.Inc()
	s.logger.Debug("composition end", "grace", s.opts.CompositionGrace)
	// With a zero grace the settle callback runs inside End.
	s.composer.End(s.local, s.settled)
}

// KeyDown commits the buffer immediately for finalize keys. It is ignored
// while composing, where Enter confirms the candidate instead.
func (s *Session) KeyDown(key string) {
	if !s.alive || s.composer.Composing() || !s.opts.isFinalizeKey(key) {
		return
	}
	s.commits.Cancel()
	s.emit(s.local, "finalize")
}

// Flush commits the buffer now unless a composition is open. It reports
// whether the handler was called.
func (s *Session) Flush() bool {
	if !s.alive || s.composer.Composing() {
		return false
	}
	s.commits.Cancel()
	s.composer.Abort()
	return s.emit(s.local, "flush")
}

// Blur schedules the deferred re-check that decides whether focus really
// left the field.
func (s *Session) Blur() {
	if !s.alive {
		return
	}
	s.cancelBlur()
	if s.opts.BlurRecheck <= 0 {
		s.confirmBlur()
		return
	}
	s.blurCancel = s.env.Scheduler.After(s.opts.BlurRecheck, func() {
		s.blurCancel = nil
		s.confirmBlur()
	})
}

// Push offers an external value. It is applied unless the field is
// protected or composing; applying it never calls the change handler.
// Push reports whether the value was applied.
func (s *Session) Push(value string) bool {
	if !s.alive {
		return false
	}
	if s.composer.Composing() || s.env.Registry.ShouldProtectFocus(s.id) {
		s.env.Metrics.ExternalSuppressed.Inc()
		s.logger.Debug("external value suppressed", "external", value, "local", s.local)
		return false
	}
	s.commits.Cancel()
	s.local = value
	s.committed = value
	s.env.Metrics.ExternalApplied.Inc()
	s.logger.Debug("external value applied", "external", value)
	return true
}

// Reconfigure swaps timing and classification options. Pending timers keep
// the delays they were armed with.
func (s *Session) Reconfigure(opts Options) {
	s.opts = opts
	s.commits.SetPolicy(opts.Policy)
	s.commits.SetClassifier(opts.Classifier)
	s.composer.SetGrace(opts.CompositionGrace)
}

// close tears the session down. No callback may commit afterwards.
func (s *Session) close() {
	if !s.alive {
		return
	}
	s.alive = false
	s.commits.Cancel()
	s.composer.Abort()
	s.cancelBlur()
	s.cancelIdle()
	if s.typing {
		s.typing = false
		s.env.Metrics.ActiveSessions.Dec()
	}
	s.focused = false
	s.env.Registry.Unmount(s.id)
	s.logger.Debug("unmounted")
}

// fire runs when a scheduled commit falls due.
func (s *Session) fire(req commit.Request) {
	if !s.alive {
		s.env.Metrics.StaleTimers.Inc()
		return
	}
	if s.composer.Composing() || req.Value != s.local {
		return
	}
	s.emit(req.Value, "debounce:"+req.Category.String())
}

// settled runs after the composition grace delay.
func (s *Session) settled(string) {
	if !s.alive {
		s.env.Metrics.StaleTimers.Inc()
		return
	}
	if s.composer.Composing() {
		return
	}
	s.commits.Cancel()
	s.emit(s.local, "composition")
}

func (s *Session) confirmBlur() {
	if !s.alive {
		s.env.Metrics.StaleTimers.Inc()
		return
	}
	if s.env.Active.IsStillActive(s.id) {
		s.env.Metrics.BlursIgnored.Inc()
		s.logger.Debug("blur ignored, field still active")
		return
	}

	s.composer.Abort()
	s.commits.Cancel()
	s.cancelIdle()
	s.emit(s.local, "blur")

	s.env.Registry.ReleaseFocus(s.id)
	s.stopTyping()
	s.focused = false
	s.logger.Debug("blur")
}

// emit reports value unless it equals the last committed value. It
// reports whether the handler was called.
func (s *Session) emit(value, reason string) bool {
	if value == s.committed {
		s.env.Metrics.DuplicatesSuppressed.Inc()
		return false
	}
	s.committed = value

	if !s.lastEdit.IsZero() {
		s.env.Metrics.ObserveCommit(reason, s.env.Clock.Now().Sub(s.lastEdit))
	}
	s.env.Metrics.CommitsTotal.Inc()

	if err := s.callHandler(value); err != nil {
		s.env.Metrics.HandlerErrors.Inc()
		s.logger.Warn("change handler failed", "reason", reason, "error", err)
		return true
	}
	s.logger.Debug("commit", "reason", reason, "value", value)
	return true
}

func (s *Session) callHandler(value string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("change handler panic: %v", r)
		}
	}()
	return s.env.Handler.OnChange(s.id, value)
}

func (s *Session) focus() {
	s.focused = true
	if err := s.env.Registry.AcquireFocus(s.id); err != nil {
		s.logger.Warn("acquire focus", "error", err)
	}
}

// refreshFocus extends focus protection after local activity.
func (s *Session) refreshFocus() {
	if err := s.env.Registry.AcquireFocus(s.id); err != nil {
		s.logger.Warn("refresh focus", "error", err)
	}
}

// touch records a keystroke: typing session, focus refresh and idle timer.
func (s *Session) touch() {
	s.lastEdit = s.env.Clock.Now()
	s.startTyping()
	s.refreshFocus()
	s.cancelIdle()
	if s.opts.TypingIdle > 0 {
		s.idleCancel = s.env.Scheduler.After(s.opts.TypingIdle, func() {
			s.idleCancel = nil
			if !s.alive {
				s.env.Metrics.StaleTimers.Inc()
				return
			}
			s.stopTyping()
		})
	}
}

func (s *Session) startTyping() {
	if s.typing {
		return
	}
	s.typing = true
	s.env.Registry.StartSession(s.id)
	s.env.Metrics.ActiveSessions.Inc()
}

func (s *Session) stopTyping() {
	if !s.typing {
		return
	}
	s.typing = false
	s.env.Registry.EndSession(s.id)
	s.env.Metrics.ActiveSessions.Dec()
}

func (s *Session) cancelBlur() {
	if s.blurCancel != nil {
		s.blurCancel()
		s.blurCancel = nil
	}
}

func (s *Session) cancelIdle() {
	if s.idleCancel != nil {
		s.idleCancel()
		s.idleCancel = nil
	}
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	Field        string    `json:"field" yaml:"field"`
	Instance     string    `json:"instance" yaml:"-"`
	State        string    `json:"state" yaml:"state"`
	Value        string    `json:"value" yaml:"value"`
	Committed    string    `json:"committed" yaml:"committed"`
	Protected    bool      `json:"protected" yaml:"protected"`
	Pending      bool      `json:"pending" yaml:"pending"`
	PendingValue string    `json:"pending_value,omitempty" yaml:"pending_value,omitempty"`
	PendingDue   time.Time `json:"pending_due,omitempty" yaml:"-"`
}

// Snapshot returns the session's current view.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Field:     s.id,
		Instance:  s.instance,
		State:     s.State().String(),
		Value:     s.local,
		Committed: s.committed,
		Protected: s.alive && s.env.Registry.ShouldProtectFocus(s.id),
	}
	if req, ok := s.commits.Pending(); ok {
		snap.Pending = true
		snap.PendingValue = req.Value
		snap.PendingDue = req.Due()
	}
	return snap
}
