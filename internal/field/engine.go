// Package field implements the per-field sync guard and the engine that
// routes host events to it.
//
// A Session keeps one text field consistent between local keystrokes
// (including IME composition) and an external source of truth:
//
//   - edits are debounced per the commit policy and reported once stable,
//   - nothing is reported while a composition is open,
//   - external values are ignored while the field is focus-protected,
//   - Enter, Tab and a confirmed blur flush the buffer immediately.
//
// The Engine owns the sessions of one document. Neither type is safe for
// concurrent use.
package field

import (
	"errors"
	"fmt"
	"sort"

	"fieldsync/internal/registry"
)

var (
	ErrUnknownField   = errors.New("field: unknown field")
	ErrAlreadyMounted = errors.New("field: already mounted")
	ErrNotMounted     = errors.New("field: not mounted")
)

// Engine routes host events to sessions by field id.
type Engine struct {
	env      Env
	opts     Options
	sessions map[string]*Session
}

// NewEngine creates an engine. Unset Env members get defaults: the real
// clock, a private registry, a no-op handler and NeverActive.
func NewEngine(env Env, opts Options) *Engine {
	env.setDefaults()
	env.Registry.SetProtectionWindow(opts.ProtectionWindow)
	return &Engine{
		env:      env,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Registry returns the coordination registry.
func (e *Engine) Registry() *registry.Registry {
	return e.env.Registry
}

// Options returns the current options.
func (e *Engine) Options() Options {
	return e.opts
}

// Mount creates a session for id holding initial as both its buffer and
// last committed value.
func (e *Engine) Mount(id, initial string) (*Session, error) {
	if _, ok := e.sessions[id]; ok {
		return nil, fmt.Errorf("mount %q: %w", id, ErrAlreadyMounted)
	}
	if err := e.env.Registry.Mount(id); err != nil {
		return nil, fmt.Errorf("mount %q: %w", id, err)
	}
	s := newSession(id, initial, &e.env, e.opts)
	e.sessions[id] = s
	e.env.Metrics.MountedFields.Inc()
	s.logger.Debug("mounted")
	return s, nil
}

// Unmount tears down the session for id. Pending commits are discarded.
func (e *Engine) Unmount(id string) error {
	s, ok := e.sessions[id]
	if !ok {
		return fmt.Errorf("unmount %q: %w", id, ErrNotMounted)
	}
	delete(e.sessions, id)
	s.close()
	e.env.Metrics.MountedFields.Dec()
	return nil
}

// UnmountAll tears down every session.
func (e *Engine) UnmountAll() {
	for _, id := range e.Fields() {
		_ = e.Unmount(id)
	}
}

// Session returns the session for id.
func (e *Engine) Session(id string) (*Session, bool) {
	s, ok := e.sessions[id]
	return s, ok
}

// Fields returns the mounted field ids in sorted order.
func (e *Engine) Fields() []string {
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) lookup(op, id string) (*Session, error) {
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", op, id, ErrUnknownField)
	}
	return s, nil
}

// Focus focuses id, mounting it with an empty value if it is unknown.
func (e *Engine) Focus(id string) error {
	s, ok := e.sessions[id]
	if !ok {
		var err error
		if s, err = e.Mount(id, ""); err != nil {
			return err
		}
	}
	s.Focus()
	return nil
}

// Blur starts the deferred blur check for id.
func (e *Engine) Blur(id string) error {
	s, err := e.lookup("blur", id)
	if err != nil {
		return err
	}
	s.Blur()
	return nil
}

// Input delivers an edit to id.
func (e *Engine) Input(id, value, inputType string) error {
	s, err := e.lookup("input", id)
	if err != nil {
		return err
	}
	s.Input(value, inputType)
	return nil
}

// CompositionStart opens a composition on id.
func (e *Engine) CompositionStart(id string) error {
	s, err := e.lookup("composition start", id)
	if err != nil {
		return err
	}
	s.CompositionStart()
	return nil
}

// CompositionUpdate delivers interim composition text to id.
func (e *Engine) CompositionUpdate(id, text string) error {
	s, err := e.lookup("composition update", id)
	if err != nil {
		return err
	}
	s.CompositionUpdate(text)
	return nil
}

// CompositionEnd closes the composition on id.
func (e *Engine) CompositionEnd(id, text string) error {
	s, err := e.lookup("composition end", id)
	if err != nil {
		return err
	}
	s.CompositionEnd(text)
	return nil
}

// KeyDown delivers a key press to id.
func (e *Engine) KeyDown(id, key string) error {
	s, err := e.lookup("keydown", id)
	if err != nil {
		return err
	}
	s.KeyDown(key)
	return nil
}

// Push offers an external value for id and reports whether it was applied.
func (e *Engine) Push(id, value string) (bool, error) {
	s, err := e.lookup("push", id)
	if err != nil {
		return false, err
	}
	return s.Push(value), nil
}

// Flush commits every buffer that differs from its committed value and is
// not mid-composition. It returns the number of commits.
func (e *Engine) Flush() int {
	n := 0
	for _, id := range e.Fields() {
		if e.sessions[id].Flush() {
			n++
		}
	}
	return n
}

// Reconfigure applies opts to the registry and every session.
func (e *Engine) Reconfigure(opts Options) {
	e.opts = opts
	e.env.Registry.SetProtectionWindow(opts.ProtectionWindow)
	for _, s := range e.sessions {
		s.Reconfigure(opts)
	}
	e.env.Logger.Info("engine reconfigured",
		"protection_window", opts.ProtectionWindow,
		"composition_grace", opts.CompositionGrace,
		"blur_recheck", opts.BlurRecheck,
		"typing_idle", opts.TypingIdle,
	)
}

// Snapshot returns every session's view in field order.
func (e *Engine) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, len(e.sessions))
	for _, id := range e.Fields() {
		out = append(out, e.sessions[id].Snapshot())
	}
	return out
}
