// Package registry coordinates focus and typing state across the fields
// of one document.
//
// The registry answers a single question for the sync guard: is this field
// the one the user is working in right now? Only one field holds focus at a
// time, and focus protection expires once the field has seen no local
// activity for the protection window.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldsync/internal/clock"
)

// DefaultProtectionWindow is how long after the last local activity an
// external value is kept away from the focused field.
const DefaultProtectionWindow = 5 * time.Second

var (
	ErrNotMounted     = errors.New("registry: field not mounted")
	ErrAlreadyMounted = errors.New("registry: field already mounted")
)

// Registry tracks mounted fields, fields with an active typing session, and
// the single focused field.
type Registry struct {
	mu sync.RWMutex

	ts     clock.TimeSource
	window time.Duration

	mounted   map[string]struct{}
	active    map[string]struct{}
	focused   string
	lastFocus time.Time
}

// New creates a registry using ts for focus timestamps.
func New(ts clock.TimeSource) *Registry {
	return &Registry{
		ts:      ts,
		window:  DefaultProtectionWindow,
		mounted: make(map[string]struct{}),
		active:  make(map[string]struct{}),
	}
}

// SetProtectionWindow changes the protection window. Non-positive values
// disable protection.
func (r *Registry) SetProtectionWindow(d time.Duration) {
	r.mu.Lock()
	r.window = d
	r.mu.Unlock()
}

// ProtectionWindow returns the current protection window.
func (r *Registry) ProtectionWindow() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.window
}

// Mount registers a field.
func (r *Registry) Mount(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mounted[id]; ok {
		return fmt.Errorf("mount %q: %w", id, ErrAlreadyMounted)
	}
	r.mounted[id] = struct{}{}
	return nil
}

// Unmount removes a field along with its session and focus.
func (r *Registry) Unmount(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mounted, id)
	delete(r.active, id)
	if r.focused == id {
		r.focused = ""
		r.lastFocus = time.Time{}
	}
}

// Mounted reports whether id is mounted.
func (r *Registry) Mounted(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mounted[id]
	return ok
}

// StartSession marks id as actively being typed in.
func (r *Registry) StartSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mounted[id]; !ok {
		return
	}
	r.active[id] = struct{}{}
}

// EndSession clears the active mark for id.
func (r *Registry) EndSession(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// IsActive reports whether id has an active typing session.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[id]
	return ok
}

// HasAnyActive reports whether any field has an active typing session.
func (r *Registry) HasAnyActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active) > 0
}

// AcquireFocus makes id the focused field and refreshes the focus
// timestamp. Calling it again for the holder extends protection.
func (r *Registry) AcquireFocus(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mounted[id]; !ok {
		return fmt.Errorf("acquire focus %q: %w", id, ErrNotMounted)
	}
	r.focused = id
	r.lastFocus = r.ts.Now()
	return nil
}

// ReleaseFocus clears focus if id holds it. It reports whether focus was
// released.
func (r *Registry) ReleaseFocus(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.focused != id || id == "" {
		return false
	}
	r.focused = ""
	r.lastFocus = time.Time{}
	return true
}

// FocusedField returns the focused field, if any.
func (r *Registry) FocusedField() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.focused, r.focused != ""
}

// ShouldProtectFocus reports whether external values must not overwrite id:
// id is focused and saw local activity within the protection window.
func (r *Registry) ShouldProtectFocus(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" || r.focused != id {
		return false
	}
	return r.ts.Now().Sub(r.lastFocus) < r.window
}

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	Mounted          []string      `json:"mounted"`
	Active           []string      `json:"active"`
	Focused          string        `json:"focused,omitempty"`
	LastFocus        time.Time     `json:"last_focus,omitempty"`
	ProtectionWindow time.Duration `json:"protection_window"`
}

// Snapshot returns the current state with ids sorted.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Mounted:          sortedKeys(r.mounted),
		Active:           sortedKeys(r.active),
		Focused:          r.focused,
		LastFocus:        r.lastFocus,
		ProtectionWindow: r.window,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
