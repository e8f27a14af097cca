// Package compose tracks multi-keystroke character composition (IME
// preedit) for a single text field.
//
// While a composition is open the field's buffer may show interim text, but
// nothing may be committed: the composed character or word only exists once
// the input method ends the composition. After the end the host UI needs a
// short grace period to apply the composed text, so the settle callback is
// deferred by a fixed delay.
package compose

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"fieldsync/internal/clock"
)

// DefaultGrace is the delay between composition end and the settle callback.
const DefaultGrace = 100 * time.Millisecond

// Input types reported by hosts for interim composition edits.
const (
	InputInsertCompositionText = "insertCompositionText"
	InputDeleteCompositionText = "deleteCompositionText"
)

// IsCompositionInput reports whether an input event of the given type
// carries interim composition text.
func IsCompositionInput(inputType string) bool {
	switch inputType {
	case InputInsertCompositionText, InputDeleteCompositionText:
		return true
	}
	return false
}

// Normalize returns text in Unicode NFC, which folds conjoining jamo and
// combining marks produced by input methods into precomposed characters.
func Normalize(text string) string {
	return norm.NFC.String(text)
}

// Tracker holds the composition state of one field.
type Tracker struct {
	sched clock.Scheduler
	grace time.Duration

	composing bool
	interim   string
	settle    clock.CancelFunc
	gen       uint64
}

// NewTracker creates a Tracker that defers settle callbacks by grace.
func NewTracker(sched clock.Scheduler, grace time.Duration) *Tracker {
	if grace < 0 {
		grace = 0
	}
	return &Tracker{sched: sched, grace: grace}
}

// Begin opens a composition. A settle still pending from a previous
// composition is cancelled.
func (t *Tracker) Begin() {
	t.cancelSettle()
	t.composing = true
	t.interim = ""
}

// Update records interim composition text.
func (t *Tracker) Update(text string) {
	if t.composing {
		t.interim = text
	}
}

// End closes the composition and returns the normalized final text. settled
// is called with that text after the grace delay unless the tracker is
// aborted or a new composition begins first.
func (t *Tracker) End(final string, settled func(string)) string {
	t.cancelSettle()
	t.composing = false
	t.interim = ""

	text := Normalize(final)
	if settled == nil {
		return text
	}
	if t.grace == 0 {
		settled(text)
		return text
	}

	t.gen++
	gen := t.gen
	t.settle = t.sched.After(t.grace, func() {
		// Cleared before the call so settled may start a new composition.
		if t.gen == gen {
			t.settle = nil
		}
		settled(text)
	})
	return text
}

// Abort drops any open composition and pending settle.
func (t *Tracker) Abort() {
	t.cancelSettle()
	t.composing = false
	t.interim = ""
}

// Composing reports whether a composition is open.
func (t *Tracker) Composing() bool {
	return t.composing
}

// Settling reports whether a settle callback is pending.
func (t *Tracker) Settling() bool {
	return t.settle != nil
}

// Interim returns the latest interim text of the open composition.
func (t *Tracker) Interim() string {
	return t.interim
}

// SetGrace changes the grace delay for subsequent compositions.
func (t *Tracker) SetGrace(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.grace = d
}

func (t *Tracker) cancelSettle() {
	if t.settle != nil {
		t.settle()
		t.settle = nil
	}
}
