package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"fieldsync/internal/field"
)

// Event kinds.
const (
	KindCommit         = "commit"
	KindPushApplied    = "push-applied"
	KindPushSuppressed = "push-suppressed"
	KindError          = "error"
)

// Event is one observable outcome of a replay.
type Event struct {
	At    time.Duration `json:"at"`
	Field string        `json:"field"`
	Kind  string        `json:"kind"`
	Value string        `json:"value"`
}

func (e Event) String() string {
	if e.Kind == KindError {
		return fmt.Sprintf("%s %s %s %s", e.At, e.Kind, e.Field, e.Value)
	}
	return fmt.Sprintf("%s %s %s %q", e.At, e.Kind, e.Field, e.Value)
}

// Trace is the outcome of a replay.
type Trace struct {
	Scenario string           `json:"scenario"`
	Events   []Event          `json:"events"`
	Final    []field.Snapshot `json:"final"`
	End      time.Duration    `json:"end"`
}

// Commits returns the commit events.
func (t *Trace) Commits() []Event {
	var out []Event
	for _, e := range t.Events {
		if e.Kind == KindCommit {
			out = append(out, e)
		}
	}
	return out
}

// WriteText renders the trace one line per event, followed by the final
// state of each mounted field. The output is stable across runs.
func (t *Trace) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# %s\n", t.Scenario); err != nil {
		return err
	}
	for _, e := range t.Events {
		if _, err := fmt.Fprintln(w, e.String()); err != nil {
			return err
		}
	}
	for _, s := range t.Final {
		if _, err := fmt.Fprintf(w, "final %s state=%s value=%q committed=%q\n",
			s.Field, s.State, s.Value, s.Committed); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "end %s\n", t.End)
	return err
}

// WriteJSON renders the trace as indented JSON.
func (t *Trace) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}
