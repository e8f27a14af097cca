package replay

import (
	"fmt"

	"fieldsync/internal/field"
)

// Host applies steps to an engine the way a page would deliver DOM events,
// and answers the engine's blur re-check from its still-active set.
//
// Host must be used from the engine's goroutine.
type Host struct {
	engine *field.Engine
	active map[string]bool

	// OnPush observes the outcome of every push step.
	OnPush func(fieldID, value string, applied bool)
}

// NewHost creates a Host whose still-active set starts with stillActive.
// Bind must be called before Apply.
func NewHost(stillActive ...string) *Host {
	h := &Host{active: make(map[string]bool)}
	for _, id := range stillActive {
		h.active[id] = true
	}
	return h
}

// Bind attaches the engine steps are applied to.
func (h *Host) Bind(eng *field.Engine) {
	h.engine = eng
}

// IsStillActive implements field.ActiveChecker.
func (h *Host) IsStillActive(fieldID string) bool {
	return h.active[fieldID]
}

// Apply performs one step. The step's offset is ignored; the caller owns
// the clock.
func (h *Host) Apply(st Step) error {
	if h.engine == nil {
		return fmt.Errorf("replay: host not bound to an engine")
	}
	eng := h.engine

	switch st.Op {
	case OpMount:
		_, err := eng.Mount(st.Field, st.Value)
		return err
	case OpUnmount:
		return eng.Unmount(st.Field)
	case OpFocus:
		return eng.Focus(st.Field)
	case OpBlur:
		return eng.Blur(st.Field)
	case OpInput:
		inputType := st.InputType
		if inputType == "" {
			inputType = defaultInputType
		}
		return eng.Input(st.Field, st.Value, inputType)
	case OpComposeStart:
		return eng.CompositionStart(st.Field)
	case OpComposeUpdate:
		return eng.CompositionUpdate(st.Field, st.Value)
	case OpComposeEnd:
		return eng.CompositionEnd(st.Field, st.Value)
	case OpKeyDown:
		return eng.KeyDown(st.Field, st.Key)
	case OpPush:
		applied, err := eng.Push(st.Field, st.Value)
		if err != nil {
			return err
		}
		if h.OnPush != nil {
			h.OnPush(st.Field, st.Value, applied)
		}
		return nil
	case OpHold:
		h.active[st.Field] = true
		return nil
	case OpRelease:
		delete(h.active, st.Field)
		return nil
	case OpFlush:
		eng.Flush()
		return nil
	case OpAdvance:
		return nil
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}
