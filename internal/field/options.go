package field

import (
	"log/slog"
	"time"

	"fieldsync/internal/clock"
	"fieldsync/internal/commit"
	"fieldsync/internal/compose"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/registry"
)

// Default timings.
const (
	DefaultBlurRecheck = 50 * time.Millisecond
	DefaultTypingIdle  = 2 * time.Second
)

// DefaultFinalizeKeys commit the buffer immediately.
var DefaultFinalizeKeys = []string{"Enter", "Tab"}

// Options tunes a session. The zero value is not useful; start from
// DefaultOptions.
type Options struct {
	Policy     commit.Policy
	Classifier commit.Classifier

	// ProtectionWindow is applied to the registry by the Engine.
	ProtectionWindow time.Duration

	CompositionGrace time.Duration
	BlurRecheck      time.Duration
	TypingIdle       time.Duration
	FinalizeKeys     []string
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		Policy:           commit.DefaultPolicy(),
		Classifier:       commit.NewPatternClassifier(),
		ProtectionWindow: registry.DefaultProtectionWindow,
		CompositionGrace: compose.DefaultGrace,
		BlurRecheck:      DefaultBlurRecheck,
		TypingIdle:       DefaultTypingIdle,
		FinalizeKeys:     append([]string(nil), DefaultFinalizeKeys...),
	}
}

func (o Options) isFinalizeKey(key string) bool {
	for _, k := range o.FinalizeKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ChangeHandler receives committed values.
type ChangeHandler interface {
	OnChange(fieldID, value string) error
}

// ChangeFunc adapts a function to ChangeHandler.
type ChangeFunc func(fieldID, value string) error

// OnChange calls f.
func (f ChangeFunc) OnChange(fieldID, value string) error {
	return f(fieldID, value)
}

// ActiveChecker answers the deferred blur re-check: whether the host still
// considers the field the active element.
type ActiveChecker interface {
	IsStillActive(fieldID string) bool
}

// ActiveFunc adapts a function to ActiveChecker.
type ActiveFunc func(fieldID string) bool

// IsStillActive calls f.
func (f ActiveFunc) IsStillActive(fieldID string) bool {
	return f(fieldID)
}

// NeverActive confirms every blur.
var NeverActive ActiveChecker = ActiveFunc(func(string) bool { return false })

// Env carries the collaborators shared by every session of an engine.
type Env struct {
	Clock     clock.TimeSource
	Scheduler clock.Scheduler
	Registry  *registry.Registry
	Handler   ChangeHandler
	Active    ActiveChecker
	Logger    *slog.Logger
	Metrics   *metrics.EngineMetrics
}

func (e *Env) setDefaults() {
	if e.Clock == nil {
		e.Clock = clock.NewRealTimeSource()
	}
	if e.Scheduler == nil {
		e.Scheduler = clock.NewScheduler(e.Clock)
	}
	if e.Registry == nil {
		e.Registry = registry.New(e.Clock)
	}
	if e.Handler == nil {
		e.Handler = ChangeFunc(func(string, string) error { return nil })
	}
	if e.Active == nil {
		e.Active = NeverActive
	}
	if e.Logger == nil {
		e.Logger = logging.Discard()
	}
	if e.Metrics == nil {
		e.Metrics = metrics.NewEngineMetrics(metrics.NewRegistry("fieldsync", ""))
	}
}
