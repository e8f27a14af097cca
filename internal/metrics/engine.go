package metrics

import (
	"strings"
	"time"
)

// EngineMetrics holds the field synchronization counters.
type EngineMetrics struct {
	registry *Registry

	CommitsTotal         *Counter
	DuplicatesSuppressed *Counter
	ExternalApplied      *Counter
	ExternalSuppressed   *Counter
	CompositionsTotal    *Counter
	BlursIgnored         *Counter
	StaleTimers          *Counter
	HandlerErrors        *Counter

	MountedFields  *Gauge
	ActiveSessions *Gauge

	// CommitLatency is labelled by reason (debounce, composition,
	// finalize, blur, flush) and, for debounce commits, by category.
	CommitLatency *HistogramVec
}

// CommitLatencyBuckets cover the debounce delays and the blur re-check
// (seconds).
var CommitLatencyBuckets = []float64{
	0.001, 0.05, 0.1, 0.2, 0.25, 0.3, 0.4, 0.5, 1, 2.5, 5,
}

// NewEngineMetrics registers the engine metrics on registry, or on a
// fresh "fieldsync" registry when registry is nil.
func NewEngineMetrics(registry *Registry) *EngineMetrics {
	if registry == nil {
		registry = NewRegistry("fieldsync", "")
	}
	r := registry
	return &EngineMetrics{
		registry: r,

		CommitsTotal:         r.Counter("commits_total", "Values reported to the change handler"),
		DuplicatesSuppressed: r.Counter("duplicate_commits_suppressed_total", "Commits skipped because the value equals the last committed value"),
		ExternalApplied:      r.Counter("external_values_applied_total", "External values written into a field"),
		ExternalSuppressed:   r.Counter("external_values_suppressed_total", "External values ignored because the field was protected"),
		CompositionsTotal:    r.Counter("compositions_total", "Completed input method compositions"),
		BlursIgnored:         r.Counter("blurs_ignored_total", "Blur events dropped because the host reported the field still active"),
		StaleTimers:          r.Counter("stale_timers_total", "Timer callbacks that arrived after their session was torn down"),
		HandlerErrors:        r.Counter("handler_errors_total", "Change handler calls that returned an error or panicked"),

		MountedFields:  r.Gauge("mounted_fields", "Mounted fields"),
		ActiveSessions: r.Gauge("active_sessions", "Fields with an active typing session"),

		CommitLatency: r.HistogramVec("commit_latency_seconds",
			"Time from the last edit to the commit that reported it",
			CommitLatencyBuckets, "reason", "category"),
	}
}

// ObserveCommit records the latency of a commit. A reason of the form
// "debounce:<category>" is split into its two labels.
func (m *EngineMetrics) ObserveCommit(reason string, latency time.Duration) {
	reason, category, _ := strings.Cut(reason, ":")
	m.CommitLatency.With(reason, category).ObserveDuration(latency)
}

// Registry returns the underlying registry.
func (m *EngineMetrics) Registry() *Registry {
	return m.registry
}
