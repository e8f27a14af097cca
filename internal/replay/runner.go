package replay

import (
	"log/slog"
	"time"

	"fieldsync/internal/clock"
	"fieldsync/internal/field"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
)

// DefaultMaxDrain bounds how far past the last step the clock may run.
const DefaultMaxDrain = time.Minute

// RunOptions configures a replay.
type RunOptions struct {
	// Handler also receives every commit, e.g. a store.
	Handler field.ChangeHandler

	Logger  *slog.Logger
	Metrics *metrics.EngineMetrics

	// MaxDrain bounds the drain after the last step. Zero means
	// DefaultMaxDrain.
	MaxDrain time.Duration
}

type runner struct {
	ts     *clock.EventTimeSource
	eng    *field.Engine
	host   *Host
	trace  *Trace
	sink   field.ChangeHandler
	logger *slog.Logger
}

// Run plays sc against a fresh engine on a virtual clock.
func Run(sc *Scenario, opts RunOptions) (*Trace, error) {
	fopts, err := sc.Options()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.MaxDrain <= 0 {
		opts.MaxDrain = DefaultMaxDrain
	}

	r := &runner{
		ts:     clock.NewEventTimeSource(),
		host:   NewHost(sc.StillActive...),
		trace:  &Trace{Scenario: sc.Name},
		sink:   opts.Handler,
		logger: opts.Logger.With("scenario", sc.Name),
	}
	r.host.OnPush = r.onPush

	r.eng = field.NewEngine(field.Env{
		Clock:   r.ts,
		Handler: field.ChangeFunc(r.onChange),
		Active:  r.host,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	}, fopts)
	r.host.Bind(r.eng)

	for _, st := range sc.Steps {
		r.ts.Update(clock.Epoch.Add(time.Duration(st.At)))
		r.logger.Debug("step", "step", st.String())
		if err := r.host.Apply(st); err != nil {
			r.record(st.Field, KindError, err.Error())
			r.logger.Debug("step failed", "step", st.String(), "error", err)
		}
	}

	limit := r.ts.Now().Add(opts.MaxDrain)
	for {
		next, ok := r.ts.NextDeadline()
		if !ok {
			break
		}
		if next.After(limit) {
			r.logger.Warn("drain limit reached", "pending", r.ts.NumTimers())
			break
		}
		r.ts.Update(next)
	}

	r.trace.Final = r.eng.Snapshot()
	r.trace.End = r.elapsed()
	r.eng.UnmountAll()
	return r.trace, nil
}

func (r *runner) elapsed() time.Duration {
	return r.ts.Now().Sub(clock.Epoch)
}

func (r *runner) record(fieldID, kind, value string) {
	r.trace.Events = append(r.trace.Events, Event{
		At:    r.elapsed(),
		Field: fieldID,
		Kind:  kind,
		Value: value,
	})
}

func (r *runner) onChange(fieldID, value string) error {
	r.record(fieldID, KindCommit, value)
	if r.sink == nil {
		return nil
	}
	return r.sink.OnChange(fieldID, value)
}

func (r *runner) onPush(fieldID, value string, applied bool) {
	kind := KindPushSuppressed
	if applied {
		kind = KindPushApplied
	}
	r.record(fieldID, kind, value)
}
