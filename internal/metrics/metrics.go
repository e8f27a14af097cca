// Package metrics exposes the sync engine's counters in the Prometheus
// text format, with a JSON view of the same values for quick inspection.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// family is one named metric as it appears in the exposition output.
type family interface {
	write(w io.Writer)
	collect(into map[string]any)
}

// Counter only goes up.
type Counter struct {
	name, help string
	n          atomic.Uint64
}

func (c *Counter) Inc() { c.n.Add(1) }
func (c *Counter) Add(v uint64) { c.n.Add(v) }
func (c *Counter) Value() uint64 { return c.n.Load() }
func (c *Counter) Name() string { return c.name }

func (c *Counter) write(w io.Writer) {
	header(w, c.name, c.help, "counter")
	fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
}

func (c *Counter) collect(into map[string]any) { into[c.name] = c.Value() }

// Gauge tracks a level such as the number of mounted fields.
type Gauge struct {
	name, help string
	n          atomic.Int64
}

func (g *Gauge) Set(v int64) { g.n.Store(v) }
func (g *Gauge) Inc() { g.n.Add(1) }
func (g *Gauge) Dec() { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }
func (g *Gauge) Name() string { return g.name }

func (g *Gauge) write(w io.Writer) {
	header(w, g.name, g.help, "gauge")
	fmt.Fprintf(w, "%s %d\n", g.name, g.Value())
}

func (g *Gauge) collect(into map[string]any) { into[g.name] = g.Value() }

// Histogram counts observations per upper bound. Bucket counts are kept
// per bucket and summed when written.
type Histogram struct {
	name, help string
	labels     string
	bounds     []float64

	mu     sync.Mutex
	counts []uint64 // len(bounds)+1, last is +Inf
	sum    float64
	total  uint64
}

func newHistogram(name, help, labels string, bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{name: name, help: help, labels: labels, bounds: b, counts: make([]uint64, len(b)+1)}
}

// Observe records v, in seconds for latency histograms.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.counts[sort.SearchFloat64s(h.bounds, v)]++
	h.sum += v
	h.total++
	h.mu.Unlock()
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Sum returns the sum of observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Mean returns Sum/Count, or 0 before the first observation.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total == 0 {
		return 0
	}
	return h.sum / float64(h.total)
}

func (h *Histogram) write(w io.Writer) {
	header(w, h.name, h.help, "histogram")
	h.writeSeries(w)
}

func (h *Histogram) writeSeries(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var cum uint64
	for i, le := range h.bounds {
		cum += h.counts[i]
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLabel(h.labels, "le", fmt.Sprintf("%g", le)), cum)
	}
	cum += h.counts[len(h.bounds)]
	fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLabel(h.labels, "le", "+Inf"), cum)
	fmt.Fprintf(w, "%s_sum%s %g\n", h.name, braces(h.labels), h.sum)
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, braces(h.labels), h.total)
}

func (h *Histogram) collect(into map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	into[h.name+"_count"+braces(h.labels)] = h.total
	into[h.name+"_sum"+braces(h.labels)] = h.sum
}

// HistogramVec is a histogram family split by label values. Series are
// created on first use.
type HistogramVec struct {
	name, help string
	labelNames []string
	bounds     []float64

	mu     sync.Mutex
	series map[string]*Histogram
}

// With returns the series for the given label values, in labelNames order.
// Empty values are left out of the rendered label set.
func (v *HistogramVec) With(values ...string) *Histogram {
	if len(values) != len(v.labelNames) {
		panic(fmt.Sprintf("metrics: %s wants %d label values, got %d", v.name, len(v.labelNames), len(values)))
	}
	pairs := make([]string, 0, len(values))
	for i, val := range values {
		if val != "" {
			pairs = append(pairs, fmt.Sprintf("%s=%q", v.labelNames[i], val))
		}
	}
	key := strings.Join(pairs, ",")

	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.series[key]
	if !ok {
		h = newHistogram(v.name, v.help, key, v.bounds)
		v.series[key] = h
	}
	return h
}

// Count returns the number of observations across every series.
func (v *HistogramVec) Count() uint64 {
	var n uint64
	for _, h := range v.snapshot() {
		n += h.Count()
	}
	return n
}

func (v *HistogramVec) snapshot() []*Histogram {
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make([]string, 0, len(v.series))
	for k := range v.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Histogram, len(keys))
	for i, k := range keys {
		out[i] = v.series[k]
	}
	return out
}

func (v *HistogramVec) write(w io.Writer) {
	header(w, v.name, v.help, "histogram")
	for _, h := range v.snapshot() {
		h.writeSeries(w)
	}
}

func (v *HistogramVec) collect(into map[string]any) {
	var total uint64
	for _, h := range v.snapshot() {
		h.collect(into)
		total += h.Count()
	}
	into[v.name+"_count"] = total
}

func header(w io.Writer, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func withLabel(labels, name, value string) string {
	pair := fmt.Sprintf("%s=%q", name, value)
	if labels == "" {
		return "{" + pair + "}"
	}
	return "{" + labels + "," + pair + "}"
}

// Registry owns a set of metric families under a common name prefix.
// Registering a name twice returns the first instance.
type Registry struct {
	prefix string

	mu       sync.RWMutex
	families map[string]family
}

// NewRegistry returns a registry whose metric names are prefixed with
// namespace and subsystem, each followed by an underscore when set.
func NewRegistry(namespace, subsystem string) *Registry {
	var prefix string
	for _, part := range []string{namespace, subsystem} {
		if part != "" {
			prefix += part + "_"
		}
	}
	return &Registry{prefix: prefix, families: make(map[string]family)}
}

func register[F family](r *Registry, name string, build func(full string) F) F {
	full := r.prefix + name
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.families[full]; ok {
		return f.(F)
	}
	f := build(full)
	r.families[full] = f
	return f
}

// Counter registers a counter.
func (r *Registry) Counter(name, help string) *Counter {
	return register(r, name, func(full string) *Counter { return &Counter{name: full, help: help} })
}

// Gauge registers a gauge.
func (r *Registry) Gauge(name, help string) *Gauge {
	return register(r, name, func(full string) *Gauge { return &Gauge{name: full, help: help} })
}

// Histogram registers an unlabelled histogram.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	return register(r, name, func(full string) *Histogram { return newHistogram(full, help, "", bounds) })
}

// HistogramVec registers a histogram family keyed by labelNames.
func (r *Registry) HistogramVec(name, help string, bounds []float64, labelNames ...string) *HistogramVec {
	return register(r, name, func(full string) *HistogramVec {
		return &HistogramVec{
			name:       full,
			help:       help,
			labelNames: labelNames,
			bounds:     append([]float64(nil), bounds...),
			series:     make(map[string]*Histogram),
		}
	})
}

func (r *Registry) sorted() []family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.families))
	for n := range r.families {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]family, len(names))
	for i, n := range names {
		out[i] = r.families[n]
	}
	return out
}

// WritePrometheus writes every family in text exposition format, sorted by
// name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	for _, f := range r.sorted() {
		f.write(w)
	}
	return nil
}

// Snapshot flattens the current values into a map keyed by series name.
// Histograms contribute _count and _sum entries.
func (r *Registry) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, f := range r.sorted() {
		f.collect(out)
	}
	return out
}

// HTTPHandler serves the registry. Requests accepting application/json get
// the Snapshot, everything else gets the text format.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			_ = enc.Encode(r.Snapshot())
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = r.WritePrometheus(w)
	})
}
