// Package metrics provides an in-process metrics registry with three
// primitive types: Counter, Histogram, and Gauge. Every operation is atomic
// under the metric's own mutex, so hot paths never contend on a global lock.
//
// The registry is exported to Prometheus via the Exporter bridge and dumped
// as text for the /metrics shell command.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// DefaultMaxObservations bounds a histogram's sliding observation buffer.
const DefaultMaxObservations = 10000

// DefaultBuckets are histogram bucket upper bounds in seconds.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60}

// Counter is a monotonically increasing counter with an optional labeled
// breakdown. The unlabeled value and the labeled map are independent.
type Counter struct {
	mu      sync.Mutex
	value   int64
	labeled map[string]int64
}

// Inc adds delta to the unlabeled value.
func (c *Counter) Inc(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += delta
}

// IncLabeled adds delta to the labeled series identified by the label set.
func (c *Counter) IncLabeled(delta int64, labels map[string]string) {
	key := LabelKey(labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.labeled == nil {
		c.labeled = make(map[string]int64)
	}
	c.labeled[key] += delta
}

// Value returns the unlabeled value.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Labeled returns a copy of the labeled series.
func (c *Counter) Labeled() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.labeled))
	for k, v := range c.labeled {
		out[k] = v
	}
	return out
}

// LabelKey renders a label set as "k1=v1,k2=v2" with keys sorted, so the
// same set always maps to the same series.
func LabelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}

// ParseLabelKey splits a "k1=v1,k2=v2" key back into names and values.
// Inverse of LabelKey for well-formed keys.
func ParseLabelKey(key string) (names, values []string) {
	if key == "" {
		return nil, nil
	}
	for _, part := range strings.Split(key, ",") {
		name, value, _ := strings.Cut(part, "=")
		names = append(names, name)
		values = append(values, value)
	}
	return names, values
}

// Histogram keeps a sliding buffer of the most recent observations and
// computes statistics on demand. Once the buffer is full, the oldest
// observation is overwritten.
type Histogram struct {
	mu      sync.Mutex
	obs     []float64
	next    int
	full    bool
	maxObs  int
	buckets []float64
}

// HistogramStats is a point-in-time summary of a histogram.
type HistogramStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64
	// BucketCountsLE maps each bucket upper bound to the number of
	// observations less than or equal to it (cumulative).
	BucketCountsLE map[float64]int
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.obs) < h.maxObs {
		h.obs = append(h.obs, v)
		return
	}
	h.obs[h.next] = v
	h.next = (h.next + 1) % h.maxObs
	h.full = true
}

// Stats computes count, sum, min, max, avg, and cumulative bucket counts
// over the current buffer.
func (h *Histogram) Stats() HistogramStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HistogramStats{
		BucketCountsLE: make(map[float64]int, len(h.buckets)),
	}
	for _, le := range h.buckets {
		stats.BucketCountsLE[le] = 0
	}
	if len(h.obs) == 0 {
		return stats
	}

	stats.Count = len(h.obs)
	stats.Min = math.Inf(1)
	stats.Max = math.Inf(-1)
	for _, v := range h.obs {
		stats.Sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		for _, le := range h.buckets {
			if v <= le {
				stats.BucketCountsLE[le]++
			}
		}
	}
	stats.Avg = stats.Sum / float64(stats.Count)
	return stats
}

// Buckets returns the configured bucket bounds.
func (h *Histogram) Buckets() []float64 {
	out := make([]float64, len(h.buckets))
	copy(out, h.buckets)
	return out
}

// Gauge is a single float value.
type Gauge struct {
	mu    sync.Mutex
	value float64
}

// Set replaces the value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Inc adds delta to the value.
func (g *Gauge) Inc(delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value += delta
}

// Dec subtracts delta from the value.
func (g *Gauge) Dec(delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value -= delta
}

// Get returns the value.
func (g *Gauge) Get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Registry maps metric names to instances. Lookup creates on first use.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	gauges     map[string]*Gauge
}

// NewRegistry creates an empty registry. Production code uses Default();
// private instances are for tests.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		gauges:     make(map[string]*Gauge),
	}
}

// Counter returns the named counter, creating it if needed.
func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		c = &Counter{}
		r.counters[name] = c
	}
	return c
}

// Histogram returns the named histogram with default buckets and buffer.
func (r *Registry) Histogram(name string) *Histogram {
	return r.HistogramWith(name, DefaultBuckets, DefaultMaxObservations)
}

// HistogramWith returns the named histogram, creating it with the given
// buckets and buffer size if needed. Buckets are sorted ascending.
func (r *Registry) HistogramWith(name string, buckets []float64, maxObs int) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[name]
	if !ok {
		if maxObs < 1 {
			maxObs = DefaultMaxObservations
		}
		sorted := make([]float64, len(buckets))
		copy(sorted, buckets)
		sort.Float64s(sorted)
		h = &Histogram{maxObs: maxObs, buckets: sorted}
		r.histograms[name] = h
	}
	return h
}

// Gauge returns the named gauge, creating it if needed.
func (r *Registry) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[name]
	if !ok {
		g = &Gauge{}
		r.gauges[name] = g
	}
	return g
}

// Dump renders every metric as human-readable text, sorted by name.
// Backs the /metrics shell command.
func (r *Registry) Dump() string {
	r.mu.Lock()
	counters := make(map[string]*Counter, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	histograms := make(map[string]*Histogram, len(r.histograms))
	for k, v := range r.histograms {
		histograms[k] = v
	}
	gauges := make(map[string]*Gauge, len(r.gauges))
	for k, v := range r.gauges {
		gauges[k] = v
	}
	r.mu.Unlock()

	var b strings.Builder
	for _, name := range sortedKeys(counters) {
		c := counters[name]
		fmt.Fprintf(&b, "counter %s %d\n", name, c.Value())
		labeled := c.Labeled()
		for _, key := range sortedKeys(labeled) {
			fmt.Fprintf(&b, "counter %s{%s} %d\n", name, key, labeled[key])
		}
	}
	for _, name := range sortedKeys(histograms) {
		stats := histograms[name].Stats()
		fmt.Fprintf(&b, "histogram %s count=%d sum=%.4f min=%.4f max=%.4f avg=%.4f\n",
			name, stats.Count, stats.Sum, stats.Min, stats.Max, stats.Avg)
	}
	for _, name := range sortedKeys(gauges) {
		fmt.Fprintf(&b, "gauge %s %g\n", name, gauges[name].Get())
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// ResetInstance discards the process-wide registry. Test-only.
func ResetInstance() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}
