package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter adapts a Registry to the Prometheus collector interface so the
// status API can serve a standard /metrics endpoint. It is an unchecked
// collector: metric shapes are derived from the registry at scrape time.
type Exporter struct {
	reg *Registry
}

// NewExporter creates a Prometheus collector over the given registry.
func NewExporter(reg *Registry) *Exporter {
	return &Exporter{reg: reg}
}

// Describe sends no descriptors, marking this as an unchecked collector.
// The registry's contents are dynamic; shapes are only known at scrape time.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {}

// Collect emits every metric currently in the registry.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.reg.mu.Lock()
	counters := make(map[string]*Counter, len(e.reg.counters))
	for k, v := range e.reg.counters {
		counters[k] = v
	}
	histograms := make(map[string]*Histogram, len(e.reg.histograms))
	for k, v := range e.reg.histograms {
		histograms[k] = v
	}
	gauges := make(map[string]*Gauge, len(e.reg.gauges))
	for k, v := range e.reg.gauges {
		gauges[k] = v
	}
	e.reg.mu.Unlock()

	for name, c := range counters {
		promName := sanitizeName(name)
		labeled := c.Labeled()
		if len(labeled) == 0 {
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(promName, "", nil, nil),
				prometheus.CounterValue, float64(c.Value()))
			continue
		}
		// A family must keep one label dimension; labeled series win and the
		// bare value is dropped for counters used both ways.
		for key, v := range labeled {
			names, values := ParseLabelKey(key)
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(promName, "", names, nil),
				prometheus.CounterValue, float64(v), values...)
		}
	}

	for name, h := range histograms {
		stats := h.Stats()
		buckets := make(map[float64]uint64, len(stats.BucketCountsLE))
		for le, n := range stats.BucketCountsLE {
			buckets[le] = uint64(n)
		}
		ch <- prometheus.MustNewConstHistogram(
			prometheus.NewDesc(sanitizeName(name), "", nil, nil),
			uint64(stats.Count), stats.Sum, buckets)
	}

	for name, g := range gauges {
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(sanitizeName(name), "", nil, nil),
			prometheus.GaugeValue, g.Get())
	}
}

// sanitizeName maps registry names onto the Prometheus name charset.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}
