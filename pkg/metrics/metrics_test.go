package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	t.Run("unlabeled", func(t *testing.T) {
		var c Counter
		c.Inc(1)
		c.Inc(2)
		assert.Equal(t, int64(3), c.Value())
	})

	t.Run("labeled series are independent of unlabeled value", func(t *testing.T) {
		var c Counter
		c.IncLabeled(1, map[string]string{"function": "scan", "attempt": "2"})
		c.IncLabeled(1, map[string]string{"attempt": "2", "function": "scan"})
		c.IncLabeled(1, map[string]string{"function": "scan", "attempt": "3"})

		assert.Equal(t, int64(0), c.Value())
		labeled := c.Labeled()
		assert.Equal(t, int64(2), labeled["attempt=2,function=scan"])
		assert.Equal(t, int64(1), labeled["attempt=3,function=scan"])
	})

	t.Run("concurrent increments", func(t *testing.T) {
		var c Counter
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					c.Inc(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(5000), c.Value())
	})
}

func TestLabelKeyRoundTrip(t *testing.T) {
	key := LabelKey(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "a=1,b=2", key)

	names, values := ParseLabelKey(key)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, []string{"1", "2"}, values)

	names, values = ParseLabelKey("")
	assert.Nil(t, names)
	assert.Nil(t, values)
}

func TestHistogram(t *testing.T) {
	t.Run("stats", func(t *testing.T) {
		reg := NewRegistry()
		h := reg.Histogram("merlya_scan_duration_seconds")
		for _, v := range []float64{0.02, 0.2, 2, 20} {
			h.Observe(v)
		}

		stats := h.Stats()
		assert.Equal(t, 4, stats.Count)
		assert.InDelta(t, 22.22, stats.Sum, 0.001)
		assert.InDelta(t, 0.02, stats.Min, 0.0001)
		assert.InDelta(t, 20, stats.Max, 0.0001)
		assert.InDelta(t, 5.555, stats.Avg, 0.001)
		// Cumulative: 0.02 <= 0.05; 0.02,0.2 <= 0.5; all <= 60.
		assert.Equal(t, 0, stats.BucketCountsLE[0.01])
		assert.Equal(t, 1, stats.BucketCountsLE[0.05])
		assert.Equal(t, 2, stats.BucketCountsLE[0.5])
		assert.Equal(t, 3, stats.BucketCountsLE[5])
		assert.Equal(t, 4, stats.BucketCountsLE[30])
		assert.Equal(t, 4, stats.BucketCountsLE[60])
	})

	t.Run("empty histogram", func(t *testing.T) {
		reg := NewRegistry()
		stats := reg.Histogram("empty").Stats()
		assert.Equal(t, 0, stats.Count)
		assert.Zero(t, stats.Sum)
	})

	t.Run("sliding buffer evicts oldest", func(t *testing.T) {
		reg := NewRegistry()
		h := reg.HistogramWith("bounded", DefaultBuckets, 3)
		for _, v := range []float64{1, 2, 3, 4} {
			h.Observe(v)
		}
		stats := h.Stats()
		// 1 was overwritten by 4 so the window is {2,3,4}.
		assert.Equal(t, 3, stats.Count)
		assert.InDelta(t, 2, stats.Min, 0.0001)
		assert.InDelta(t, 4, stats.Max, 0.0001)
	})
}

func TestGauge(t *testing.T) {
	reg := NewRegistry()
	g := reg.Gauge("merlya_active_connections")
	g.Set(5)
	g.Inc(2)
	g.Dec(3)
	assert.InDelta(t, 4, g.Get(), 0.0001)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	reg := NewRegistry()
	c1 := reg.Counter("requests")
	c2 := reg.Counter("requests")
	assert.Same(t, c1, c2)

	h1 := reg.Histogram("latency")
	h2 := reg.Histogram("latency")
	assert.Same(t, h1, h2)
}

func TestRegistry_Dump(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("merlya_requests_total").Inc(7)
	reg.Counter("merlya_retry_attempts_total").IncLabeled(2, map[string]string{"function": "scan_host", "attempt": "2"})
	reg.Gauge("merlya_pool_size").Set(3)
	reg.Histogram("merlya_plan_duration_seconds").Observe(0.4)

	dump := reg.Dump()
	assert.Contains(t, dump, "counter merlya_requests_total 7")
	assert.Contains(t, dump, "counter merlya_retry_attempts_total{attempt=2,function=scan_host} 2")
	assert.Contains(t, dump, "gauge merlya_pool_size 3")
	assert.Contains(t, dump, "histogram merlya_plan_duration_seconds count=1")
}

func TestDefaultSingleton(t *testing.T) {
	ResetInstance()
	t.Cleanup(ResetInstance)

	a := Default()
	b := Default()
	assert.Same(t, a, b)

	ResetInstance()
	assert.NotSame(t, a, Default())
}

func TestExporter_Collect(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("merlya_requests_total").Inc(4)
	reg.Counter("merlya.retry.attempts").IncLabeled(1, map[string]string{"function": "f"})
	reg.Gauge("pool").Set(1.5)
	reg.Histogram("dur").Observe(0.3)

	promReg := prometheus.NewPedanticRegistry()
	require.NoError(t, promReg.Register(NewExporter(reg)))

	families, err := promReg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, " ")
	assert.Contains(t, joined, "merlya_requests_total")
	assert.Contains(t, joined, "merlya_retry_attempts")
	assert.Contains(t, joined, "pool")
	assert.Contains(t, joined, "dur")
}
