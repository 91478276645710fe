package sentinel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/events"
	"github.com/merlya/merlya/pkg/metrics"
)

func testSentinelConfig() config.SentinelConfig {
	return config.SentinelConfig{
		DefaultIntervalSeconds:   60,
		DefaultTimeoutSeconds:    10,
		DefaultThresholdFailures: 3,
	}
}

func customCheck(name, probe string, interval int) config.CheckConfig {
	return config.CheckConfig{
		Name:              name,
		Target:            "web-1",
		Type:              config.CheckTypeCustom,
		Parameters:        map[string]string{"probe": probe},
		IntervalSeconds:   interval,
		ThresholdFailures: 1,
	}
}

func newTestMonitor(t *testing.T) (*Monitor, *Executor) {
	t.Helper()
	executor := NewExecutor()
	alerts := newTestAlerts(false)
	m := NewMonitor(testSentinelConfig(), executor, alerts).withTick(10 * time.Millisecond)
	m.registry = metrics.NewRegistry()
	t.Cleanup(m.Stop)
	return m, executor
}

func TestStartRefusesZeroChecks(t *testing.T) {
	m, _ := newTestMonitor(t)

	err := m.Start()

	assert.ErrorIs(t, err, ErrNoChecks)
	assert.Equal(t, StateStopped, m.State())
}

func TestLifecycle(t *testing.T) {
	m, executor := newTestMonitor(t)
	executor.RegisterProbe("noop", func(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
		return nil, nil
	})
	require.NoError(t, m.AddCheck(customCheck("beat", "noop", 3600)))

	assert.Equal(t, StateStopped, m.State())
	require.NoError(t, m.Start())
	assert.Equal(t, StateRunning, m.State())
	assert.Error(t, m.Start(), "double start is rejected")

	require.NoError(t, m.Pause())
	assert.Equal(t, StatePaused, m.State())
	assert.Error(t, m.Pause(), "pause requires running")
	assert.Error(t, m.Start(), "paused monitor is already started")

	require.NoError(t, m.Resume())
	assert.Equal(t, StateRunning, m.State())
	assert.Error(t, m.Resume(), "resume requires paused")

	m.Stop()
	assert.Equal(t, StateStopped, m.State())
	m.Stop() // idempotent

	require.NoError(t, m.Start(), "a stopped monitor can start again")
}

func TestRunsDueChecks(t *testing.T) {
	m, executor := newTestMonitor(t)
	var runs atomic.Int64
	executor.RegisterProbe("count", func(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
		runs.Add(1)
		return nil, nil
	})
	require.NoError(t, m.AddCheck(customCheck("beat", "count", 1)))

	require.NoError(t, m.Start())

	assert.Eventually(t, func() bool { return runs.Load() >= 2 },
		3*time.Second, 10*time.Millisecond, "a 1s-interval check fires repeatedly")

	m.Stop()
	count := m.registry.Counter(MetricChecks).Labeled()
	assert.GreaterOrEqual(t, count["check=beat,outcome=success"], int64(2))
}

func TestAlertPipelineWired(t *testing.T) {
	m, executor := newTestMonitor(t)
	executor.RegisterProbe("down", func(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
		return nil, context.DeadlineExceeded
	})
	require.NoError(t, m.AddCheck(customCheck("db", "down", 1)))

	require.NoError(t, m.Start())

	assert.Eventually(t, func() bool { return len(m.Alerts().Active()) == 1 },
		3*time.Second, 10*time.Millisecond, "a threshold-1 failing check raises an alert")
	alert := m.Alerts().Active()[0]
	assert.Equal(t, "db", alert.CheckName)
}

func TestPauseSkipsScheduling(t *testing.T) {
	m, executor := newTestMonitor(t)
	var runs atomic.Int64
	executor.RegisterProbe("count", func(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
		runs.Add(1)
		return nil, nil
	})
	require.NoError(t, m.AddCheck(customCheck("beat", "count", 1)))

	require.NoError(t, m.Start())
	require.NoError(t, m.Pause())

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, runs.Load(), "paused monitor runs nothing")

	require.NoError(t, m.Resume())
	assert.Eventually(t, func() bool { return runs.Load() >= 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestPanicSetsErrorState(t *testing.T) {
	m, executor := newTestMonitor(t)
	executor.RegisterProbe("bomb", func(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
		panic("probe exploded")
	})
	require.NoError(t, m.AddCheck(customCheck("bomb", "bomb", 1)))

	require.NoError(t, m.Start())

	assert.Eventually(t, func() bool { return m.State() == StateError },
		2*time.Second, 10*time.Millisecond)
	m.Stop()
	assert.Equal(t, StateStopped, m.State())
}

func TestDisabledCheckSkipped(t *testing.T) {
	m, executor := newTestMonitor(t)
	var runs atomic.Int64
	executor.RegisterProbe("count", func(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
		runs.Add(1)
		return nil, nil
	})
	require.NoError(t, m.AddCheck(customCheck("beat", "count", 1)))
	require.NoError(t, m.SetEnabled("beat", false))

	require.NoError(t, m.Start())
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, runs.Load())

	require.NoError(t, m.SetEnabled("beat", true))
	assert.Eventually(t, func() bool { return runs.Load() >= 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestAddRemoveChecks(t *testing.T) {
	m, _ := newTestMonitor(t)

	t.Run("defaults applied", func(t *testing.T) {
		require.NoError(t, m.AddCheck(config.CheckConfig{
			Name: "web", Target: "web-1", Type: config.CheckTypePing,
		}))
		checks := m.Checks()
		require.Len(t, checks, 1)
		assert.Equal(t, 60, checks[0].IntervalSeconds)
		assert.Equal(t, 10, checks[0].TimeoutSeconds)
		assert.Equal(t, 3, checks[0].ThresholdFailures)
	})

	t.Run("rejects invalid", func(t *testing.T) {
		assert.Error(t, m.AddCheck(config.CheckConfig{Target: "x", Type: config.CheckTypePing}))
		assert.Error(t, m.AddCheck(config.CheckConfig{Name: "x", Type: config.CheckTypePing}))
		assert.Error(t, m.AddCheck(config.CheckConfig{Name: "x", Target: "y", Type: "teleport"}))
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		err := m.AddCheck(config.CheckConfig{
			Name: "web", Target: "web-2", Type: config.CheckTypePing,
		})
		assert.ErrorContains(t, err, "already registered")
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, m.RemoveCheck("web"))
		assert.Empty(t, m.Checks())
		assert.Error(t, m.RemoveCheck("web"))
		assert.Error(t, m.SetEnabled("web", true))
	})
}

func TestSeedsConfiguredChecks(t *testing.T) {
	cfg := testSentinelConfig()
	cfg.Checks = []config.CheckConfig{
		{Name: "api", Target: "api-1", Type: config.CheckTypeHTTP},
		{Name: "", Target: "ghost", Type: config.CheckTypePing}, // invalid, skipped
	}

	m := NewMonitor(cfg, NewExecutor(), newTestAlerts(false))

	checks := m.Checks()
	require.Len(t, checks, 1)
	assert.Equal(t, "api", checks[0].Name)
}

func TestPublishesCheckResults(t *testing.T) {
	hub := events.NewHub()
	ch, cancel := hub.Subscribe(events.ChannelChecks, 16)
	defer cancel()

	m, executor := newTestMonitor(t)
	m.WithHub(hub)
	executor.RegisterProbe("noop", func(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
		return nil, nil
	})
	require.NoError(t, m.AddCheck(customCheck("beat", "noop", 1)))
	require.NoError(t, m.Start())

	select {
	case ev := <-ch:
		assert.Equal(t, events.EventTypeCheckResult, ev.Type)
		assert.Equal(t, "beat", ev.Payload["check"])
		assert.Equal(t, true, ev.Payload["success"])
	case <-time.After(3 * time.Second):
		t.Fatal("no check.result event within 3s")
	}
}
