package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/events"
	"github.com/merlya/merlya/pkg/metrics"
)

const (
	// defaultTick is the scheduler granularity; check intervals are
	// multiples of roughly this.
	defaultTick = time.Second
	// joinTimeout bounds how long Stop waits for the worker.
	joinTimeout = 5 * time.Second
)

// ErrNoChecks is returned by Start when no checks are registered.
var ErrNoChecks = errors.New("sentinel has no checks")

type checkState struct {
	cfg     config.CheckConfig
	lastRun time.Time
}

// Monitor is the scheduling worker. It owns the check registry and composes
// the executor and alert manager.
type Monitor struct {
	cfg      config.SentinelConfig
	executor *Executor
	alerts   *AlertManager
	hub      *events.Hub
	registry *metrics.Registry
	logger   *slog.Logger
	tick     time.Duration

	mu     sync.Mutex
	state  State
	checks map[string]*checkState
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor seeded with the configured checks. Invalid
// configured checks are logged and skipped.
func NewMonitor(cfg config.SentinelConfig, executor *Executor, alerts *AlertManager) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		executor: executor,
		alerts:   alerts,
		registry: metrics.Default(),
		logger:   slog.Default().With("component", "sentinel"),
		tick:     defaultTick,
		state:    StateStopped,
		checks:   make(map[string]*checkState),
	}
	for _, chk := range cfg.Checks {
		if err := m.AddCheck(chk); err != nil {
			m.logger.Error("Skipping configured check", "check", chk.Name, "error", err)
		}
	}
	return m
}

// WithHub wires check result events.
func (m *Monitor) WithHub(h *events.Hub) *Monitor {
	m.hub = h
	return m
}

// withTick overrides the scheduler granularity. Test seam.
func (m *Monitor) withTick(d time.Duration) *Monitor {
	m.tick = d
	return m
}

// Alerts exposes the composed alert manager.
func (m *Monitor) Alerts() *AlertManager {
	return m.alerts
}

// AddCheck validates cfg, fills defaults, and registers it. The check
// becomes due on the next tick.
func (m *Monitor) AddCheck(cfg config.CheckConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("check has no name")
	}
	if cfg.Target == "" {
		return fmt.Errorf("check %q has no target", cfg.Name)
	}
	if !cfg.Type.IsValid() {
		return fmt.Errorf("check %q has unknown type %q", cfg.Name, cfg.Type)
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = m.cfg.DefaultIntervalSeconds
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = m.cfg.DefaultTimeoutSeconds
	}
	if cfg.ThresholdFailures <= 0 {
		cfg.ThresholdFailures = m.cfg.DefaultThresholdFailures
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checks[cfg.Name]; exists {
		return fmt.Errorf("check %q already registered", cfg.Name)
	}
	m.checks[cfg.Name] = &checkState{cfg: cfg}
	return nil
}

// RemoveCheck unregisters a check.
func (m *Monitor) RemoveCheck(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checks[name]; !ok {
		return fmt.Errorf("check %q not registered", name)
	}
	delete(m.checks, name)
	return nil
}

// SetEnabled flips a check on or off without unregistering it.
func (m *Monitor) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.checks[name]
	if !ok {
		return fmt.Errorf("check %q not registered", name)
	}
	st.cfg.Enabled = &enabled
	return nil
}

// Checks returns the registered check configs sorted by name.
func (m *Monitor) Checks() []config.CheckConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]config.CheckConfig, 0, len(m.checks))
	for _, st := range m.checks {
		out = append(out, st.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// State returns the lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Start moves STOPPED to RUNNING and launches the worker. It refuses to
// start with zero registered checks.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning || m.state == StatePaused {
		return fmt.Errorf("sentinel already started (state %s)", m.state)
	}
	if len(m.checks) == 0 {
		return ErrNoChecks
	}

	m.stopCh = make(chan struct{})
	m.state = StateRunning
	m.wg.Add(1)
	go m.worker(m.stopCh)
	m.logger.Info("Sentinel started", "checks", len(m.checks), "tick", m.tick)
	return nil
}

// Stop signals the worker and joins it with a bounded wait. Safe to call in
// any state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(joinTimeout):
		m.logger.Warn("Sentinel worker did not stop within the join timeout")
	}
	m.setState(StateStopped)
	m.logger.Info("Sentinel stopped")
}

// Pause suspends scheduling; checks stay registered and due times keep
// aging so resumed checks fire on the next tick.
func (m *Monitor) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return fmt.Errorf("cannot pause from state %s", m.state)
	}
	m.state = StatePaused
	return nil
}

// Resume reverses Pause.
func (m *Monitor) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return fmt.Errorf("cannot resume from state %s", m.state)
	}
	m.state = StateRunning
	return nil
}

// worker is the scheduling loop: one coarse tick, due-check collection
// under the lock, execution outside it.
func (m *Monitor) worker(stopCh chan struct{}) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workerDone := make(chan struct{})
	defer close(workerDone)
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-workerDone:
		}
	}()

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if m.State() == StatePaused {
				continue
			}
			if !m.runDue(ctx) {
				return
			}
		}
	}
}

// runDue executes every due check once. A panic in check execution sets
// ERROR and stops the worker; false tells the loop to exit.
func (m *Monitor) runDue(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Check execution panicked", "panic", r)
			m.setState(StateError)
			ok = false
		}
	}()

	now := time.Now()
	m.mu.Lock()
	var due []config.CheckConfig
	for _, st := range m.checks {
		if st.cfg.Enabled != nil && !*st.cfg.Enabled {
			continue
		}
		interval := time.Duration(st.cfg.IntervalSeconds) * time.Second
		if now.Sub(st.lastRun) >= interval {
			st.lastRun = now
			due = append(due, st.cfg)
		}
	}
	m.mu.Unlock()

	// Deterministic order for a given tick.
	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })

	for _, chk := range due {
		if ctx.Err() != nil {
			return true
		}
		result := m.executor.Run(ctx, chk)

		outcome := "failure"
		if result.Success {
			outcome = "success"
		}
		m.registry.Counter(MetricChecks).IncLabeled(1, map[string]string{
			"check": chk.Name, "outcome": outcome,
		})
		if m.hub != nil {
			m.hub.Publish(events.ChannelChecks, events.EventTypeCheckResult, map[string]any{
				"check":            result.CheckName,
				"target":           result.Target,
				"success":          result.Success,
				"response_time_ms": result.ResponseTimeMS,
				"error":            result.Error,
			})
		}
		m.alerts.Observe(ctx, chk.ThresholdFailures, result)
	}
	return true
}
