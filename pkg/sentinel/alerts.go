package sentinel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/merlya/merlya/pkg/events"
	"github.com/merlya/merlya/pkg/knowledge"
	"github.com/merlya/merlya/pkg/metrics"
)

// historyLimit bounds the per-check result history.
const historyLimit = 100

// AlertCallback is invoked for every alert created or replaced.
type AlertCallback func(Alert)

// Remediation is a suggested fix for an alerting check.
type Remediation struct {
	Action         string `json:"action"`
	AutoExecutable bool   `json:"auto_executable"`
	Reason         string `json:"reason,omitempty"`
}

// Remediator suggests and applies fixes for alerts. Execute is only called
// for suggestions marked auto-executable.
type Remediator interface {
	Suggest(ctx context.Context, alert Alert) (*Remediation, error)
	Execute(ctx context.Context, remediation *Remediation) error
}

// Notifier delivers created alerts to an external channel.
type Notifier interface {
	AlertCreated(ctx context.Context, alert Alert) error
}

// AlertManager turns check results into deduplicated alerts. It owns the
// per-check failure counters, the bounded result history, and the single
// active alert per check. It holds no reference back to the monitor;
// everything outbound goes through callbacks and interfaces.
type AlertManager struct {
	autoRemediate bool
	know          knowledge.Interface
	remediator    Remediator
	notifier      Notifier
	callback      AlertCallback
	hub           *events.Hub
	registry      *metrics.Registry
	logger        *slog.Logger

	mu       sync.Mutex
	failures map[string]int
	active   map[string]Alert
	history  map[string][]CheckResult
}

// NewAlertManager creates an alert manager. autoRemediate gates the
// remediation hook for warning and critical alerts.
func NewAlertManager(autoRemediate bool) *AlertManager {
	return &AlertManager{
		autoRemediate: autoRemediate,
		registry:      metrics.Default(),
		logger:        slog.Default().With("component", "sentinel.alerts"),
		failures:      make(map[string]int),
		active:        make(map[string]Alert),
		history:       make(map[string][]CheckResult),
	}
}

// WithKnowledge wires incident recording for critical alerts.
func (m *AlertManager) WithKnowledge(k knowledge.Interface) *AlertManager {
	m.know = k
	return m
}

// WithRemediator wires the remediation hook.
func (m *AlertManager) WithRemediator(r Remediator) *AlertManager {
	m.remediator = r
	return m
}

// WithNotifier wires external alert delivery.
func (m *AlertManager) WithNotifier(n Notifier) *AlertManager {
	m.notifier = n
	return m
}

// WithCallback wires the user alert callback.
func (m *AlertManager) WithCallback(cb AlertCallback) *AlertManager {
	m.callback = cb
	return m
}

// WithHub wires alert lifecycle events.
func (m *AlertManager) WithHub(h *events.Hub) *AlertManager {
	m.hub = h
	return m
}

// Observe feeds one check result through the alert pipeline. Counter and
// alert-map transitions happen under the lock; knowledge, notification, and
// remediation side effects happen after it is released.
func (m *AlertManager) Observe(ctx context.Context, threshold int, result CheckResult) {
	if result.Success {
		m.observeSuccess(result)
		return
	}

	alert, created := m.observeFailure(threshold, result)
	if !created {
		return
	}

	m.registry.Counter(MetricAlerts).IncLabeled(1, map[string]string{
		"severity": string(alert.Severity),
	})
	m.logger.Warn("Alert raised",
		"check", alert.CheckName,
		"target", alert.Target,
		"severity", alert.Severity,
		"consecutive_failures", alert.ConsecutiveFailures)

	if alert.Severity == SeverityCritical && alert.IncidentID == "" && m.know != nil {
		if id, err := m.recordIncident(ctx, alert); err != nil {
			m.logger.Error("Recording incident failed", "check", alert.CheckName, "error", err)
		} else {
			alert.IncidentID = id
			m.setIncidentID(alert.CheckName, alert.ID, id)
		}
	}

	m.publish(events.EventTypeAlertCreated, map[string]any{
		"id":          alert.ID,
		"check":       alert.CheckName,
		"target":      alert.Target,
		"severity":    string(alert.Severity),
		"message":     alert.Message,
		"incident_id": alert.IncidentID,
	})
	if m.callback != nil {
		m.callback(alert)
	}
	if m.notifier != nil {
		if err := m.notifier.AlertCreated(ctx, alert); err != nil {
			m.logger.Warn("Alert notification failed", "check", alert.CheckName, "error", err)
		}
	}
	m.maybeRemediate(ctx, alert)
}

// observeSuccess records the result and clears any failure streak and
// active alert for the check.
func (m *AlertManager) observeSuccess(result CheckResult) {
	m.mu.Lock()
	m.appendHistory(result)
	streak := m.failures[result.CheckName]
	m.failures[result.CheckName] = 0
	cleared, had := m.active[result.CheckName]
	delete(m.active, result.CheckName)
	activeCount := len(m.active)
	m.mu.Unlock()

	if streak > 0 {
		m.logger.Info("Check recovered", "check", result.CheckName, "after_failures", streak)
	}
	if had {
		m.registry.Gauge(MetricActiveAlerts).Set(float64(activeCount))
		m.publish(events.EventTypeAlertCleared, map[string]any{
			"id":     cleared.ID,
			"check":  cleared.CheckName,
			"target": cleared.Target,
		})
	}
}

// observeFailure bumps the streak and, at or past the threshold, creates or
// replaces the check's active alert.
func (m *AlertManager) observeFailure(threshold int, result CheckResult) (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendHistory(result)
	count := m.failures[result.CheckName] + 1
	m.failures[result.CheckName] = count

	if threshold <= 0 || count < threshold {
		return Alert{}, false
	}

	alert := Alert{
		ID:                  ulid.Make().String(),
		CheckName:           result.CheckName,
		Target:              result.Target,
		Severity:            severityFor(count, threshold),
		Message:             fmt.Sprintf("%s failed %d consecutive times: %s", result.CheckName, count, result.Error),
		Timestamp:           time.Now(),
		ConsecutiveFailures: count,
	}
	// Replacement keeps the incident reference for the streak; an
	// acknowledgement survives only until the severity escalates.
	if prev, ok := m.active[result.CheckName]; ok {
		alert.IncidentID = prev.IncidentID
		if prev.Severity == alert.Severity {
			alert.Acknowledged = prev.Acknowledged
		}
	}
	m.active[result.CheckName] = alert
	m.registry.Gauge(MetricActiveAlerts).Set(float64(len(m.active)))
	return alert, true
}

func (m *AlertManager) appendHistory(result CheckResult) {
	h := append(m.history[result.CheckName], result)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	m.history[result.CheckName] = h
}

func (m *AlertManager) recordIncident(ctx context.Context, alert Alert) (string, error) {
	incident := knowledge.Incident{
		ID:          fmt.Sprintf("sentinel-%s-%s", alert.CheckName, time.Now().UTC().Format("20060102150405")),
		Title:       fmt.Sprintf("Health check %s critical on %s", alert.CheckName, alert.Target),
		Description: alert.Message,
		Symptoms:    []string{alert.CheckName, alert.Target, alert.Message},
		Priority:    priorityFor(alert.Severity),
		CreatedAt:   time.Now(),
	}
	if err := m.know.RecordIncident(ctx, incident); err != nil {
		return "", err
	}
	m.publish(events.EventTypeIncidentCreated, map[string]any{
		"id":       incident.ID,
		"check":    alert.CheckName,
		"priority": incident.Priority,
	})
	return incident.ID, nil
}

// setIncidentID backfills the incident reference on the stored alert,
// unless a newer alert replaced it meanwhile.
func (m *AlertManager) setIncidentID(check, alertID, incidentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[check]; ok && current.ID == alertID {
		current.IncidentID = incidentID
		m.active[check] = current
	}
}

// maybeRemediate asks for a fix on warning and critical alerts and executes
// it only when the suggestion is marked auto-executable.
func (m *AlertManager) maybeRemediate(ctx context.Context, alert Alert) {
	if !m.autoRemediate || m.remediator == nil || alert.Severity == SeverityInfo {
		return
	}
	suggestion, err := m.remediator.Suggest(ctx, alert)
	if err != nil {
		m.logger.Warn("Remediation suggestion failed", "check", alert.CheckName, "error", err)
		return
	}
	if suggestion == nil {
		return
	}
	if !suggestion.AutoExecutable {
		m.logger.Info("Remediation suggested, not auto-executable",
			"check", alert.CheckName, "action", suggestion.Action)
		m.registry.Counter(MetricRemediations).IncLabeled(1, map[string]string{"outcome": "suggested"})
		return
	}
	if err := m.remediator.Execute(ctx, suggestion); err != nil {
		m.logger.Error("Remediation failed",
			"check", alert.CheckName, "action", suggestion.Action, "error", err)
		m.registry.Counter(MetricRemediations).IncLabeled(1, map[string]string{"outcome": "failed"})
		return
	}
	m.logger.Info("Remediation executed", "check", alert.CheckName, "action", suggestion.Action)
	m.registry.Counter(MetricRemediations).IncLabeled(1, map[string]string{"outcome": "executed"})
}

// Active returns the active alerts sorted by check name.
func (m *AlertManager) Active() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckName < out[j].CheckName })
	return out
}

// ActiveFor returns the active alert for one check.
func (m *AlertManager) ActiveFor(check string) (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[check]
	return a, ok
}

// Acknowledge marks the active alert with the given id as acknowledged.
func (m *AlertManager) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for check, a := range m.active {
		if a.ID == id {
			a.Acknowledged = true
			m.active[check] = a
			return nil
		}
	}
	return fmt.Errorf("no active alert with id %s", id)
}

// History returns a copy of the bounded result history for one check.
func (m *AlertManager) History(check string) []CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[check]
	out := make([]CheckResult, len(h))
	copy(out, h)
	return out
}

func (m *AlertManager) publish(eventType string, payload map[string]any) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(events.ChannelAlerts, eventType, payload)
}
