// Package sentinel is the proactive monitoring agent: a background scheduler
// running heterogeneous health checks, deduplicating consecutive failures
// into severity-graded alerts, and optionally triggering remediation.
package sentinel

import "time"

// Metric names recorded by the monitor and alert pipeline.
const (
	MetricChecks       = "merlya_sentinel_checks_total"
	MetricAlerts       = "merlya_sentinel_alerts_total"
	MetricActiveAlerts = "merlya_sentinel_active_alerts"
	MetricRemediations = "merlya_sentinel_remediations_total"
)

// Severity grades an alert by how far past its threshold a check has failed.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// State is the monitor lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
	// StateError is set when check execution panics; the worker exits.
	StateError State = "error"
)

// CheckResult is the outcome of one health check run.
type CheckResult struct {
	CheckName      string         `json:"check_name"`
	Target         string         `json:"target"`
	Success        bool           `json:"success"`
	ResponseTimeMS int64          `json:"response_time_ms"`
	Timestamp      time.Time      `json:"timestamp"`
	Error          string         `json:"error,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Alert is a deduplicated failure condition. At most one alert is active per
// check; the next success clears it.
type Alert struct {
	ID                  string    `json:"id"`
	CheckName           string    `json:"check_name"`
	Target              string    `json:"target"`
	Severity            Severity  `json:"severity"`
	Message             string    `json:"message"`
	Timestamp           time.Time `json:"timestamp"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Acknowledged        bool      `json:"acknowledged"`
	IncidentID          string    `json:"incident_id,omitempty"`
}

// severityFor grades consecutive failures against the check threshold:
// 1x threshold is info, 2x warning, 3x critical.
func severityFor(failures, threshold int) Severity {
	switch {
	case failures >= 3*threshold:
		return SeverityCritical
	case failures >= 2*threshold:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// priorityFor maps alert severity to incident priority.
func priorityFor(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return "P1"
	case SeverityWarning:
		return "P2"
	default:
		return "P3"
	}
}
