// Package events provides the in-process event hub and the WebSocket fanout
// used by the status API. Components publish progress and alert events to
// named channels; subscribers are in-process consumers or WebSocket clients.
package events

import "time"

// Channel names. One channel groups one subsystem's events.
const (
	// ChannelScans carries scanner progress and completion events.
	ChannelScans = "scans"
	// ChannelAlerts carries Sentinel alert lifecycle events.
	ChannelAlerts = "alerts"
	// ChannelChecks carries individual check results.
	ChannelChecks = "checks"
	// ChannelCI carries CI analysis events.
	ChannelCI = "ci"
	// ChannelPlans carries planner output events.
	ChannelPlans = "plans"
)

// Event types published on those channels.
const (
	EventTypeScanStarted   = "scan.started"
	EventTypeScanProgress  = "scan.progress"
	EventTypeScanCompleted = "scan.completed"

	EventTypeAlertCreated = "alert.created"
	EventTypeAlertCleared = "alert.cleared"
	EventTypeCheckResult  = "check.result"

	EventTypeIncidentCreated = "incident.created"
	EventTypeCIAnalysis      = "ci.analysis"
	EventTypePlanCreated     = "plan.created"
)

// Event is one published occurrence.
type Event struct {
	Type      string         `json:"type"`
	Channel   string         `json:"channel"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ClientMessage is what WebSocket clients send: subscribe/unsubscribe/ping.
type ClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}
