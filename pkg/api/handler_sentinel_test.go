package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelChecks(t *testing.T) {
	s, _ := newTestServer(t)
	s.WithMonitor(testMonitor(t))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sentinel/checks")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SentinelChecksResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "stopped", resp.State)
	require.Len(t, resp.Checks, 1)

	check := resp.Checks[0]
	assert.Equal(t, "web-port", check.Name)
	assert.Equal(t, "web-1", check.Target)
	assert.Equal(t, "port", check.Type)
	assert.Equal(t, 30, check.IntervalSeconds, "defaults filled in from config")
	assert.True(t, check.Enabled, "unset enabled flag reads as enabled")
}

func TestSentinelChecksNoMonitor(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sentinel/checks")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SentinelChecksResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "stopped", resp.State)
	assert.Empty(t, resp.Checks)
}

func TestSentinelAlerts(t *testing.T) {
	s, _ := newTestServer(t)
	s.WithMonitor(testMonitor(t))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sentinel/alerts")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SentinelAlertsResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "web-port", resp.Alerts[0].CheckName)
	assert.Equal(t, "critical", string(resp.Alerts[0].Severity))
	assert.Equal(t, 3, resp.Alerts[0].ConsecutiveFailures)
}

func TestSentinelHistory(t *testing.T) {
	s, _ := newTestServer(t)
	s.WithMonitor(testMonitor(t))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sentinel/checks/web-port/history")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SentinelHistoryResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "web-port", resp.Check)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "connection refused", resp.Results[0].Error)
}

func TestSentinelHistoryUnknownCheck(t *testing.T) {
	s, _ := newTestServer(t)
	s.WithMonitor(testMonitor(t))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sentinel/checks/bogus/history")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SentinelHistoryResponse
	decodeJSON(t, rec, &resp)
	assert.Empty(t, resp.Results)
}

func TestSentinelAck(t *testing.T) {
	s, _ := newTestServer(t)
	monitor := testMonitor(t)
	s.WithMonitor(monitor)

	active := monitor.Alerts().Active()
	require.Len(t, active, 1)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sentinel/alerts/"+active[0].ID+"/ack")
	require.Equal(t, http.StatusOK, rec.Code)

	acked, ok := monitor.Alerts().ActiveFor("web-port")
	require.True(t, ok)
	assert.True(t, acked.Acknowledged)
}

func TestSentinelAckUnknownID(t *testing.T) {
	s, _ := newTestServer(t)
	s.WithMonitor(testMonitor(t))

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sentinel/alerts/nope/ack")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSentinelAckNoMonitor(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sentinel/alerts/any/ack")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
