package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/merlya/merlya/pkg/sentinel"
)

// SentinelChecksResponse is returned by GET /api/v1/sentinel/checks.
type SentinelChecksResponse struct {
	State  string      `json:"state"`
	Checks []CheckItem `json:"checks"`
}

// CheckItem describes one registered health check.
type CheckItem struct {
	Name              string `json:"name"`
	Target            string `json:"target"`
	Type              string `json:"type"`
	IntervalSeconds   int    `json:"interval_seconds"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	ThresholdFailures int    `json:"threshold_failures"`
	Enabled           bool   `json:"enabled"`
}

// SentinelAlertsResponse is returned by GET /api/v1/sentinel/alerts.
type SentinelAlertsResponse struct {
	Alerts []sentinel.Alert `json:"alerts"`
}

// SentinelHistoryResponse is returned by GET /api/v1/sentinel/checks/:name/history.
type SentinelHistoryResponse struct {
	Check   string                 `json:"check"`
	Results []sentinel.CheckResult `json:"results"`
}

// sentinelChecksHandler handles GET /api/v1/sentinel/checks.
func (s *Server) sentinelChecksHandler(c *gin.Context) {
	response := SentinelChecksResponse{
		State:  string(sentinel.StateStopped),
		Checks: []CheckItem{},
	}
	if s.monitor == nil {
		c.JSON(http.StatusOK, response)
		return
	}

	response.State = string(s.monitor.State())
	for _, cfg := range s.monitor.Checks() {
		response.Checks = append(response.Checks, CheckItem{
			Name:              cfg.Name,
			Target:            cfg.Target,
			Type:              string(cfg.Type),
			IntervalSeconds:   cfg.IntervalSeconds,
			TimeoutSeconds:    cfg.TimeoutSeconds,
			ThresholdFailures: cfg.ThresholdFailures,
			Enabled:           cfg.Enabled == nil || *cfg.Enabled,
		})
	}

	c.JSON(http.StatusOK, response)
}

// sentinelAlertsHandler handles GET /api/v1/sentinel/alerts.
func (s *Server) sentinelAlertsHandler(c *gin.Context) {
	response := SentinelAlertsResponse{Alerts: []sentinel.Alert{}}
	if s.monitor != nil {
		response.Alerts = s.monitor.Alerts().Active()
	}
	c.JSON(http.StatusOK, response)
}

// sentinelHistoryHandler handles GET /api/v1/sentinel/checks/:name/history.
func (s *Server) sentinelHistoryHandler(c *gin.Context) {
	name := c.Param("name")
	response := SentinelHistoryResponse{
		Check:   name,
		Results: []sentinel.CheckResult{},
	}
	if s.monitor != nil {
		response.Results = s.monitor.Alerts().History(name)
	}
	c.JSON(http.StatusOK, response)
}

// sentinelAckHandler handles POST /api/v1/sentinel/alerts/:id/ack.
func (s *Server) sentinelAckHandler(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sentinel is not running"})
		return
	}

	id := c.Param("id")
	if err := s.monitor.Alerts().Acknowledge(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active alert with that id"})
		return
	}

	s.logger.Info("Alert acknowledged", "alert", id, "by", extractAuthor(c))
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}
