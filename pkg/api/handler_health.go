package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merlya/merlya/pkg/sentinel"
	"github.com/merlya/merlya/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]HealthCheck `json:"checks"`
}

// HealthCheck is the state of one component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthHandler handles GET /healthz.
// Only in-process components are reported. External dependencies (MCP
// servers, SSH targets, the LLM providers) are excluded so a supervisor
// never restarts the daemon over someone else's outage; their state shows
// up under /api/v1 instead.
func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.monitor != nil {
		state := s.monitor.State()
		check := HealthCheck{Status: healthStatusHealthy, Message: string(state)}
		if state == sentinel.StateError {
			check.Status = healthStatusDegraded
			status = healthStatusDegraded
		}
		checks["sentinel"] = check
	}

	if s.store != nil {
		checks["conversations"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.conns != nil {
		checks["websocket"] = HealthCheck{Status: healthStatusHealthy}
	}

	c.JSON(http.StatusOK, &HealthResponse{
		Status:        status,
		Version:       version.GitCommit,
		UptimeSeconds: int64(time.Since(s.started) / time.Second),
		Checks:        checks,
	})
}
