package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// metricsDumpHandler handles GET /api/v1/metrics. It serves the registry's
// plain-text dump, the same rendering the /metrics shell command prints.
func (s *Server) metricsDumpHandler(c *gin.Context) {
	c.String(http.StatusOK, s.registry.Dump())
}
