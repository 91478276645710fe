// Package api serves the local status HTTP API: health, metrics, Sentinel
// state, stored conversations, and the WebSocket event stream. The server
// binds loopback by default and exposes read-only views plus alert
// acknowledgement; everything that mutates infrastructure stays on the
// interactive side.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/conversation"
	"github.com/merlya/merlya/pkg/events"
	"github.com/merlya/merlya/pkg/mcp"
	"github.com/merlya/merlya/pkg/metrics"
	"github.com/merlya/merlya/pkg/sentinel"
)

// Server is the status API. Collaborators are optional; endpoints whose
// backing component is not wired degrade to empty responses or 503 rather
// than panicking, so the server can run with any subset of the system.
type Server struct {
	cfg      config.APIConfig
	registry *metrics.Registry
	monitor  *sentinel.Monitor
	store    conversation.Store
	conns    *events.ConnectionManager
	mcp      *mcp.Manager
	logger   *slog.Logger

	engine  *gin.Engine
	httpSrv *http.Server
	started time.Time
}

// NewServer builds the server and mounts all routes. The metrics registry is
// required; everything else is attached through the With setters.
func NewServer(cfg config.APIConfig, registry *metrics.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), securityHeaders())

	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   slog.Default().With("component", "api"),
		engine:   engine,
		started:  time.Now(),
	}
	s.routes()

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// WithMonitor wires the Sentinel monitor for /api/v1/sentinel endpoints.
func (s *Server) WithMonitor(m *sentinel.Monitor) *Server {
	s.monitor = m
	return s
}

// WithConversations wires the conversation store.
func (s *Server) WithConversations(store conversation.Store) *Server {
	s.store = store
	return s
}

// WithConnectionManager wires the WebSocket fanout for /ws/events.
func (s *Server) WithConnectionManager(cm *events.ConnectionManager) *Server {
	s.conns = cm
	return s
}

// WithMCP wires the MCP manager for /api/v1/system/mcp-servers.
func (s *Server) WithMCP(m *mcp.Manager) *Server {
	s.mcp = m
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthHandler)
	s.engine.GET("/metrics", gin.WrapH(s.prometheusHandler()))
	s.engine.GET("/ws/events", s.wsHandler)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/metrics", s.metricsDumpHandler)
	v1.GET("/sentinel/checks", s.sentinelChecksHandler)
	v1.GET("/sentinel/checks/:name/history", s.sentinelHistoryHandler)
	v1.GET("/sentinel/alerts", s.sentinelAlertsHandler)
	v1.POST("/sentinel/alerts/:id/ack", s.sentinelAckHandler)
	v1.GET("/conversations", s.conversationsHandler)
	v1.GET("/conversations/:id", s.conversationHandler)
	v1.GET("/conversations/:id/export", s.conversationExportHandler)
	v1.GET("/system/mcp-servers", s.mcpServersHandler)
}

// prometheusHandler serves the metrics registry through the Prometheus
// text exposition format.
func (s *Server) prometheusHandler() http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewExporter(s.registry))
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}

// Handler exposes the routed engine. Tests drive it directly through
// httptest without opening a port.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and blocks until Shutdown or a
// listener error. Callers run it in a goroutine and treat
// http.ErrServerClosed as a clean exit.
func (s *Server) Start() error {
	s.logger.Info("Status API listening", "addr", s.cfg.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
