package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/merlya/merlya/pkg/api"
	"github.com/merlya/merlya/pkg/cleanup"
	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/conversation"
	"github.com/merlya/merlya/pkg/events"
	"github.com/merlya/merlya/pkg/knowledge"
	"github.com/merlya/merlya/pkg/mcp"
	"github.com/merlya/merlya/pkg/metrics"
	"github.com/merlya/merlya/pkg/netplan"
	"github.com/merlya/merlya/pkg/notify"
	"github.com/merlya/merlya/pkg/sentinel"
	"github.com/merlya/merlya/pkg/sources"
	"github.com/merlya/merlya/pkg/sshpool"
	"github.com/merlya/merlya/pkg/version"
)

// apiShutdownTimeout bounds draining of in-flight status API requests.
const apiShutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the merlya daemon",
		Long: `Run the long-lived daemon: sentinel health checks with alerting and
optional auto-remediation, the local status API with the websocket event
stream, and the background retention sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOptions) error {
	// 1. Initialize configuration
	cfg, err := opts.initialize()
	if err != nil {
		return err
	}

	ctx := context.Background()
	slog.Info("Starting merlya",
		"version", version.Full(),
		"home", cfg.Paths.Home)

	// 2. Open the conversation store
	store, err := conversation.NewStore(cfg.Conversation, cfg.Paths)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}

	// 3. Knowledge store and data source registry
	know := knowledge.NewFileStore(cfg.Paths.KnowledgeFile(), cfg.Paths.LearnedSkillsFile())
	srcRegistry := sources.NewRegistry(cfg.Paths.SourcesRegistryFile())

	// 4. Start the retention sweep
	retention := cleanup.NewService(cfg.Conversation.RetentionDays, store, srcRegistry)
	retention.Start(ctx)

	// 5. Event hub for the websocket stream
	hub := events.NewHub()
	conns := events.NewConnectionManager(hub, cfg.API.WSWriteTimeout)

	// 6. SSH pool; custom checks run over it, routed by the
	// knowledge-backed connectivity planner
	pool := sshpool.NewPool(cfg.SSH, netplan.NewPlanner(know))

	// 7. Sentinel monitor with alerting
	executor := sentinel.NewExecutor().WithRunner(pool, cfg.SSH.DefaultUser)
	alerts := sentinel.NewAlertManager(cfg.Sentinel.AutoRemediate).
		WithKnowledge(know).
		WithNotifier(notify.New(cfg.Notify)).
		WithHub(hub)
	monitor := sentinel.NewMonitor(cfg.Sentinel, executor, alerts).WithHub(hub)
	if cfg.Sentinel.Enabled {
		if err := monitor.Start(); err != nil {
			return fmt.Errorf("start sentinel: %w", err)
		}
	}

	// 8. Connect MCP servers. Failures are recorded per server for the
	// status API, never fatal.
	mcpServers, mcpErrs, err := config.LoadMCPServers(cfg.Paths.MCPServersFile())
	if err != nil {
		return err
	}
	for _, loadErr := range mcpErrs {
		slog.Warn("Skipping invalid MCP server entry", "error", loadErr)
	}
	mcpManager := mcp.NewManager(config.NewMCPServerRegistry(mcpServers))
	if len(mcpServers) > 0 {
		mcpManager.ConnectAll(ctx)
	}

	// 9. Start the status API (non-blocking)
	var apiServer *api.Server
	errCh := make(chan error, 1)
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, metrics.Default()).
			WithMonitor(monitor).
			WithConversations(store).
			WithConnectionManager(conns).
			WithMCP(mcpManager)
		go func() {
			if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Status API error", "error", err)
				errCh <- err
			}
		}()
	}

	slog.Info("Merlya started",
		"sentinel_enabled", cfg.Sentinel.Enabled,
		"sentinel_checks", len(cfg.Sentinel.Checks),
		"api_enabled", cfg.API.Enabled,
		"mcp_servers", len(mcpServers))

	// 10. Wait for a shutdown signal or a server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop the producers, drain the API, then
	// close the stores
	if cfg.Sentinel.Enabled {
		monitor.Stop()
	}
	retention.Stop()

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, apiShutdownTimeout)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Status API shutdown error", "error", err)
		}
		cancel()
	}

	if err := mcpManager.Close(); err != nil {
		slog.Error("Error closing MCP sessions", "error", err)
	}
	pool.Close()
	if err := store.Close(); err != nil {
		slog.Error("Error closing conversation store", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
