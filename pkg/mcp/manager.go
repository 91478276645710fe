// Package mcp manages stdio MCP server sessions for the servers
// registered in mcp_servers.json. Sessions are created lazily on first
// use and recreated on transport failures. The package also parses
// inline "@mcp <server> <remaining>" references out of user requests
// and resolves them into tool calls.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/version"
)

// Manager owns one client session per configured MCP server.
// Thread-safe: sessions may be used from multiple goroutines.
type Manager struct {
	registry *config.MCPServerRegistry

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession // server name → session
	clients       map[string]*mcpsdk.Client        // server name → client (for reconnection)
	failedServers map[string]string                // server name → last connect error

	// Tool lists rarely change over a subprocess lifetime, so the cache is
	// only invalidated when a session is recreated.
	toolCache   map[string][]*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	// Per-server mutex serializing connect and reconnect attempts.
	connectMu sync.Map // server name → *sync.Mutex

	logger *slog.Logger
}

// NewManager creates a Manager over the given server registry.
// No connections are made until a server is first used.
func NewManager(registry *config.MCPServerRegistry) *Manager {
	return &Manager{
		registry:      registry,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
		logger:        slog.Default().With("component", "mcp"),
	}
}

// ConnectAll eagerly connects every registered server. Failures are
// recorded per server rather than aborting; check FailedServers after.
func (m *Manager) ConnectAll(ctx context.Context) {
	for _, name := range m.registry.Names() {
		if err := m.Connect(ctx, name); err != nil {
			m.logger.Warn("mcp server failed to connect", "server", name, "error", err)
		}
	}
}

// Connect establishes the session for one server. Returns nil if the
// server is already connected.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	muI, _ := m.connectMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if err := m.connectLocked(ctx, serverID); err != nil {
		// Track connect failures for registered servers only; a typo'd
		// name is the caller's error, not a server outage.
		if !errors.Is(err, config.ErrMCPServerNotFound) {
			m.mu.Lock()
			m.failedServers[serverID] = err.Error()
			m.mu.Unlock()
		}
		return err
	}
	return nil
}

// connectLocked dials the server. Caller must hold the per-server
// connect mutex.
func (m *Manager) connectLocked(ctx context.Context, serverID string) error {
	// Re-check under the per-server lock so concurrent callers collapse
	// into one connection attempt.
	m.mu.RLock()
	if _, exists := m.sessions[serverID]; exists {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	serverCfg, err := m.registry.Get(serverID)
	if err != nil {
		return err
	}

	transport, err := newTransport(serverCfg)
	if err != nil {
		return fmt.Errorf("transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// The SDK closes the underlying connection on most failure paths;
		// closing here guards against a leaked stdio child process.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect to %q: %w", serverID, err)
	}

	m.mu.Lock()
	m.sessions[serverID] = session
	m.clients[serverID] = client
	delete(m.failedServers, serverID)
	m.mu.Unlock()

	m.logger.Info("mcp server connected", "server", serverID, "command", serverCfg.Command)
	return nil
}

// newTransport builds the stdio transport for a server entry. The child
// inherits the parent environment with the configured entries appended.
func newTransport(cfg *config.MCPServerConfig) (mcpsdk.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires a command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

// session returns the live session for a server, connecting lazily when
// none exists yet.
func (m *Manager) session(ctx context.Context, serverID string) (*mcpsdk.ClientSession, error) {
	m.mu.RLock()
	session, ok := m.sessions[serverID]
	m.mu.RUnlock()
	if ok {
		return session, nil
	}

	if err := m.Connect(ctx, serverID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	session, ok = m.sessions[serverID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}
	return session, nil
}

// ListTools returns the tools of one server, from cache when available.
func (m *Manager) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	// Lock ordering: never acquire m.mu while holding toolCacheMu.
	m.toolCacheMu.RLock()
	if cached, ok := m.toolCache[serverID]; ok {
		m.toolCacheMu.RUnlock()
		return cached, nil
	}
	m.toolCacheMu.RUnlock()

	session, err := m.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	// Cache a non-nil slice so cache hits never hand out nil.
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	m.toolCacheMu.Lock()
	m.toolCache[serverID] = tools
	m.toolCacheMu.Unlock()

	return tools, nil
}

// ListAllTools returns tools per server for every registered and every
// connected server. Servers that fail are skipped with a warning; an
// error is returned only when no server answered at all.
func (m *Manager) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	seen := make(map[string]bool)
	var serverIDs []string
	m.mu.RLock()
	for id := range m.sessions {
		seen[id] = true
		serverIDs = append(serverIDs, id)
	}
	m.mu.RUnlock()
	for _, id := range m.registry.Names() {
		if !seen[id] {
			serverIDs = append(serverIDs, id)
		}
	}

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, id := range serverIDs {
		tools, err := m.ListTools(ctx, id)
		if err != nil {
			lastErr = err
			m.logger.Warn("failed to list tools from mcp server", "server", id, "error", err)
			continue
		}
		result[id] = tools
	}

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all mcp servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool executes one tools/call against a server. Transport failures
// get a single retry after a jittered backoff, recreating the session
// when the classifier asks for it.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	result, err := m.callToolOnce(ctx, serverID, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	m.logger.Info("mcp call failed, retrying",
		"server", serverID, "tool", toolName, "action", action, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := m.recreateSession(ctx, serverID); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", serverID, err)
		}
	}

	result, err = m.callToolOnce(ctx, serverID, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %s.%s: %w", serverID, toolName, err)
	}
	return result, nil
}

// callToolOnce performs a single CallTool attempt.
func (m *Manager) callToolOnce(ctx context.Context, serverID string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := m.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// Ping probes a server's session. Connects first if needed.
func (m *Manager) Ping(ctx context.Context, serverID string) error {
	session, err := m.session(ctx, serverID)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	if err := session.Ping(pingCtx, nil); err != nil {
		return fmt.Errorf("ping %q: %w", serverID, err)
	}
	return nil
}

// recreateSession tears down and re-establishes the session for a server.
//
// If two goroutines race in here, the second tears down the freshly
// recreated session and builds another. The cost is one extra
// connection, accepted for simplicity over a generation counter.
func (m *Manager) recreateSession(ctx context.Context, serverID string) error {
	muI, _ := m.connectMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	m.mu.Lock()
	if session, exists := m.sessions[serverID]; exists {
		_ = session.Close()
		delete(m.sessions, serverID)
		delete(m.clients, serverID)
	}
	m.mu.Unlock()

	m.InvalidateToolCache(serverID)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return m.connectLocked(reinitCtx, serverID)
}

// Close shuts down every session and clears all state.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, session := range m.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}

	m.sessions = make(map[string]*mcpsdk.ClientSession)
	m.clients = make(map[string]*mcpsdk.Client)
	m.failedServers = make(map[string]string)

	// Lock ordering note: mu → toolCacheMu is safe because no path holds
	// toolCacheMu while acquiring mu.
	m.toolCacheMu.Lock()
	m.toolCache = make(map[string][]*mcpsdk.Tool)
	m.toolCacheMu.Unlock()

	return firstErr
}

// InvalidateToolCache drops the cached tool list for a server so the
// next ListTools re-probes it.
func (m *Manager) InvalidateToolCache(serverID string) {
	m.toolCacheMu.Lock()
	delete(m.toolCache, serverID)
	m.toolCacheMu.Unlock()
}

// HasSession reports whether a server currently has a live session.
func (m *Manager) HasSession(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.sessions[serverID]
	return exists
}

// Servers returns the names of all registered servers, connected or not.
func (m *Manager) Servers() []string {
	return m.registry.Names()
}

// CachedTools returns the cached tool list for a server without touching the
// server. Status reporting uses this so it never triggers a connect.
func (m *Manager) CachedTools(serverID string) ([]*mcpsdk.Tool, bool) {
	m.toolCacheMu.RLock()
	defer m.toolCacheMu.RUnlock()
	tools, ok := m.toolCache[serverID]
	return tools, ok
}

// FailedServers returns a copy of the servers whose last connection
// attempt failed, keyed by server name.
func (m *Manager) FailedServers() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]string, len(m.failedServers))
	for k, v := range m.failedServers {
		result[k] = v
	}
	return result
}
