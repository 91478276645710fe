package ci

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// PlatformConfig is the typed configuration an adapter is built from,
// seeded by detection or by hand.
type PlatformConfig struct {
	Platform PlatformType `json:"platform"`
	// Owner and Repo identify a GitHub repository.
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
	// ProjectPath identifies a GitLab project (group/subgroup/project).
	ProjectPath string `json:"project_path,omitempty"`
	// APIBaseURL overrides the platform API endpoint for self-hosted
	// installations.
	APIBaseURL string `json:"api_base_url,omitempty"`
	// PreferredClients orders strategy selection; empty means cli then mcp.
	PreferredClients []string `json:"preferred_clients,omitempty"`
}

// Adapter is the platform-generic surface the registry and manager hand
// out. Concrete adapters add typed operations on top.
type Adapter interface {
	Platform() PlatformType
	// Available reports whether any client strategy can serve the adapter.
	Available(ctx context.Context) bool
	// Execute passes one canonical operation through the active client.
	Execute(ctx context.Context, operation string, params map[string]string) (*ClientResult, error)
	// AnalyzeFailure diagnoses a failed run.
	AnalyzeFailure(ctx context.Context, runID string) (*FailureAnalysis, error)
}

// baseAdapter carries what every platform adapter shares: the typed config,
// the client strategies, and the cached active client.
type baseAdapter struct {
	platform PlatformType
	cfg      PlatformConfig
	clients  map[string]Client
	logger   *slog.Logger

	mu     sync.Mutex
	active Client
}

// newBaseAdapter wires the shared adapter state. Construction fails
// descriptively when the platform type is not a declared enum value, so a
// concrete adapter can never exist without one.
func newBaseAdapter(platform PlatformType, cfg PlatformConfig, clients map[string]Client) (*baseAdapter, error) {
	if !platform.IsValid() {
		return nil, fmt.Errorf("adapter for %q: platform type must be one of %s, %s, %s",
			platform, PlatformGitHub, PlatformGitLab, PlatformJenkins)
	}
	return &baseAdapter{
		platform: platform,
		cfg:      cfg,
		clients:  clients,
		logger:   slog.Default().With("component", "ci.adapter", "platform", platform),
	}, nil
}

// Platform implements Adapter.
func (b *baseAdapter) Platform() PlatformType { return b.platform }

// Available implements Adapter.
func (b *baseAdapter) Available(ctx context.Context) bool {
	_, err := b.activeClient(ctx)
	return err == nil
}

// preferredOrder is the client walk order: configured preference, or cli
// before mcp.
func (b *baseAdapter) preferredOrder() []string {
	if len(b.cfg.PreferredClients) > 0 {
		return b.cfg.PreferredClients
	}
	return []string{"cli", "mcp"}
}

// activeClient returns the cached client while it stays available, and
// re-walks the preference order when it does not.
func (b *baseAdapter) activeClient(ctx context.Context) (Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil && b.active.Available(ctx) {
		return b.active, nil
	}
	if b.active != nil {
		b.logger.Warn("Active CI client became unavailable, re-selecting",
			"client", b.active.Name())
		b.active = nil
	}

	for _, name := range b.preferredOrder() {
		client, ok := b.clients[name]
		if !ok || client == nil {
			continue
		}
		if client.Available(ctx) {
			b.active = client
			b.logger.Debug("Selected CI client", "client", name)
			return client, nil
		}
	}
	return nil, fmt.Errorf("no available CI client for %s (tried %v)",
		b.platform, b.preferredOrder())
}

// Execute implements Adapter.
func (b *baseAdapter) Execute(ctx context.Context, operation string, params map[string]string) (*ClientResult, error) {
	client, err := b.activeClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.Execute(ctx, operation, params)
}
