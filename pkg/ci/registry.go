package ci

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// defaultCommandTimeout bounds CLI calls made by adapters the built-in
// factories construct. Callers with a config-driven timeout register their
// own factory instead.
const defaultCommandTimeout = 30 * time.Second

// AdapterFactory builds a platform adapter from its typed configuration.
type AdapterFactory func(cfg PlatformConfig) (Adapter, error)

// PlatformRegistry maps platform types to adapter factories and memoizes
// built adapters. Safe for concurrent use.
type PlatformRegistry struct {
	mu        sync.Mutex
	factories map[PlatformType]AdapterFactory
	order     []PlatformType
	cache     map[string]Adapter
	logger    *slog.Logger
}

// NewPlatformRegistry creates an empty registry.
func NewPlatformRegistry() *PlatformRegistry {
	return &PlatformRegistry{
		factories: make(map[PlatformType]AdapterFactory),
		cache:     make(map[string]Adapter),
		logger:    slog.Default().With("component", "ci.registry"),
	}
}

// Register adds a factory for the platform. Re-registering replaces the
// factory and invalidates its cached adapters.
func (r *PlatformRegistry) Register(platform PlatformType, factory AdapterFactory) error {
	if !platform.IsValid() {
		return fmt.Errorf("registering adapter factory: unknown platform %q", platform)
	}
	if factory == nil {
		return fmt.Errorf("registering adapter factory for %s: factory is nil", platform)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[platform]; exists {
		r.logger.Warn("Replacing adapter factory", "platform", platform)
		for key := range r.cache {
			if platformOfKey(key) == platform {
				delete(r.cache, key)
			}
		}
	} else {
		r.order = append(r.order, platform)
	}
	r.factories[platform] = factory
	return nil
}

// Supported reports whether a factory is registered for the platform.
func (r *PlatformRegistry) Supported(platform PlatformType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[platform]
	return ok
}

// Platforms returns the registered platforms in registration order.
func (r *PlatformRegistry) Platforms() []PlatformType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PlatformType, len(r.order))
	copy(out, r.order)
	return out
}

// Create builds a fresh adapter, bypassing the cache.
func (r *PlatformRegistry) Create(platform PlatformType, cfg PlatformConfig) (Adapter, error) {
	r.mu.Lock()
	factory, ok := r.factories[platform]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no adapter factory registered for platform %q", platform)
	}
	return factory(cfg)
}

// GetCached returns the adapter memoized under (platform, cacheKey),
// building it on first use. Construction happens outside the registry lock;
// when two callers race the first stored adapter wins and the loser's build
// is discarded.
func (r *PlatformRegistry) GetCached(platform PlatformType, cacheKey string, cfg PlatformConfig) (Adapter, error) {
	key := cacheKeyFor(platform, cacheKey)

	r.mu.Lock()
	if adapter, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return adapter, nil
	}
	factory, ok := r.factories[platform]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no adapter factory registered for platform %q", platform)
	}

	adapter, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("building %s adapter: %w", platform, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[key]; ok {
		return existing, nil
	}
	r.cache[key] = adapter
	return adapter, nil
}

func cacheKeyFor(platform PlatformType, cacheKey string) string {
	return string(platform) + "/" + cacheKey
}

func platformOfKey(key string) PlatformType {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return PlatformType(key[:i])
		}
	}
	return PlatformType(key)
}

var (
	platformRegistryMu sync.Mutex
	platformRegistry   *PlatformRegistry
)

// DefaultRegistry returns the shared platform registry, creating it with
// the built-in factories on first use.
func DefaultRegistry() *PlatformRegistry {
	platformRegistryMu.Lock()
	defer platformRegistryMu.Unlock()
	if platformRegistry == nil {
		platformRegistry = NewPlatformRegistry()
		registerBuiltins(platformRegistry)
	}
	return platformRegistry
}

// ResetRegistry discards the shared registry. Test use only.
func ResetRegistry() {
	platformRegistryMu.Lock()
	defer platformRegistryMu.Unlock()
	platformRegistry = nil
}

// registerBuiltins wires the factories shipped with the package. GitHub is
// the only platform with a full adapter; GitLab and Jenkins integrate
// through MCP servers or custom factories.
func registerBuiltins(r *PlatformRegistry) {
	_ = r.Register(PlatformGitHub, func(cfg PlatformConfig) (Adapter, error) {
		cli, err := NewCLIClient(PlatformGitHub, defaultCommandTimeout)
		if err != nil {
			return nil, err
		}
		return NewGitHubAdapter(cfg, map[string]Client{"cli": cli}, nil)
	})
}
