// Package resilience provides the circuit breaker and retry primitives used
// around every network-facing call: SSH, CI CLIs, MCP servers, and the LLM.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/merlya/merlya/pkg/config"
)

// BreakerState is the externally visible circuit state.
type BreakerState string

const (
	// StateClosed passes calls through and counts failures.
	StateClosed BreakerState = "closed"
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen BreakerState = "open"
	// StateHalfOpen admits trial calls; successes close the circuit.
	StateHalfOpen BreakerState = "half_open"
)

// CircuitBreaker guards a callable with a three-state machine:
// closed → open after failure_threshold consecutive failures, open →
// half_open once recovery_timeout elapses, half_open → closed after
// success_threshold consecutive successes (any failure reopens).
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a breaker with the given thresholds.
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}

	settings := gobreaker.Settings{
		Name: name,
		// MaxRequests doubles as the half_open success threshold: gobreaker
		// closes once ConsecutiveSuccesses reaches it.
		MaxRequests: uint32(cfg.SuccessThreshold),
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Circuit breaker state change",
				"breaker", name, "from", stateOf(from), "to", stateOf(to))
		},
	}

	return &CircuitBreaker{
		name: name,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs fn through the breaker. While open, fn is never invoked and
// a *CircuitOpenError is returned.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &CircuitOpenError{Name: b.name}
		}
		return nil, err
	}
	return result, nil
}

// ExecuteTyped runs fn through the breaker with a typed result.
func ExecuteTyped[T any](ctx context.Context, b *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// State returns the current circuit state. Reading the state can itself move
// an expired open circuit to half_open.
func (b *CircuitBreaker) State() BreakerState {
	return stateOf(b.cb.State())
}

// Counts exposes the underlying failure/success counters.
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Name returns the breaker key.
func (b *CircuitBreaker) Name() string {
	return b.name
}

func stateOf(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// BreakerRegistry maps keys (usually "component.function") to breakers.
// Get creates missing entries with the registry defaults.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults config.CircuitBreakerConfig
}

// NewBreakerRegistry creates a registry with the given default thresholds.
func NewBreakerRegistry(defaults config.CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns the breaker for key, creating it with defaults if needed.
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	return r.GetWith(key, r.defaultsCopy())
}

// GetWith returns the breaker for key, creating it with cfg if needed.
// An existing breaker keeps its original configuration.
func (r *BreakerRegistry) GetWith(key string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := NewCircuitBreaker(key, cfg)
	r.breakers[key] = b
	return b
}

// States returns a snapshot of every breaker's state, for the status API.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State()
	}
	return out
}

func (r *BreakerRegistry) defaultsCopy() config.CircuitBreakerConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaults
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *BreakerRegistry
)

// Default returns the process-wide breaker registry.
func Default() *BreakerRegistry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewBreakerRegistry(config.DefaultConfig().Resilience.CircuitBreaker)
	}
	return defaultRegistry
}

// Configure replaces the process-wide registry defaults. Existing breakers
// keep their configuration; call early in startup.
func Configure(defaults config.CircuitBreakerConfig) {
	reg := Default()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.defaults = defaults
}

// ResetInstance discards the process-wide registry. Test-only.
func ResetInstance() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}
