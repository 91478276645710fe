// Package sshpool maintains reusable authenticated SSH connections with a
// per-host circuit breaker. Connections are keyed user@host and shared
// across callers; dead or idle-expired entries are evicted before reuse.
// Hosts behind a jump host are reached through a direct-tcpip channel on the
// gateway's transport.
package sshpool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/metrics"
	"github.com/merlya/merlya/pkg/netplan"
)

// Metric names exported by the pool.
const (
	MetricPoolHits     = "merlya_ssh_pool_hits_total"
	MetricPoolDials    = "merlya_ssh_pool_dials_total"
	MetricPoolFailures = "merlya_ssh_pool_failures_total"
)

// Planner decides direct-vs-jump connectivity. netplan.Planner implements it.
type Planner interface {
	Plan(ctx context.Context, hostname, ip string) (netplan.Decision, error)
}

// dialFunc opens one authenticated SSH connection. Swapped in tests.
type dialFunc func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)

// entry is one pooled connection.
type entry struct {
	client    *ssh.Client
	createdAt time.Time
	lastUsed  time.Time
}

// Pool is the process-wide SSH connection pool.
type Pool struct {
	cfg      config.SSHConfig
	planner  Planner
	verifier *hostKeyVerifier
	failures *failureTracker

	mu      sync.Mutex
	entries map[string]*entry // user@host → entry

	dial    dialFunc
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewPool creates a pool with the given configuration. The planner may be
// nil, in which case every connection is attempted directly.
func NewPool(cfg config.SSHConfig, planner Planner) *Pool {
	logger := slog.Default().With("component", "sshpool")
	p := &Pool{
		cfg:      cfg,
		planner:  planner,
		verifier: newHostKeyVerifier(cfg, logger),
		failures: newFailureTracker(cfg.FailureThreshold, cfg.CircuitBreakerTimeout),
		entries:  make(map[string]*entry),
		metrics:  metrics.Default(),
		logger:   logger,
	}
	p.dial = p.dialDirect
	return p
}

// withDial replaces the dial function. Test hook.
func (p *Pool) withDial(d dialFunc) *Pool {
	p.dial = d
	return p
}

// Get returns a live connection for user@host, reusing a pooled one when
// possible.
//
// The per-host circuit is checked before the pool lock so rejected hosts
// fail fast without contention. Dialing happens outside the lock; when two
// callers race to create the same entry, the first stored connection wins
// and the loser's is closed.
func (p *Pool) Get(ctx context.Context, host, user string) (*ssh.Client, error) {
	if user == "" {
		user = p.cfg.DefaultUser
	}
	if user == "" {
		return nil, fmt.Errorf("ssh connection to %s: no user given and no default configured", host)
	}

	// Circuit check first, outside the pool lock.
	if err := p.failures.check(host); err != nil {
		return nil, err
	}

	key := user + "@" + host
	if client := p.takeLive(key); client != nil {
		p.metrics.Counter(MetricPoolHits).Inc(1)
		return client, nil
	}

	p.metrics.Counter(MetricPoolDials).Inc(1)
	client, err := p.connect(ctx, host, user)
	if err != nil {
		p.metrics.Counter(MetricPoolFailures).Inc(1)
		p.failures.record(host, err)
		return nil, fmt.Errorf("ssh connection to %s: %w", key, err)
	}

	p.failures.clear(host)
	return p.store(key, client), nil
}

// takeLive returns the pooled connection for key if it is alive and fresh,
// evicting it otherwise.
func (p *Pool) takeLive(key string) *ssh.Client {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	if time.Since(e.lastUsed) >= p.cfg.MaxIdleTime {
		delete(p.entries, key)
		p.mu.Unlock()
		p.logger.Debug("Evicting idle connection", "key", key)
		_ = e.client.Close()
		return nil
	}
	p.mu.Unlock()

	// Probe the transport outside the lock; a dead peer can take a while to
	// answer.
	if !isAlive(e.client) {
		p.evict(key, e)
		return nil
	}

	p.mu.Lock()
	// Re-check: the entry may have been evicted or replaced while probing.
	if cur, ok := p.entries[key]; ok && cur == e {
		cur.lastUsed = time.Now()
		p.mu.Unlock()
		return cur.client
	}
	p.mu.Unlock()
	return nil
}

// store saves a freshly dialed connection, unless a concurrent caller beat
// us to it, in which case theirs is kept and ours closed.
func (p *Pool) store(key string, client *ssh.Client) *ssh.Client {
	now := time.Now()
	p.mu.Lock()
	if existing, ok := p.entries[key]; ok {
		existing.lastUsed = now
		winner := existing.client
		p.mu.Unlock()
		_ = client.Close()
		return winner
	}
	p.entries[key] = &entry{client: client, createdAt: now, lastUsed: now}
	p.mu.Unlock()
	return client
}

// evict removes a specific entry and closes its connection.
func (p *Pool) evict(key string, e *entry) {
	p.mu.Lock()
	if cur, ok := p.entries[key]; ok && cur == e {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	p.logger.Debug("Evicting dead connection", "key", key)
	_ = e.client.Close()
}

// connect establishes a new connection, via a jump host when the planner
// says the target is not directly reachable.
func (p *Pool) connect(ctx context.Context, host, user string) (*ssh.Client, error) {
	clientCfg := p.clientConfig(user)
	addr := net.JoinHostPort(host, netplan.SSHPort)

	if p.planner == nil {
		return p.dial(ctx, addr, clientCfg)
	}

	decision, err := p.planner.Plan(ctx, host, "")
	if err != nil {
		return nil, err
	}
	if decision.Method == netplan.MethodJump {
		p.logger.Info("Connecting via jump host",
			"host", host, "gateway", decision.Gateway, "reason", decision.Reason)
		return p.dialViaJump(ctx, decision.Gateway, addr, user, clientCfg)
	}
	return p.dial(ctx, addr, clientCfg)
}

// dialDirect opens a TCP connection and runs the SSH handshake, both bounded
// by ConnectTimeout.
func (p *Pool) dialDirect(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := &net.Dialer{Timeout: p.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return handshake(conn, addr, cfg, p.cfg.ConnectTimeout)
}

// dialViaJump connects to the gateway through the pool, then opens a
// direct-tcpip channel to the target and authenticates over it.
func (p *Pool) dialViaJump(ctx context.Context, gateway, targetAddr, user string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	jump, err := p.Get(ctx, gateway, user)
	if err != nil {
		return nil, fmt.Errorf("jump host %s: %w", gateway, err)
	}

	conn, err := jump.DialContext(ctx, "tcp", targetAddr)
	if err != nil {
		return nil, fmt.Errorf("open channel via %s: %w", gateway, err)
	}
	return handshake(conn, targetAddr, cfg, p.cfg.ConnectTimeout)
}

// handshake authenticates over an established net.Conn with a deadline.
func handshake(conn net.Conn, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	if timeout > 0 {
		// ssh.NewClientConn has no context; a conn deadline bounds the
		// handshake instead.
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(ncc, chans, reqs), nil
}

// clientConfig assembles the per-user ssh.ClientConfig.
func (p *Pool) clientConfig(user string) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            user,
		Auth:            discoverAuthMethods(p.logger),
		HostKeyCallback: p.verifier.callback(),
		Timeout:         p.cfg.ConnectTimeout,
	}
}

// isAlive probes the transport with an OpenSSH keepalive request.
func isAlive(client *ssh.Client) bool {
	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// FailedHosts returns the current per-host failure records.
func (p *Pool) FailedHosts() map[string]FailedHost {
	return p.failures.snapshot()
}

// ActiveConnections returns the number of pooled entries.
func (p *Pool) ActiveConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close closes every pooled connection. The pool remains usable; subsequent
// Get calls dial fresh.
func (p *Pool) Close() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for key, e := range entries {
		if err := e.client.Close(); err != nil {
			p.logger.Debug("Error closing pooled connection", "key", key, "error", err)
		}
	}
}

var (
	defaultMu   sync.Mutex
	defaultPool *Pool
)

// Default returns the process-wide pool, creating it with default
// configuration on first use. Production startup calls Configure first.
func Default() *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool == nil {
		defaultPool = NewPool(config.DefaultConfig().SSH, nil)
	}
	return defaultPool
}

// Configure replaces the process-wide pool. Call early in startup, before
// any connections exist.
func Configure(cfg config.SSHConfig, planner Planner) *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool != nil {
		defaultPool.Close()
	}
	defaultPool = NewPool(cfg, planner)
	return defaultPool
}

// ResetInstance discards the process-wide pool. Test-only.
func ResetInstance() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool != nil {
		defaultPool.Close()
	}
	defaultPool = nil
}
