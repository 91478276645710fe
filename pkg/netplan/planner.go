// Package netplan decides how to reach a host: directly or through a jump
// host. The decision combines a live TCP probe with the persistent route
// table recorded in knowledge.json.
package netplan

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/merlya/merlya/pkg/knowledge"
)

// ProbeTimeout bounds the direct-reachability TCP probe.
const ProbeTimeout = 2 * time.Second

// SSHPort is the port probed for direct reachability.
const SSHPort = "22"

// Method is how a connection should be established.
type Method string

const (
	// MethodDirect connects straight to the target.
	MethodDirect Method = "direct"
	// MethodJump tunnels through a gateway host.
	MethodJump Method = "jump"
)

// Decision is the planner's answer for one host.
type Decision struct {
	Method Method
	// Gateway is the jump host; set only for MethodJump.
	Gateway string
	// Reason explains the decision for logging and the status API.
	Reason string
}

// RouteSource provides the persistent route table. knowledge.FileStore
// implements it.
type RouteSource interface {
	Routes() ([]knowledge.Route, error)
}

// Dialer abstracts net dialing so tests can fake reachability.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver abstracts DNS lookup so tests can fake resolution.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Planner decides direct versus jump connectivity.
type Planner struct {
	routes   RouteSource
	dialer   Dialer
	resolver Resolver
	logger   *slog.Logger
}

// NewPlanner creates a planner over the given route source.
func NewPlanner(routes RouteSource) *Planner {
	return &Planner{
		routes:   routes,
		dialer:   &net.Dialer{Timeout: ProbeTimeout},
		resolver: net.DefaultResolver,
		logger:   slog.Default().With("component", "netplan"),
	}
}

// WithDialer replaces the probe dialer. Test hook.
func (p *Planner) WithDialer(d Dialer) *Planner {
	p.dialer = d
	return p
}

// WithResolver replaces the DNS resolver. Test hook.
func (p *Planner) WithResolver(r Resolver) *Planner {
	p.resolver = r
	return p
}

// Plan decides how to reach hostname. The optional ip skips DNS resolution
// when the caller already knows the address.
//
// Order: a successful TCP probe on port 22 wins (direct); otherwise the
// route table is consulted by longest-prefix match on the resolved address
// (jump); with no matching route the decision falls back to direct and SSH
// is left to fail naturally.
func (p *Planner) Plan(ctx context.Context, hostname, ip string) (Decision, error) {
	if hostname == "" {
		return Decision{}, fmt.Errorf("plan connectivity: hostname is empty")
	}

	if p.probeDirect(ctx, hostname) {
		return Decision{Method: MethodDirect, Reason: "port 22 reachable"}, nil
	}

	addr := ip
	if addr == "" {
		resolved, err := p.resolveFirst(ctx, hostname)
		if err != nil {
			p.logger.Debug("DNS resolution failed during planning",
				"host", hostname, "error", err)
		} else {
			addr = resolved
		}
	}

	if addr != "" {
		if gw, network, ok := p.matchRoute(addr); ok {
			return Decision{
				Method:  MethodJump,
				Gateway: gw,
				Reason:  fmt.Sprintf("route %s via %s", network, gw),
			}, nil
		}
	}

	return Decision{Method: MethodDirect, Reason: "no route matched, trying direct"}, nil
}

// probeDirect checks TCP reachability of hostname:22 within ProbeTimeout.
func (p *Planner) probeDirect(ctx context.Context, hostname string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	conn, err := p.dialer.DialContext(probeCtx, "tcp", net.JoinHostPort(hostname, SSHPort))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// resolveFirst returns the first resolved address for hostname. Preference
// between IPv4 and IPv6 follows resolver ordering.
func (p *Planner) resolveFirst(ctx context.Context, hostname string) (string, error) {
	ips, err := p.resolver.LookupIP(ctx, "ip", hostname)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", hostname, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("resolve %s: no addresses", hostname)
	}
	return ips[0].String(), nil
}

// matchRoute performs a longest-prefix match of addr against the route table.
// Unparsable routes are skipped with a warning.
func (p *Planner) matchRoute(addr string) (gateway, network string, ok bool) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return "", "", false
	}

	routes, err := p.routes.Routes()
	if err != nil {
		p.logger.Warn("Failed to load route table", "error", err)
		return "", "", false
	}

	bestLen := -1
	for _, route := range routes {
		_, cidr, err := net.ParseCIDR(route.Network)
		if err != nil {
			p.logger.Warn("Skipping invalid route",
				"network", route.Network, "error", err)
			continue
		}
		if !cidr.Contains(ip) {
			continue
		}
		prefixLen, _ := cidr.Mask.Size()
		if prefixLen > bestLen {
			bestLen = prefixLen
			gateway = route.Gateway
			network = route.Network
		}
	}
	return gateway, network, bestLen >= 0
}
