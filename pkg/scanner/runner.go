package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/sshpool"
)

// maxOutputLen caps a single command's captured output in scan data.
const maxOutputLen = 16 * 1024

// Runner executes one scan attempt against one host and returns the
// collected facts. Implementations must be safe for concurrent use.
type Runner interface {
	Scan(ctx context.Context, host string, kind config.ScanType) (map[string]any, error)
}

// CommandRunner runs one remote command. *sshpool.Pool satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, host, user, command string) (*sshpool.CommandResult, error)
}

// Dialer abstracts net dialing so tests can fake port reachability.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver abstracts DNS lookup so tests can fake resolution.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// scanCommand is one labeled shell command in a scan kind's command set.
type scanCommand struct {
	field   string
	command string
}

// commandSets maps each SSH-backed scan kind to its command set. The basic
// kind is absent: it probes DNS and port 22 without touching SSH.
var commandSets = map[config.ScanType][]scanCommand{
	config.ScanTypeSystem: {
		{field: "os_release", command: "cat /etc/os-release 2>/dev/null | head -5"},
		{field: "kernel", command: "uname -sr"},
		{field: "uptime", command: "uptime"},
		{field: "memory", command: "free -m | head -3"},
		{field: "disk", command: "df -h / | tail -1"},
		{field: "cpus", command: "nproc"},
	},
	config.ScanTypeServices: {
		{field: "running_services", command: "systemctl list-units --type=service --state=running --no-pager --no-legend 2>/dev/null | head -50"},
		{field: "failed_services", command: "systemctl list-units --type=service --state=failed --no-pager --no-legend 2>/dev/null"},
	},
	config.ScanTypePackages: {
		{field: "packages", command: "dpkg-query -W -f='${Package} ${Version}\\n' 2>/dev/null || rpm -qa 2>/dev/null | head -500"},
		{field: "package_count", command: "dpkg-query -W 2>/dev/null | wc -l || rpm -qa 2>/dev/null | wc -l"},
	},
	config.ScanTypeProcesses: {
		{field: "top_cpu", command: "ps aux --sort=-%cpu 2>/dev/null | head -15"},
		{field: "top_memory", command: "ps aux --sort=-%mem 2>/dev/null | head -15"},
		{field: "process_count", command: "ps ax 2>/dev/null | wc -l"},
	},
}

// fullScanKinds are merged, in order, to build the full scan's command set.
var fullScanKinds = []config.ScanType{
	config.ScanTypeSystem,
	config.ScanTypeServices,
	config.ScanTypeProcesses,
}

func commandsFor(kind config.ScanType) []scanCommand {
	if kind != config.ScanTypeFull {
		return commandSets[kind]
	}
	var merged []scanCommand
	for _, k := range fullScanKinds {
		merged = append(merged, commandSets[k]...)
	}
	return merged
}

// SSHRunner is the production Runner: DNS and a port-22 probe for basic
// scans, fixed command sets over the SSH pool for everything else.
type SSHRunner struct {
	pool     CommandRunner
	user     string
	dialer   Dialer
	resolver Resolver
	logger   *slog.Logger
}

// NewSSHRunner creates a runner over the given pool. user is the SSH login
// for command scans.
func NewSSHRunner(pool CommandRunner, user string) *SSHRunner {
	return &SSHRunner{
		pool:     pool,
		user:     user,
		dialer:   &net.Dialer{},
		resolver: net.DefaultResolver,
		logger:   slog.Default().With("component", "scanner"),
	}
}

// WithDialer replaces the probe dialer. Test hook.
func (r *SSHRunner) WithDialer(d Dialer) *SSHRunner {
	r.dialer = d
	return r
}

// WithResolver replaces the DNS resolver. Test hook.
func (r *SSHRunner) WithResolver(res Resolver) *SSHRunner {
	r.resolver = res
	return r
}

// Scan implements Runner.
func (r *SSHRunner) Scan(ctx context.Context, host string, kind config.ScanType) (map[string]any, error) {
	if kind == config.ScanTypeBasic {
		return r.basicScan(ctx, host)
	}
	return r.commandScan(ctx, host, kind)
}

// basicScan resolves the host (IPv4 and IPv6) and probes port 22. The probe
// targets the first resolved address; preference ordering is whatever the
// resolver returns.
func (r *SSHRunner) basicScan(ctx context.Context, host string) (map[string]any, error) {
	addrs, err := r.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolving %s: no addresses", host)
	}

	var all []string
	var ipv4, ipv6 string
	for _, addr := range addrs {
		all = append(all, addr.IP.String())
		if v4 := addr.IP.To4(); v4 != nil {
			if ipv4 == "" {
				ipv4 = v4.String()
			}
		} else if ipv6 == "" {
			ipv6 = addr.IP.String()
		}
	}

	data := map[string]any{
		"addresses": all,
		"ipv4":      ipv4,
		"ipv6":      ipv6,
	}

	probeAddr := net.JoinHostPort(addrs[0].IP.String(), "22")
	start := time.Now()
	conn, err := r.dialer.DialContext(ctx, "tcp", probeAddr)
	if err != nil {
		data["ssh_port_open"] = false
		r.logger.Debug("Port 22 unreachable", "host", host, "addr", probeAddr, "error", err)
		return data, nil
	}
	_ = conn.Close()
	data["ssh_port_open"] = true
	data["ssh_latency_ms"] = time.Since(start).Milliseconds()
	return data, nil
}

// commandScan runs the kind's command set over SSH. A transport error fails
// the whole attempt so the retry loop can redo it; a non-zero exit only
// drops that one field.
func (r *SSHRunner) commandScan(ctx context.Context, host string, kind config.ScanType) (map[string]any, error) {
	commands := commandsFor(kind)
	if len(commands) == 0 {
		return nil, fmt.Errorf("no command set for scan type %q", kind)
	}

	data := make(map[string]any, len(commands))
	failed := 0
	for _, cmd := range commands {
		result, err := r.pool.Run(ctx, host, r.user, cmd.command)
		if err != nil {
			return nil, fmt.Errorf("running %s scan on %s: %w", kind, host, err)
		}
		if result.ExitCode != 0 {
			failed++
			r.logger.Debug("Scan command exited non-zero",
				"host", host, "field", cmd.field, "exit_code", result.ExitCode)
			continue
		}
		data[cmd.field] = truncateOutput(result.Stdout)
	}
	if failed == len(commands) {
		return nil, fmt.Errorf("%s scan on %s: all %d commands failed", kind, host, failed)
	}
	return data, nil
}

func truncateOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputLen {
		return s[:maxOutputLen] + "\n... (truncated)"
	}
	return s
}
