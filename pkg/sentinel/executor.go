package sentinel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/sshpool"
)

// maxProbeOutput bounds command output kept in check details.
const maxProbeOutput = 1024

// pingPorts are tried in order when a ping check names no port. Reachability
// on any of them counts as alive.
var pingPorts = []string{"443", "80", "22"}

// ProbeFunc is a registered custom probe. It returns check details on
// success and an error on failure.
type ProbeFunc func(ctx context.Context, check config.CheckConfig) (map[string]any, error)

// CommandRunner executes a remote command for custom checks. Satisfied by
// sshpool.Pool.
type CommandRunner interface {
	Run(ctx context.Context, host, user, command string) (*sshpool.CommandResult, error)
}

// Dialer abstracts TCP dialing for tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Executor runs individual health checks. Each run is bounded by the
// check's own timeout.
type Executor struct {
	dialer Dialer
	client *http.Client
	runner CommandRunner
	user   string
	logger *slog.Logger

	mu     sync.Mutex
	custom map[string]ProbeFunc
}

// NewExecutor creates an executor with real network probes.
func NewExecutor() *Executor {
	return &Executor{
		dialer: &net.Dialer{},
		client: &http.Client{},
		custom: make(map[string]ProbeFunc),
		logger: slog.Default().With("component", "sentinel.executor"),
	}
}

// WithRunner wires remote command execution for custom checks. user is the
// default SSH user; a check's "user" parameter overrides it.
func (e *Executor) WithRunner(runner CommandRunner, user string) *Executor {
	e.runner = runner
	e.user = user
	return e
}

// WithDialer replaces the TCP dialer. Test seam.
func (e *Executor) WithDialer(d Dialer) *Executor {
	e.dialer = d
	return e
}

// WithHTTPClient replaces the HTTP client. Test seam.
func (e *Executor) WithHTTPClient(c *http.Client) *Executor {
	e.client = c
	return e
}

// RegisterProbe makes fn available to custom checks under the given name.
func (e *Executor) RegisterProbe(name string, fn ProbeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[name] = fn
}

// Run executes one check under its configured timeout and always returns a
// result; probe errors become failed results, never panics or Go errors.
func (e *Executor) Run(ctx context.Context, check config.CheckConfig) CheckResult {
	if timeout := time.Duration(check.TimeoutSeconds) * time.Second; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	details, err := e.probe(ctx, check)
	elapsed := time.Since(start)

	result := CheckResult{
		CheckName:      check.Name,
		Target:         check.Target,
		ResponseTimeMS: elapsed.Milliseconds(),
		Timestamp:      time.Now(),
		Details:        details,
	}
	if err != nil {
		result.Error = err.Error()
		e.logger.Debug("Check failed",
			"check", check.Name, "type", check.Type, "target", check.Target, "error", err)
	} else {
		result.Success = true
	}
	return result
}

func (e *Executor) probe(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
	switch check.Type {
	case config.CheckTypePing:
		return e.probePing(ctx, check)
	case config.CheckTypePort:
		return e.probePort(ctx, check)
	case config.CheckTypeHTTP:
		return e.probeHTTP(ctx, check)
	case config.CheckTypeCustom:
		return e.probeCustom(ctx, check)
	default:
		return nil, fmt.Errorf("unknown check type %q", check.Type)
	}
}

// probePing answers "is the host up" with a TCP fallback: the configured
// port if given, otherwise a short list of common ports, any one of which
// counts as reachable.
func (e *Executor) probePing(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
	ports := pingPorts
	if p := check.Parameters["port"]; p != "" {
		ports = []string{p}
	}

	var lastErr error
	for _, port := range ports {
		conn, err := e.dialer.DialContext(ctx, "tcp", net.JoinHostPort(check.Target, port))
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return map[string]any{"reachable": true, "port": port}, nil
	}
	return nil, fmt.Errorf("%s unreachable on ports %s: %w",
		check.Target, strings.Join(ports, ","), lastErr)
}

func (e *Executor) probePort(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
	port := check.Parameters["port"]
	if port == "" {
		return nil, fmt.Errorf("port check %q has no port parameter", check.Name)
	}
	conn, err := e.dialer.DialContext(ctx, "tcp", net.JoinHostPort(check.Target, port))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s:%s: %w", check.Target, port, err)
	}
	conn.Close()
	return map[string]any{"port": port, "open": true}, nil
}

// probeHTTP issues a GET and validates the status code: the exact
// expected_status parameter when set, any 2xx or 3xx otherwise.
func (e *Executor) probeHTTP(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
	url := check.Parameters["url"]
	if url == "" {
		url = "http://" + check.Target
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	resp.Body.Close()

	details := map[string]any{"url": url, "status_code": resp.StatusCode}
	if expected := check.Parameters["expected_status"]; expected != "" {
		want, convErr := strconv.Atoi(expected)
		if convErr != nil {
			return details, fmt.Errorf("invalid expected_status %q: %w", expected, convErr)
		}
		if resp.StatusCode != want {
			return details, fmt.Errorf("%s returned %d, want %d", url, resp.StatusCode, want)
		}
		return details, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return details, fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return details, nil
}

// probeCustom runs a remote command over the pool when the check declares
// one, or a registered probe function otherwise.
func (e *Executor) probeCustom(ctx context.Context, check config.CheckConfig) (map[string]any, error) {
	if command := check.Parameters["command"]; command != "" {
		if e.runner == nil {
			return nil, fmt.Errorf("custom check %q needs a command runner", check.Name)
		}
		user := e.user
		if u := check.Parameters["user"]; u != "" {
			user = u
		}
		res, err := e.runner.Run(ctx, check.Target, user, command)
		if err != nil {
			return nil, fmt.Errorf("running %q on %s: %w", command, check.Target, err)
		}
		details := map[string]any{
			"exit_code": res.ExitCode,
			"output":    truncateProbeOutput(res.Stdout),
		}
		if res.ExitCode != 0 {
			return details, fmt.Errorf("command exited %d: %s",
				res.ExitCode, truncateProbeOutput(res.Stderr))
		}
		return details, nil
	}

	name := check.Parameters["probe"]
	if name == "" {
		return nil, fmt.Errorf("custom check %q declares neither command nor probe", check.Name)
	}
	e.mu.Lock()
	fn, ok := e.custom[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no probe registered as %q", name)
	}
	return fn(ctx, check)
}

func truncateProbeOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxProbeOutput {
		return s[:maxProbeOutput]
	}
	return s
}
