package ci

import (
	"context"
	"fmt"
)

// Metric names recorded by the CI layer.
const (
	MetricOperations = "merlya_ci_operations_total"
	MetricAnalyses   = "merlya_ci_analyses_total"
)

// ClientResult is the outcome of one client operation. Data holds the
// decoded JSON payload when the output parsed as JSON; Raw always holds the
// untouched output so callers can fall back on it.
type ClientResult struct {
	Data any    `json:"data,omitempty"`
	Raw  string `json:"raw"`
}

// AuthStatus is the parsed result of a client's auth check.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
}

// Client is one strategy for talking to a CI platform. Adapters walk their
// preferred client order and use the first available one.
type Client interface {
	// Name identifies the strategy ("cli", "mcp").
	Name() string
	// Available reports whether the strategy can run at all, for the CLI
	// strategy whether the binary is on PATH.
	Available(ctx context.Context) bool
	// Authenticated reports whether the platform accepts this client.
	Authenticated(ctx context.Context) bool
	// Execute runs one named operation with the given parameters.
	Execute(ctx context.Context, operation string, params map[string]string) (*ClientResult, error)
	// SupportedOperations lists the operation names Execute accepts.
	SupportedOperations() []string
}

// ClientError is a failed client operation. ExitCode preserves the
// delegated subprocess exit code; -1 means no subprocess exit code applies.
type ClientError struct {
	Operation string
	ExitCode  int
	Stderr    string
	Err       error
}

func (e *ClientError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("ci operation %s failed (exit %d): %s", e.Operation, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("ci operation %s failed (exit %d): %v", e.Operation, e.ExitCode, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }
