package ci

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ciOperations is the canonical operation set every client strategy speaks.
var ciOperations = []string{
	"list_workflows",
	"list_runs",
	"get_run",
	"get_run_logs",
	"get_run_logs_failed",
	"trigger_workflow",
	"cancel_run",
	"retry_run",
	"list_secrets",
	"auth_status",
}

// ToolCaller is the slice of the MCP client the CI strategy needs: one
// tools/call round trip against a named server.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error)
}

// MCPClient drives a CI platform through an MCP server exposing the
// canonical operations as tools.
type MCPClient struct {
	platform PlatformType
	serverID string
	caller   ToolCaller
	logger   *slog.Logger
}

// NewMCPClient creates an MCP-backed client calling tools on serverID.
func NewMCPClient(platform PlatformType, serverID string, caller ToolCaller) *MCPClient {
	return &MCPClient{
		platform: platform,
		serverID: serverID,
		caller:   caller,
		logger:   slog.Default().With("component", "ci.mcp", "platform", platform, "server", serverID),
	}
}

// Name implements Client.
func (c *MCPClient) Name() string { return "mcp" }

// Available reports whether a server is wired at all; connectivity is
// checked lazily on the first call.
func (c *MCPClient) Available(ctx context.Context) bool {
	return c.caller != nil && c.serverID != ""
}

// Authenticated implements Client by probing the auth_status tool.
func (c *MCPClient) Authenticated(ctx context.Context) bool {
	_, err := c.Execute(ctx, "auth_status", nil)
	return err == nil
}

// Execute performs one tools/call against the server. Tool errors come
// back as *ClientError; text content is parsed as JSON when possible.
func (c *MCPClient) Execute(ctx context.Context, operation string, params map[string]string) (*ClientResult, error) {
	args := make(map[string]any, len(params))
	for k, v := range params {
		args[k] = v
	}

	result, err := c.caller.CallTool(ctx, c.serverID, operation, args)
	if err != nil {
		return nil, &ClientError{Operation: operation, ExitCode: -1, Err: err}
	}
	text := textContent(result)
	if result.IsError {
		return nil, &ClientError{Operation: operation, ExitCode: -1, Stderr: text}
	}

	out := &ClientResult{Raw: text}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var data any
		if jsonErr := json.Unmarshal([]byte(trimmed), &data); jsonErr == nil {
			out.Data = data
		}
	}
	return out, nil
}

// SupportedOperations implements Client.
func (c *MCPClient) SupportedOperations() []string {
	out := make([]string, len(ciOperations))
	copy(out, ciOperations)
	return out
}

// textContent concatenates the text blocks of a tool result.
func textContent(result *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
