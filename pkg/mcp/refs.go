package mcp

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// refPrefix marks an inline MCP server reference in a request.
const refPrefix = "@mcp"

// maxInvokeResultChars caps tool output carried back into the
// conversation. Cut results keep whole lines; see truncateLines.
const maxInvokeResultChars = 32 * 1024

// ParseRef extracts an "@mcp <server> <remaining>" reference from a
// request. The reference may appear anywhere in the text; everything
// after the server name belongs to remaining. The prefix must stand as
// its own token, so "ops@mcp.example.com" is not a reference.
func ParseRef(input string) (server, remaining string, ok bool) {
	idx := refIndex(input)
	if idx < 0 {
		return "", "", false
	}

	rest := strings.TrimSpace(input[idx+len(refPrefix):])
	if rest == "" {
		// Bare "@mcp" names no server.
		return "", "", false
	}

	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		return rest[:i], strings.TrimSpace(rest[i:]), true
	}
	return rest, "", true
}

// refIndex locates refPrefix as a standalone token, or -1.
func refIndex(s string) int {
	for from := 0; ; {
		i := strings.Index(s[from:], refPrefix)
		if i < 0 {
			return -1
		}
		i += from

		end := i + len(refPrefix)
		startsToken := i == 0 || isSpaceByte(s[i-1])
		endsToken := end >= len(s) || isSpaceByte(s[end])
		if startsToken && endsToken {
			return i
		}
		from = end
	}
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Invoke resolves a parsed reference against its server. An empty
// remaining part lists the server's tools; otherwise the first field
// names the tool and the rest is parsed into arguments (see ParseArgs).
// Long results are cut at a line boundary.
func (m *Manager) Invoke(ctx context.Context, server, remaining string) (string, error) {
	remaining = strings.TrimSpace(remaining)
	if remaining == "" {
		return m.describeTools(ctx, server)
	}

	tool := remaining
	argText := ""
	if i := strings.IndexFunc(remaining, unicode.IsSpace); i >= 0 {
		tool, argText = remaining[:i], strings.TrimSpace(remaining[i:])
	}

	args, err := ParseArgs(argText)
	if err != nil {
		return "", fmt.Errorf("parse arguments for %s.%s: %w", server, tool, err)
	}

	result, err := m.CallTool(ctx, server, tool, args)
	if err != nil {
		return "", fmt.Errorf("call %s.%s: %w", server, tool, err)
	}

	text := TextContent(result)
	if result.IsError {
		return "", fmt.Errorf("tool %s.%s failed: %s", server, tool, strings.TrimSpace(text))
	}

	out, cut := truncateLines(text, maxInvokeResultChars)
	if cut {
		m.logger.Debug("mcp result truncated",
			"server", server, "tool", tool, "bytes", len(text))
	}
	return out, nil
}

// describeTools renders a one-line-per-tool listing for a server.
func (m *Manager) describeTools(ctx context.Context, server string) (string, error) {
	tools, err := m.ListTools(ctx, server)
	if err != nil {
		return "", err
	}
	if len(tools) == 0 {
		return fmt.Sprintf("server %s exposes no tools", server), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "tools on %s:\n", server)
	for _, tool := range tools {
		fmt.Fprintf(&sb, "  %s", tool.Name)
		if tool.Description != "" {
			fmt.Fprintf(&sb, " - %s", firstLine(tool.Description))
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// firstLine trims a description to its first line.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// TextContent concatenates the text blocks of a tool result.
func TextContent(result *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
