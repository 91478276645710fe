package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// MCPServersResponse is returned by GET /api/v1/system/mcp-servers.
type MCPServersResponse struct {
	Servers []MCPServerStatus `json:"servers"`
}

// MCPServerStatus describes the connection state and tools of one server.
type MCPServerStatus struct {
	ID        string        `json:"id"`
	Connected bool          `json:"connected"`
	ToolCount int           `json:"tool_count"`
	Tools     []MCPToolInfo `json:"tools"`
	Error     string        `json:"error,omitempty"`
}

// MCPToolInfo describes a single tool from an MCP server.
type MCPToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// mcpServersHandler handles GET /api/v1/system/mcp-servers. It reads only
// manager-side state (sessions, failure records, the tool cache); reporting
// status must never connect to a server or issue MCP calls.
func (s *Server) mcpServersHandler(c *gin.Context) {
	response := MCPServersResponse{Servers: []MCPServerStatus{}}
	if s.mcp == nil {
		c.JSON(http.StatusOK, response)
		return
	}

	failed := s.mcp.FailedServers()
	for _, id := range s.mcp.Servers() {
		server := MCPServerStatus{
			ID:        id,
			Connected: s.mcp.HasSession(id),
			Tools:     []MCPToolInfo{},
			Error:     failed[id],
		}

		if tools, ok := s.mcp.CachedTools(id); ok {
			server.ToolCount = len(tools)
			for _, t := range tools {
				server.Tools = append(server.Tools, MCPToolInfo{
					Name:        t.Name,
					Description: t.Description,
				})
			}
		}

		response.Servers = append(response.Servers, server)
	}

	// Sort for deterministic output.
	sort.Slice(response.Servers, func(i, j int) bool {
		return response.Servers[i].ID < response.Servers[j].ID
	})

	c.JSON(http.StatusOK, response)
}
