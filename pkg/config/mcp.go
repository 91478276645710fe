package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// MCPServerConfig defines one MCP server entry from mcp_servers.json.
// Only stdio transport is supported; servers run as local subprocesses.
type MCPServerConfig struct {
	// Type is the transport type; always "stdio".
	Type TransportType `json:"type"`
	// Command is the executable to spawn.
	Command string `json:"command"`
	// Args are passed verbatim to the subprocess.
	Args []string `json:"args,omitempty"`
	// Env entries are added to the inherited environment.
	Env map[string]string `json:"env,omitempty"`
	// Instructions for the LLM when using this server's tools.
	Instructions string `json:"instructions,omitempty"`
}

// LoadMCPServers reads mcp_servers.json. A missing file yields an empty map.
// Entries failing validation are skipped with the error recorded in errs.
func LoadMCPServers(path string) (servers map[string]*MCPServerConfig, errs []error, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]*MCPServerConfig{}, nil, nil
		}
		return nil, nil, NewLoadError(path, err)
	}

	var raw map[string]*MCPServerConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, NewLoadError(path, err)
	}

	servers = make(map[string]*MCPServerConfig, len(raw))
	for name, cfg := range raw {
		if cfg == nil {
			errs = append(errs, NewValidationError("mcp_server", name, "", ErrMissingRequiredField))
			continue
		}
		if cfg.Type == "" {
			cfg.Type = TransportTypeStdio
		}
		if !cfg.Type.IsValid() {
			errs = append(errs, NewValidationError("mcp_server", name, "type",
				fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Type)))
			continue
		}
		if cfg.Command == "" {
			errs = append(errs, NewValidationError("mcp_server", name, "command", ErrMissingRequiredField))
			continue
		}
		servers[name] = cfg
	}
	return servers, errs, nil
}

// MCPServerRegistry stores MCP server configurations in memory with thread-safe access
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new MCP server registry
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	if servers == nil {
		servers = map[string]*MCPServerConfig{}
	}
	return &MCPServerRegistry{
		servers: servers,
	}
}

// Get retrieves an MCP server configuration by name (thread-safe)
func (r *MCPServerRegistry) Get(name string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, name)
	}
	return server, nil
}

// GetAll returns all MCP server configurations (thread-safe, returns copy)
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if an MCP server exists in the registry (thread-safe)
func (r *MCPServerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[name]
	return exists
}

// Names returns registered server names (thread-safe)
func (r *MCPServerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for k := range r.servers {
		names = append(names, k)
	}
	return names
}
