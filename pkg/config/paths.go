package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvHome overrides the default state directory (~/.merlya).
const EnvHome = "MERLYA_HOME"

// Paths resolves the per-user state directory layout. All persistent state
// lives under a single home directory so that backup/restore is a single copy.
type Paths struct {
	// Home is the root state directory, e.g. /home/alice/.merlya.
	Home string
}

// DefaultPaths resolves the state directory from MERLYA_HOME or the
// user's home directory.
func DefaultPaths() (*Paths, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return &Paths{Home: dir}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home directory: %w", err)
	}
	return &Paths{Home: filepath.Join(home, ".merlya")}, nil
}

// EnsureHome creates the state directory tree if it does not exist.
func (p *Paths) EnsureHome() error {
	for _, dir := range []string{p.Home, p.SkillsDir(), p.ConversationsDir(), p.SourcesDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create state directory %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigFile is the main YAML configuration file (optional).
func (p *Paths) ConfigFile() string { return filepath.Join(p.Home, "config.yaml") }

// SelectionsFile holds the persisted LLM provider/model selections.
func (p *Paths) SelectionsFile() string { return filepath.Join(p.Home, "config.json") }

// KnowledgeFile holds route and host facts (append-merge on write).
func (p *Paths) KnowledgeFile() string { return filepath.Join(p.Home, "knowledge.json") }

// LearnedSkillsFile holds learned problem/solution pairs with usage counts.
func (p *Paths) LearnedSkillsFile() string { return filepath.Join(p.Home, "skills.json") }

// SessionsDB is the SQLite conversation store.
func (p *Paths) SessionsDB() string { return filepath.Join(p.Home, "sessions.db") }

// ConversationsDir holds one JSON file per conversation (file backend).
func (p *Paths) ConversationsDir() string { return filepath.Join(p.Home, "conversations") }

// SkillsDir holds user-defined skill YAML files.
func (p *Paths) SkillsDir() string { return filepath.Join(p.Home, "skills") }

// MCPServersFile holds MCP server definitions.
func (p *Paths) MCPServersFile() string { return filepath.Join(p.Home, "mcp_servers.json") }

// SourcesDir holds the discovered data source registry.
func (p *Paths) SourcesDir() string { return filepath.Join(p.Home, "sources") }

// SourcesRegistryFile is the discovered data source registry (24h TTL entries).
func (p *Paths) SourcesRegistryFile() string { return filepath.Join(p.SourcesDir(), "registry.json") }
