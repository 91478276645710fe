package skills

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/merlya/merlya/pkg/config"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Loader reads skill YAML files: the embedded builtin set first, then an
// optional extra builtin directory, then the user directory. Later entries
// override earlier ones of the same name when registered.
type Loader struct {
	cfg    config.SkillsConfig
	logger *slog.Logger
}

// NewLoader creates a loader for the given skills configuration.
func NewLoader(cfg config.SkillsConfig) *Loader {
	return &Loader{
		cfg:    cfg,
		logger: slog.Default().With("component", "skills"),
	}
}

// Load returns every valid skill in load order: builtins first, user skills
// last. Invalid files are logged and skipped, never fatal.
func (l *Loader) Load() []SkillConfig {
	var out []SkillConfig
	out = append(out, l.loadEmbedded()...)
	if l.cfg.BuiltinDir != "" {
		out = append(out, l.loadDir(l.cfg.BuiltinDir, true)...)
	}
	if l.cfg.UserDir != "" {
		out = append(out, l.loadDir(l.cfg.UserDir, false)...)
	}
	return out
}

// LoadInto loads every skill into the registry and returns how many
// registered.
func (l *Loader) LoadInto(r *Registry) int {
	skills := l.Load()
	n := 0
	for _, s := range skills {
		if err := r.Register(s); err != nil {
			l.logger.Error("Skipping unregistrable skill",
				"name", s.Name, "source", s.SourcePath, "error", err)
			continue
		}
		n++
	}
	return n
}

func (l *Loader) loadEmbedded() []SkillConfig {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		l.logger.Error("Reading embedded skills failed", "error", err)
		return nil
	}
	var out []SkillConfig
	for _, entry := range sortedEntries(entries) {
		data, err := builtinFS.ReadFile("builtin/" + entry)
		if err != nil {
			l.logger.Error("Reading embedded skill failed", "file", entry, "error", err)
			continue
		}
		skill, err := parseSkill(data, "builtin:"+entry, true)
		if err != nil {
			l.logger.Error("Skipping invalid builtin skill", "file", entry, "error", err)
			continue
		}
		out = append(out, skill)
	}
	return out
}

func (l *Loader) loadDir(dir string, builtin bool) []SkillConfig {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("Reading skills directory failed", "dir", dir, "error", err)
		}
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var out []SkillConfig
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("Reading skill file failed", "path", path, "error", err)
			continue
		}
		skill, err := parseSkill(data, path, builtin)
		if err != nil {
			l.logger.Error("Skipping invalid skill file", "path", path, "error", err)
			continue
		}
		out = append(out, skill)
	}
	return out
}

// parseSkill expands environment templates, decodes, and validates one file.
func parseSkill(data []byte, source string, builtin bool) (SkillConfig, error) {
	var skill SkillConfig
	if err := yaml.Unmarshal(config.ExpandEnv(data), &skill); err != nil {
		return SkillConfig{}, fmt.Errorf("parsing %s: %w", source, err)
	}
	skill.Builtin = builtin
	skill.SourcePath = source
	skill.normalize()
	if err := skill.Validate(); err != nil {
		return SkillConfig{}, err
	}
	return skill, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func sortedEntries(entries []fs.DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isYAML(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
