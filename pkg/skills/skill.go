// Package skills loads, matches, and executes YAML-declared operational
// skills. A skill names a workflow: intent regexes that route free text to
// it, a tool whitelist, host and timeout bounds, and the operation keywords
// that demand an explicit confirmation.
package skills

import (
	"errors"
	"fmt"
	"time"
)

// Bounds from the skill schema.
const (
	// MaxHostsLimit caps max_hosts for any skill.
	MaxHostsLimit = 100
	// MinTimeoutSecs and MaxTimeoutSecs bound timeout_seconds.
	MinTimeoutSecs = 10
	MaxTimeoutSecs = 600
)

// Defaults applied to fields the YAML omits.
const (
	DefaultVersion     = "1.0.0"
	DefaultMaxHosts    = 10
	DefaultTimeoutSecs = 60
)

// ErrInvalidSkill reports a skill file that fails schema validation.
var ErrInvalidSkill = errors.New("invalid skill")

// SkillConfig is one skill as declared in YAML.
type SkillConfig struct {
	Name           string   `yaml:"name" json:"name"`
	Version        string   `yaml:"version" json:"version"`
	Description    string   `yaml:"description" json:"description"`
	IntentPatterns []string `yaml:"intent_patterns" json:"intent_patterns"`
	// ToolsAllowed whitelists tool names; empty passes every tool through.
	ToolsAllowed []string `yaml:"tools_allowed" json:"tools_allowed"`
	MaxHosts     int      `yaml:"max_hosts" json:"max_hosts"`
	TimeoutSecs  int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	// RequireConfirmationFor lists operation keywords that are destructive
	// when they start the operation label.
	RequireConfirmationFor []string `yaml:"require_confirmation_for" json:"require_confirmation_for"`
	SystemPrompt           string   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Tags                   []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// Builtin and SourcePath are set by the loader, never from YAML.
	Builtin    bool   `yaml:"-" json:"builtin"`
	SourcePath string `yaml:"-" json:"source_path"`
}

// normalize fills defaults for omitted fields.
func (s *SkillConfig) normalize() {
	if s.Version == "" {
		s.Version = DefaultVersion
	}
	if s.MaxHosts == 0 {
		s.MaxHosts = DefaultMaxHosts
	}
	if s.TimeoutSecs == 0 {
		s.TimeoutSecs = DefaultTimeoutSecs
	}
}

// Validate checks the schema bounds. Call after normalize.
func (s *SkillConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSkill)
	}
	if s.MaxHosts < 1 || s.MaxHosts > MaxHostsLimit {
		return fmt.Errorf("%w %q: max_hosts must be in [1, %d], got %d",
			ErrInvalidSkill, s.Name, MaxHostsLimit, s.MaxHosts)
	}
	if s.TimeoutSecs < MinTimeoutSecs || s.TimeoutSecs > MaxTimeoutSecs {
		return fmt.Errorf("%w %q: timeout_seconds must be in [%d, %d], got %d",
			ErrInvalidSkill, s.Name, MinTimeoutSecs, MaxTimeoutSecs, s.TimeoutSecs)
	}
	return nil
}

// Timeout is the per-host execution deadline.
func (s *SkillConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}
