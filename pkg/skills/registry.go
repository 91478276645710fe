package skills

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
)

// intentScoreBase is added to the match-length ratio when scoring intents.
const intentScoreBase = 0.3

// Skill is a registered skill with its pre-compiled intent patterns.
type Skill struct {
	SkillConfig
	patterns []*regexp.Regexp
}

// FilterTools returns the subset of available tools this skill may use. An
// empty whitelist passes everything through.
func (s *Skill) FilterTools(available []string) []string {
	if len(s.ToolsAllowed) == 0 {
		return available
	}
	allowed := make(map[string]bool, len(s.ToolsAllowed))
	for _, name := range s.ToolsAllowed {
		allowed[name] = true
	}
	out := make([]string, 0, len(available))
	for _, name := range available {
		if allowed[name] {
			out = append(out, name)
		}
	}
	return out
}

// Match is one skill that matched an intent, with its confidence.
type Match struct {
	Skill      *Skill
	Confidence float64
	// Pattern is the source text of the regex that matched best.
	Pattern string
}

// Registry maps skill names to skills. Reads take a shared lock, so intent
// matching never blocks on a concurrent reload.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		skills: make(map[string]*Skill),
		logger: slog.Default().With("component", "skills"),
	}
}

// Register compiles the skill's patterns and stores it. Same-name
// registration overwrites with a warning; invalid patterns are logged and
// skipped rather than failing the skill.
func (r *Registry) Register(cfg SkillConfig) error {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	skill := &Skill{SkillConfig: cfg}
	for _, pattern := range cfg.IntentPatterns {
		compiled, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			r.logger.Warn("Skipping invalid intent pattern",
				"skill", cfg.Name, "pattern", pattern, "error", err)
			continue
		}
		skill.patterns = append(skill.patterns, compiled)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.skills[cfg.Name]; ok {
		r.logger.Warn("Overriding existing skill",
			"name", cfg.Name,
			"previous_source", existing.SourcePath,
			"new_source", cfg.SourcePath)
	}
	r.skills[cfg.Name] = skill
	return nil
}

// Get returns the named skill.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns every skill sorted by name.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Remove deletes a user skill. Builtin skills cannot be removed.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	skill, ok := r.skills[name]
	if !ok {
		return fmt.Errorf("skill %q not found", name)
	}
	if skill.Builtin {
		return fmt.Errorf("skill %q is builtin and cannot be removed", name)
	}
	delete(r.skills, name)
	return nil
}

// ReplaceAll swaps the full skill set in one step. Used by reload so readers
// never observe a half-loaded registry.
func (r *Registry) ReplaceAll(configs []SkillConfig) {
	fresh := NewRegistry()
	for _, cfg := range configs {
		if err := fresh.Register(cfg); err != nil {
			r.logger.Error("Dropping skill during reload", "name", cfg.Name, "error", err)
		}
	}

	r.mu.Lock()
	r.skills = fresh.skills
	r.mu.Unlock()
}

// MatchIntent returns every skill with a pattern matching the input, scored
// min(match_len/input_len + 0.3, 1.0) on its best match, sorted by
// confidence descending (name ascending on ties).
func (r *Registry) MatchIntent(input string) []Match {
	if input == "" {
		return nil
	}
	inputLen := float64(len(input))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Match
	for _, skill := range r.skills {
		best := Match{Skill: skill}
		for _, pattern := range skill.patterns {
			loc := pattern.FindStringIndex(input)
			if loc == nil {
				continue
			}
			confidence := float64(loc[1]-loc[0])/inputLen + intentScoreBase
			if confidence > 1.0 {
				confidence = 1.0
			}
			if confidence > best.Confidence {
				best.Confidence = confidence
				best.Pattern = pattern.String()
			}
		}
		if best.Confidence > 0 {
			matches = append(matches, best)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Skill.Name < matches[j].Skill.Name
	})
	return matches
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide skill registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// ResetInstance discards the process-wide registry. Test-only.
func ResetInstance() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}
