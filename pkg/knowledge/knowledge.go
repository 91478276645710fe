// Package knowledge defines the narrow interface to the incident and skill
// memory, plus the JSON file store backing it. The long-term knowledge graph
// is an external collaborator; the core only records incidents, looks up
// similar ones, and stores learned problem/solution skills.
package knowledge

import (
	"context"
	"time"
)

// Incident is one recorded failure, from Sentinel alerts or CI analysis.
type Incident struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Symptoms     []string  `json:"symptoms,omitempty"`
	Priority     string    `json:"priority"` // P1, P2, P3
	Platform     string    `json:"platform,omitempty"`
	Resolution   string    `json:"resolution,omitempty"`
	Resolved     bool      `json:"resolved"`
	AutoResolved bool      `json:"auto_resolved,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ResolvedAt   time.Time `json:"resolved_at,omitempty"`
}

// LearnedSkill is a problem/solution pair distilled from a resolved failure.
type LearnedSkill struct {
	Trigger    string    `json:"trigger"`
	Solution   string    `json:"solution"`
	Tags       []string  `json:"tags,omitempty"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used,omitempty"`
}

// Route maps a network CIDR to the jump host that reaches it.
type Route struct {
	Network string `json:"network"`
	Gateway string `json:"gateway"`
}

// Interface is the contract the core depends on. The file store implements
// it; a graph database could replace it without touching callers.
type Interface interface {
	// RecordIncident stores an incident. Re-recording an existing ID
	// overwrites it (used by resolution updates).
	RecordIncident(ctx context.Context, incident Incident) error
	// FindSimilar returns incidents ranked by symptom overlap.
	FindSimilar(ctx context.Context, symptoms []string, limit int) ([]Incident, error)
	// AddSkill stores a learned skill, replacing one with the same trigger.
	AddSkill(ctx context.Context, skill LearnedSkill) error
	// SearchSkills returns skills ranked by trigger overlap with query,
	// preferring entries carrying any of the given tags.
	SearchSkills(ctx context.Context, query string, tags []string, limit int) ([]LearnedSkill, error)
}
