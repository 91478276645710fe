package ci

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/knowledge"
	"github.com/merlya/merlya/pkg/metrics"
)

const (
	MetricPendingIncidents = "merlya_ci_pending_incidents"
	MetricLearnedSkills    = "merlya_ci_learned_skills_total"
)

// ciIncidentPriority is the priority CI failures are filed under. They
// block pipelines, not production traffic.
const ciIncidentPriority = "P2"

// suggestSearchLimit bounds skill-store queries made by SuggestFix.
const suggestSearchLimit = 5

// PendingIncident is a recorded CI failure awaiting resolution.
type PendingIncident struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Platform  PlatformType    `json:"platform"`
	Analysis  FailureAnalysis `json:"analysis"`
	CreatedAt time.Time       `json:"created_at"`
}

// LearningRouter records CI failures as incidents, turns resolutions into
// reusable skills, and answers similarity queries. Pending incidents are
// held FIFO with a cap and a TTL.
type LearningRouter struct {
	store    knowledge.Interface
	cap      int
	ttl      time.Duration
	registry *metrics.Registry
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending []PendingIncident
}

// NewLearningRouter wires the router to the incident memory. Cap and TTL
// come from the CI configuration; non-positive values fall back to the
// defaults of 100 and 24h.
func NewLearningRouter(store knowledge.Interface, cfg config.CIConfig) *LearningRouter {
	pendingCap := cfg.PendingIncidentCap
	if pendingCap <= 0 {
		pendingCap = 100
	}
	ttl := cfg.PendingIncidentTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LearningRouter{
		store:    store,
		cap:      pendingCap,
		ttl:      ttl,
		registry: metrics.Default(),
		logger:   slog.Default().With("component", "ci.learning"),
		now:      time.Now,
	}
}

// RecordFailure registers the analyzed failure as a pending incident and
// writes it through to the incident memory. The incident stays pending
// even when the write-through fails, so a later resolution can still land
// it; the error reports the write failure.
func (l *LearningRouter) RecordFailure(ctx context.Context, run *Run, analysis *FailureAnalysis, platform PlatformType) (*PendingIncident, error) {
	now := l.now().UTC()
	incident := PendingIncident{
		ID:        fmt.Sprintf("ci-%s-%s", run.ID, now.Format("20060102150405")),
		RunID:     run.ID,
		Platform:  platform,
		Analysis:  *analysis,
		CreatedAt: now,
	}

	l.mu.Lock()
	l.prune(now)
	for len(l.pending) >= l.cap {
		evicted := l.pending[0]
		l.pending = l.pending[1:]
		l.logger.Warn("Evicting oldest pending incident", "id", evicted.ID)
	}
	l.pending = append(l.pending, incident)
	count := len(l.pending)
	l.mu.Unlock()
	l.registry.Gauge(MetricPendingIncidents).Set(float64(count))

	err := l.store.RecordIncident(ctx, knowledge.Incident{
		ID:          incident.ID,
		Title:       fmt.Sprintf("CI run %s failed: %s", run.ID, analysis.ErrorType),
		Description: analysis.Summary,
		Symptoms:    failureSymptoms(analysis),
		Priority:    ciIncidentPriority,
		Platform:    string(platform),
		CreatedAt:   now,
	})
	if err != nil {
		return &incident, fmt.Errorf("recording failure %s: %w", incident.ID, err)
	}
	l.logger.Info("Recorded CI failure",
		"id", incident.ID, "run_id", run.ID, "error_type", analysis.ErrorType)
	return &incident, nil
}

// RecordResolution removes the incident from pending, marks it resolved in
// the incident memory, and when commands are provided stores them as a
// reusable skill.
func (l *LearningRouter) RecordResolution(ctx context.Context, incidentID, resolution string, commands []string, autoResolved bool) error {
	l.mu.Lock()
	var incident *PendingIncident
	for i := range l.pending {
		if l.pending[i].ID == incidentID {
			found := l.pending[i]
			incident = &found
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			break
		}
	}
	count := len(l.pending)
	l.mu.Unlock()
	if incident == nil {
		return fmt.Errorf("no pending incident %q", incidentID)
	}
	l.registry.Gauge(MetricPendingIncidents).Set(float64(count))

	now := l.now().UTC()
	err := l.store.RecordIncident(ctx, knowledge.Incident{
		ID:           incident.ID,
		Title:        fmt.Sprintf("CI run %s failed: %s", incident.RunID, incident.Analysis.ErrorType),
		Description:  incident.Analysis.Summary,
		Symptoms:     failureSymptoms(&incident.Analysis),
		Priority:     ciIncidentPriority,
		Platform:     string(incident.Platform),
		Resolution:   resolution,
		Resolved:     true,
		AutoResolved: autoResolved,
		CreatedAt:    incident.CreatedAt,
		ResolvedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("resolving incident %s: %w", incidentID, err)
	}

	if len(commands) > 0 {
		skill := knowledge.LearnedSkill{
			Trigger:   resolutionTrigger(&incident.Analysis),
			Solution:  strings.Join(commands, " && "),
			Tags:      []string{"ci", "ci/" + string(incident.Platform)},
			CreatedAt: now,
		}
		if err := l.store.AddSkill(ctx, skill); err != nil {
			return fmt.Errorf("storing skill for incident %s: %w", incidentID, err)
		}
		l.registry.Counter(MetricLearnedSkills).Inc(1)
		l.logger.Info("Learned skill from resolution",
			"incident", incidentID, "trigger", skill.Trigger)
	}
	return nil
}

// FindSimilarFailures queries the incident memory with the analysis
// symptoms, keeping results from the same platform (or with no platform
// recorded).
func (l *LearningRouter) FindSimilarFailures(ctx context.Context, analysis *FailureAnalysis, platform PlatformType, limit int) ([]knowledge.Incident, error) {
	incidents, err := l.store.FindSimilar(ctx, failureSymptoms(analysis), limit)
	if err != nil {
		return nil, fmt.Errorf("finding similar failures: %w", err)
	}
	out := incidents[:0]
	for _, incident := range incidents {
		if incident.Platform == "" || incident.Platform == string(platform) {
			out = append(out, incident)
		}
	}
	return out, nil
}

// skillUsageMarker is the optional usage write-back a skill store may
// support. knowledge.FileStore implements it.
type skillUsageMarker interface {
	MarkSkillUsed(ctx context.Context, trigger string) error
}

// SuggestFix searches learned skills for the failure and returns the best
// match's solution, preferring skills tagged for the platform. An empty
// string means nothing applicable was found. Suggested skills have their
// usage count bumped when the store tracks usage.
func (l *LearningRouter) SuggestFix(ctx context.Context, analysis *FailureAnalysis, platform PlatformType) (string, error) {
	query := strings.TrimSpace(string(analysis.ErrorType) + " " + analysis.Summary)
	skills, err := l.store.SearchSkills(ctx, query, []string{"ci"}, suggestSearchLimit)
	if err != nil {
		return "", fmt.Errorf("searching skills: %w", err)
	}
	if len(skills) == 0 {
		return "", nil
	}
	chosen := skills[0]
	platformTag := "ci/" + string(platform)
	for _, skill := range skills {
		if slices.Contains(skill.Tags, platformTag) {
			chosen = skill
			break
		}
	}
	if marker, ok := l.store.(skillUsageMarker); ok {
		if err := marker.MarkSkillUsed(ctx, chosen.Trigger); err != nil {
			l.logger.Warn("Failed to record skill usage",
				"trigger", chosen.Trigger, "error", err)
		}
	}
	return chosen.Solution, nil
}

// Pending returns a copy of the pending incidents in arrival order.
func (l *LearningRouter) Pending() []PendingIncident {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PendingIncident, len(l.pending))
	copy(out, l.pending)
	return out
}

// prune drops pending incidents older than the TTL. Caller holds the lock;
// entries are time-ordered so expiry only ever trims the front.
func (l *LearningRouter) prune(now time.Time) {
	cutoff := now.Add(-l.ttl)
	for len(l.pending) > 0 && l.pending[0].CreatedAt.Before(cutoff) {
		l.logger.Debug("Expiring pending incident", "id", l.pending[0].ID)
		l.pending = l.pending[1:]
	}
}

// failureSymptoms is the canonical symptom list: error type first, then
// the failed job names.
func failureSymptoms(analysis *FailureAnalysis) []string {
	return append([]string{string(analysis.ErrorType)}, analysis.FailedJobs...)
}

// resolutionTrigger names what a learned skill fires on: error type, first
// failed job, and the summary's first five words.
func resolutionTrigger(analysis *FailureAnalysis) string {
	parts := []string{string(analysis.ErrorType)}
	if len(analysis.FailedJobs) > 0 {
		parts = append(parts, analysis.FailedJobs[0])
	}
	if words := strings.Fields(analysis.Summary); len(words) > 0 {
		if len(words) > 5 {
			words = words[:5]
		}
		parts = append(parts, strings.Join(words, " "))
	}
	return strings.Join(parts, " ")
}
