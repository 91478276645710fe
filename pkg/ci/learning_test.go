package ci

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/knowledge"
	"github.com/merlya/merlya/pkg/metrics"
)

type fakeKnowledgeStore struct {
	incidents     map[string]knowledge.Incident
	skills        []knowledge.LearnedSkill
	similar       []knowledge.Incident
	searchResults []knowledge.LearnedSkill
	recordErr     error
	addSkillErr   error

	lastSymptoms []string
	lastQuery    string
	lastTags     []string
	usedTriggers []string
}

func (f *fakeKnowledgeStore) RecordIncident(ctx context.Context, incident knowledge.Incident) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	if f.incidents == nil {
		f.incidents = make(map[string]knowledge.Incident)
	}
	f.incidents[incident.ID] = incident
	return nil
}

func (f *fakeKnowledgeStore) FindSimilar(ctx context.Context, symptoms []string, limit int) ([]knowledge.Incident, error) {
	f.lastSymptoms = symptoms
	if limit < len(f.similar) {
		return f.similar[:limit], nil
	}
	return f.similar, nil
}

func (f *fakeKnowledgeStore) AddSkill(ctx context.Context, skill knowledge.LearnedSkill) error {
	if f.addSkillErr != nil {
		return f.addSkillErr
	}
	f.skills = append(f.skills, skill)
	return nil
}

func (f *fakeKnowledgeStore) SearchSkills(ctx context.Context, query string, tags []string, limit int) ([]knowledge.LearnedSkill, error) {
	f.lastQuery = query
	f.lastTags = tags
	return f.searchResults, nil
}

func (f *fakeKnowledgeStore) MarkSkillUsed(ctx context.Context, trigger string) error {
	f.usedTriggers = append(f.usedTriggers, trigger)
	return nil
}

func newTestLearningRouter(store *fakeKnowledgeStore, cfg config.CIConfig) *LearningRouter {
	router := NewLearningRouter(store, cfg)
	router.registry = metrics.NewRegistry()
	return router
}

func testAnalysis() *FailureAnalysis {
	return &FailureAnalysis{
		RunID:      "42",
		ErrorType:  ErrorTypeTestFailure,
		Summary:    "assertion failed: expected status 200, got 500 in checkout flow",
		Confidence: 0.6,
		FailedJobs: []string{"test", "integration"},
	}
}

func TestRecordFailure(t *testing.T) {
	store := &fakeKnowledgeStore{}
	router := newTestLearningRouter(store, config.CIConfig{})
	router.now = func() time.Time { return time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC) }

	incident, err := router.RecordFailure(context.Background(), &Run{ID: "42"}, testAnalysis(), PlatformGitHub)
	require.NoError(t, err)

	assert.Equal(t, "ci-42-20260824103000", incident.ID)
	assert.Equal(t, "42", incident.RunID)
	assert.Equal(t, PlatformGitHub, incident.Platform)

	stored, ok := store.incidents[incident.ID]
	require.True(t, ok, "failure written through to the incident memory")
	assert.Equal(t, "P2", stored.Priority)
	assert.Equal(t, "github", stored.Platform)
	assert.Equal(t, []string{"test_failure", "test", "integration"}, stored.Symptoms)
	assert.False(t, stored.Resolved)

	require.Len(t, router.Pending(), 1)
	assert.InDelta(t, 1, router.registry.Gauge(MetricPendingIncidents).Get(), 0.001)
}

func TestRecordFailureWriteThroughError(t *testing.T) {
	store := &fakeKnowledgeStore{recordErr: errors.New("store offline")}
	router := newTestLearningRouter(store, config.CIConfig{})

	incident, err := router.RecordFailure(context.Background(), &Run{ID: "42"}, testAnalysis(), PlatformGitHub)
	require.Error(t, err)
	assert.ErrorContains(t, err, "store offline")
	require.NotNil(t, incident)
	assert.Len(t, router.Pending(), 1, "incident stays pending for a later resolution")
}

func TestRecordFailureCapEviction(t *testing.T) {
	store := &fakeKnowledgeStore{}
	router := newTestLearningRouter(store, config.CIConfig{PendingIncidentCap: 3})

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		router.now = func() time.Time { return tick }
		_, err := router.RecordFailure(context.Background(), &Run{ID: "42"}, testAnalysis(), PlatformGitHub)
		require.NoError(t, err)
	}

	pending := router.Pending()
	require.Len(t, pending, 3, "cap evicts the oldest entries first")
	assert.Equal(t, "ci-42-20260824100200", pending[0].ID)
	assert.Equal(t, "ci-42-20260824100400", pending[2].ID)
}

func TestRecordFailureTTLExpiry(t *testing.T) {
	store := &fakeKnowledgeStore{}
	router := newTestLearningRouter(store, config.CIConfig{PendingIncidentTTL: time.Hour})

	old := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)
	router.now = func() time.Time { return old }
	_, err := router.RecordFailure(context.Background(), &Run{ID: "41"}, testAnalysis(), PlatformGitHub)
	require.NoError(t, err)

	later := old.Add(2 * time.Hour)
	router.now = func() time.Time { return later }
	_, err = router.RecordFailure(context.Background(), &Run{ID: "42"}, testAnalysis(), PlatformGitHub)
	require.NoError(t, err)

	pending := router.Pending()
	require.Len(t, pending, 1, "entries beyond the TTL are expired")
	assert.Equal(t, "42", pending[0].RunID)
}

func TestRecordResolution(t *testing.T) {
	t.Run("resolves and learns a skill", func(t *testing.T) {
		store := &fakeKnowledgeStore{}
		router := newTestLearningRouter(store, config.CIConfig{})
		router.now = func() time.Time { return time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC) }

		incident, err := router.RecordFailure(context.Background(), &Run{ID: "42"}, testAnalysis(), PlatformGitHub)
		require.NoError(t, err)

		commands := []string{"npm ci", "npm test -- --runInBand"}
		err = router.RecordResolution(context.Background(), incident.ID, "reinstalled dependencies", commands, false)
		require.NoError(t, err)

		assert.Empty(t, router.Pending())

		resolved := store.incidents[incident.ID]
		assert.True(t, resolved.Resolved)
		assert.False(t, resolved.AutoResolved)
		assert.Equal(t, "reinstalled dependencies", resolved.Resolution)
		assert.False(t, resolved.ResolvedAt.IsZero())

		require.Len(t, store.skills, 1)
		skill := store.skills[0]
		assert.Equal(t, "test_failure test assertion failed: expected status 200,", skill.Trigger)
		assert.Equal(t, "npm ci && npm test -- --runInBand", skill.Solution)
		assert.ElementsMatch(t, []string{"ci", "ci/github"}, skill.Tags)
		assert.Equal(t, int64(1), router.registry.Counter(MetricLearnedSkills).Value())
	})

	t.Run("no commands means no skill", func(t *testing.T) {
		store := &fakeKnowledgeStore{}
		router := newTestLearningRouter(store, config.CIConfig{})

		incident, err := router.RecordFailure(context.Background(), &Run{ID: "42"}, testAnalysis(), PlatformGitHub)
		require.NoError(t, err)

		require.NoError(t, router.RecordResolution(context.Background(), incident.ID, "transient, rerun passed", nil, true))
		assert.Empty(t, store.skills)
		assert.True(t, store.incidents[incident.ID].AutoResolved)
	})

	t.Run("unknown incident", func(t *testing.T) {
		router := newTestLearningRouter(&fakeKnowledgeStore{}, config.CIConfig{})
		err := router.RecordResolution(context.Background(), "ci-99-20260101000000", "fixed", nil, false)
		assert.ErrorContains(t, err, `no pending incident "ci-99-20260101000000"`)
	})
}

func TestFindSimilarFailures(t *testing.T) {
	store := &fakeKnowledgeStore{similar: []knowledge.Incident{
		{ID: "a", Platform: "github"},
		{ID: "b", Platform: "gitlab"},
		{ID: "c", Platform: ""},
	}}
	router := newTestLearningRouter(store, config.CIConfig{})

	incidents, err := router.FindSimilarFailures(context.Background(), testAnalysis(), PlatformGitHub, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"test_failure", "test", "integration"}, store.lastSymptoms)
	require.Len(t, incidents, 2, "other platforms filtered out, unplatformed kept")
	assert.Equal(t, "a", incidents[0].ID)
	assert.Equal(t, "c", incidents[1].ID)
}

func TestSuggestFix(t *testing.T) {
	t.Run("prefers the platform tag", func(t *testing.T) {
		store := &fakeKnowledgeStore{searchResults: []knowledge.LearnedSkill{
			{Trigger: "generic", Solution: "generic fix", Tags: []string{"ci"}},
			{Trigger: "specific", Solution: "gh-specific fix", Tags: []string{"ci", "ci/github"}},
		}}
		router := newTestLearningRouter(store, config.CIConfig{})

		fix, err := router.SuggestFix(context.Background(), testAnalysis(), PlatformGitHub)
		require.NoError(t, err)
		assert.Equal(t, "gh-specific fix", fix)
		assert.Equal(t, []string{"ci"}, store.lastTags)
		assert.True(t, strings.HasPrefix(store.lastQuery, "test_failure"))
		assert.Equal(t, []string{"specific"}, store.usedTriggers,
			"the suggested skill is marked used")
	})

	t.Run("falls back to the top match", func(t *testing.T) {
		store := &fakeKnowledgeStore{searchResults: []knowledge.LearnedSkill{
			{Trigger: "generic", Solution: "generic fix", Tags: []string{"ci", "ci/gitlab"}},
		}}
		router := newTestLearningRouter(store, config.CIConfig{})

		fix, err := router.SuggestFix(context.Background(), testAnalysis(), PlatformGitHub)
		require.NoError(t, err)
		assert.Equal(t, "generic fix", fix)
	})

	t.Run("nothing applicable", func(t *testing.T) {
		router := newTestLearningRouter(&fakeKnowledgeStore{}, config.CIConfig{})
		fix, err := router.SuggestFix(context.Background(), testAnalysis(), PlatformGitHub)
		require.NoError(t, err)
		assert.Empty(t, fix)
	})
}
