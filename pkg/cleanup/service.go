// Package cleanup enforces data retention in the background: archived
// conversations past the retention window are deleted and expired data
// source discoveries are pruned.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/merlya/merlya/pkg/conversation"
)

// defaultSweepInterval is how often retention runs when not overridden.
const defaultSweepInterval = 6 * time.Hour

// ConversationStore is the slice of the conversation store the sweeper
// needs.
type ConversationStore interface {
	ListAll(ctx context.Context) ([]conversation.Summary, error)
	Delete(ctx context.Context, id string) error
}

// SourcePruner removes expired data source discoveries.
type SourcePruner interface {
	Prune() (int, error)
}

// Service periodically enforces retention policies:
//   - Deletes non-current conversations older than the retention window
//   - Prunes expired entries from the data source registry
//
// All operations are idempotent and safe to re-run.
type Service struct {
	retentionDays int
	interval      time.Duration
	store         ConversationStore
	sources       SourcePruner
	logger        *slog.Logger
	now           func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service. retentionDays <= 0 keeps
// conversations forever; sources may be nil when no registry is in use.
func NewService(retentionDays int, store ConversationStore, sources SourcePruner) *Service {
	return &Service{
		retentionDays: retentionDays,
		interval:      defaultSweepInterval,
		store:         store,
		sources:       sources,
		logger:        slog.Default().With("component", "cleanup"),
		now:           time.Now,
	}
}

// WithInterval overrides the sweep interval. Non-positive values keep the
// default.
func (s *Service) WithInterval(interval time.Duration) *Service {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

// withNow overrides the clock for tests.
func (s *Service) withNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("retention service started",
		"retention_days", s.retentionDays,
		"interval", s.interval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.sweepConversations(ctx)
	s.pruneSources()
}

// sweepConversations deletes non-current conversations whose last update
// predates the retention window. The current conversation is never touched,
// however old it is.
func (s *Service) sweepConversations(ctx context.Context) {
	if s.retentionDays <= 0 || s.store == nil {
		return
	}
	cutoff := s.now().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)

	summaries, err := s.store.ListAll(ctx)
	if err != nil {
		s.logger.Error("retention: listing conversations failed", "error", err)
		return
	}
	deleted := 0
	for _, sum := range summaries {
		if sum.Current || !sum.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, sum.ID); err != nil {
			s.logger.Error("retention: deleting conversation failed",
				"conversation_id", sum.ID, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("retention: deleted old conversations", "count", deleted)
	}
}

func (s *Service) pruneSources() {
	if s.sources == nil {
		return
	}
	removed, err := s.sources.Prune()
	if err != nil {
		s.logger.Error("retention: pruning sources failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("retention: pruned expired sources", "count", removed)
	}
}
