package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/42zz/CaleNote-sub001/internal/model"
)

// Service is the trigger surface exposed to callers: explicit one-shot sync
// operations plus an optional periodic schedule.
type Service struct {
	orch *Orchestrator
	log  zerolog.Logger

	mu       gosync.Mutex
	schedule *cron.Cron
}

// NewService wraps an orchestrator.
func NewService(orch *Orchestrator, log zerolog.Logger) *Service {
	return &Service{orch: orch, log: log.With().Str("component", "sync-service").Logger()}
}

// RunFullSyncCycle runs one push-then-pull cycle now.
func (s *Service) RunFullSyncCycle(ctx context.Context) (*CycleResult, error) {
	return s.orch.RunCycle(ctx)
}

// PushLocalChanges sends pending records without pulling.
func (s *Service) PushLocalChanges(ctx context.Context) (*CycleResult, error) {
	return s.orch.Push(ctx)
}

// PullRemoteChanges fetches remote deltas. Zero window values use the
// configured defaults.
func (s *Service) PullRemoteChanges(ctx context.Context, pastWindowDays, futureWindowDays int) (*CycleResult, error) {
	return s.orch.Pull(ctx, pastWindowDays, futureWindowDays)
}

// RetryFailedPushes re-sends every record stuck in the failed state.
func (s *Service) RetryFailedPushes(ctx context.Context) (*CycleResult, error) {
	return s.orch.RetryFailed(ctx)
}

// ResolveConflict applies the chosen side of a flagged conflict.
func (s *Service) ResolveConflict(ctx context.Context, recordID string, choice model.Resolution) error {
	return s.orch.Resolve(ctx, recordID, choice)
}

// StartPeriodicSync schedules a full cycle every interval. A second call
// replaces the previous schedule.
func (s *Service) StartPeriodicSync(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule != nil {
		s.schedule.Stop()
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if _, err := s.orch.RunCycle(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("periodic sync cycle failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule periodic sync: %w", err)
	}
	c.Start()
	s.schedule = c
	s.log.Info().Dur("interval", interval).Msg("periodic sync started")
	return nil
}

// StopPeriodicSync halts the schedule. Safe to call when none is running.
func (s *Service) StopPeriodicSync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule != nil {
		s.schedule.Stop()
		s.schedule = nil
		s.log.Info().Msg("periodic sync stopped")
	}
}
