// Package scheduler computes deterministic next-run timestamps for recurring
// analyses and re-spawns batches on a periodic tick.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ellipsesearch/visibility/internal/config"
	"github.com/ellipsesearch/visibility/internal/store"
	"github.com/ellipsesearch/visibility/pkg/models"
)

// Scheduler runs the recurring tick. It is the only writer of
// next_run_at/last_run_at/run_count.
type Scheduler struct {
	store    store.Store
	launcher *Launcher
	cfg      config.SchedulerConfig
	now      func() time.Time
}

// New creates a Scheduler.
func New(st store.Store, launcher *Launcher, cfg config.SchedulerConfig) *Scheduler {
	if cfg.MaxPerTick <= 0 {
		cfg.MaxPerTick = 25
	}
	return &Scheduler{store: st, launcher: launcher, cfg: cfg, now: time.Now}
}

// Run ticks until ctx is cancelled. One tick runs immediately on start so a
// restarted process picks up overdue schedules without waiting an interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes due schedules oldest-first, capped per tick to bound tick
// duration, and sweeps batches stuck non-terminal past the stale timeout.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.cfg.StaleBatchTimeout > 0 {
		if n, err := s.store.FailStaleBatches(ctx, s.cfg.StaleBatchTimeout); err != nil {
			slog.Error("stale batch sweep failed", "error", err)
		} else if n > 0 {
			slog.Warn("timed out stale batches", "count", n)
		}
	}

	now := s.now().UTC()
	due, err := s.store.ListDueSchedules(ctx, now, s.cfg.MaxPerTick)
	if err != nil {
		slog.Error("list due schedules failed", "error", err)
		return
	}

	for _, schedule := range due {
		if err := s.runSchedule(ctx, schedule, now); err != nil {
			slog.Error("schedule run failed", "schedule_id", schedule.ID, "error", err)
		}
	}
}

func (s *Scheduler) runSchedule(ctx context.Context, schedule *models.ScheduledAnalysis, now time.Time) error {
	nextRun, err := NextRun(schedule.Frequency, now)
	if err != nil {
		return err
	}

	batch, err := s.launcher.Launch(ctx, schedule.BrandID, schedule.PromptIDs,
		schedule.Engines, schedule.Language, schedule.Region, nil)
	if err != nil {
		return err
	}
	if batch == nil {
		// Empty prompt scope: skipped, but the schedule still advances so it
		// does not spin on every tick.
		slog.Info("schedule skipped, no active prompts", "schedule_id", schedule.ID)
	}

	return s.store.AdvanceSchedule(ctx, schedule.ID, nextRun, now)
}
