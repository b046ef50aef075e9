package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers automatic cleanup runs on a cron schedule. It is a thin
// hook around the coordinator, not a general-purpose job scheduler: one
// entry, trigger type automatic, unscoped.
//
// A scheduled run that collides with an active run is skipped with a log
// line; the coordinator's persisted exclusion already rejected it.
type Scheduler struct {
	coordinator *Coordinator
	cron        *cron.Cron
	entryID     cron.EntryID
	schedule    string
	mu          sync.Mutex
	logger      *slog.Logger
	running     bool
}

// NewScheduler creates a scheduler with the given cron schedule. The
// schedule uses standard five-field cron syntax, e.g. "0 * * * *" for
// hourly.
func NewScheduler(coordinator *Coordinator, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		coordinator: coordinator,
		cron:        cron.New(),
		schedule:    schedule,
		logger:      logger.With("component", "retention.scheduler"),
	}
}

// Start begins scheduled cleanup. If the schedule is empty the scheduler
// does nothing and Start returns immediately without error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("cleanup schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		s.runCleanup(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.running = true

	s.logger.Info("cleanup scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Reschedule replaces the cron schedule while running. Used for
// configuration hot reload. An empty schedule stops scheduled cleanup until
// a non-empty one arrives.
func (s *Scheduler) Reschedule(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule == s.schedule {
		return nil
	}
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
		}
	}

	if s.running {
		s.cron.Remove(s.entryID)
	}
	s.schedule = schedule
	if schedule == "" {
		s.logger.Info("cleanup schedule cleared")
		return nil
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.runCleanup(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to reschedule cleanup: %w", err)
	}
	s.entryID = entryID

	if !s.running {
		s.cron.Start()
		s.running = true
	}

	s.logger.Info("cleanup schedule updated", "schedule", schedule)
	return nil
}

// runCleanup executes one scheduled cleanup cycle.
func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.Info("starting scheduled cleanup run")

	run, err := s.coordinator.Run(ctx, TriggerAutomatic, nil)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.logger.Info("scheduled cleanup skipped, run already active",
				"active_run_id", conflict.ActiveRunID,
			)
			return
		}
		s.logger.Error("scheduled cleanup failed", "error", err)
		return
	}

	s.logger.Info("scheduled cleanup completed",
		"run_id", run.ID,
		"logs_deleted", run.LogsDeleted,
	)
}

// Stop stops the scheduler and waits for any running job to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("cleanup scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled cleanup time, or nil when nothing is
// scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entry := s.cron.Entry(s.entryID)
	if !entry.Valid() {
		return nil
	}
	next := entry.Next
	return &next
}
