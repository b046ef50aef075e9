package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultStaleAfter is how long a run may sit in the running state before a
// new run is allowed to preempt it. A crashed process leaves its run stuck
// in running; preemption marks the stale row failed and proceeds.
const DefaultStaleAfter = 2 * time.Hour

// CoordinatorConfig contains configuration for the run coordinator.
type CoordinatorConfig struct {
	// StaleAfter is the staleness timeout for stuck running runs.
	// Default: DefaultStaleAfter.
	StaleAfter time.Duration
}

// Coordinator orchestrates one cleanup pass across apps and tiers. It
// enforces at most one active run at a time through persisted state in the
// run store, so the guarantee holds across process restarts and between the
// scheduler and the manual API path. The coordinator is the sole writer of
// cleanup run rows.
type Coordinator struct {
	store      Store
	resolver   *Resolver
	executor   *Executor
	metrics    *Metrics
	logger     *slog.Logger
	staleAfter time.Duration
}

// NewCoordinator creates a run coordinator. metrics may be nil.
func NewCoordinator(store Store, resolver *Resolver, executor *Executor, metrics *Metrics, cfg *CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	staleAfter := DefaultStaleAfter
	if cfg != nil && cfg.StaleAfter > 0 {
		staleAfter = cfg.StaleAfter
	}
	return &Coordinator{
		store:      store,
		resolver:   resolver,
		executor:   executor,
		metrics:    metrics,
		logger:     logger.With("component", "retention.coordinator"),
		staleAfter: staleAfter,
	}
}

// Run executes one cleanup pass and returns the finished run row. The scope
// is one app times every tier when appID is non-nil, otherwise every app
// times every tier.
//
// A request while another run is active returns *ConflictError without
// touching any data. Per-pair failures are accumulated on the run's
// diagnostics and excluded from LogsDeleted; only a run-wide storage failure
// marks the run failed. Either way the run row receives exactly one terminal
// transition.
func (c *Coordinator) Run(ctx context.Context, trigger TriggerType, appID *string) (*CleanupRun, error) {
	now := time.Now().UTC()
	run := &CleanupRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: now,
		Status:    StatusRunning,
	}

	if err := c.store.BeginRun(ctx, run, now.Add(-c.staleAfter)); err != nil {
		if conflict, ok := err.(*ConflictError); ok {
			c.logger.Info("cleanup run rejected, another run is active",
				"trigger", trigger,
				"active_run_id", conflict.ActiveRunID,
			)
			return nil, conflict
		}
		return nil, err
	}

	c.metrics.runStarted()
	c.logger.Info("cleanup run started",
		"run_id", run.ID,
		"trigger", trigger,
		"scoped", appID != nil,
	)

	deleted, diagnostics, fatal := c.pass(ctx, run, appID, now)
	run.LogsDeleted = deleted
	run.Diagnostics = diagnostics

	status := StatusCompleted
	if fatal != nil {
		status = StatusFailed
		run.Diagnostics = append(run.Diagnostics, fmt.Sprintf("fatal: %v", fatal))
	}

	completedAt := time.Now().UTC()
	if err := c.store.FinishRun(ctx, run.ID, status, completedAt, run.LogsDeleted, run.Diagnostics); err != nil {
		c.metrics.runFinished(trigger, StatusFailed, completedAt.Sub(run.StartedAt))
		return nil, err
	}
	run.Status = status
	run.CompletedAt = &completedAt

	c.metrics.runFinished(trigger, status, completedAt.Sub(run.StartedAt))
	c.logger.Info("cleanup run finished",
		"run_id", run.ID,
		"status", status,
		"logs_deleted", run.LogsDeleted,
		"pair_failures", len(run.Diagnostics),
		"duration", completedAt.Sub(run.StartedAt),
	)

	if fatal != nil {
		return run, fatal
	}
	return run, nil
}

// pass walks the scope and applies each pair's effective policy. It returns
// the cumulative deletion count, per-pair diagnostics, and the first fatal
// (run-wide) error, if any. Pair-level delete failures are diagnostics;
// failures reading apps or policies mean the storage layer itself is in
// trouble and abort the pass.
func (c *Coordinator) pass(ctx context.Context, run *CleanupRun, appID *string, now time.Time) (int64, []string, error) {
	apps, err := targetApps(ctx, c.store, appID)
	if err != nil {
		return 0, nil, fmt.Errorf("enumerate apps: %w", err)
	}

	var total int64
	var diagnostics []string
	for _, app := range apps {
		for _, tier := range Tiers {
			if err := ctx.Err(); err != nil {
				return total, diagnostics, err
			}

			resolved, err := c.resolver.Resolve(ctx, app, tier)
			if err != nil {
				return total, diagnostics, fmt.Errorf("resolve policy for app %s tier %s: %w", app.ID, tier, err)
			}
			if resolved == nil {
				continue
			}

			deleted, err := c.executor.Apply(ctx, resolved, app, now)
			if err != nil {
				c.metrics.pairFailed()
				c.logger.Error("pair cleanup failed",
					"run_id", run.ID,
					"app_id", app.ID,
					"tier", tier,
					"error", err,
				)
				diagnostics = append(diagnostics, err.Error())
				continue
			}

			total += deleted
			c.metrics.logsDeleted(tier, resolved.Source, deleted)
		}
	}
	return total, diagnostics, nil
}

// Runs lists finished and running cleanup runs, most recent first.
func (c *Coordinator) Runs(ctx context.Context, limit, offset int) ([]*CleanupRun, error) {
	return c.store.Runs(ctx, limit, offset)
}
