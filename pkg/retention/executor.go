package retention

import (
	"context"
	"log/slog"
	"time"
)

// Executor deletes the log records of one (app, tier) pair that violate the
// pair's effective policy. The effect of one Apply call is strictly scoped
// to that pair; the underlying store performs selection and deletion inside
// a single transaction.
type Executor struct {
	store  LogStore
	logger *slog.Logger
}

// NewExecutor creates an executor over the given log store.
func NewExecutor(store LogStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:  store,
		logger: logger.With("component", "retention.executor"),
	}
}

// Apply deletes the records of (app, resolved.Tier) violating the resolved
// policy, evaluated against now, and returns the number of rows deleted.
//
// With only retention_days set, records older than the cutoff are deleted.
// With only retention_count set, records ranked beyond the newest N by
// (timestamp DESC, id DESC) are deleted. With both set the union is deleted:
// a record is removed if it violates either rule. An enabled policy with
// neither rule is a configuration warning and a no-op.
func (e *Executor) Apply(ctx context.Context, resolved *ResolvedPolicy, app *App, now time.Time) (int64, error) {
	if !resolved.Policy.HasRules() {
		e.logger.Warn("enabled policy has no retention rules, skipping",
			"app_id", app.ID,
			"tier", resolved.Tier,
			"source", resolved.Source,
			"policy_id", resolved.Policy.ID,
		)
		return 0, nil
	}

	match := matchFor(resolved, app, now)
	deleted, err := e.store.DeleteMatching(ctx, match)
	if err != nil {
		return 0, NewPairError(app.ID, resolved.Tier, err)
	}

	if deleted > 0 {
		e.logger.Info("retention applied",
			"app_id", app.ID,
			"app_name", app.Name,
			"tier", resolved.Tier,
			"source", resolved.Source,
			"deleted", deleted,
		)
	}
	return deleted, nil
}

// matchFor translates a resolved policy into the store-level match predicate
// for one (app, tier) pair. The executor and the previewer both go through
// it so their selection logic cannot drift apart.
func matchFor(resolved *ResolvedPolicy, app *App, now time.Time) Match {
	m := Match{
		AppID:  app.ID,
		Levels: LevelsForTier(resolved.Tier),
	}
	if days := resolved.Policy.RetentionDays; days != nil {
		cutoff := now.AddDate(0, 0, -*days)
		m.Cutoff = &cutoff
	}
	if count := resolved.Policy.RetentionCount; count != nil {
		keep := *count
		if keep < 0 {
			keep = 0
		}
		m.Keep = &keep
	}
	return m
}
