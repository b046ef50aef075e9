// Package retention implements the retention policy resolution and cleanup
// engine: it decides, for every stored log record, whether it must be
// deleted, based on a three-level cascading policy model.
//
// # Policy cascade
//
// Every log record belongs to a priority tier derived from its severity
// level (FATAL/ERROR = high, WARN/INFO = medium, DEBUG/TRACE = low). For
// each (app, tier) pair the effective policy is resolved by walking three
// scopes in order, first enabled hit wins:
//
//  1. App-scoped policy for (app, tier)
//  2. Environment policy for (app.environment, tier)
//  3. Global policy for the tier
//
// When no scope has an enabled policy the tier is retained indefinitely for
// that app.
//
// # Rules
//
// A policy carries an optional retention_days (age rule) and an optional
// retention_count (count rule, ranked newest first by timestamp then id).
// With both set, the union is deleted: a record is removed if it violates
// either rule.
//
// # Runs
//
// A cleanup pass is a CleanupRun: created running, finished exactly once as
// completed or failed, with the cumulative deletion count and per-pair
// diagnostics. At most one run is active at a time; the exclusion is
// persisted in the run table, not an in-process flag, so it survives
// restarts and holds across the scheduler and the manual API path. Running
// rows older than a staleness timeout are preempted and marked failed.
//
// # Basic usage
//
//	resolver := retention.NewResolver(store, logger)
//	executor := retention.NewExecutor(store, logger)
//	coord := retention.NewCoordinator(store, resolver, executor, metrics, nil, logger)
//
//	// Manual run across all apps
//	run, err := coord.Run(ctx, retention.TriggerManual, nil)
//
//	// Dry-run preview
//	previewer := retention.NewPreviewer(store, resolver, logger)
//	preview, err := previewer.Preview(ctx, nil)
//
//	// Hourly scheduled runs
//	sched := retention.NewScheduler(coord, "0 * * * *", logger)
//	err = sched.Start(ctx)
package retention
