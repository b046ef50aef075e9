package retention

import (
	"context"
	"log/slog"
	"time"
)

// Previewer is the read-only twin of the Executor: it counts the records a
// cleanup would delete without mutating anything. The match predicate is the
// executor's own, so preview counts and actual deletions agree whenever no
// writes happen in between.
type Previewer struct {
	store    Store
	resolver *Resolver
	logger   *slog.Logger
}

// NewPreviewer creates a previewer over the given store.
func NewPreviewer(store Store, resolver *Resolver, logger *slog.Logger) *Previewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Previewer{
		store:    store,
		resolver: resolver,
		logger:   logger.With("component", "retention.preview"),
	}
}

// Preview counts would-be deletions across the given scope: one app when
// appID is non-nil, every app otherwise, always across every tier.
//
// The "now" instant for age thresholds is captured once at entry and reused
// for every pair, so the reported total is internally consistent even when
// it is stale relative to concurrent writes.
func (p *Previewer) Preview(ctx context.Context, appID *string) (*PreviewResult, error) {
	now := time.Now().UTC()

	apps, err := targetApps(ctx, p.store, appID)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{GeneratedAt: now, Pairs: []PairResult{}}
	for _, app := range apps {
		for _, tier := range Tiers {
			resolved, err := p.resolver.Resolve(ctx, app, tier)
			if err != nil {
				return nil, err
			}
			if resolved == nil || !resolved.Policy.HasRules() {
				continue
			}

			count, err := p.store.CountMatching(ctx, matchFor(resolved, app, now))
			if err != nil {
				return nil, NewPairError(app.ID, tier, err)
			}

			result.Total += count
			result.Pairs = append(result.Pairs, PairResult{
				AppID:   app.ID,
				AppName: app.Name,
				Tier:    tier,
				Source:  resolved.Source,
				Count:   count,
			})
		}
	}

	p.logger.Debug("preview computed",
		"total", result.Total,
		"pairs", len(result.Pairs),
	)
	return result, nil
}

// targetApps enumerates the apps in scope: the single app when appID is
// non-nil, all apps otherwise.
func targetApps(ctx context.Context, store AppStore, appID *string) ([]*App, error) {
	if appID != nil {
		app, err := store.App(ctx, *appID)
		if err != nil {
			return nil, err
		}
		return []*App{app}, nil
	}
	return store.Apps(ctx)
}
