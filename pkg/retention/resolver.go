package retention

import (
	"context"
	"log/slog"
)

// lookup fetches the enabled policy candidate of one cascade level for an
// (app, tier) pair, or nil when that level has none.
type lookup func(ctx context.Context, app *App, tier Tier) (*Policy, error)

// cascadeLevel is one level of the resolution cascade.
type cascadeLevel struct {
	source Source
	lookup lookup
}

// Resolver selects the single effective policy for an (app, tier) pair by
// walking the cascade app → environment → global in order; the first enabled
// hit wins. The levels are an ordered list so that adding a fourth scope or
// reordering is a wiring change, not new branching logic.
type Resolver struct {
	store  PolicyStore
	chain  []cascadeLevel
	logger *slog.Logger
}

// NewResolver creates a resolver over the given policy store.
func NewResolver(store PolicyStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:  store,
		logger: logger.With("component", "retention.resolver"),
	}
	r.chain = []cascadeLevel{
		{SourceApp, func(ctx context.Context, app *App, tier Tier) (*Policy, error) {
			return store.AppPolicy(ctx, app.ID, tier)
		}},
		{SourceEnvironment, func(ctx context.Context, app *App, tier Tier) (*Policy, error) {
			return store.EnvironmentPolicy(ctx, app.Environment, tier)
		}},
		{SourceGlobal, func(ctx context.Context, app *App, tier Tier) (*Policy, error) {
			return store.GlobalPolicy(ctx, tier)
		}},
	}
	return r
}

// Resolve returns the effective policy for (app, tier), or nil when no level
// of the cascade has an enabled policy; a nil result means the tier is
// retained indefinitely for that app. Per-scope uniqueness guarantees at most
// one candidate per level, so there is no tie-break.
func (r *Resolver) Resolve(ctx context.Context, app *App, tier Tier) (*ResolvedPolicy, error) {
	for _, level := range r.chain {
		policy, err := level.lookup(ctx, app, tier)
		if err != nil {
			return nil, err
		}
		if policy == nil {
			continue
		}
		r.logger.Debug("policy resolved",
			"app_id", app.ID,
			"tier", tier,
			"source", level.source,
			"policy_id", policy.ID,
		)
		return &ResolvedPolicy{
			Policy: *policy,
			Source: level.source,
			Tier:   tier,
		}, nil
	}

	r.logger.Debug("no enabled policy, retaining indefinitely",
		"app_id", app.ID,
		"tier", tier,
	)
	return nil, nil
}
