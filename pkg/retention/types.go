package retention

import (
	"context"
	"time"
)

// Environment is the deployment environment of an application. It is mutable
// metadata on the app and is consulted only during policy cascading.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
)

// Environments lists all known environments.
var Environments = []Environment{EnvProduction, EnvStaging, EnvDevelopment}

// App is an application that owns log records.
type App struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Environment Environment `json:"environment"`
}

// LogRecord is a single stored log line. PriorityTier is never persisted;
// it is recomputed from Level whenever needed.
type LogRecord struct {
	ID        int64     `json:"id"`
	AppID     string    `json:"app_id"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Policy is a retention policy row. A nil AppID with an empty Environment
// means the policy is global. Environment-scoped policies come from a
// separate table but share the same shape.
//
// RetentionDays and RetentionCount are independently optional. When both are
// set the engine deletes the union: a log is removed if it violates either
// rule.
type Policy struct {
	ID             int64       `json:"id"`
	AppID          *string     `json:"app_id,omitempty"`
	Environment    Environment `json:"environment,omitempty"`
	Tier           Tier        `json:"priority_tier"`
	RetentionDays  *int        `json:"retention_days,omitempty"`
	RetentionCount *int64      `json:"retention_count,omitempty"`
	Enabled        bool        `json:"enabled"`
}

// HasRules reports whether the policy carries at least one retention rule.
// An enabled policy with no rules is a configuration warning, not an error;
// cleanup is a no-op for it.
func (p *Policy) HasRules() bool {
	return p.RetentionDays != nil || p.RetentionCount != nil
}

// Source identifies which level of the cascade produced a resolved policy.
// It is carried for observability and audit only; deletion logic never
// branches on it.
type Source string

const (
	SourceApp         Source = "app"
	SourceEnvironment Source = "environment"
	SourceGlobal      Source = "global"
)

// ResolvedPolicy is the single effective policy governing one (app, tier)
// pair, as selected by the cascade.
type ResolvedPolicy struct {
	Policy Policy `json:"policy"`
	Source Source `json:"source"`
	Tier   Tier   `json:"priority_tier"`
}

// TriggerType records how a cleanup run was started.
type TriggerType string

const (
	TriggerAutomatic TriggerType = "automatic"
	TriggerManual    TriggerType = "manual"
)

// RunStatus is the lifecycle state of a cleanup run. A run is created in
// StatusRunning and transitions exactly once to StatusCompleted or
// StatusFailed; there are no other transitions.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// CleanupRun is the audit record for one cleanup pass.
type CleanupRun struct {
	ID          string      `json:"id"`
	Trigger     TriggerType `json:"trigger_type"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Status      RunStatus   `json:"status"`
	LogsDeleted int64       `json:"logs_deleted"`
	// Diagnostics records per-pair failures and other non-fatal findings.
	// Pairs that failed contribute zero to LogsDeleted but are never
	// silently dropped.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Match selects the log records of one (app, tier) pair that violate a
// retention policy. Levels carries the tier's level set; Cutoff and Keep are
// the optional age and count rules.
type Match struct {
	// AppID scopes the match to a single application.
	AppID string

	// Levels is the severity level set of the priority tier.
	Levels []Level

	// Cutoff, when non-nil, matches records with timestamp strictly before
	// it.
	Cutoff *time.Time

	// Keep, when non-nil, matches records ranked beyond the newest Keep by
	// (timestamp DESC, id DESC).
	Keep *int64
}

// PairResult is the outcome of applying or previewing one (app, tier) pair.
type PairResult struct {
	AppID   string `json:"app_id"`
	AppName string `json:"app_name"`
	Tier    Tier   `json:"priority_tier"`
	Source  Source `json:"source"`
	Count   int64  `json:"count"`
}

// PreviewResult is the read-only counterpart of a run: the total number of
// records a cleanup would delete right now, with a per-policy breakdown.
type PreviewResult struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Total       int64        `json:"total"`
	Pairs       []PairResult `json:"pairs"`
}

// AppStore provides read access to applications.
type AppStore interface {
	App(ctx context.Context, id string) (*App, error)
	Apps(ctx context.Context) ([]*App, error)
}

// PolicyStore provides read access to retention policy rows. Each lookup
// returns the single enabled policy for its scope, or nil when no enabled
// policy exists. Policies are owned and mutated by the CRUD API; this engine
// only reads them.
type PolicyStore interface {
	AppPolicy(ctx context.Context, appID string, tier Tier) (*Policy, error)
	EnvironmentPolicy(ctx context.Context, env Environment, tier Tier) (*Policy, error)
	GlobalPolicy(ctx context.Context, tier Tier) (*Policy, error)
}

// LogStore provides the counting and deleting primitives over log records.
// DeleteMatching must select and delete within a single transaction so the
// set of rows counted is the set actually removed.
type LogStore interface {
	CountMatching(ctx context.Context, m Match) (int64, error)
	DeleteMatching(ctx context.Context, m Match) (int64, error)
}

// RunStore persists cleanup run audit rows. The coordinator is the sole
// writer.
//
// BeginRun inserts the run in StatusRunning if and only if no other running
// run exists; a running run whose started_at predates staleBefore is marked
// failed first (crash recovery). A rejected insert returns *ConflictError.
//
// FinishRun applies the single terminal transition and fails if the run is
// no longer in StatusRunning.
type RunStore interface {
	BeginRun(ctx context.Context, run *CleanupRun, staleBefore time.Time) error
	FinishRun(ctx context.Context, id string, status RunStatus, completedAt time.Time, logsDeleted int64, diagnostics []string) error
	Runs(ctx context.Context, limit, offset int) ([]*CleanupRun, error)
}

// Store is the full persistence contract the engine depends on.
type Store interface {
	AppStore
	PolicyStore
	LogStore
	RunStore
	Close() error
}
