package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the retention database schema.
//
// The per-scope policy uniqueness invariant (at most one policy per
// (scope, tier)) is enforced here: a UNIQUE constraint covers app and
// environment scopes, and a partial unique index covers the global scope,
// where SQLite's NULL semantics would otherwise allow duplicates.
const Schema = `
-- Applications owning log records. Environment is mutable metadata used
-- only for policy cascading.
CREATE TABLE IF NOT EXISTS apps (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    environment TEXT NOT NULL
        CHECK (environment IN ('production', 'staging', 'development'))
);

-- Log records. The priority tier is derived from level and never stored.
CREATE TABLE IF NOT EXISTS logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    app_id TEXT NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
    level TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_logs_app_level_ts
    ON logs(app_id, level, timestamp DESC);

-- App-scoped (app_id set) and global (app_id NULL) retention policies.
CREATE TABLE IF NOT EXISTS retention_policies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    app_id TEXT REFERENCES apps(id) ON DELETE CASCADE,
    priority_tier TEXT NOT NULL
        CHECK (priority_tier IN ('high', 'medium', 'low')),
    retention_days INTEGER,
    retention_count INTEGER,
    enabled INTEGER NOT NULL DEFAULT 1,
    UNIQUE (app_id, priority_tier)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_retention_policies_global
    ON retention_policies(priority_tier) WHERE app_id IS NULL;

-- Environment-scoped retention policies.
CREATE TABLE IF NOT EXISTS environment_retention_policies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    environment TEXT NOT NULL
        CHECK (environment IN ('production', 'staging', 'development')),
    priority_tier TEXT NOT NULL
        CHECK (priority_tier IN ('high', 'medium', 'low')),
    retention_days INTEGER,
    retention_count INTEGER,
    enabled INTEGER NOT NULL DEFAULT 1,
    UNIQUE (environment, priority_tier)
);

-- Cleanup run audit trail, written exclusively by the run coordinator.
CREATE TABLE IF NOT EXISTS cleanup_runs (
    id TEXT PRIMARY KEY,
    trigger_type TEXT NOT NULL CHECK (trigger_type IN ('automatic', 'manual')),
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    status TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
    logs_deleted INTEGER NOT NULL DEFAULT 0,
    diagnostics TEXT
);

CREATE INDEX IF NOT EXISTS idx_cleanup_runs_status ON cleanup_runs(status);
CREATE INDEX IF NOT EXISTS idx_cleanup_runs_started ON cleanup_runs(started_at DESC);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// InsertSchemaVersion records the schema version, ignoring duplicates.
const InsertSchemaVersion = `
INSERT OR IGNORE INTO schema_version (version) VALUES (?)
`

// GetSchemaVersion retrieves the latest applied schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1
`
