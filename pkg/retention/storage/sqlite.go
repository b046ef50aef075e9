package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver (cgo)
	_ "modernc.org/sqlite"          // "sqlite" driver (pure Go)

	"github.com/loghaven/loghaven/pkg/retention"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Driver selects the database/sql driver: "sqlite3" (cgo) or
	// "sqlite" (pure Go). Default: "sqlite3".
	Driver string

	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables write-ahead logging for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// DeleteBatchSize bounds the size of each delete chunk inside a
	// cleanup transaction, so bulk deletions never hold one long write
	// lock per statement. Default: 500
	DeleteBatchSize int
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Driver:          "sqlite3",
		Path:            "data/loghaven.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		WALMode:         true,
		BusyTimeout:     5 * time.Second,
		DeleteBatchSize: 500,
	}
}

// SQLiteStore implements the retention.Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore opens an SQLite database, initializes the schema, and
// returns the store.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Driver == "" {
		config.Driver = "sqlite3"
	}
	if config.DeleteBatchSize <= 0 {
		config.DeleteBatchSize = 500
	}

	logger := slog.Default().With("component", "retention.storage.sqlite")

	db, err := sql.Open(config.Driver, config.Path)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized",
		"driver", config.Driver,
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

// initialize applies pragmas and creates the schema.
func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return retention.NewStorageError("sqlite", "enable_wal", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return retention.NewStorageError("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return retention.NewStorageError("sqlite", "enable_foreign_keys", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return retention.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return retention.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return retention.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return retention.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// DB exposes the underlying handle for callers outside the engine contract
// (seeding, ad-hoc inspection).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- apps ---

// App returns the application with the given id.
func (s *SQLiteStore) App(ctx context.Context, id string) (*retention.App, error) {
	var app retention.App
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, environment FROM apps WHERE id = ?`, id,
	).Scan(&app.ID, &app.Name, &app.Environment)
	if err == sql.ErrNoRows {
		return nil, retention.NewStorageError("sqlite", "get_app", fmt.Errorf("app %s not found", id))
	}
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "get_app", err)
	}
	return &app, nil
}

// Apps lists all applications ordered by name.
func (s *SQLiteStore) Apps(ctx context.Context) ([]*retention.App, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, environment FROM apps ORDER BY name, id`)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "list_apps", err)
	}
	defer rows.Close()

	var apps []*retention.App
	for rows.Next() {
		var app retention.App
		if err := rows.Scan(&app.ID, &app.Name, &app.Environment); err != nil {
			return nil, retention.NewStorageError("sqlite", "scan_app", err)
		}
		apps = append(apps, &app)
	}
	if err := rows.Err(); err != nil {
		return nil, retention.NewStorageError("sqlite", "list_apps", err)
	}
	return apps, nil
}

// InsertApp inserts an application row. Used by seeding and tests; the
// engine itself treats apps as read-only.
func (s *SQLiteStore) InsertApp(ctx context.Context, app *retention.App) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO apps (id, name, environment) VALUES (?, ?, ?)`,
		app.ID, app.Name, app.Environment)
	if err != nil {
		return retention.NewStorageError("sqlite", "insert_app", err)
	}
	return nil
}

// --- policies ---

const policyColumns = `id, app_id, priority_tier, retention_days, retention_count, enabled`

// AppPolicy returns the enabled app-scoped policy for (appID, tier), or nil.
func (s *SQLiteStore) AppPolicy(ctx context.Context, appID string, tier retention.Tier) (*retention.Policy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM retention_policies
		 WHERE app_id = ? AND priority_tier = ? AND enabled = 1`,
		appID, tier)
	return scanPolicy(row, "get_app_policy")
}

// GlobalPolicy returns the enabled global policy for the tier, or nil.
func (s *SQLiteStore) GlobalPolicy(ctx context.Context, tier retention.Tier) (*retention.Policy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM retention_policies
		 WHERE app_id IS NULL AND priority_tier = ? AND enabled = 1`,
		tier)
	return scanPolicy(row, "get_global_policy")
}

// EnvironmentPolicy returns the enabled environment policy for (env, tier),
// or nil.
func (s *SQLiteStore) EnvironmentPolicy(ctx context.Context, env retention.Environment, tier retention.Tier) (*retention.Policy, error) {
	var p retention.Policy
	var days, count sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, environment, priority_tier, retention_days, retention_count, enabled
		 FROM environment_retention_policies
		 WHERE environment = ? AND priority_tier = ? AND enabled = 1`,
		env, tier,
	).Scan(&p.ID, &p.Environment, &p.Tier, &days, &count, &p.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "get_environment_policy", err)
	}
	applyOptionalRules(&p, days, count)
	return &p, nil
}

// UpsertAppPolicy writes an app-scoped or global policy row, replacing any
// existing row for the same (scope, tier). Update-or-replace keeps the
// per-scope uniqueness invariant: a second policy never silently coexists.
func (s *SQLiteStore) UpsertAppPolicy(ctx context.Context, p *retention.Policy) error {
	days, count := optionalRuleArgs(p)
	var err error
	if p.AppID == nil {
		// The partial unique index on global rows is not addressable by
		// ON CONFLICT, so replace explicitly.
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM retention_policies WHERE app_id IS NULL AND priority_tier = ?`, p.Tier)
		if err == nil {
			_, err = s.db.ExecContext(ctx,
				`INSERT INTO retention_policies (app_id, priority_tier, retention_days, retention_count, enabled)
				 VALUES (NULL, ?, ?, ?, ?)`,
				p.Tier, days, count, p.Enabled)
		}
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO retention_policies (app_id, priority_tier, retention_days, retention_count, enabled)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (app_id, priority_tier) DO UPDATE SET
			     retention_days = excluded.retention_days,
			     retention_count = excluded.retention_count,
			     enabled = excluded.enabled`,
			*p.AppID, p.Tier, days, count, p.Enabled)
	}
	if err != nil {
		return retention.NewStorageError("sqlite", "upsert_policy", err)
	}
	return nil
}

// UpsertEnvironmentPolicy writes an environment policy row, replacing any
// existing row for the same (environment, tier).
func (s *SQLiteStore) UpsertEnvironmentPolicy(ctx context.Context, p *retention.Policy) error {
	days, count := optionalRuleArgs(p)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO environment_retention_policies (environment, priority_tier, retention_days, retention_count, enabled)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (environment, priority_tier) DO UPDATE SET
		     retention_days = excluded.retention_days,
		     retention_count = excluded.retention_count,
		     enabled = excluded.enabled`,
		p.Environment, p.Tier, days, count, p.Enabled)
	if err != nil {
		return retention.NewStorageError("sqlite", "upsert_environment_policy", err)
	}
	return nil
}

func scanPolicy(row *sql.Row, op string) (*retention.Policy, error) {
	var p retention.Policy
	var appID sql.NullString
	var days, count sql.NullInt64
	err := row.Scan(&p.ID, &appID, &p.Tier, &days, &count, &p.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, retention.NewStorageError("sqlite", op, err)
	}
	if appID.Valid {
		p.AppID = &appID.String
	}
	applyOptionalRules(&p, days, count)
	return &p, nil
}

func applyOptionalRules(p *retention.Policy, days, count sql.NullInt64) {
	if days.Valid {
		d := int(days.Int64)
		p.RetentionDays = &d
	}
	if count.Valid {
		c := count.Int64
		p.RetentionCount = &c
	}
}

func optionalRuleArgs(p *retention.Policy) (days, count interface{}) {
	if p.RetentionDays != nil {
		days = *p.RetentionDays
	}
	if p.RetentionCount != nil {
		count = *p.RetentionCount
	}
	return days, count
}

// --- logs ---

// InsertLog stores a log record and returns its id. Ingestion lives outside
// the engine; this exists for seeding and tests.
func (s *SQLiteStore) InsertLog(ctx context.Context, rec *retention.LogRecord) (int64, error) {
	if !retention.ValidLevel(rec.Level) {
		return 0, retention.NewStorageError("sqlite", "insert_log",
			fmt.Errorf("unknown log level %q", rec.Level))
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (app_id, level, timestamp, message) VALUES (?, ?, ?, ?)`,
		rec.AppID, rec.Level, rec.Timestamp.UTC(), rec.Message)
	if err != nil {
		return 0, retention.NewStorageError("sqlite", "insert_log", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, retention.NewStorageError("sqlite", "insert_log", err)
	}
	return id, nil
}

// CountMatching counts the log records a cleanup with this match would
// delete. Both counts run inside one transaction so the arithmetic is
// consistent.
//
// A record survives the match when it is within the newest Keep of its pair
// and not older than Cutoff, so:
//
//	matched = total - min(Keep, fresh)
//
// where fresh is the count of records at or after the cutoff (all records
// when no cutoff is set).
func (s *SQLiteStore) CountMatching(ctx context.Context, m retention.Match) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, retention.NewStorageError("sqlite", "count_matching", err)
	}
	defer tx.Rollback()

	levelSet, levelArgs := levelPlaceholders(m.Levels)

	var total int64
	args := append([]interface{}{m.AppID}, levelArgs...)
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM logs WHERE app_id = ? AND level IN `+levelSet, args...,
	).Scan(&total)
	if err != nil {
		return 0, retention.NewStorageError("sqlite", "count_matching", err)
	}

	fresh := total
	if m.Cutoff != nil {
		args = append([]interface{}{m.AppID}, levelArgs...)
		args = append(args, m.Cutoff.UTC())
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM logs WHERE app_id = ? AND level IN `+levelSet+` AND timestamp >= ?`, args...,
		).Scan(&fresh)
		if err != nil {
			return 0, retention.NewStorageError("sqlite", "count_matching", err)
		}
	}

	surviving := fresh
	if m.Keep != nil && surviving > *m.Keep {
		surviving = *m.Keep
	}

	if err := tx.Commit(); err != nil {
		return 0, retention.NewStorageError("sqlite", "count_matching", err)
	}
	return total - surviving, nil
}

// DeleteMatching deletes the log records matching m and returns the number
// of rows removed. Selection and deletion happen in one transaction per
// call, in bounded chunks, so the rows counted for deletion are exactly the
// rows deleted and no single statement holds a long write lock.
func (s *SQLiteStore) DeleteMatching(ctx context.Context, m retention.Match) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, retention.NewStorageError("sqlite", "delete_matching", err)
	}
	defer tx.Rollback()

	levelSet, levelArgs := levelPlaceholders(m.Levels)
	batch := s.config.DeleteBatchSize
	var deleted int64

	// Age rule: everything strictly older than the cutoff.
	if m.Cutoff != nil {
		query := `DELETE FROM logs WHERE id IN (
			SELECT id FROM logs
			WHERE app_id = ? AND level IN ` + levelSet + ` AND timestamp < ?
			LIMIT ?)`
		for {
			args := append([]interface{}{m.AppID}, levelArgs...)
			args = append(args, m.Cutoff.UTC(), batch)
			n, err := execDelete(ctx, tx, query, args...)
			if err != nil {
				return 0, err
			}
			deleted += n
			if n < int64(batch) {
				break
			}
		}
	}

	// Count rule: everything ranked beyond the newest Keep among the
	// records that survived the age rule.
	if m.Keep != nil {
		query := `DELETE FROM logs WHERE id IN (
			SELECT id FROM (
				SELECT id FROM logs
				WHERE app_id = ? AND level IN ` + levelSet + `
				ORDER BY timestamp DESC, id DESC
				LIMIT -1 OFFSET ?
			) LIMIT ?)`
		for {
			args := append([]interface{}{m.AppID}, levelArgs...)
			args = append(args, *m.Keep, batch)
			n, err := execDelete(ctx, tx, query, args...)
			if err != nil {
				return 0, err
			}
			deleted += n
			if n < int64(batch) {
				break
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, retention.NewStorageError("sqlite", "delete_matching", err)
	}
	return deleted, nil
}

func execDelete(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, retention.NewStorageError("sqlite", "delete_matching", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, retention.NewStorageError("sqlite", "delete_matching", err)
	}
	return n, nil
}

// levelPlaceholders renders an IN clause for a level set.
func levelPlaceholders(levels []retention.Level) (string, []interface{}) {
	placeholders := make([]string, len(levels))
	args := make([]interface{}, len(levels))
	for i, level := range levels {
		placeholders[i] = "?"
		args[i] = string(level)
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}

// --- cleanup runs ---

// BeginRun inserts run in the running state if and only if no other running
// run exists. The check and the insert are a single conditional INSERT, so
// two concurrent requests cannot both proceed. Running rows started before
// staleBefore are marked failed first; they belong to a crashed process.
func (s *SQLiteStore) BeginRun(ctx context.Context, run *retention.CleanupRun, staleBefore time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return retention.NewStorageError("sqlite", "begin_run", err)
	}
	defer tx.Rollback()

	// Preempt stale runs left behind by a crash.
	res, err := tx.ExecContext(ctx,
		`UPDATE cleanup_runs
		 SET status = 'failed', completed_at = ?, diagnostics = ?
		 WHERE status = 'running' AND started_at < ?`,
		run.StartedAt.UTC(), `["preempted: exceeded staleness timeout"]`, staleBefore.UTC())
	if err != nil {
		return retention.NewStorageError("sqlite", "preempt_stale_runs", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Warn("preempted stale cleanup runs", "count", n)
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO cleanup_runs (id, trigger_type, started_at, status, logs_deleted)
		 SELECT ?, ?, ?, 'running', 0
		 WHERE NOT EXISTS (SELECT 1 FROM cleanup_runs WHERE status = 'running')`,
		run.ID, run.Trigger, run.StartedAt.UTC())
	if err != nil {
		return retention.NewStorageError("sqlite", "begin_run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return retention.NewStorageError("sqlite", "begin_run", err)
	}
	if n == 0 {
		var activeID string
		var startedAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT id, started_at FROM cleanup_runs WHERE status = 'running' LIMIT 1`,
		).Scan(&activeID, &startedAt)
		if err != nil {
			return retention.NewStorageError("sqlite", "begin_run", err)
		}
		return retention.NewConflictError(activeID, startedAt)
	}

	if err := tx.Commit(); err != nil {
		return retention.NewStorageError("sqlite", "begin_run", err)
	}
	return nil
}

// FinishRun applies the run's single terminal transition. The status guard
// in the WHERE clause is the optimistic check: a row that already left the
// running state is never transitioned again.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status retention.RunStatus, completedAt time.Time, logsDeleted int64, diagnostics []string) error {
	if status != retention.StatusCompleted && status != retention.StatusFailed {
		return retention.NewStorageError("sqlite", "finish_run",
			fmt.Errorf("status %q is not terminal", status))
	}

	var diagJSON interface{}
	if len(diagnostics) > 0 {
		data, err := json.Marshal(diagnostics)
		if err != nil {
			return retention.NewStorageError("sqlite", "finish_run", err)
		}
		diagJSON = string(data)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE cleanup_runs
		 SET status = ?, completed_at = ?, logs_deleted = ?, diagnostics = ?
		 WHERE id = ? AND status = 'running'`,
		status, completedAt.UTC(), logsDeleted, diagJSON, id)
	if err != nil {
		return retention.NewStorageError("sqlite", "finish_run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return retention.NewStorageError("sqlite", "finish_run", err)
	}
	if n == 0 {
		return retention.NewStorageError("sqlite", "finish_run",
			fmt.Errorf("run %s is not in running state", id))
	}
	return nil
}

// Runs lists cleanup runs, most recent first.
func (s *SQLiteStore) Runs(ctx context.Context, limit, offset int) ([]*retention.CleanupRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger_type, started_at, completed_at, status, logs_deleted, diagnostics
		 FROM cleanup_runs
		 ORDER BY started_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "list_runs", err)
	}
	defer rows.Close()

	var runs []*retention.CleanupRun
	for rows.Next() {
		var run retention.CleanupRun
		var completedAt sql.NullTime
		var diagnostics sql.NullString
		if err := rows.Scan(&run.ID, &run.Trigger, &run.StartedAt, &completedAt, &run.Status, &run.LogsDeleted, &diagnostics); err != nil {
			return nil, retention.NewStorageError("sqlite", "scan_run", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			run.CompletedAt = &t
		}
		if diagnostics.Valid && diagnostics.String != "" {
			if err := json.Unmarshal([]byte(diagnostics.String), &run.Diagnostics); err != nil {
				return nil, retention.NewStorageError("sqlite", "scan_run", err)
			}
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, retention.NewStorageError("sqlite", "list_runs", err)
	}
	return runs, nil
}
