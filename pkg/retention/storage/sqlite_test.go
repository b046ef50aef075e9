package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/loghaven/loghaven/pkg/retention"
)

// newTestStore opens a store on a throwaway database file using the pure Go
// driver. The tiny batch size forces the chunked delete loop to iterate.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(&SQLiteConfig{
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		WALMode:         false,
		BusyTimeout:     time.Second,
		DeleteBatchSize: 2,
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }
func strPtr(s string) *string { return &s }

func seedApp(t *testing.T, store *SQLiteStore, app *retention.App) {
	t.Helper()
	if err := store.InsertApp(context.Background(), app); err != nil {
		t.Fatalf("InsertApp() failed: %v", err)
	}
}

func seedLog(t *testing.T, store *SQLiteStore, appID string, level retention.Level, ts time.Time) int64 {
	t.Helper()
	id, err := store.InsertLog(context.Background(), &retention.LogRecord{
		AppID:     appID,
		Level:     level,
		Timestamp: ts,
		Message:   "test record",
	})
	if err != nil {
		t.Fatalf("InsertLog() failed: %v", err)
	}
	return id
}

func TestSQLiteStore_Apps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedApp(t, store, &retention.App{ID: "app-2", Name: "worker", Environment: retention.EnvStaging})
	seedApp(t, store, &retention.App{ID: "app-1", Name: "web-api", Environment: retention.EnvProduction})

	app, err := store.App(ctx, "app-1")
	if err != nil {
		t.Fatalf("App() failed: %v", err)
	}
	if app.Name != "web-api" || app.Environment != retention.EnvProduction {
		t.Errorf("App() = %+v, want web-api/production", app)
	}

	apps, err := store.Apps(ctx)
	if err != nil {
		t.Fatalf("Apps() failed: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("Apps() returned %d apps, want 2", len(apps))
	}
	if apps[0].Name != "web-api" || apps[1].Name != "worker" {
		t.Errorf("Apps() order = %s, %s, want name order", apps[0].Name, apps[1].Name)
	}

	if _, err := store.App(ctx, "missing"); err == nil {
		t.Error("App() for a missing id succeeded, want error")
	}
}

func TestSQLiteStore_InsertLogRejectsUnknownLevel(t *testing.T) {
	store := newTestStore(t)
	seedApp(t, store, &retention.App{ID: "app-1", Name: "web-api", Environment: retention.EnvProduction})

	_, err := store.InsertLog(context.Background(), &retention.LogRecord{
		AppID:     "app-1",
		Level:     "VERBOSE",
		Timestamp: time.Now().UTC(),
	})
	if err == nil {
		t.Fatal("InsertLog() accepted an unknown level")
	}
}

func TestSQLiteStore_PolicyAccessors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedApp(t, store, &retention.App{ID: "app-1", Name: "web-api", Environment: retention.EnvProduction})

	if err := store.UpsertAppPolicy(ctx, &retention.Policy{
		AppID: strPtr("app-1"), Tier: retention.TierHigh, RetentionDays: intPtr(7), Enabled: true,
	}); err != nil {
		t.Fatalf("UpsertAppPolicy() failed: %v", err)
	}
	if err := store.UpsertAppPolicy(ctx, &retention.Policy{
		Tier: retention.TierHigh, RetentionDays: intPtr(90), Enabled: true,
	}); err != nil {
		t.Fatalf("UpsertAppPolicy() for global failed: %v", err)
	}
	if err := store.UpsertEnvironmentPolicy(ctx, &retention.Policy{
		Environment: retention.EnvProduction, Tier: retention.TierHigh, RetentionCount: int64Ptr(1000), Enabled: true,
	}); err != nil {
		t.Fatalf("UpsertEnvironmentPolicy() failed: %v", err)
	}

	appPol, err := store.AppPolicy(ctx, "app-1", retention.TierHigh)
	if err != nil {
		t.Fatalf("AppPolicy() failed: %v", err)
	}
	if appPol == nil || appPol.RetentionDays == nil || *appPol.RetentionDays != 7 {
		t.Fatalf("AppPolicy() = %+v, want retention_days 7", appPol)
	}
	if appPol.AppID == nil || *appPol.AppID != "app-1" {
		t.Errorf("AppPolicy() app_id = %v, want app-1", appPol.AppID)
	}

	globalPol, err := store.GlobalPolicy(ctx, retention.TierHigh)
	if err != nil {
		t.Fatalf("GlobalPolicy() failed: %v", err)
	}
	if globalPol == nil || globalPol.AppID != nil || *globalPol.RetentionDays != 90 {
		t.Fatalf("GlobalPolicy() = %+v, want nil app_id and retention_days 90", globalPol)
	}

	envPol, err := store.EnvironmentPolicy(ctx, retention.EnvProduction, retention.TierHigh)
	if err != nil {
		t.Fatalf("EnvironmentPolicy() failed: %v", err)
	}
	if envPol == nil || envPol.RetentionCount == nil || *envPol.RetentionCount != 1000 {
		t.Fatalf("EnvironmentPolicy() = %+v, want retention_count 1000", envPol)
	}
	if envPol.RetentionDays != nil {
		t.Errorf("EnvironmentPolicy() retention_days = %v, want nil", envPol.RetentionDays)
	}

	// Absent scopes return nil without error.
	if pol, err := store.AppPolicy(ctx, "app-1", retention.TierLow); err != nil || pol != nil {
		t.Errorf("AppPolicy() for unset tier = %+v, %v, want nil, nil", pol, err)
	}
}

func TestSQLiteStore_UpsertReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedApp(t, store, &retention.App{ID: "app-1", Name: "web-api", Environment: retention.EnvProduction})

	for _, days := range []int{7, 30} {
		if err := store.UpsertAppPolicy(ctx, &retention.Policy{
			AppID: strPtr("app-1"), Tier: retention.TierMedium, RetentionDays: intPtr(days), Enabled: true,
		}); err != nil {
			t.Fatalf("UpsertAppPolicy() failed: %v", err)
		}
		if err := store.UpsertAppPolicy(ctx, &retention.Policy{
			Tier: retention.TierMedium, RetentionDays: intPtr(days), Enabled: true,
		}); err != nil {
			t.Fatalf("UpsertAppPolicy() for global failed: %v", err)
		}
	}

	pol, err := store.AppPolicy(ctx, "app-1", retention.TierMedium)
	if err != nil {
		t.Fatalf("AppPolicy() failed: %v", err)
	}
	if pol == nil || *pol.RetentionDays != 30 {
		t.Fatalf("AppPolicy() = %+v, want the replaced retention_days 30", pol)
	}

	globalPol, err := store.GlobalPolicy(ctx, retention.TierMedium)
	if err != nil {
		t.Fatalf("GlobalPolicy() failed: %v", err)
	}
	if globalPol == nil || *globalPol.RetentionDays != 30 {
		t.Fatalf("GlobalPolicy() = %+v, want the replaced retention_days 30", globalPol)
	}
}

func TestSQLiteStore_DisabledPolicyNotReturned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedApp(t, store, &retention.App{ID: "app-1", Name: "web-api", Environment: retention.EnvProduction})

	if err := store.UpsertAppPolicy(ctx, &retention.Policy{
		AppID: strPtr("app-1"), Tier: retention.TierHigh, RetentionDays: intPtr(7), Enabled: false,
	}); err != nil {
		t.Fatalf("UpsertAppPolicy() failed: %v", err)
	}

	pol, err := store.AppPolicy(ctx, "app-1", retention.TierHigh)
	if err != nil {
		t.Fatalf("AppPolicy() failed: %v", err)
	}
	if pol != nil {
		t.Fatalf("AppPolicy() returned disabled policy %+v", pol)
	}
}

func TestSQLiteStore_CountAndDeleteMatching(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedApp(t, store, &retention.App{ID: "app-1", Name: "web-api", Environment: retention.EnvProduction})
	seedApp(t, store, &retention.App{ID: "app-2", Name: "worker", Environment: retention.EnvProduction})

	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -30)

	// 3 aged out, 5 fresh with keep 3, so 5 records match in total. The
	// batch size of 2 makes both delete phases loop.
	for i := 1; i <= 3; i++ {
		seedLog(t, store, "app-1", retention.LevelError, now.AddDate(0, 0, -30-i))
	}
	for i := 0; i < 5; i++ {
		seedLog(t, store, "app-1", retention.LevelFatal, now.Add(-time.Duration(i)*time.Hour))
	}
	// Noise outside the pair: other app, other tier.
	seedLog(t, store, "app-2", retention.LevelError, now.AddDate(0, 0, -60))
	seedLog(t, store, "app-1", retention.LevelDebug, now.AddDate(0, 0, -60))

	match := retention.Match{
		AppID:  "app-1",
		Levels: retention.LevelsForTier(retention.TierHigh),
		Cutoff: &cutoff,
		Keep:   int64Ptr(3),
	}

	count, err := store.CountMatching(ctx, match)
	if err != nil {
		t.Fatalf("CountMatching() failed: %v", err)
	}
	if count != 5 {
		t.Fatalf("CountMatching() = %d, want 5", count)
	}

	deleted, err := store.DeleteMatching(ctx, match)
	if err != nil {
		t.Fatalf("DeleteMatching() failed: %v", err)
	}
	if deleted != count {
		t.Fatalf("DeleteMatching() = %d, CountMatching() said %d", deleted, count)
	}

	// The pair keeps exactly its newest 3; everything else is untouched.
	remaining, err := store.CountMatching(ctx, retention.Match{
		AppID:  "app-1",
		Levels: retention.LevelsForTier(retention.TierHigh),
		Keep:   int64Ptr(0),
	})
	if err != nil {
		t.Fatalf("CountMatching() failed: %v", err)
	}
	if remaining != 3 {
		t.Errorf("pair has %d records left, want 3", remaining)
	}

	otherApp, err := store.CountMatching(ctx, retention.Match{
		AppID:  "app-2",
		Levels: retention.LevelsForTier(retention.TierHigh),
		Keep:   int64Ptr(0),
	})
	if err != nil {
		t.Fatalf("CountMatching() failed: %v", err)
	}
	if otherApp != 1 {
		t.Errorf("app-2 has %d records, want 1", otherApp)
	}

	otherTier, err := store.CountMatching(ctx, retention.Match{
		AppID:  "app-1",
		Levels: retention.LevelsForTier(retention.TierLow),
		Keep:   int64Ptr(0),
	})
	if err != nil {
		t.Fatalf("CountMatching() failed: %v", err)
	}
	if otherTier != 1 {
		t.Errorf("low tier has %d records, want 1", otherTier)
	}
}

func TestSQLiteStore_CountRuleTieBreaksOnID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedApp(t, store, &retention.App{ID: "app-1", Name: "web-api", Environment: retention.EnvProduction})

	// Same timestamp: rank falls back to id DESC, so the lowest ids go.
	ts := time.Now().UTC().Truncate(time.Second)
	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, seedLog(t, store, "app-1", retention.LevelWarn, ts))
	}

	deleted, err := store.DeleteMatching(ctx, retention.Match{
		AppID:  "app-1",
		Levels: retention.LevelsForTier(retention.TierMedium),
		Keep:   int64Ptr(2),
	})
	if err != nil {
		t.Fatalf("DeleteMatching() failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("DeleteMatching() = %d, want 2", deleted)
	}

	var survivors int
	rows, err := store.DB().QueryContext(ctx, `SELECT id FROM logs WHERE app_id = 'app-1' ORDER BY id`)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		if id != ids[2] && id != ids[3] {
			t.Errorf("record %d survived, want only the two highest ids", id)
		}
		survivors++
	}
	if survivors != 2 {
		t.Errorf("%d survivors, want 2", survivors)
	}
}

func TestSQLiteStore_BeginRunConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	staleBefore := time.Now().UTC().Add(-2 * time.Hour)

	first := &retention.CleanupRun{
		ID: "run-1", Trigger: retention.TriggerManual,
		StartedAt: time.Now().UTC(), Status: retention.StatusRunning,
	}
	if err := store.BeginRun(ctx, first, staleBefore); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}

	second := &retention.CleanupRun{
		ID: "run-2", Trigger: retention.TriggerAutomatic,
		StartedAt: time.Now().UTC(), Status: retention.StatusRunning,
	}
	err := store.BeginRun(ctx, second, staleBefore)

	var conflict *retention.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("BeginRun() error = %v, want *ConflictError", err)
	}
	if conflict.ActiveRunID != "run-1" {
		t.Errorf("conflict reports run %s, want run-1", conflict.ActiveRunID)
	}

	// After the active run finishes, a new run begins normally.
	if err := store.FinishRun(ctx, "run-1", retention.StatusCompleted, time.Now().UTC(), 0, nil); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}
	if err := store.BeginRun(ctx, second, staleBefore); err != nil {
		t.Fatalf("BeginRun() after finish failed: %v", err)
	}
}

func TestSQLiteStore_BeginRunPreemptsStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := &retention.CleanupRun{
		ID: "stale-run", Trigger: retention.TriggerAutomatic,
		StartedAt: time.Now().UTC().Add(-3 * time.Hour), Status: retention.StatusRunning,
	}
	if err := store.BeginRun(ctx, stale, time.Now().UTC().Add(-24*time.Hour)); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}

	fresh := &retention.CleanupRun{
		ID: "fresh-run", Trigger: retention.TriggerManual,
		StartedAt: time.Now().UTC(), Status: retention.StatusRunning,
	}
	if err := store.BeginRun(ctx, fresh, time.Now().UTC().Add(-2*time.Hour)); err != nil {
		t.Fatalf("BeginRun() did not preempt the stale run: %v", err)
	}

	runs, err := store.Runs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Runs() returned %d rows, want 2", len(runs))
	}
	for _, run := range runs {
		switch run.ID {
		case "stale-run":
			if run.Status != retention.StatusFailed {
				t.Errorf("stale run status = %s, want %s", run.Status, retention.StatusFailed)
			}
			if run.CompletedAt == nil {
				t.Error("stale run has no completed_at after preemption")
			}
			if len(run.Diagnostics) == 0 {
				t.Error("stale run has no preemption diagnostic")
			}
		case "fresh-run":
			if run.Status != retention.StatusRunning {
				t.Errorf("fresh run status = %s, want %s", run.Status, retention.StatusRunning)
			}
		}
	}
}

func TestSQLiteStore_FinishRunGuards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := &retention.CleanupRun{
		ID: "run-1", Trigger: retention.TriggerManual,
		StartedAt: now, Status: retention.StatusRunning,
	}
	if err := store.BeginRun(ctx, run, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}

	if err := store.FinishRun(ctx, "run-1", retention.StatusRunning, now, 0, nil); err == nil {
		t.Error("FinishRun() accepted a non-terminal status")
	}

	diags := []string{"app app-1 tier high: disk I/O error"}
	if err := store.FinishRun(ctx, "run-1", retention.StatusCompleted, now, 42, diags); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	// The transition happens exactly once.
	if err := store.FinishRun(ctx, "run-1", retention.StatusFailed, now, 0, nil); err == nil {
		t.Error("FinishRun() transitioned a finished run a second time")
	}
	if err := store.FinishRun(ctx, "no-such-run", retention.StatusCompleted, now, 0, nil); err == nil {
		t.Error("FinishRun() succeeded for an unknown run id")
	}

	runs, err := store.Runs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Runs() returned %d rows, want 1", len(runs))
	}
	got := runs[0]
	if got.Status != retention.StatusCompleted || got.LogsDeleted != 42 {
		t.Errorf("finished run = %+v, want completed with 42 deletions", got)
	}
	if len(got.Diagnostics) != 1 || got.Diagnostics[0] != diags[0] {
		t.Errorf("diagnostics = %v, want %v", got.Diagnostics, diags)
	}
}

func TestSQLiteStore_RunsPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		run := &retention.CleanupRun{
			ID:        string(rune('a'+i)) + "-run",
			Trigger:   retention.TriggerAutomatic,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    retention.StatusRunning,
		}
		if err := store.BeginRun(ctx, run, base.Add(-24*time.Hour)); err != nil {
			t.Fatalf("BeginRun() failed: %v", err)
		}
		if err := store.FinishRun(ctx, run.ID, retention.StatusCompleted, run.StartedAt.Add(time.Second), 0, nil); err != nil {
			t.Fatalf("FinishRun() failed: %v", err)
		}
	}

	page, err := store.Runs(ctx, 2, 0)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("first page has %d rows, want 2", len(page))
	}
	if page[0].ID != "e-run" || page[1].ID != "d-run" {
		t.Errorf("first page = %s, %s, want most recent first", page[0].ID, page[1].ID)
	}

	page, err = store.Runs(ctx, 2, 4)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != "a-run" {
		t.Errorf("last page = %+v, want the single oldest run", page)
	}
}
