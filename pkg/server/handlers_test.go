package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loghaven/loghaven/pkg/config"
	"github.com/loghaven/loghaven/pkg/retention"
	"github.com/loghaven/loghaven/pkg/retention/storage"
)

func daysPtr(n int) *int { return &n }

// newTestServer wires a server over a seeded memory store and returns both.
func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore()
	store.AddApp(&retention.App{ID: "app-1", Name: "web-api", Environment: retention.EnvProduction})
	store.AddPolicy(&retention.Policy{ID: 1, Tier: retention.TierHigh, RetentionDays: daysPtr(30), Enabled: true})
	store.AddLog(&retention.LogRecord{
		AppID:     "app-1",
		Level:     retention.LevelError,
		Timestamp: time.Now().UTC().AddDate(0, 0, -45),
		Message:   "stale record",
	})

	resolver := retention.NewResolver(store, nil)
	executor := retention.NewExecutor(store, nil)
	coordinator := retention.NewCoordinator(store, resolver, executor, nil, nil, nil)
	previewer := retention.NewPreviewer(store, resolver, nil)

	cfg := &config.ServerConfig{ListenAddress: "127.0.0.1:0", ShutdownTimeout: time.Second}
	return NewServer(cfg, coordinator, previewer, nil, nil), store
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response body failed: %v", err)
	}
}

func TestHandleRunCleanup(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cleanup")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body)
	}

	var run retention.CleanupRun
	decodeBody(t, rec, &run)
	if run.Status != retention.StatusCompleted {
		t.Errorf("run status = %s, want %s", run.Status, retention.StatusCompleted)
	}
	if run.LogsDeleted != 1 {
		t.Errorf("logs_deleted = %d, want 1", run.LogsDeleted)
	}
	if run.Trigger != retention.TriggerManual {
		t.Errorf("trigger = %s, want %s", run.Trigger, retention.TriggerManual)
	}
	if got := store.LogCount("app-1"); got != 0 {
		t.Errorf("%d records remain, want 0", got)
	}
}

func TestHandleRunCleanup_Conflict(t *testing.T) {
	srv, store := newTestServer(t)

	active := &retention.CleanupRun{
		ID:        "active-run",
		Trigger:   retention.TriggerAutomatic,
		StartedAt: time.Now().UTC().Add(-time.Minute),
		Status:    retention.StatusRunning,
	}
	staleBefore := time.Now().UTC().Add(-retention.DefaultStaleAfter)
	if err := store.BeginRun(context.Background(), active, staleBefore); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cleanup")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}

	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &body)
	if body.Error == "" {
		t.Error("conflict response has no error message")
	}
	if got := store.LogCount("app-1"); got != 1 {
		t.Errorf("rejected run still deleted records: %d remain, want 1", got)
	}
}

func TestHandleRunCleanup_ScopedToApp(t *testing.T) {
	srv, store := newTestServer(t)
	store.AddApp(&retention.App{ID: "app-2", Name: "worker", Environment: retention.EnvProduction})
	store.AddLog(&retention.LogRecord{
		AppID:     "app-2",
		Level:     retention.LevelError,
		Timestamp: time.Now().UTC().AddDate(0, 0, -45),
	})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cleanup?app_id=app-2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body)
	}
	if got := store.LogCount("app-1"); got != 1 {
		t.Errorf("scoped run touched app-1: %d records remain, want 1", got)
	}
	if got := store.LogCount("app-2"); got != 0 {
		t.Errorf("app-2 has %d records, want 0", got)
	}
}

func TestHandlePreview(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/cleanup/preview")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body)
	}

	var preview retention.PreviewResult
	decodeBody(t, rec, &preview)
	if preview.Total != 1 {
		t.Errorf("preview total = %d, want 1", preview.Total)
	}
	if len(preview.Pairs) != 1 || preview.Pairs[0].Source != retention.SourceGlobal {
		t.Errorf("preview pairs = %+v, want one global-sourced pair", preview.Pairs)
	}
	if got := store.LogCount("app-1"); got != 1 {
		t.Errorf("preview deleted records: %d remain, want 1", got)
	}
}

func TestHandleListRuns(t *testing.T) {
	srv, _ := newTestServer(t)

	// Empty history still returns a JSON array.
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/cleanup/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Runs []*retention.CleanupRun `json:"runs"`
	}
	decodeBody(t, rec, &body)
	if body.Runs == nil || len(body.Runs) != 0 {
		t.Fatalf("runs = %v, want empty array", body.Runs)
	}

	if rec := doRequest(t, srv, http.MethodPost, "/api/v1/cleanup"); rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/cleanup/runs?limit=10")
	decodeBody(t, rec, &body)
	if len(body.Runs) != 1 || body.Runs[0].Status != retention.StatusCompleted {
		t.Fatalf("runs = %+v, want one completed run", body.Runs)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/cleanup")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on trigger endpoint = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
