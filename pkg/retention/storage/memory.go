package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loghaven/loghaven/pkg/retention"
)

// MemoryStore implements the retention.Store interface in memory. It is
// intended for testing only; its matching arithmetic mirrors the SQLite
// store exactly so engine tests exercise the same semantics.
type MemoryStore struct {
	mu       sync.RWMutex
	apps     map[string]*retention.App
	logs     []*retention.LogRecord
	nextID   int64
	policies []*retention.Policy // app-scoped and global
	envPols  []*retention.Policy // environment-scoped
	runs     map[string]*retention.CleanupRun
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:   make(map[string]*retention.App),
		nextID: 1,
		runs:   make(map[string]*retention.CleanupRun),
	}
}

// --- apps ---

// App returns the application with the given id.
func (s *MemoryStore) App(ctx context.Context, id string) (*retention.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, retention.NewStorageError("memory", "get_app", fmt.Errorf("app %s not found", id))
	}
	clone := *app
	return &clone, nil
}

// Apps lists all applications ordered by name.
func (s *MemoryStore) Apps(ctx context.Context) ([]*retention.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apps := make([]*retention.App, 0, len(s.apps))
	for _, app := range s.apps {
		clone := *app
		apps = append(apps, &clone)
	}
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].Name != apps[j].Name {
			return apps[i].Name < apps[j].Name
		}
		return apps[i].ID < apps[j].ID
	})
	return apps, nil
}

// AddApp registers an application.
func (s *MemoryStore) AddApp(app *retention.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *app
	s.apps[app.ID] = &clone
}

// --- policies ---

// AddPolicy registers an app-scoped or global policy, replacing any
// existing policy for the same (scope, tier).
func (s *MemoryStore) AddPolicy(p *retention.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.policies[:0]
	for _, existing := range s.policies {
		if existing.Tier == p.Tier && sameScope(existing.AppID, p.AppID) {
			continue
		}
		kept = append(kept, existing)
	}
	clone := *p
	s.policies = append(kept, &clone)
}

// AddEnvironmentPolicy registers an environment policy, replacing any
// existing policy for the same (environment, tier).
func (s *MemoryStore) AddEnvironmentPolicy(p *retention.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.envPols[:0]
	for _, existing := range s.envPols {
		if existing.Tier == p.Tier && existing.Environment == p.Environment {
			continue
		}
		kept = append(kept, existing)
	}
	clone := *p
	s.envPols = append(kept, &clone)
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// AppPolicy returns the enabled app-scoped policy for (appID, tier), or nil.
func (s *MemoryStore) AppPolicy(ctx context.Context, appID string, tier retention.Tier) (*retention.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.policies {
		if p.Enabled && p.Tier == tier && p.AppID != nil && *p.AppID == appID {
			clone := *p
			return &clone, nil
		}
	}
	return nil, nil
}

// EnvironmentPolicy returns the enabled environment policy, or nil.
func (s *MemoryStore) EnvironmentPolicy(ctx context.Context, env retention.Environment, tier retention.Tier) (*retention.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.envPols {
		if p.Enabled && p.Tier == tier && p.Environment == env {
			clone := *p
			return &clone, nil
		}
	}
	return nil, nil
}

// GlobalPolicy returns the enabled global policy for the tier, or nil.
func (s *MemoryStore) GlobalPolicy(ctx context.Context, tier retention.Tier) (*retention.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.policies {
		if p.Enabled && p.Tier == tier && p.AppID == nil {
			clone := *p
			return &clone, nil
		}
	}
	return nil, nil
}

// --- logs ---

// AddLog stores a log record and returns its id.
func (s *MemoryStore) AddLog(rec *retention.LogRecord) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	clone.ID = s.nextID
	s.nextID++
	s.logs = append(s.logs, &clone)
	return clone.ID
}

// LogCount returns the number of stored records for an app across all
// levels.
func (s *MemoryStore) LogCount(appID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.logs {
		if rec.AppID == appID {
			n++
		}
	}
	return n
}

// CountMatching counts the records the match would delete.
func (s *MemoryStore) CountMatching(ctx context.Context, m retention.Match) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matching(m))), nil
}

// DeleteMatching removes the matching records.
func (s *MemoryStore) DeleteMatching(ctx context.Context, m retention.Match) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := make(map[int64]bool)
	for _, rec := range s.matching(m) {
		doomed[rec.ID] = true
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	kept := s.logs[:0]
	for _, rec := range s.logs {
		if doomed[rec.ID] {
			continue
		}
		kept = append(kept, rec)
	}
	s.logs = kept
	return int64(len(doomed)), nil
}

// matching returns the pair's records violating the match: the age rule
// first, then the count rule ranked (timestamp DESC, id DESC) over the
// records that survived the age rule. Callers hold the lock.
func (s *MemoryStore) matching(m retention.Match) []*retention.LogRecord {
	levels := make(map[retention.Level]bool, len(m.Levels))
	for _, level := range m.Levels {
		levels[level] = true
	}

	var matched []*retention.LogRecord
	var fresh []*retention.LogRecord
	for _, rec := range s.logs {
		if rec.AppID != m.AppID || !levels[rec.Level] {
			continue
		}
		if m.Cutoff != nil && rec.Timestamp.Before(*m.Cutoff) {
			matched = append(matched, rec)
			continue
		}
		fresh = append(fresh, rec)
	}

	if m.Keep != nil && int64(len(fresh)) > *m.Keep {
		sort.Slice(fresh, func(i, j int) bool {
			if !fresh[i].Timestamp.Equal(fresh[j].Timestamp) {
				return fresh[i].Timestamp.After(fresh[j].Timestamp)
			}
			return fresh[i].ID > fresh[j].ID
		})
		matched = append(matched, fresh[*m.Keep:]...)
	}
	return matched
}

// --- cleanup runs ---

// BeginRun inserts run in the running state unless another running run
// exists; stale running runs are marked failed first.
func (s *MemoryStore) BeginRun(ctx context.Context, run *retention.CleanupRun, staleBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.runs {
		if existing.Status != retention.StatusRunning {
			continue
		}
		if existing.StartedAt.Before(staleBefore) {
			now := run.StartedAt
			existing.Status = retention.StatusFailed
			existing.CompletedAt = &now
			existing.Diagnostics = append(existing.Diagnostics, "preempted: exceeded staleness timeout")
			continue
		}
		return retention.NewConflictError(existing.ID, existing.StartedAt)
	}

	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

// FinishRun applies the run's single terminal transition.
func (s *MemoryStore) FinishRun(ctx context.Context, id string, status retention.RunStatus, completedAt time.Time, logsDeleted int64, diagnostics []string) error {
	if status != retention.StatusCompleted && status != retention.StatusFailed {
		return retention.NewStorageError("memory", "finish_run",
			fmt.Errorf("status %q is not terminal", status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok || run.Status != retention.StatusRunning {
		return retention.NewStorageError("memory", "finish_run",
			fmt.Errorf("run %s is not in running state", id))
	}

	// Round-trip through JSON like the SQLite store would.
	if len(diagnostics) > 0 {
		data, err := json.Marshal(diagnostics)
		if err != nil {
			return retention.NewStorageError("memory", "finish_run", err)
		}
		var decoded []string
		if err := json.Unmarshal(data, &decoded); err != nil {
			return retention.NewStorageError("memory", "finish_run", err)
		}
		run.Diagnostics = decoded
	}

	run.Status = status
	run.CompletedAt = &completedAt
	run.LogsDeleted = logsDeleted
	return nil
}

// Runs lists cleanup runs, most recent first.
func (s *MemoryStore) Runs(ctx context.Context, limit, offset int) ([]*retention.CleanupRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	runs := make([]*retention.CleanupRun, 0, len(s.runs))
	for _, run := range s.runs {
		clone := *run
		runs = append(runs, &clone)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})

	if offset >= len(runs) {
		return []*retention.CleanupRun{}, nil
	}
	end := offset + limit
	if end > len(runs) {
		end = len(runs)
	}
	return runs[offset:end], nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var (
	_ retention.Store = (*MemoryStore)(nil)
	_ retention.Store = (*SQLiteStore)(nil)
)
