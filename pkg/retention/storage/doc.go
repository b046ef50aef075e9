// Package storage provides persistence backends for the retention engine.
//
// Two implementations of the retention.Store contract are available:
//
//   - SQLiteStore: the production backend. Supports both the cgo "sqlite3"
//     driver and the pure-Go "sqlite" driver, selected by configuration.
//     Deletions run as one transaction per (app, tier) pair, in bounded
//     chunks; run acquisition is a single conditional insert so the
//     one-active-run invariant holds across processes.
//
//   - MemoryStore: an in-memory implementation for tests, mirroring the
//     SQLite matching arithmetic.
//
// The schema is created at open time and versioned through the
// schema_version table. Policy rows are read here but owned by the CRUD
// API; the cleanup_runs table is owned exclusively by the run coordinator.
package storage
