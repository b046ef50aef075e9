package retention

import (
	"fmt"
	"time"
)

// StorageError represents an error from the persistence backend.
type StorageError struct {
	Backend   string // storage backend type ("sqlite", "memory", ...)
	Operation string // operation that failed ("begin_run", "delete_matching", ...)
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// ConflictError is returned when a cleanup run is requested while another
// run is active. The request is rejected, never queued; callers may retry
// once the active run finishes.
type ConflictError struct {
	ActiveRunID string
	StartedAt   time.Time
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("cleanup run %s already active since %s", e.ActiveRunID, e.StartedAt.Format(time.RFC3339))
}

// NewConflictError creates a new ConflictError for the active run.
func NewConflictError(activeRunID string, startedAt time.Time) *ConflictError {
	return &ConflictError{
		ActiveRunID: activeRunID,
		StartedAt:   startedAt,
	}
}

// PairError records the failure of a single (app, tier) pair during a run.
// Pair failures are isolated: they are reported on the run's diagnostics and
// never abort sibling pairs.
type PairError struct {
	AppID string
	Tier  Tier
	Cause error
}

// Error implements the error interface.
func (e *PairError) Error() string {
	return fmt.Sprintf("pair error [app=%s, tier=%s]: %v", e.AppID, e.Tier, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *PairError) Unwrap() error {
	return e.Cause
}

// NewPairError creates a new PairError.
func NewPairError(appID string, tier Tier, cause error) *PairError {
	return &PairError{
		AppID: appID,
		Tier:  tier,
		Cause: cause,
	}
}
