// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRunning indicates a sync run is in flight for the instance.
	// Concurrent starts are rejected, never queued.
	ErrAlreadyRunning = errors.New("sync already running")

	// ErrSourceNotDeleted indicates manual reconciliation was requested for
	// an entity that is not soft-deleted.
	ErrSourceNotDeleted = errors.New("source entity not soft-deleted")

	// ErrTargetDeleted indicates the chosen reconciliation target was itself
	// soft-deleted between detection and transfer.
	ErrTargetDeleted = errors.New("target entity soft-deleted")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")
)
