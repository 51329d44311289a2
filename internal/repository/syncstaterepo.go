package repository

import (
	"context"
	"time"

	"github.com/akarpov87/catsync/internal/model"
)

// SyncStateRepository persists per-(instance, entity type) sync timestamps.
// Each type's row is independent; callers must only ever pass the type they
// are syncing.
type SyncStateRepository interface {
	// Get returns the state for one (instance, type) pair, or errs.ErrNotFound
	// when the type has never been synced.
	Get(ctx context.Context, instanceID string, t model.EntityType) (model.SyncState, error)

	// Record stores a successful sync completion. Mode full sets the full
	// timestamp, incremental the incremental one. Never called on failure: a
	// failed pass keeps the prior timestamp so the next attempt retries the
	// same window.
	Record(ctx context.Context, instanceID string, t model.EntityType, mode model.SyncMode, at time.Time) error

	// Reset clears the state for one (instance, type) pair.
	Reset(ctx context.Context, instanceID string, t model.EntityType) error
}
