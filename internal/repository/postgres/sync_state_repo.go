package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
)

// SyncStateRepo implements SyncStateRepository using PostgreSQL.
type SyncStateRepo struct{ db *DB }

// NewSyncStateRepo constructs a sync state repository.
func NewSyncStateRepo(db *DB) *SyncStateRepo { return &SyncStateRepo{db: db} }

// Get returns the stored timestamps for one (instance, type) pair.
func (r *SyncStateRepo) Get(ctx context.Context, instanceID string, t model.EntityType) (model.SyncState, error) {
	const q = `
SELECT last_full_sync, last_incremental_sync
FROM sync_state WHERE instance_id=$1 AND entity_type=$2`
	st := model.SyncState{InstanceID: instanceID, EntityType: t}
	err := r.db.Pool.QueryRow(ctx, q, instanceID, t.String()).
		Scan(&st.LastFullSync, &st.LastIncrementalSync)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SyncState{}, errs.ErrNotFound
		}
		return model.SyncState{}, err
	}
	return st, nil
}

// Record upserts the timestamp column matching the completed mode. Only
// called after a fully successful pass for t.
func (r *SyncStateRepo) Record(ctx context.Context, instanceID string, t model.EntityType, mode model.SyncMode, at time.Time) error {
	const full = `
INSERT INTO sync_state (instance_id, entity_type, last_full_sync)
VALUES ($1,$2,$3)
ON CONFLICT (instance_id, entity_type) DO UPDATE SET last_full_sync=EXCLUDED.last_full_sync`
	const incr = `
INSERT INTO sync_state (instance_id, entity_type, last_incremental_sync)
VALUES ($1,$2,$3)
ON CONFLICT (instance_id, entity_type) DO UPDATE SET last_incremental_sync=EXCLUDED.last_incremental_sync`

	q := incr
	if mode == model.SyncFull {
		q = full
	}
	if _, err := r.db.Pool.Exec(ctx, q, instanceID, t.String(), at); err != nil {
		return fmt.Errorf("record sync state %s/%s: %w", instanceID, t, err)
	}
	return nil
}

// Reset removes the row for one (instance, type) pair.
func (r *SyncStateRepo) Reset(ctx context.Context, instanceID string, t model.EntityType) error {
	const q = `DELETE FROM sync_state WHERE instance_id=$1 AND entity_type=$2`
	_, err := r.db.Pool.Exec(ctx, q, instanceID, t.String())
	return err
}
