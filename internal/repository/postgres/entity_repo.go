package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
	"github.com/akarpov87/catsync/internal/repository"
)

// EntityRepo implements EntityRepository using PostgreSQL.
type EntityRepo struct{ db *DB }

// NewEntityRepo constructs an entity repository.
func NewEntityRepo(db *DB) *EntityRepo { return &EntityRepo{db: db} }

// entityColumns is the canonical select list; Search-built queries must emit
// the same order.
const entityColumns = `entity_type, remote_id, attributes, stash_updated_at, deleted_at, fingerprints`

// UpsertBatch inserts or overwrites records by (type, remote id) inside one
// transaction. The deletion marker is explicitly cleared: a fetched record is
// by definition alive upstream. Hierarchy edges are replaced per record.
func (r *EntityRepo) UpsertBatch(ctx context.Context, items []model.Entity) (stats repository.UpsertStats, err error) {
	if len(items) == 0 {
		return repository.UpsertStats{}, nil
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return repository.UpsertStats{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const ups = `
INSERT INTO entities (entity_type, remote_id, attributes, stash_updated_at, deleted_at, fingerprints)
VALUES ($1,$2,$3,$4,NULL,$5)
ON CONFLICT (entity_type, remote_id) DO UPDATE
SET attributes=EXCLUDED.attributes,
    stash_updated_at=EXCLUDED.stash_updated_at,
    fingerprints=EXCLUDED.fingerprints,
    deleted_at=NULL
RETURNING (xmax = 0) AS inserted`
	const delLinks = `DELETE FROM entity_links WHERE entity_type=$1 AND child_id=$2`
	const insLink = `INSERT INTO entity_links (entity_type, parent_id, child_id) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`

	for i, it := range items {
		fps := it.Fingerprints
		if fps == nil {
			fps = []string{}
		}
		var inserted bool
		if err = tx.QueryRow(ctx, ups, it.Type.String(), it.RemoteID, it.Attributes, it.UpdatedAt, fps).
			Scan(&inserted); err != nil {
			return repository.UpsertStats{}, fmt.Errorf("upsert %s[%d]: %w", it.Type, i, err)
		}
		if inserted {
			stats.Created++
		} else {
			stats.Updated++
		}

		if it.Type.Hierarchical() {
			if _, err = tx.Exec(ctx, delLinks, it.Type.String(), it.RemoteID); err != nil {
				return repository.UpsertStats{}, err
			}
			for _, parent := range it.ParentIDs {
				if _, err = tx.Exec(ctx, insLink, it.Type.String(), parent, it.RemoteID); err != nil {
					return repository.UpsertStats{}, err
				}
			}
		}
	}
	return stats, nil
}

// Get returns a single record by (type, remote id).
func (r *EntityRepo) Get(ctx context.Context, t model.EntityType, remoteID string) (*model.Entity, error) {
	q := `SELECT ` + entityColumns + ` FROM entities WHERE entity_type=$1 AND remote_id=$2`
	row := r.db.Pool.QueryRow(ctx, q, t.String(), remoteID)
	ent, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return ent, nil
}

// ListActiveIDs returns remote IDs of all non-deleted records of t.
func (r *EntityRepo) ListActiveIDs(ctx context.Context, t model.EntityType) ([]string, error) {
	const q = `SELECT remote_id FROM entities WHERE entity_type=$1 AND deleted_at IS NULL`
	return r.listIDs(ctx, q, t)
}

// ListSoftDeletedIDs returns remote IDs of all soft-deleted records of t.
func (r *EntityRepo) ListSoftDeletedIDs(ctx context.Context, t model.EntityType) ([]string, error) {
	const q = `SELECT remote_id FROM entities WHERE entity_type=$1 AND deleted_at IS NOT NULL`
	return r.listIDs(ctx, q, t)
}

func (r *EntityRepo) listIDs(ctx context.Context, q string, t model.EntityType) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, q, t.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SoftDelete marks one record deleted, keeping an earlier marker intact.
func (r *EntityRepo) SoftDelete(ctx context.Context, t model.EntityType, remoteID string, at time.Time) error {
	const q = `
UPDATE entities SET deleted_at=COALESCE(deleted_at, $3)
WHERE entity_type=$1 AND remote_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, t.String(), remoteID, at)
	if err != nil {
		return fmt.Errorf("soft delete %s/%s: %w", t, remoteID, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// FindByFingerprints returns surviving records of t sharing any of the given
// fingerprints, most recently mutated first.
func (r *EntityRepo) FindByFingerprints(ctx context.Context, t model.EntityType, fingerprints []string) ([]model.Entity, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	q := `SELECT ` + entityColumns + `
FROM entities
WHERE entity_type=$1 AND deleted_at IS NULL AND fingerprints && $2
ORDER BY stash_updated_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, t.String(), fingerprints)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

// ChildEdges returns parent -> children adjacency for t.
func (r *EntityRepo) ChildEdges(ctx context.Context, t model.EntityType) (map[string][]string, error) {
	const q = `SELECT parent_id, child_id FROM entity_links WHERE entity_type=$1`
	rows, err := r.db.Pool.Query(ctx, q, t.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := make(map[string][]string)
	for rows.Next() {
		var parent, child string
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, err
		}
		edges[parent] = append(edges[parent], child)
	}
	return edges, rows.Err()
}

// Search executes a builder-produced query. The builder emits the canonical
// entity column list so scanning is uniform.
func (r *EntityRepo) Search(ctx context.Context, sql string, args []any) ([]model.Entity, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

func scanEntity(row pgx.Row) (*model.Entity, error) {
	var (
		ent      model.Entity
		typeName string
		attrs    []byte
	)
	if err := row.Scan(&typeName, &ent.RemoteID, &attrs, &ent.UpdatedAt, &ent.DeletedAt, &ent.Fingerprints); err != nil {
		return nil, err
	}
	t, ok := model.ParseEntityType(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", typeName)
	}
	ent.Type = t
	ent.Attributes = attrs
	return &ent, nil
}

func scanEntities(rows pgx.Rows) ([]model.Entity, error) {
	var out []model.Entity
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ent)
	}
	return out, rows.Err()
}
