// Package repository declares storage interfaces implemented by the postgres
// subpackage and by test fakes.
package repository

import (
	"context"
	"time"

	"github.com/akarpov87/catsync/internal/model"
)

// UpsertStats reports how an upsert batch split between inserts and updates.
type UpsertStats struct {
	Created int
	Updated int
}

// EntityRepository provides access to mirrored catalog records.
type EntityRepository interface {
	// UpsertBatch inserts or overwrites records by (type, remote id). A
	// record present in the batch is explicitly undeleted: its appearance in
	// a successful fetch proves it is not deleted upstream.
	UpsertBatch(ctx context.Context, items []model.Entity) (UpsertStats, error)

	// Get returns one record including its soft-delete marker.
	Get(ctx context.Context, t model.EntityType, remoteID string) (*model.Entity, error)

	// ListActiveIDs returns the remote IDs of all non-deleted records of t.
	ListActiveIDs(ctx context.Context, t model.EntityType) ([]string, error)

	// ListSoftDeletedIDs returns the remote IDs of all soft-deleted records of t.
	ListSoftDeletedIDs(ctx context.Context, t model.EntityType) ([]string, error)

	// SoftDelete sets the deletion marker on one record. Already-deleted
	// records keep their original deletion timestamp.
	SoftDelete(ctx context.Context, t model.EntityType, remoteID string, at time.Time) error

	// FindByFingerprints returns surviving (non-deleted) records of t whose
	// fingerprint sets intersect the given values.
	FindByFingerprints(ctx context.Context, t model.EntityType, fingerprints []string) ([]model.Entity, error)

	// ChildEdges returns the parent -> children adjacency for t's hierarchy.
	ChildEdges(ctx context.Context, t model.EntityType) (map[string][]string, error)

	// Search executes a query produced by the query builder and returns the
	// matching records.
	Search(ctx context.Context, sql string, args []any) ([]model.Entity, error)
}
