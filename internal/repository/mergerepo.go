package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/akarpov87/catsync/internal/model"
)

// MergeRepository records reconciliations and performs the per-user data
// transfer transaction.
type MergeRepository interface {
	// UsersWithData returns users holding any watch, rating or playlist data
	// on one entity.
	UsersWithData(ctx context.Context, t model.EntityType, remoteID string) ([]uuid.UUID, error)

	// TransferUserData moves one user's data from source to target in a
	// single transaction, applying the merge laws, and writes the immutable
	// MergeRecord. Returns errs.ErrAlreadyExists when a record for the same
	// (type, source, target, user) triple is already present, in which case
	// nothing is transferred.
	TransferUserData(ctx context.Context, t model.EntityType, sourceID, targetID string, userID uuid.UUID, fingerprint *string, automatic bool) (model.MergeRecord, error)

	// RecordsForSource returns the audit records written for one source entity.
	RecordsForSource(ctx context.Context, t model.EntityType, sourceID string) ([]model.MergeRecord, error)

	// ListOrphaned returns soft-deleted entities of t that still hold
	// user-generated data.
	ListOrphaned(ctx context.Context, t model.EntityType) ([]string, error)

	// DiscardUserData removes all user-generated data attached to one entity.
	DiscardUserData(ctx context.Context, t model.EntityType, remoteID string) error
}
