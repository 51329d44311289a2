package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/akarpov87/catsync/internal/model"
)

// UserDataRepository manages per-user derived data: watch history, ratings,
// playlist membership, and explicit restriction rules.
type UserDataRepository interface {
	// RecordPlay increments the play count, appends to the play history and
	// advances last-played for one (user, entity) pair.
	RecordPlay(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string, at time.Time, resume float64) error

	// SetRating upserts the rating value (nil clears it).
	SetRating(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string, rating *int) error

	// SetFavorite upserts the favorite flag.
	SetFavorite(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string, favorite bool) error

	// Restrictions returns the explicit per-type exclusion rules for a user.
	Restrictions(ctx context.Context, userID uuid.UUID) (map[model.EntityType][]string, error)

	// AddRestriction and RemoveRestriction maintain explicit rules.
	AddRestriction(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string) error
	RemoveRestriction(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string) error
}
