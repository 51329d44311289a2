package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/akarpov87/catsync/internal/model"
)

// UserDataRepo implements UserDataRepository using PostgreSQL.
type UserDataRepo struct{ db *DB }

// NewUserDataRepo constructs a user data repository.
func NewUserDataRepo(db *DB) *UserDataRepo { return &UserDataRepo{db: db} }

// RecordPlay upserts one play event: count++, history append, resume and
// last-played advance.
func (r *UserDataRepo) RecordPlay(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string, at time.Time, resume float64) error {
	const q = `
INSERT INTO watch_history (user_id, entity_type, remote_id, play_count, play_history, resume_position, last_played_at)
VALUES ($1,$2,$3,1,ARRAY[$4::timestamptz],$5,$4)
ON CONFLICT (user_id, entity_type, remote_id) DO UPDATE
SET play_count=watch_history.play_count+1,
    play_history=array_append(watch_history.play_history, $4),
    resume_position=$5,
    last_played_at=GREATEST(watch_history.last_played_at, $4)`
	if _, err := r.db.Pool.Exec(ctx, q, userID, t.String(), remoteID, at, resume); err != nil {
		return fmt.Errorf("record play %s/%s: %w", t, remoteID, err)
	}
	return nil
}

// SetRating upserts the rating value, preserving the favorite flag.
func (r *UserDataRepo) SetRating(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string, rating *int) error {
	const q = `
INSERT INTO ratings (user_id, entity_type, remote_id, rating)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, entity_type, remote_id) DO UPDATE SET rating=EXCLUDED.rating`
	_, err := r.db.Pool.Exec(ctx, q, userID, t.String(), remoteID, rating)
	return err
}

// SetFavorite upserts the favorite flag, preserving the rating.
func (r *UserDataRepo) SetFavorite(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string, favorite bool) error {
	const q = `
INSERT INTO ratings (user_id, entity_type, remote_id, favorite)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, entity_type, remote_id) DO UPDATE SET favorite=EXCLUDED.favorite`
	_, err := r.db.Pool.Exec(ctx, q, userID, t.String(), remoteID, favorite)
	return err
}

// Restrictions returns explicit exclusion rules grouped by entity type.
func (r *UserDataRepo) Restrictions(ctx context.Context, userID uuid.UUID) (map[model.EntityType][]string, error) {
	const q = `SELECT entity_type, remote_id FROM restrictions WHERE user_id=$1`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.EntityType][]string)
	for rows.Next() {
		var typeName, id string
		if err := rows.Scan(&typeName, &id); err != nil {
			return nil, err
		}
		t, ok := model.ParseEntityType(typeName)
		if !ok {
			return nil, fmt.Errorf("unknown entity type %q in restrictions", typeName)
		}
		out[t] = append(out[t], id)
	}
	return out, rows.Err()
}

// AddRestriction stores one explicit rule; duplicates are no-ops.
func (r *UserDataRepo) AddRestriction(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string) error {
	const q = `
INSERT INTO restrictions (user_id, entity_type, remote_id)
VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, userID, t.String(), remoteID)
	return err
}

// RemoveRestriction drops one explicit rule.
func (r *UserDataRepo) RemoveRestriction(ctx context.Context, userID uuid.UUID, t model.EntityType, remoteID string) error {
	const q = `DELETE FROM restrictions WHERE user_id=$1 AND entity_type=$2 AND remote_id=$3`
	_, err := r.db.Pool.Exec(ctx, q, userID, t.String(), remoteID)
	return err
}
