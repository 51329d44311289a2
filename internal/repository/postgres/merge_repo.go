package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
)

// MergeRepo implements MergeRepository using PostgreSQL.
type MergeRepo struct{ db *DB }

// NewMergeRepo constructs a merge repository.
func NewMergeRepo(db *DB) *MergeRepo { return &MergeRepo{db: db} }

// UsersWithData returns distinct users holding watch, rating or playlist
// rows on one entity.
func (r *MergeRepo) UsersWithData(ctx context.Context, t model.EntityType, remoteID string) ([]uuid.UUID, error) {
	const q = `
SELECT user_id FROM watch_history WHERE entity_type=$1 AND remote_id=$2
UNION
SELECT user_id FROM ratings WHERE entity_type=$1 AND remote_id=$2
UNION
SELECT user_id FROM playlist_items WHERE entity_type=$1 AND remote_id=$2`
	rows, err := r.db.Pool.Query(ctx, q, t.String(), remoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TransferUserData applies the merge laws for one user inside a single
// transaction and writes the immutable audit record. A pre-existing record
// for the same (type, source, target, user) triple aborts the transfer with
// errs.ErrAlreadyExists so reconciliation stays idempotent.
func (r *MergeRepo) TransferUserData(
	ctx context.Context, t model.EntityType, sourceID, targetID string,
	userID uuid.UUID, fingerprint *string, automatic bool,
) (rec model.MergeRecord, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.MergeRecord{}, err
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

	const dupe = `
SELECT 1 FROM merge_records
WHERE entity_type=$1 AND source_id=$2 AND target_id=$3 AND user_id=$4`
	var one int
	switch scanErr := tx.QueryRow(ctx, dupe, t.String(), sourceID, targetID, userID).Scan(&one); {
	case scanErr == nil:
		return model.MergeRecord{}, errs.ErrAlreadyExists
	case errors.Is(scanErr, pgx.ErrNoRows):
		// first transfer for this triple
	default:
		return model.MergeRecord{}, scanErr
	}

	// Re-check the target inside the transaction: a survivor picked from the
	// fingerprint index may have been deleted concurrently, and transferring
	// onto a tombstone would orphan the data a second time.
	const tgt = `SELECT deleted_at FROM entities WHERE entity_type=$1 AND remote_id=$2 FOR UPDATE`
	var targetDeleted *time.Time
	switch scanErr := tx.QueryRow(ctx, tgt, t.String(), targetID).Scan(&targetDeleted); {
	case errors.Is(scanErr, pgx.ErrNoRows):
		return model.MergeRecord{}, errs.ErrNotFound
	case scanErr != nil:
		return model.MergeRecord{}, scanErr
	case targetDeleted != nil:
		return model.MergeRecord{}, errs.ErrTargetDeleted
	}

	snapshot := model.TransferSnapshot{}

	if err = r.transferWatch(ctx, tx, t, sourceID, targetID, userID, &snapshot); err != nil {
		return model.MergeRecord{}, fmt.Errorf("transfer watch history: %w", err)
	}
	if err = r.transferRating(ctx, tx, t, sourceID, targetID, userID, &snapshot); err != nil {
		return model.MergeRecord{}, fmt.Errorf("transfer rating: %w", err)
	}
	if err = r.transferPlaylists(ctx, tx, t, sourceID, targetID, userID, &snapshot); err != nil {
		return model.MergeRecord{}, fmt.Errorf("transfer playlists: %w", err)
	}

	transferred, err := json.Marshal(snapshot)
	if err != nil {
		return model.MergeRecord{}, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.MergeRecord{}, err
	}
	rec = model.MergeRecord{
		ID:          id,
		EntityType:  t,
		SourceID:    sourceID,
		TargetID:    targetID,
		Fingerprint: fingerprint,
		UserID:      userID,
		Transferred: transferred,
		Automatic:   automatic,
		CreatedAt:   time.Now().UTC(),
	}

	const ins = `
INSERT INTO merge_records (id, entity_type, source_id, target_id, fingerprint, user_id, transferred, automatic, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	if _, err = tx.Exec(ctx, ins, rec.ID, t.String(), sourceID, targetID,
		fingerprint, userID, transferred, automatic, rec.CreatedAt); err != nil {
		return model.MergeRecord{}, fmt.Errorf("insert merge record: %w", err)
	}
	return rec, nil
}

func (r *MergeRepo) transferWatch(
	ctx context.Context, tx pgx.Tx, t model.EntityType,
	sourceID, targetID string, userID uuid.UUID, snap *model.TransferSnapshot,
) error {
	const sel = `
SELECT play_count, play_history, resume_position, last_played_at
FROM watch_history WHERE user_id=$1 AND entity_type=$2 AND remote_id=$3 FOR UPDATE`

	src, srcOK, err := scanWatch(tx.QueryRow(ctx, sel, userID, t.String(), sourceID))
	if err != nil {
		return err
	}
	if !srcOK {
		return nil
	}
	snap.PlayCount = src.PlayCount
	snap.PlayEvents = len(src.PlayHistory)
	snap.ResumePosition = src.ResumePosition
	snap.LastPlayedAt = src.LastPlayedAt

	tgt, tgtOK, err := scanWatch(tx.QueryRow(ctx, sel, userID, t.String(), targetID))
	if err != nil {
		return err
	}

	merged := src
	if tgtOK {
		merged = model.MergeWatchHistory(tgt, src)
	}

	const ups = `
INSERT INTO watch_history (user_id, entity_type, remote_id, play_count, play_history, resume_position, last_played_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id, entity_type, remote_id) DO UPDATE
SET play_count=EXCLUDED.play_count,
    play_history=EXCLUDED.play_history,
    resume_position=EXCLUDED.resume_position,
    last_played_at=EXCLUDED.last_played_at`
	if _, err := tx.Exec(ctx, ups, userID, t.String(), targetID,
		merged.PlayCount, merged.PlayHistory, merged.ResumePosition, merged.LastPlayedAt); err != nil {
		return err
	}

	const del = `DELETE FROM watch_history WHERE user_id=$1 AND entity_type=$2 AND remote_id=$3`
	_, err = tx.Exec(ctx, del, userID, t.String(), sourceID)
	return err
}

func (r *MergeRepo) transferRating(
	ctx context.Context, tx pgx.Tx, t model.EntityType,
	sourceID, targetID string, userID uuid.UUID, snap *model.TransferSnapshot,
) error {
	const sel = `
SELECT rating, favorite FROM ratings
WHERE user_id=$1 AND entity_type=$2 AND remote_id=$3 FOR UPDATE`

	src, srcOK, err := scanRating(tx.QueryRow(ctx, sel, userID, t.String(), sourceID))
	if err != nil {
		return err
	}
	if !srcOK {
		return nil
	}
	snap.Rating = src.Rating
	snap.Favorite = src.Favorite

	tgt, tgtOK, err := scanRating(tx.QueryRow(ctx, sel, userID, t.String(), targetID))
	if err != nil {
		return err
	}

	merged := src
	if tgtOK {
		merged = model.MergeRating(tgt, src)
	}

	const ups = `
INSERT INTO ratings (user_id, entity_type, remote_id, rating, favorite)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id, entity_type, remote_id) DO UPDATE
SET rating=EXCLUDED.rating, favorite=EXCLUDED.favorite`
	if _, err := tx.Exec(ctx, ups, userID, t.String(), targetID, merged.Rating, merged.Favorite); err != nil {
		return err
	}

	const del = `DELETE FROM ratings WHERE user_id=$1 AND entity_type=$2 AND remote_id=$3`
	_, err = tx.Exec(ctx, del, userID, t.String(), sourceID)
	return err
}

// transferPlaylists drops source memberships whose playlist already contains
// the target and repoints the rest.
func (r *MergeRepo) transferPlaylists(
	ctx context.Context, tx pgx.Tx, t model.EntityType,
	sourceID, targetID string, userID uuid.UUID, snap *model.TransferSnapshot,
) error {
	const drop = `
DELETE FROM playlist_items p
WHERE p.user_id=$1 AND p.entity_type=$2 AND p.remote_id=$3
  AND EXISTS (
    SELECT 1 FROM playlist_items q
    WHERE q.playlist_id=p.playlist_id AND q.entity_type=$2 AND q.remote_id=$4)`
	if _, err := tx.Exec(ctx, drop, userID, t.String(), sourceID, targetID); err != nil {
		return err
	}

	const repoint = `
UPDATE playlist_items SET remote_id=$4
WHERE user_id=$1 AND entity_type=$2 AND remote_id=$3`
	tag, err := tx.Exec(ctx, repoint, userID, t.String(), sourceID, targetID)
	if err != nil {
		return err
	}
	snap.PlaylistRows = int(tag.RowsAffected())
	return nil
}

func scanWatch(row pgx.Row) (model.WatchHistory, bool, error) {
	var w model.WatchHistory
	err := row.Scan(&w.PlayCount, &w.PlayHistory, &w.ResumePosition, &w.LastPlayedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WatchHistory{}, false, nil
	}
	if err != nil {
		return model.WatchHistory{}, false, err
	}
	return w, true, nil
}

func scanRating(row pgx.Row) (model.Rating, bool, error) {
	var rt model.Rating
	err := row.Scan(&rt.Rating, &rt.Favorite)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Rating{}, false, nil
	}
	if err != nil {
		return model.Rating{}, false, err
	}
	return rt, true, nil
}

// RecordsForSource returns the audit trail for one soft-deleted source.
func (r *MergeRepo) RecordsForSource(ctx context.Context, t model.EntityType, sourceID string) ([]model.MergeRecord, error) {
	const q = `
SELECT id, source_id, target_id, fingerprint, user_id, transferred, automatic, created_at
FROM merge_records WHERE entity_type=$1 AND source_id=$2 ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, q, t.String(), sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MergeRecord
	for rows.Next() {
		rec := model.MergeRecord{EntityType: t}
		var transferred []byte
		if err := rows.Scan(&rec.ID, &rec.SourceID, &rec.TargetID, &rec.Fingerprint,
			&rec.UserID, &transferred, &rec.Automatic, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Transferred = transferred
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListOrphaned returns soft-deleted entities of t still holding user data.
func (r *MergeRepo) ListOrphaned(ctx context.Context, t model.EntityType) ([]string, error) {
	const q = `
SELECT e.remote_id FROM entities e
WHERE e.entity_type=$1 AND e.deleted_at IS NOT NULL
  AND (EXISTS (SELECT 1 FROM watch_history w WHERE w.entity_type=e.entity_type AND w.remote_id=e.remote_id)
    OR EXISTS (SELECT 1 FROM ratings rt WHERE rt.entity_type=e.entity_type AND rt.remote_id=e.remote_id)
    OR EXISTS (SELECT 1 FROM playlist_items p WHERE p.entity_type=e.entity_type AND p.remote_id=e.remote_id))
ORDER BY e.remote_id`
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

// DiscardUserData removes all user data attached to one entity. Used by the
// administrative discard operation for orphans that never found a match.
func (r *MergeRepo) DiscardUserData(ctx context.Context, t model.EntityType, remoteID string) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
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

	for _, q := range []string{
		`DELETE FROM watch_history WHERE entity_type=$1 AND remote_id=$2`,
		`DELETE FROM ratings WHERE entity_type=$1 AND remote_id=$2`,
		`DELETE FROM playlist_items WHERE entity_type=$1 AND remote_id=$2`,
	} {
		if _, err = tx.Exec(ctx, q, t.String(), remoteID); err != nil {
			return err
		}
	}
	return nil
}
