package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
	"github.com/akarpov87/catsync/internal/remote"
	"github.com/akarpov87/catsync/internal/repository"
)

// reconciler is the part of the reconciliation service cleanup depends on.
type reconciler interface {
	Attempt(ctx context.Context, t model.EntityType, sourceID string) (ReconciliationOutcome, error)
}

// Cleanup detects upstream deletions by diffing a paginated ID-only
// enumeration against the locally known live set.
type Cleanup struct {
	fetcher  remote.Fetcher
	entities repository.EntityRepository
	rec      reconciler
	log      *zap.Logger
	retries  uint64
}

// NewCleanup constructs a Cleanup service.
func NewCleanup(fetcher remote.Fetcher, entities repository.EntityRepository, rec reconciler, log *zap.Logger, retries int) *Cleanup {
	if retries < 0 {
		retries = 0
	}
	return &Cleanup{fetcher: fetcher, entities: entities, rec: rec, log: log, retries: uint64(retries)}
}

// Run scans one entity type. Every deletion candidate goes through
// reconciliation before any soft-delete: deleting first would orphan user
// data the automatic path could no longer transfer.
func (c *Cleanup) Run(ctx context.Context, t model.EntityType) (model.CleanupResult, error) {
	res := model.CleanupResult{EntityType: t}

	remoteIDs, err := c.enumerateRemoteIDs(ctx, t)
	if err != nil {
		return res, fmt.Errorf("cleanup %s: %w", t, err)
	}

	localIDs, err := c.entities.ListActiveIDs(ctx, t)
	if err != nil {
		return res, fmt.Errorf("cleanup %s: list local: %w", t, err)
	}

	now := time.Now().UTC()
	for _, id := range localIDs {
		if _, alive := remoteIDs[id]; alive {
			continue
		}
		res.Candidates++

		outcome, err := c.rec.Attempt(ctx, t, id)
		switch {
		case errors.Is(err, errs.ErrTargetDeleted):
			// The matched survivor vanished between detection and transfer.
			// Mirror the upstream deletion without a transfer; the orphan
			// stays reachable through the administrative path.
			c.log.Warn("reconciliation target vanished, soft-deleting without transfer",
				zap.String("type", t.String()), zap.String("id", id), zap.Error(err))
			outcome = ReconciliationOutcome{}
		case err != nil:
			// A persistence failure must not tombstone the candidate: a
			// soft-deleted source is invisible to the next pass and its user
			// data would be orphaned for good.
			return res, fmt.Errorf("cleanup %s: reconcile %s: %w", t, id, err)
		}
		if outcome.Matched {
			res.Reconciled++
			res.SoftDeleted++ // the matched path soft-deletes the source itself
			continue
		}
		if err := c.entities.SoftDelete(ctx, t, id, now); err != nil {
			return res, fmt.Errorf("cleanup %s: soft delete %s: %w", t, id, err)
		}
		res.SoftDeleted++
	}

	c.log.Info("cleanup pass finished",
		zap.String("type", t.String()),
		zap.Int("candidates", res.Candidates),
		zap.Int("reconciled", res.Reconciled),
		zap.Int("softDeleted", res.SoftDeleted),
	)
	return res, nil
}

// enumerateRemoteIDs pages through the ID-only query, accumulating only the
// IDs. Attributes are never materialized on this path.
func (c *Cleanup) enumerateRemoteIDs(ctx context.Context, t model.EntityType) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var pg remote.IDPage
		err := withPageRetry(ctx, c.retries, func(ctx context.Context) error {
			var err error
			pg, err = c.fetcher.FindIDPage(ctx, t, page)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("ids page %d: %w", page, err)
		}
		if len(pg.IDs) == 0 {
			break
		}
		for _, id := range pg.IDs {
			ids[id] = struct{}{}
		}
		if len(ids) >= pg.Total || len(pg.IDs) < c.fetcher.PageSize() {
			break
		}
	}
	return ids, nil
}
