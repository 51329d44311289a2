// Package service implements the synchronization, cleanup, reconciliation
// and exclusion logic over the repository and remote client interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
	"github.com/akarpov87/catsync/internal/remote"
	"github.com/akarpov87/catsync/internal/repository"
)

// Syncer drives fetch -> upsert for one entity type at a time.
type Syncer struct {
	fetcher  remote.Fetcher
	entities repository.EntityRepository
	states   repository.SyncStateRepository
	log      *zap.Logger
	retries  uint64 // page-level retry budget for transient fetch failures
}

// NewSyncer constructs a Syncer. retries bounds how often one page fetch is
// retried before the whole type's pass fails.
func NewSyncer(fetcher remote.Fetcher, entities repository.EntityRepository, states repository.SyncStateRepository, log *zap.Logger, retries int) *Syncer {
	if retries < 0 {
		retries = 0
	}
	return &Syncer{fetcher: fetcher, entities: entities, states: states, log: log, retries: uint64(retries)}
}

// Sync runs one pass for t. Incremental mode uses t's own last-sync
// timestamp and nothing else; when t has never been synced the pass falls
// back to a full sync recorded as full for t only. The type's timestamp is
// written as the very last action of a successful pass.
func (s *Syncer) Sync(ctx context.Context, instanceID string, t model.EntityType, mode model.SyncMode) (model.SyncResult, error) {
	started := time.Now().UTC()
	res := model.SyncResult{EntityType: t, Mode: mode}

	var since *time.Time
	if mode == model.SyncIncremental {
		st, err := s.states.Get(ctx, instanceID, t)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			// never synced: full pass, recorded as full for this type only
			res.Mode = model.SyncFull
		case err != nil:
			return res, fmt.Errorf("sync %s: load state: %w", t, err)
		default:
			since = st.Since()
			if since == nil {
				res.Mode = model.SyncFull
			}
		}
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		pg, err := s.fetchPage(ctx, t, since, page)
		if err != nil {
			return res, fmt.Errorf("sync %s page %d: %w", t, page, err)
		}
		if len(pg.Items) == 0 {
			break
		}

		stats, err := s.entities.UpsertBatch(ctx, pg.Items)
		if err != nil {
			return res, fmt.Errorf("sync %s page %d: upsert: %w", t, page, err)
		}
		res.Created += stats.Created
		res.Updated += stats.Updated
		res.Scanned += len(pg.Items)

		if res.Scanned >= pg.Total || len(pg.Items) < s.fetcher.PageSize() {
			break
		}
	}

	// The timestamp is the sole "this window is done" marker; writing it is
	// the last action for the type. The window start is recorded, not the
	// finish, so records mutated mid-pass are re-fetched next run.
	if err := s.states.Record(ctx, instanceID, t, res.Mode, started); err != nil {
		return res, fmt.Errorf("sync %s: record state: %w", t, err)
	}

	res.Duration = time.Since(started)
	s.log.Info("entity type synced",
		zap.String("type", t.String()),
		zap.String("mode", res.Mode.String()),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("scanned", res.Scanned),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (s *Syncer) fetchPage(ctx context.Context, t model.EntityType, since *time.Time, page int) (remote.Page, error) {
	var pg remote.Page
	err := withPageRetry(ctx, s.retries, func(ctx context.Context) error {
		var err error
		pg, err = s.fetcher.FindPage(ctx, t, since, page)
		return err
	})
	return pg, err
}

// withPageRetry retries transient fetch failures with exponential backoff, a
// bounded number of times. Context cancellation aborts immediately.
func withPageRetry(ctx context.Context, retries uint64, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}
