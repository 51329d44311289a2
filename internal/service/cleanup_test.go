package service

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
)

// recordingReconciler captures Attempt calls and returns scripted outcomes.
type recordingReconciler struct {
	attempts []string
	outcome  map[string]ReconciliationOutcome
	err      error
}

func (r *recordingReconciler) Attempt(_ context.Context, t model.EntityType, sourceID string) (ReconciliationOutcome, error) {
	r.attempts = append(r.attempts, t.String()+":"+sourceID)
	if r.err != nil {
		return ReconciliationOutcome{}, r.err
	}
	return r.outcome[sourceID], nil
}

func TestCleanup_SoftDeletesOnlyVanishedIDs(t *testing.T) {
	fetcher := newFakeFetcher(2)
	fetcher.data[model.TypeScene] = []model.Entity{
		entity(model.TypeScene, "s1", day(1)),
		entity(model.TypeScene, "s2", day(1)),
	}
	repo := newFakeEntityRepo()
	repo.put(entity(model.TypeScene, "s1", day(1)))
	repo.put(entity(model.TypeScene, "s2", day(1)))
	repo.put(entity(model.TypeScene, "s3", day(1))) // gone upstream

	rec := &recordingReconciler{}
	c := NewCleanup(fetcher, repo, rec, zap.NewNop(), 0)

	res, err := c.Run(context.Background(), model.TypeScene)
	require.NoError(t, err)
	require.Equal(t, 1, res.Candidates)
	require.Equal(t, 0, res.Reconciled)
	require.Equal(t, 1, res.SoftDeleted)
	require.Equal(t, []string{"scene:s3"}, repo.deletedIDs)

	got, err := repo.Get(context.Background(), model.TypeScene, "s3")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
}

func TestCleanup_ReconcilesBeforeSoftDelete(t *testing.T) {
	fetcher := newFakeFetcher(10)
	repo := newFakeEntityRepo()
	repo.put(entity(model.TypeScene, "gone", day(1)))

	rec := &recordingReconciler{outcome: map[string]ReconciliationOutcome{
		"gone": {Matched: true, TargetID: "survivor"},
	}}
	c := NewCleanup(fetcher, repo, rec, zap.NewNop(), 0)

	res, err := c.Run(context.Background(), model.TypeScene)
	require.NoError(t, err)
	require.Equal(t, []string{"scene:gone"}, rec.attempts)
	require.Equal(t, 1, res.Reconciled)
	// the matched path soft-deletes inside reconciliation, not here
	require.Empty(t, repo.deletedIDs)
}

func TestCleanup_TargetVanishedFallsBackToSoftDelete(t *testing.T) {
	fetcher := newFakeFetcher(10)
	repo := newFakeEntityRepo()
	repo.put(entity(model.TypeScene, "gone", day(1)))

	rec := &recordingReconciler{err: errs.ErrTargetDeleted}
	c := NewCleanup(fetcher, repo, rec, zap.NewNop(), 0)

	res, err := c.Run(context.Background(), model.TypeScene)
	require.NoError(t, err)
	require.Equal(t, 1, res.SoftDeleted)
	require.Equal(t, []string{"scene:gone"}, repo.deletedIDs)
}

func TestCleanup_PersistenceFailureFailsPassAndKeepsCandidate(t *testing.T) {
	fetcher := newFakeFetcher(10)
	repo := newFakeEntityRepo()
	repo.put(entity(model.TypeScene, "gone", day(1)))

	rec := &recordingReconciler{err: errors.New("connection refused")}
	c := NewCleanup(fetcher, repo, rec, zap.NewNop(), 0)

	_, err := c.Run(context.Background(), model.TypeScene)
	require.Error(t, err)
	require.Empty(t, repo.deletedIDs)

	got, err := repo.Get(context.Background(), model.TypeScene, "gone")
	require.NoError(t, err)
	require.Nil(t, got.DeletedAt)
}

// A transfer that fails on a storage error must leave the source alive so the
// next pass sees it as a candidate again and completes the transfer.
func TestCleanup_FailedTransferRetriedNextRun(t *testing.T) {
	fetcher := newFakeFetcher(10)
	repo := newFakeEntityRepo()
	survivor := sceneWithFP("survivor", 2, "F1")
	fetcher.data[model.TypeScene] = []model.Entity{survivor}
	repo.put(sceneWithFP("gone", 1, "F1"))
	repo.put(survivor)

	merges := newFakeMergeRepo()
	user := uuid.Must(uuid.NewV4())
	merges.usersByEntity["scene:gone"] = []uuid.UUID{user}
	merges.transferErr = errors.New("connection refused")

	c := NewCleanup(fetcher, repo, NewReconciler(repo, merges, zap.NewNop()), zap.NewNop(), 0)
	ctx := context.Background()

	_, err := c.Run(ctx, model.TypeScene)
	require.Error(t, err)
	require.Empty(t, merges.transferCalls)
	got, err := repo.Get(ctx, model.TypeScene, "gone")
	require.NoError(t, err)
	require.Nil(t, got.DeletedAt)

	merges.transferErr = nil
	res, err := c.Run(ctx, model.TypeScene)
	require.NoError(t, err)
	require.Equal(t, 1, res.Reconciled)
	require.Len(t, merges.transferCalls, 1)
	got, err = repo.Get(ctx, model.TypeScene, "gone")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
}

func TestCleanup_NeverTouchesOtherTypes(t *testing.T) {
	fetcher := newFakeFetcher(10)
	repo := newFakeEntityRepo()
	repo.put(entity(model.TypeScene, "x", day(1)))     // vanished scene
	repo.put(entity(model.TypePerformer, "x", day(1))) // same ID, different type

	rec := &recordingReconciler{}
	c := NewCleanup(fetcher, repo, rec, zap.NewNop(), 0)

	_, err := c.Run(context.Background(), model.TypeScene)
	require.NoError(t, err)
	require.Equal(t, []string{"scene:x"}, repo.deletedIDs)

	p, err := repo.Get(context.Background(), model.TypePerformer, "x")
	require.NoError(t, err)
	require.Nil(t, p.DeletedAt)
}

func TestCleanup_AlreadyDeletedNotACandidate(t *testing.T) {
	fetcher := newFakeFetcher(10)
	repo := newFakeEntityRepo()
	deleted := day(2)
	tomb := entity(model.TypeScene, "old", day(1))
	tomb.DeletedAt = &deleted
	repo.put(tomb)

	rec := &recordingReconciler{}
	c := NewCleanup(fetcher, repo, rec, zap.NewNop(), 0)

	res, err := c.Run(context.Background(), model.TypeScene)
	require.NoError(t, err)
	require.Zero(t, res.Candidates)
	require.Empty(t, rec.attempts)
}

func TestCleanup_PaginatesIDEnumeration(t *testing.T) {
	fetcher := newFakeFetcher(2)
	fetcher.data[model.TypeScene] = []model.Entity{
		entity(model.TypeScene, "s1", day(1)),
		entity(model.TypeScene, "s2", day(1)),
		entity(model.TypeScene, "s3", day(1)),
	}
	repo := newFakeEntityRepo()
	repo.put(entity(model.TypeScene, "s1", day(1)))

	c := NewCleanup(fetcher, repo, &recordingReconciler{}, zap.NewNop(), 0)
	_, err := c.Run(context.Background(), model.TypeScene)
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.idCalls)
}

func TestCleanup_CancelledContext(t *testing.T) {
	fetcher := newFakeFetcher(10)
	repo := newFakeEntityRepo()
	c := NewCleanup(fetcher, repo, &recordingReconciler{}, zap.NewNop(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Run(ctx, model.TypeScene)
	require.ErrorIs(t, err, context.Canceled)
}
