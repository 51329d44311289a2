package service

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
)

func sceneWithFP(id string, updated int, fps ...string) model.Entity {
	e := entity(model.TypeScene, id, day(updated))
	e.Fingerprints = fps
	return e
}

func TestReconciler_NoFingerprint_TreatedAsOrdinaryDeletion(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.put(entity(model.TypeScene, "plain", day(1)))
	r := NewReconciler(repo, newFakeMergeRepo(), zap.NewNop())

	outcome, err := r.Attempt(context.Background(), model.TypeScene, "plain")
	require.NoError(t, err)
	require.False(t, outcome.Matched)
}

func TestReconciler_NoSurvivingMatch_Unmatched(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.put(sceneWithFP("gone", 1, "F1"))
	r := NewReconciler(repo, newFakeMergeRepo(), zap.NewNop())

	outcome, err := r.Attempt(context.Background(), model.TypeScene, "gone")
	require.NoError(t, err)
	require.False(t, outcome.Matched)
}

func TestReconciler_MatchTransfersAndSoftDeletes(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.put(sceneWithFP("gone", 1, "F1"))
	repo.put(sceneWithFP("survivor", 2, "F1"))

	merges := newFakeMergeRepo()
	user := uuid.Must(uuid.NewV4())
	merges.usersByEntity["scene:gone"] = []uuid.UUID{user}

	r := NewReconciler(repo, merges, zap.NewNop())
	outcome, err := r.Attempt(context.Background(), model.TypeScene, "gone")
	require.NoError(t, err)
	require.True(t, outcome.Matched)
	require.Equal(t, "survivor", outcome.TargetID)
	require.Len(t, outcome.Transfers, 1)
	require.Equal(t, "F1", *outcome.Transfers[0].Fingerprint)
	require.True(t, outcome.Transfers[0].Automatic)

	got, err := repo.Get(context.Background(), model.TypeScene, "gone")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
}

func TestReconciler_TieBreak_MostRecentlyMutatedWins(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.put(sceneWithFP("gone", 1, "F1"))
	repo.put(sceneWithFP("older", 3, "F1"))
	repo.put(sceneWithFP("newer", 7, "F1"))

	r := NewReconciler(repo, newFakeMergeRepo(), zap.NewNop())
	outcome, err := r.Attempt(context.Background(), model.TypeScene, "gone")
	require.NoError(t, err)
	require.True(t, outcome.Matched)
	require.Equal(t, "newer", outcome.TargetID)
}

func TestReconciler_MatchWithZeroUsers_StillMatchedAndSoftDeleted(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.put(sceneWithFP("gone", 1, "F1"))
	repo.put(sceneWithFP("survivor", 2, "F1"))

	merges := newFakeMergeRepo()
	r := NewReconciler(repo, merges, zap.NewNop())
	outcome, err := r.Attempt(context.Background(), model.TypeScene, "gone")
	require.NoError(t, err)
	require.True(t, outcome.Matched)
	require.Empty(t, outcome.Transfers)
	require.Empty(t, merges.transferCalls)

	got, _ := repo.Get(context.Background(), model.TypeScene, "gone")
	require.NotNil(t, got.DeletedAt)
}

func TestReconciler_Idempotent_SecondAttemptTransfersNothing(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.put(sceneWithFP("gone", 1, "F1"))
	repo.put(sceneWithFP("survivor", 2, "F1"))

	merges := newFakeMergeRepo()
	user := uuid.Must(uuid.NewV4())
	merges.usersByEntity["scene:gone"] = []uuid.UUID{user}

	r := NewReconciler(repo, merges, zap.NewNop())
	ctx := context.Background()

	first, err := r.Attempt(ctx, model.TypeScene, "gone")
	require.NoError(t, err)
	require.Len(t, first.Transfers, 1)

	// The source is now soft-deleted; re-running the manual path against the
	// same pair must skip the already-recorded transfer.
	second, err := r.ReconcileTo(ctx, model.TypeScene, "gone", "survivor")
	require.NoError(t, err)
	require.True(t, second.Matched)
	require.Empty(t, second.Transfers)
	require.Len(t, merges.transferCalls, 1)
}

func TestReconciler_ReconcileTo_SourceMustBeDeleted(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.put(sceneWithFP("alive", 1, "F1"))
	repo.put(sceneWithFP("survivor", 2, "F1"))

	r := NewReconciler(repo, newFakeMergeRepo(), zap.NewNop())
	_, err := r.ReconcileTo(context.Background(), model.TypeScene, "alive", "survivor")
	require.ErrorIs(t, err, errs.ErrSourceNotDeleted)
}

func TestReconciler_ReconcileTo_TargetMustBeAlive(t *testing.T) {
	repo := newFakeEntityRepo()
	del := day(2)
	src := sceneWithFP("gone", 1, "F1")
	src.DeletedAt = &del
	tgt := sceneWithFP("also-gone", 2, "F1")
	tgt.DeletedAt = &del
	repo.put(src)
	repo.put(tgt)

	r := NewReconciler(repo, newFakeMergeRepo(), zap.NewNop())
	_, err := r.ReconcileTo(context.Background(), model.TypeScene, "gone", "also-gone")
	require.ErrorIs(t, err, errs.ErrTargetDeleted)
}

func TestReconciler_ReconcileTo_NoSharedFingerprintRecordsNil(t *testing.T) {
	repo := newFakeEntityRepo()
	del := day(2)
	src := sceneWithFP("gone", 1, "F1")
	src.DeletedAt = &del
	repo.put(src)
	repo.put(sceneWithFP("survivor", 3, "F2"))

	merges := newFakeMergeRepo()
	user := uuid.Must(uuid.NewV4())
	merges.usersByEntity["scene:gone"] = []uuid.UUID{user}

	r := NewReconciler(repo, merges, zap.NewNop())
	outcome, err := r.ReconcileTo(context.Background(), model.TypeScene, "gone", "survivor")
	require.NoError(t, err)
	require.Len(t, outcome.Transfers, 1)
	require.Nil(t, outcome.Transfers[0].Fingerprint)
	require.False(t, outcome.Transfers[0].Automatic)
}

func TestReconciler_Candidates_ExcludesSelfAndDeleted(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.put(sceneWithFP("gone", 1, "F1"))
	repo.put(sceneWithFP("match", 5, "F1"))
	del := day(2)
	dead := sceneWithFP("dead", 9, "F1")
	dead.DeletedAt = &del
	repo.put(dead)

	r := NewReconciler(repo, newFakeMergeRepo(), zap.NewNop())
	matches, err := r.Candidates(context.Background(), model.TypeScene, "gone")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "match", matches[0].RemoteID)
}

func TestReconciler_SourceMissing_Error(t *testing.T) {
	r := NewReconciler(newFakeEntityRepo(), newFakeMergeRepo(), zap.NewNop())
	_, err := r.Attempt(context.Background(), model.TypeScene, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
