package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
	"github.com/akarpov87/catsync/internal/repository"
)

// ReconciliationOutcome reports one reconciliation attempt. Matched with an
// empty Transfers slice means a fingerprint link existed but no user held
// data on the source; the link itself is still useful audit information.
type ReconciliationOutcome struct {
	Matched   bool
	TargetID  string
	Transfers []model.MergeRecord
}

// Reconciler transfers user-generated data from a disappearing entity to a
// fingerprint-matched survivor before the deletion is finalized.
type Reconciler struct {
	entities repository.EntityRepository
	merges   repository.MergeRepository
	log      *zap.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(entities repository.EntityRepository, merges repository.MergeRepository, log *zap.Logger) *Reconciler {
	return &Reconciler{entities: entities, merges: merges, log: log}
}

// Attempt runs the automatic reconciliation flow for one deletion candidate.
// A source without fingerprints is not a defect (fingerprinting may simply
// not have run yet); it is reported unmatched and handled as an ordinary
// deletion by the caller. On a match the source is soft-deleted here, after
// all user transfers completed.
func (r *Reconciler) Attempt(ctx context.Context, t model.EntityType, sourceID string) (ReconciliationOutcome, error) {
	src, err := r.entities.Get(ctx, t, sourceID)
	if err != nil {
		return ReconciliationOutcome{}, fmt.Errorf("reconcile %s/%s: %w", t, sourceID, err)
	}
	if len(src.Fingerprints) == 0 {
		return ReconciliationOutcome{}, nil
	}

	target, err := r.pickTarget(ctx, t, sourceID, src.Fingerprints)
	if err != nil {
		return ReconciliationOutcome{}, err
	}
	if target == nil {
		return ReconciliationOutcome{}, nil
	}

	fp := sharedFingerprint(src.Fingerprints, target.Fingerprints)
	outcome, err := r.transferAll(ctx, t, sourceID, target.RemoteID, fp, true)
	if err != nil {
		return ReconciliationOutcome{}, err
	}

	if err := r.entities.SoftDelete(ctx, t, sourceID, time.Now().UTC()); err != nil {
		return ReconciliationOutcome{}, fmt.Errorf("reconcile %s/%s: soft delete: %w", t, sourceID, err)
	}

	r.log.Info("entity reconciled",
		zap.String("type", t.String()),
		zap.String("source", sourceID),
		zap.String("target", target.RemoteID),
		zap.Int("transfers", len(outcome.Transfers)),
	)
	return outcome, nil
}

// Candidates lists surviving entities whose fingerprints intersect the
// source's, most recently mutated first. Exposed for the administrative
// match-listing endpoint.
func (r *Reconciler) Candidates(ctx context.Context, t model.EntityType, sourceID string) ([]model.Entity, error) {
	src, err := r.entities.Get(ctx, t, sourceID)
	if err != nil {
		return nil, err
	}
	if len(src.Fingerprints) == 0 {
		return nil, nil
	}
	matches, err := r.entities.FindByFingerprints(ctx, t, src.Fingerprints)
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if m.RemoteID != sourceID {
			out = append(out, m)
		}
	}
	return out, nil
}

// ReconcileTo runs the manual, administrator-initiated flow against an
// explicit target. The source must already be soft-deleted; the target must
// be alive.
func (r *Reconciler) ReconcileTo(ctx context.Context, t model.EntityType, sourceID, targetID string) (ReconciliationOutcome, error) {
	src, err := r.entities.Get(ctx, t, sourceID)
	if err != nil {
		return ReconciliationOutcome{}, err
	}
	if src.DeletedAt == nil {
		return ReconciliationOutcome{}, errs.ErrSourceNotDeleted
	}
	target, err := r.entities.Get(ctx, t, targetID)
	if err != nil {
		return ReconciliationOutcome{}, err
	}
	if target.DeletedAt != nil {
		return ReconciliationOutcome{}, errs.ErrTargetDeleted
	}

	// Fingerprint is recorded when the manual pair happens to share one;
	// otherwise the record carries a nil fingerprint.
	fp := sharedFingerprint(src.Fingerprints, target.Fingerprints)
	return r.transferAll(ctx, t, sourceID, targetID, fp, false)
}

// pickTarget returns the best surviving match, or nil when none exists. The
// repository orders matches by upstream mutation timestamp descending, which
// is the tie-break rule. A match deleted concurrently after this lookup is
// caught inside the transfer transaction.
func (r *Reconciler) pickTarget(ctx context.Context, t model.EntityType, sourceID string, fingerprints []string) (*model.Entity, error) {
	matches, err := r.entities.FindByFingerprints(ctx, t, fingerprints)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s/%s: find matches: %w", t, sourceID, err)
	}
	for i := range matches {
		if matches[i].RemoteID != sourceID {
			return &matches[i], nil
		}
	}
	return nil, nil
}

// transferAll moves every user's data from source to target. Users already
// covered by a MergeRecord for this (source, target) pair are skipped, which
// makes repeated reconciliation of the same pair a no-op.
func (r *Reconciler) transferAll(ctx context.Context, t model.EntityType, sourceID, targetID string, fp *string, automatic bool) (ReconciliationOutcome, error) {
	outcome := ReconciliationOutcome{Matched: true, TargetID: targetID}

	users, err := r.merges.UsersWithData(ctx, t, sourceID)
	if err != nil {
		return ReconciliationOutcome{}, fmt.Errorf("reconcile %s/%s: list users: %w", t, sourceID, err)
	}
	for _, userID := range users {
		rec, err := r.merges.TransferUserData(ctx, t, sourceID, targetID, userID, fp, automatic)
		if errors.Is(err, errs.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return ReconciliationOutcome{}, fmt.Errorf("reconcile %s/%s: transfer user %s: %w", t, sourceID, userID, err)
		}
		outcome.Transfers = append(outcome.Transfers, rec)
	}
	return outcome, nil
}

// sharedFingerprint returns the first fingerprint present on both entities.
func sharedFingerprint(a, b []string) *string {
	set := make(map[string]struct{}, len(b))
	for _, fp := range b {
		set[fp] = struct{}{}
	}
	for _, fp := range a {
		if _, ok := set[fp]; ok {
			v := fp
			return &v
		}
	}
	return nil
}
