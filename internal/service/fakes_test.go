package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
	"github.com/akarpov87/catsync/internal/remote"
	"github.com/akarpov87/catsync/internal/repository"
)

// fakeFetcher serves pages from an in-memory dataset, honoring the since
// filter the way the remote does, and records the since value seen per type.
type fakeFetcher struct {
	pageSize int
	data     map[model.EntityType][]model.Entity

	lastSince map[model.EntityType]*time.Time
	pageCalls int
	idCalls   int

	// failPages counts down: while positive, FindPage fails.
	failPages int
	// findErr, when set, fails every FindPage call.
	findErr error
}

var _ remote.Fetcher = (*fakeFetcher)(nil)

func newFakeFetcher(pageSize int) *fakeFetcher {
	return &fakeFetcher{
		pageSize:  pageSize,
		data:      make(map[model.EntityType][]model.Entity),
		lastSince: make(map[model.EntityType]*time.Time),
	}
}

func (f *fakeFetcher) PageSize() int { return f.pageSize }

func (f *fakeFetcher) FindPage(_ context.Context, t model.EntityType, since *time.Time, page int) (remote.Page, error) {
	f.pageCalls++
	f.lastSince[t] = since
	if f.findErr != nil {
		return remote.Page{}, f.findErr
	}
	if f.failPages > 0 {
		f.failPages--
		return remote.Page{}, errors.New("i/o timeout")
	}

	var matched []model.Entity
	for _, e := range f.data[t] {
		if since == nil || !e.UpdatedAt.Before(*since) {
			matched = append(matched, e)
		}
	}
	return remote.Page{Items: slicePage(matched, page, f.pageSize), Total: len(matched)}, nil
}

func (f *fakeFetcher) FindIDPage(_ context.Context, t model.EntityType, page int) (remote.IDPage, error) {
	f.idCalls++
	all := f.data[t]
	ids := make([]string, 0, len(all))
	for _, e := range all {
		ids = append(ids, e.RemoteID)
	}
	return remote.IDPage{IDs: slicePageStr(ids, page, f.pageSize), Total: len(ids)}, nil
}

func slicePage(items []model.Entity, page, size int) []model.Entity {
	start := (page - 1) * size
	if start >= len(items) {
		return nil
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func slicePageStr(items []string, page, size int) []string {
	start := (page - 1) * size
	if start >= len(items) {
		return nil
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// fakeEntityRepo keeps entities in memory keyed by (type, id).
type fakeEntityRepo struct {
	entities map[model.EntityType]map[string]*model.Entity

	upsertErr  error
	softErr    error
	deletedIDs []string // (type:id) audit of SoftDelete calls in order
	edges      map[model.EntityType]map[string][]string
}

var _ repository.EntityRepository = (*fakeEntityRepo)(nil)

func newFakeEntityRepo() *fakeEntityRepo {
	return &fakeEntityRepo{
		entities: make(map[model.EntityType]map[string]*model.Entity),
		edges:    make(map[model.EntityType]map[string][]string),
	}
}

func (f *fakeEntityRepo) put(e model.Entity) {
	if f.entities[e.Type] == nil {
		f.entities[e.Type] = make(map[string]*model.Entity)
	}
	cp := e
	f.entities[e.Type][e.RemoteID] = &cp
}

func (f *fakeEntityRepo) UpsertBatch(_ context.Context, items []model.Entity) (repository.UpsertStats, error) {
	if f.upsertErr != nil {
		return repository.UpsertStats{}, f.upsertErr
	}
	var stats repository.UpsertStats
	for _, it := range items {
		if f.entities[it.Type] == nil {
			f.entities[it.Type] = make(map[string]*model.Entity)
		}
		if _, ok := f.entities[it.Type][it.RemoteID]; ok {
			stats.Updated++
		} else {
			stats.Created++
		}
		cp := it
		cp.DeletedAt = nil
		f.entities[it.Type][it.RemoteID] = &cp
	}
	return stats, nil
}

func (f *fakeEntityRepo) Get(_ context.Context, t model.EntityType, remoteID string) (*model.Entity, error) {
	e, ok := f.entities[t][remoteID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEntityRepo) ListActiveIDs(_ context.Context, t model.EntityType) ([]string, error) {
	var out []string
	for id, e := range f.entities[t] {
		if e.DeletedAt == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeEntityRepo) ListSoftDeletedIDs(_ context.Context, t model.EntityType) ([]string, error) {
	var out []string
	for id, e := range f.entities[t] {
		if e.DeletedAt != nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeEntityRepo) SoftDelete(_ context.Context, t model.EntityType, remoteID string, at time.Time) error {
	if f.softErr != nil {
		return f.softErr
	}
	e, ok := f.entities[t][remoteID]
	if !ok {
		return errs.ErrNotFound
	}
	if e.DeletedAt == nil {
		e.DeletedAt = &at
	}
	f.deletedIDs = append(f.deletedIDs, t.String()+":"+remoteID)
	return nil
}

func (f *fakeEntityRepo) FindByFingerprints(_ context.Context, t model.EntityType, fingerprints []string) ([]model.Entity, error) {
	want := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		want[fp] = struct{}{}
	}
	var out []model.Entity
	for _, e := range f.entities[t] {
		if e.DeletedAt != nil {
			continue
		}
		for _, fp := range e.Fingerprints {
			if _, ok := want[fp]; ok {
				out = append(out, *e)
				break
			}
		}
	}
	// most recent upstream mutation first, the tie-break rule
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].UpdatedAt.After(out[i].UpdatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeEntityRepo) ChildEdges(_ context.Context, t model.EntityType) (map[string][]string, error) {
	return f.edges[t], nil
}

func (f *fakeEntityRepo) Search(context.Context, string, []any) ([]model.Entity, error) {
	return nil, nil
}

// fakeStateRepo stores sync state in memory and records every write.
type fakeStateRepo struct {
	states  map[string]model.SyncState // keyed by instance + "/" + type
	records []string                   // "type/mode" audit in call order
	getErr  error
	recErr  error
}

var _ repository.SyncStateRepository = (*fakeStateRepo)(nil)

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{states: make(map[string]model.SyncState)}
}

func stateKey(instanceID string, t model.EntityType) string { return instanceID + "/" + t.String() }

func (f *fakeStateRepo) Get(_ context.Context, instanceID string, t model.EntityType) (model.SyncState, error) {
	if f.getErr != nil {
		return model.SyncState{}, f.getErr
	}
	st, ok := f.states[stateKey(instanceID, t)]
	if !ok {
		return model.SyncState{}, errs.ErrNotFound
	}
	return st, nil
}

func (f *fakeStateRepo) Record(_ context.Context, instanceID string, t model.EntityType, mode model.SyncMode, at time.Time) error {
	if f.recErr != nil {
		return f.recErr
	}
	st := f.states[stateKey(instanceID, t)]
	st.InstanceID, st.EntityType = instanceID, t
	if mode == model.SyncFull {
		st.LastFullSync = &at
	} else {
		st.LastIncrementalSync = &at
	}
	f.states[stateKey(instanceID, t)] = st
	f.records = append(f.records, t.String()+"/"+mode.String())
	return nil
}

func (f *fakeStateRepo) Reset(_ context.Context, instanceID string, t model.EntityType) error {
	delete(f.states, stateKey(instanceID, t))
	return nil
}

// fakeMergeRepo tracks transfers in memory with triple-level idempotence.
type fakeMergeRepo struct {
	usersByEntity map[string][]uuid.UUID // key type:id
	transferred   map[string]struct{}    // key type:src:tgt:user
	transferCalls []string
	transferErr   error
}

var _ repository.MergeRepository = (*fakeMergeRepo)(nil)

func newFakeMergeRepo() *fakeMergeRepo {
	return &fakeMergeRepo{
		usersByEntity: make(map[string][]uuid.UUID),
		transferred:   make(map[string]struct{}),
	}
}

func (f *fakeMergeRepo) UsersWithData(_ context.Context, t model.EntityType, remoteID string) ([]uuid.UUID, error) {
	return f.usersByEntity[t.String()+":"+remoteID], nil
}

func (f *fakeMergeRepo) TransferUserData(
	_ context.Context, t model.EntityType, sourceID, targetID string,
	userID uuid.UUID, fingerprint *string, automatic bool,
) (model.MergeRecord, error) {
	if f.transferErr != nil {
		return model.MergeRecord{}, f.transferErr
	}
	key := t.String() + ":" + sourceID + ":" + targetID + ":" + userID.String()
	if _, ok := f.transferred[key]; ok {
		return model.MergeRecord{}, errs.ErrAlreadyExists
	}
	f.transferred[key] = struct{}{}
	f.transferCalls = append(f.transferCalls, key)
	id, _ := uuid.NewV4()
	return model.MergeRecord{
		ID: id, EntityType: t, SourceID: sourceID, TargetID: targetID,
		Fingerprint: fingerprint, UserID: userID, Automatic: automatic,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeMergeRepo) RecordsForSource(context.Context, model.EntityType, string) ([]model.MergeRecord, error) {
	return nil, nil
}

func (f *fakeMergeRepo) ListOrphaned(context.Context, model.EntityType) ([]string, error) {
	return nil, nil
}

func (f *fakeMergeRepo) DiscardUserData(context.Context, model.EntityType, string) error {
	return nil
}

// fakeUserDataRepo only backs the exclusion tests.
type fakeUserDataRepo struct {
	restrictions map[uuid.UUID]map[model.EntityType][]string
	calls        int
}

var _ repository.UserDataRepository = (*fakeUserDataRepo)(nil)

func newFakeUserDataRepo() *fakeUserDataRepo {
	return &fakeUserDataRepo{restrictions: make(map[uuid.UUID]map[model.EntityType][]string)}
}

func (f *fakeUserDataRepo) RecordPlay(context.Context, uuid.UUID, model.EntityType, string, time.Time, float64) error {
	return nil
}

func (f *fakeUserDataRepo) SetRating(context.Context, uuid.UUID, model.EntityType, string, *int) error {
	return nil
}

func (f *fakeUserDataRepo) SetFavorite(context.Context, uuid.UUID, model.EntityType, string, bool) error {
	return nil
}

func (f *fakeUserDataRepo) Restrictions(_ context.Context, userID uuid.UUID) (map[model.EntityType][]string, error) {
	f.calls++
	return f.restrictions[userID], nil
}

func (f *fakeUserDataRepo) AddRestriction(context.Context, uuid.UUID, model.EntityType, string) error {
	return nil
}

func (f *fakeUserDataRepo) RemoveRestriction(context.Context, uuid.UUID, model.EntityType, string) error {
	return nil
}
