package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/akarpov87/catsync/internal/model"
	"github.com/akarpov87/catsync/internal/repository"
)

// ExclusionSet holds, per entity type, the IDs a user must never see.
// It is derived state: recomputed on demand, never persisted.
type ExclusionSet map[model.EntityType]map[string]struct{}

// IDs returns the excluded IDs of one type as a slice for the query builder.
func (e ExclusionSet) IDs(t model.EntityType) []string {
	set := e[t]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Contains reports whether the set excludes one ID.
func (e ExclusionSet) Contains(t model.EntityType, id string) bool {
	_, ok := e[t][id]
	return ok
}

// Exclusions computes per-user exclusion sets from explicit restriction
// rules, hierarchical cascade, and soft-deleted records.
type Exclusions struct {
	entities repository.EntityRepository
	users    repository.UserDataRepository
}

// NewExclusions constructs the computation service.
func NewExclusions(entities repository.EntityRepository, users repository.UserDataRepository) *Exclusions {
	return &Exclusions{entities: entities, users: users}
}

// ComputeForUser builds the full exclusion set for one user. Safe to call
// redundantly; callers cache the result per logical operation via Cache.
func (s *Exclusions) ComputeForUser(ctx context.Context, userID uuid.UUID) (ExclusionSet, error) {
	restricted, err := s.users.Restrictions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("exclusions for %s: restrictions: %w", userID, err)
	}

	out := make(ExclusionSet, len(model.SyncOrder))
	for _, t := range model.SyncOrder {
		set := make(map[string]struct{})
		for _, id := range restricted[t] {
			set[id] = struct{}{}
		}

		if t.Hierarchical() && len(set) > 0 {
			edges, err := s.entities.ChildEdges(ctx, t)
			if err != nil {
				return nil, fmt.Errorf("exclusions for %s: %s edges: %w", userID, t, err)
			}
			cascade(set, edges)
		}

		deleted, err := s.entities.ListSoftDeletedIDs(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("exclusions for %s: %s deleted: %w", userID, t, err)
		}
		for _, id := range deleted {
			set[id] = struct{}{}
		}
		out[t] = set
	}
	return out, nil
}

// cascade extends set with all transitive children of its members. The
// visited set doubles as cycle protection.
func cascade(set map[string]struct{}, edges map[string][]string) {
	queue := make([]string, 0, len(set))
	for id := range set {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range edges[id] {
			if _, seen := set[child]; seen {
				continue
			}
			set[child] = struct{}{}
			queue = append(queue, child)
		}
	}
}

// Cache memoizes exclusion sets for the lifetime of one logical operation
// (typically one incoming request). It must not be retained across
// operations: restriction rules can change between them.
type Cache struct {
	svc *Exclusions

	mu   sync.Mutex
	sets map[uuid.UUID]ExclusionSet
}

// NewCache creates a cache scoped to one operation.
func (s *Exclusions) NewCache() *Cache {
	return &Cache{svc: s, sets: make(map[uuid.UUID]ExclusionSet)}
}

// Get returns the cached set for a user, computing it on first use.
func (c *Cache) Get(ctx context.Context, userID uuid.UUID) (ExclusionSet, error) {
	c.mu.Lock()
	set, ok := c.sets[userID]
	c.mu.Unlock()
	if ok {
		return set, nil
	}

	set, err := c.svc.ComputeForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sets[userID] = set
	c.mu.Unlock()
	return set, nil
}
