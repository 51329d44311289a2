// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"time"
)

// EntityType identifies one kind of catalog record. The set is closed:
// per-type behavior is selected through the descriptor table below, never
// through string comparison on user input.
type EntityType int

const (
	TypeTag EntityType = iota
	TypeStudio
	TypePerformer
	TypeGroup
	TypeGallery
	TypeScene
	TypeImage
)

// SyncOrder lists entity types in dependency order: later types' filters and
// denormalized fields rely on earlier types already being present locally.
var SyncOrder = []EntityType{
	TypeTag, TypeStudio, TypePerformer, TypeGroup, TypeGallery, TypeScene, TypeImage,
}

// typeDescriptor carries the per-variant capabilities of an entity type.
type typeDescriptor struct {
	name         string // storage key and log label
	queryField   string // remote GraphQL query name ("findScenes", ...)
	resultField  string // field holding the page payload ("scenes", ...)
	fingerprints bool   // scene-like: carries content fingerprints
	hierarchical bool   // participates in parent/child exclusion cascade
}

var descriptors = map[EntityType]typeDescriptor{
	TypeTag:       {name: "tag", queryField: "findTags", resultField: "tags", hierarchical: true},
	TypeStudio:    {name: "studio", queryField: "findStudios", resultField: "studios", hierarchical: true},
	TypePerformer: {name: "performer", queryField: "findPerformers", resultField: "performers"},
	TypeGroup:     {name: "group", queryField: "findGroups", resultField: "groups", hierarchical: true},
	TypeGallery:   {name: "gallery", queryField: "findGalleries", resultField: "galleries"},
	TypeScene:     {name: "scene", queryField: "findScenes", resultField: "scenes", fingerprints: true},
	TypeImage:     {name: "image", queryField: "findImages", resultField: "images"},
}

// String returns the storage name of the type ("scene", "performer", ...).
func (t EntityType) String() string { return descriptors[t].name }

// QueryField returns the remote find-query name for the type.
func (t EntityType) QueryField() string { return descriptors[t].queryField }

// ResultField returns the payload field name inside the find-query result.
func (t EntityType) ResultField() string { return descriptors[t].resultField }

// HasFingerprints reports whether records of this type carry content fingerprints.
func (t EntityType) HasFingerprints() bool { return descriptors[t].fingerprints }

// Hierarchical reports whether this type has parent/child links subject to
// exclusion cascade.
func (t EntityType) Hierarchical() bool { return descriptors[t].hierarchical }

// Valid reports whether t is a member of the closed set.
func (t EntityType) Valid() bool { _, ok := descriptors[t]; return ok }

// ParseEntityType maps a storage name back to its EntityType.
func ParseEntityType(s string) (EntityType, bool) {
	for t, d := range descriptors {
		if d.name == s {
			return t, true
		}
	}
	return 0, false
}

// Entity is one mirrored catalog record. RemoteID is assigned by the source
// and is stable across the record's lifetime, including local soft-deletion.
type Entity struct {
	Type         EntityType
	RemoteID     string
	Attributes   json.RawMessage // type-specific payload, stored as-is
	UpdatedAt    time.Time       // upstream mutation timestamp
	DeletedAt    *time.Time      // local soft-delete marker
	Fingerprints []string        // scene-like only
	ParentIDs    []string        // hierarchy edges (tags, studios, groups)
}

// SyncMode selects between a full pass and a delta pass.
type SyncMode int

const (
	SyncFull SyncMode = iota
	SyncIncremental
)

func (m SyncMode) String() string {
	if m == SyncFull {
		return "full"
	}
	return "incremental"
}

// SyncState holds the per-(instance, type) sync timestamps. The two
// timestamps are independent per type; no type's sync may consult another's.
type SyncState struct {
	InstanceID          string
	EntityType          EntityType
	LastFullSync        *time.Time
	LastIncrementalSync *time.Time
}

// Since returns the timestamp an incremental pass of this type must use:
// the later of the two recorded syncs, or nil when the type was never synced.
func (s SyncState) Since() *time.Time {
	switch {
	case s.LastFullSync == nil:
		return s.LastIncrementalSync
	case s.LastIncrementalSync == nil:
		return s.LastFullSync
	case s.LastIncrementalSync.After(*s.LastFullSync):
		return s.LastIncrementalSync
	default:
		return s.LastFullSync
	}
}

// SyncResult reports one entity type's sync pass.
type SyncResult struct {
	EntityType EntityType
	Mode       SyncMode
	Created    int
	Updated    int
	Scanned    int
	Duration   time.Duration
}

// CleanupResult reports one entity type's cleanup pass.
type CleanupResult struct {
	EntityType  EntityType
	Candidates  int
	Reconciled  int
	SoftDeleted int
}

// RunState is the orchestrator's lifecycle state.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunCompleted
	RunFailed
	RunCancelled
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RunReport aggregates a whole orchestrator run. A run with any per-type
// error is reported failed even though the remaining types were attempted.
type RunReport struct {
	InstanceID string
	Mode       SyncMode
	StartedAt  time.Time
	FinishedAt time.Time
	Sync       []SyncResult
	Cleanup    []CleanupResult
	TypeErrors map[string]string // entity type name -> error text
}

// Failed reports whether any entity type failed during the run.
func (r RunReport) Failed() bool { return len(r.TypeErrors) > 0 }
