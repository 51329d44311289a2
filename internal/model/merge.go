package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
)

// WatchHistory is the per-(user, entity) viewing record.
type WatchHistory struct {
	UserID     uuid.UUID
	EntityType EntityType
	RemoteID   string
	PlayCount  int
	// PlayHistory is an append-only sequence of play timestamps, kept
	// sorted ascending and de-duplicated.
	PlayHistory    []time.Time
	ResumePosition float64 // seconds into the media
	LastPlayedAt   *time.Time
}

// Rating is the per-(user, entity) rating and favorite flag.
type Rating struct {
	UserID     uuid.UUID
	EntityType EntityType
	RemoteID   string
	Rating     *int // 0..100, nil when unset
	Favorite   bool
}

// PlaylistItem is one playlist membership row. At most one row per
// (playlist, entity) pair.
type PlaylistItem struct {
	PlaylistID uuid.UUID
	UserID     uuid.UUID
	EntityType EntityType
	RemoteID   string
}

// MergeRecord is the immutable audit row written once per completed
// (source, target, user) transfer. Fingerprint is nil for manual
// reconciliations done without a fingerprint link.
type MergeRecord struct {
	ID          uuid.UUID
	EntityType  EntityType
	SourceID    string
	TargetID    string
	Fingerprint *string
	UserID      uuid.UUID
	Transferred json.RawMessage // pre-transfer source values snapshot
	Automatic   bool
	CreatedAt   time.Time
}

// TransferSnapshot is the marshalled form of MergeRecord.Transferred.
type TransferSnapshot struct {
	PlayCount      int        `json:"play_count,omitempty"`
	PlayEvents     int        `json:"play_events,omitempty"`
	ResumePosition float64    `json:"resume_position,omitempty"`
	LastPlayedAt   *time.Time `json:"last_played_at,omitempty"`
	Rating         *int       `json:"rating,omitempty"`
	Favorite       bool       `json:"favorite,omitempty"`
	PlaylistRows   int        `json:"playlist_rows,omitempty"`
}

// MergeWatchHistory folds a source watch record into the target according to
// the transfer laws: counts sum, histories union (sorted, de-duplicated),
// the target's resume position wins, the later last-played wins.
func MergeWatchHistory(target, source WatchHistory) WatchHistory {
	out := target
	out.PlayCount = target.PlayCount + source.PlayCount
	out.PlayHistory = MergePlayHistory(target.PlayHistory, source.PlayHistory)
	if source.LastPlayedAt != nil &&
		(target.LastPlayedAt == nil || source.LastPlayedAt.After(*target.LastPlayedAt)) {
		out.LastPlayedAt = source.LastPlayedAt
	}
	return out
}

// MergePlayHistory unions two timestamp sequences, sorted ascending and
// de-duplicated by instant.
func MergePlayHistory(a, b []time.Time) []time.Time {
	merged := make([]time.Time, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Before(merged[j]) })
	out := merged[:0]
	for _, ts := range merged {
		if len(out) == 0 || !out[len(out)-1].Equal(ts) {
			out = append(out, ts)
		}
	}
	return out
}

// MergeRating folds a source rating into the target: an existing target
// rating wins, favorite is a logical OR.
func MergeRating(target, source Rating) Rating {
	out := target
	if out.Rating == nil {
		out.Rating = source.Rating
	}
	out.Favorite = target.Favorite || source.Favorite
	return out
}
