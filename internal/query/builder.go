// Package query builds bounded, parameterized entity queries that apply
// per-user exclusion sets of arbitrary size.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/akarpov87/catsync/internal/model"
)

// ChunkSize is the number of IDs per exclusion predicate, chosen
// conservatively below Postgres's 65535 bind-parameter ceiling so filter
// parameters always fit alongside the chunks.
const ChunkSize = 1000

// Sortable field names accepted in a FilterSpec.
const (
	SortUpdatedAt = "updated_at"
	SortRemoteID  = "remote_id"
	SortRandom    = "random"
)

// FilterSpec is a consumer-supplied filter for one entity type.
type FilterSpec struct {
	SearchText string
	Sort       string // one of the Sort* constants; empty means updated_at
	Descending bool
	RandomSeed string // required when Sort == SortRandom
	Page       int    // 1-based
	PerPage    int
}

// ExecutableQuery is a fully parameterized statement ready for execution.
type ExecutableQuery struct {
	SQL  string
	Args []any
}

const selectColumns = `entity_type, remote_id, attributes, stash_updated_at, deleted_at, fingerprints`

// Build translates a filter plus an exclusion set into one executable query.
// The exclusion set is partitioned into fixed-size NOT IN chunks combined
// with AND: a row is admitted only when absent from every chunk, which is
// equivalent to absence from the whole set. An empty set emits no exclusion
// clause at all.
func Build(t model.EntityType, spec FilterSpec, excluded []string) (ExecutableQuery, error) {
	if !t.Valid() {
		return ExecutableQuery{}, fmt.Errorf("query: invalid entity type %d", int(t))
	}
	if spec.Sort == "" {
		spec.Sort = SortUpdatedAt
	}
	switch spec.Sort {
	case SortUpdatedAt, SortRemoteID, SortRandom:
	default:
		return ExecutableQuery{}, fmt.Errorf("query: unknown sort %q", spec.Sort)
	}
	if spec.Sort == SortRandom && spec.RandomSeed == "" {
		return ExecutableQuery{}, fmt.Errorf("query: random sort requires a seed")
	}
	if spec.Page < 1 {
		spec.Page = 1
	}
	if spec.PerPage < 1 || spec.PerPage > 1000 {
		spec.PerPage = 40
	}

	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString("SELECT ")
	sb.WriteString(selectColumns)
	sb.WriteString(" FROM entities WHERE entity_type=")
	sb.WriteString(arg(t.String()))
	sb.WriteString(" AND deleted_at IS NULL")

	if s := strings.TrimSpace(spec.SearchText); s != "" {
		sb.WriteString(" AND attributes::text ILIKE ")
		sb.WriteString(arg("%" + escapeLike(s) + "%"))
	}

	for _, chunk := range chunkIDs(excluded, ChunkSize) {
		sb.WriteString(" AND remote_id NOT IN (")
		for i, id := range chunk {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(arg(id))
		}
		sb.WriteString(")")
	}

	dir := " ASC"
	if spec.Descending {
		dir = " DESC"
	}
	switch spec.Sort {
	case SortRandom:
		// A pure function of seed and primary key: identical (filter, seed,
		// page) yields identical pages regardless of unrelated data churn.
		sb.WriteString(" ORDER BY md5(")
		sb.WriteString(arg(spec.RandomSeed))
		sb.WriteString(" || remote_id), remote_id")
	case SortRemoteID:
		sb.WriteString(" ORDER BY remote_id" + dir)
	default:
		sb.WriteString(" ORDER BY stash_updated_at" + dir + ", remote_id ASC")
	}

	sb.WriteString(" LIMIT ")
	sb.WriteString(arg(spec.PerPage))
	sb.WriteString(" OFFSET ")
	sb.WriteString(arg((spec.Page - 1) * spec.PerPage))

	return ExecutableQuery{SQL: sb.String(), Args: args}, nil
}

// chunkIDs partitions ids into slices of at most size elements. The input is
// copied and sorted so chunk boundaries are stable for identical sets.
func chunkIDs(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	var chunks [][]string
	for start := 0; start < len(sorted); start += size {
		end := start + size
		if end > len(sorted) {
			end = len(sorted)
		}
		chunks = append(chunks, sorted[start:end])
	}
	return chunks
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
