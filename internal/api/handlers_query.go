package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/akarpov87/catsync/internal/query"
)

type queryRequest struct {
	SearchText string `json:"search_text"`
	Sort       string `json:"sort"`
	Descending bool   `json:"descending"`
	RandomSeed string `json:"random_seed"`
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
}

type queryItem struct {
	RemoteID   string          `json:"remote_id"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Attributes json.RawMessage `json:"attributes"`
}

// handleQuery serves exclusion-applied, paginated browse results. The
// exclusion set is computed once per request via a request-scoped cache and
// applied by the query builder.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	t, ok := pathEntityType(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown entity type"})
		return
	}
	userID, err := userFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing or invalid X-User-ID"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}

	cache := s.exclusions.NewCache() // lives for this request only
	set, err := cache.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	q, err := query.Build(t, query.FilterSpec{
		SearchText: req.SearchText,
		Sort:       req.Sort,
		Descending: req.Descending,
		RandomSeed: req.RandomSeed,
		Page:       req.Page,
		PerPage:    req.PerPage,
	}, set.IDs(t))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ents, err := s.entities.Search(r.Context(), q.SQL, q.Args)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]queryItem, 0, len(ents))
	for _, e := range ents {
		items = append(items, queryItem{
			RemoteID:   e.RemoteID,
			UpdatedAt:  e.UpdatedAt,
			Attributes: e.Attributes,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": t.String(), "items": items})
}
