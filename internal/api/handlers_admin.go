package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akarpov87/catsync/internal/model"
)

// handleOrphaned lists soft-deleted entities that still hold user data.
func (s *Server) handleOrphaned(w http.ResponseWriter, r *http.Request) {
	t, ok := pathEntityType(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown entity type"})
		return
	}
	ids, err := s.merges.ListOrphaned(r.Context(), t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": t.String(), "ids": ids})
}

type candidateItem struct {
	RemoteID     string          `json:"remote_id"`
	UpdatedAt    string          `json:"updated_at"`
	Fingerprints []string        `json:"fingerprints"`
	Attributes   json.RawMessage `json:"attributes"`
}

// handleCandidates lists fingerprint matches for a soft-deleted entity.
func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	t, ok := pathEntityType(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown entity type"})
		return
	}
	matches, err := s.reconciler.Candidates(r.Context(), t, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]candidateItem, 0, len(matches))
	for _, m := range matches {
		out = append(out, candidateItem{
			RemoteID:     m.RemoteID,
			UpdatedAt:    m.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Fingerprints: m.Fingerprints,
			Attributes:   m.Attributes,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
}

type reconcileRequest struct {
	EntityType string `json:"entity_type"`
	SourceID   string `json:"source_id"`
	TargetID   string `json:"target_id"`
}

// handleReconcile triggers manual reconciliation against an explicit target.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	t, ok := model.ParseEntityType(req.EntityType)
	if !ok || req.SourceID == "" || req.TargetID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "entity_type, source_id and target_id are required"})
		return
	}
	outcome, err := s.reconciler.ReconcileTo(r.Context(), t, req.SourceID, req.TargetID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matched":   outcome.Matched,
		"target_id": outcome.TargetID,
		"transfers": len(outcome.Transfers),
	})
}

type discardRequest struct {
	EntityType string `json:"entity_type"`
	RemoteID   string `json:"remote_id"`
}

// handleDiscard drops orphaned user data that will never be reconciled.
func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	var req discardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	t, ok := model.ParseEntityType(req.EntityType)
	if !ok || req.RemoteID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "entity_type and remote_id are required"})
		return
	}
	if err := s.merges.DiscardUserData(r.Context(), t, req.RemoteID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}
