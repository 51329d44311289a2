package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/akarpov87/catsync/internal/model"
)

type userEntityRequest struct {
	EntityType string     `json:"entity_type"`
	RemoteID   string     `json:"remote_id"`
	At         *time.Time `json:"at,omitempty"`
	Resume     float64    `json:"resume,omitempty"`
	Rating     *int       `json:"rating,omitempty"`
	Favorite   *bool      `json:"favorite,omitempty"`
}

func (s *Server) decodeUserEntity(w http.ResponseWriter, r *http.Request) (userEntityRequest, model.EntityType, bool) {
	var req userEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return req, 0, false
	}
	t, ok := model.ParseEntityType(req.EntityType)
	if !ok || req.RemoteID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "entity_type and remote_id are required"})
		return req, 0, false
	}
	return req, t, true
}

func (s *Server) handleRecordPlay(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing or invalid X-User-ID"})
		return
	}
	req, t, ok := s.decodeUserEntity(w, r)
	if !ok {
		return
	}
	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}
	if err := s.userdata.RecordPlay(r.Context(), userID, t, req.RemoteID, at, req.Resume); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleSetRating(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing or invalid X-User-ID"})
		return
	}
	req, t, ok := s.decodeUserEntity(w, r)
	if !ok {
		return
	}
	if req.Rating != nil && (*req.Rating < 0 || *req.Rating > 100) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "rating must be 0..100"})
		return
	}
	if err := s.userdata.SetRating(r.Context(), userID, t, req.RemoteID, req.Rating); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetFavorite(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing or invalid X-User-ID"})
		return
	}
	req, t, ok := s.decodeUserEntity(w, r)
	if !ok {
		return
	}
	fav := false
	if req.Favorite != nil {
		fav = *req.Favorite
	}
	if err := s.userdata.SetFavorite(r.Context(), userID, t, req.RemoteID, fav); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddRestriction(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing or invalid X-User-ID"})
		return
	}
	req, t, ok := s.decodeUserEntity(w, r)
	if !ok {
		return
	}
	if err := s.userdata.AddRestriction(r.Context(), userID, t, req.RemoteID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRemoveRestriction(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing or invalid X-User-ID"})
		return
	}
	req, t, ok := s.decodeUserEntity(w, r)
	if !ok {
		return
	}
	if err := s.userdata.RemoveRestriction(r.Context(), userID, t, req.RemoteID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
