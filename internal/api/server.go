// Package api exposes the HTTP boundary: sync triggers for the scheduler,
// the administrative reconciliation interface, and exclusion-applied queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
	"github.com/akarpov87/catsync/internal/repository"
	"github.com/akarpov87/catsync/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	baseCtx    context.Context // parent of background sync runs
	orch       *service.Orchestrator
	reconciler *service.Reconciler
	exclusions *service.Exclusions
	entities   repository.EntityRepository
	merges     repository.MergeRepository
	states     repository.SyncStateRepository
	userdata   repository.UserDataRepository
	instanceID string
	log        *zap.Logger
}

// New constructs the HTTP server facade.
func New(
	baseCtx context.Context,
	orch *service.Orchestrator,
	reconciler *service.Reconciler,
	exclusions *service.Exclusions,
	entities repository.EntityRepository,
	merges repository.MergeRepository,
	states repository.SyncStateRepository,
	userdata repository.UserDataRepository,
	instanceID string,
	log *zap.Logger,
) *Server {
	return &Server{
		baseCtx:    baseCtx,
		orch:       orch,
		reconciler: reconciler,
		exclusions: exclusions,
		entities:   entities,
		merges:     merges,
		states:     states,
		userdata:   userdata,
		instanceID: instanceID,
		log:        log,
	}
}

// Router builds the chi route tree with logging and recovery middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))

	r.Route("/api", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Post("/incremental", s.handleRunIncremental)
			r.Post("/full", s.handleRunFull)
			r.Post("/cancel", s.handleCancel)
			r.Get("/status", s.handleStatus)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/orphaned/{type}", s.handleOrphaned)
			r.Get("/candidates/{type}/{id}", s.handleCandidates)
			r.Post("/reconcile", s.handleReconcile)
			r.Post("/discard", s.handleDiscard)
			r.Post("/sync-state/{type}/reset", s.handleResetState)
		})

		r.Route("/user", func(r chi.Router) {
			r.Post("/play", s.handleRecordPlay)
			r.Post("/rating", s.handleSetRating)
			r.Post("/favorite", s.handleSetFavorite)
			r.Post("/restriction", s.handleAddRestriction)
			r.Delete("/restriction", s.handleRemoveRestriction)
		})

		r.Post("/{type}/query", s.handleQuery)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps sentinel errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, errs.ErrAlreadyRunning), errors.Is(err, errs.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, errs.ErrSourceNotDeleted), errors.Is(err, errs.ErrTargetDeleted):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// pathEntityType parses the {type} URL parameter.
func pathEntityType(r *http.Request) (model.EntityType, bool) {
	return model.ParseEntityType(chi.URLParam(r, "type"))
}

// userFromRequest extracts the user context the query consumer must supply.
// Authentication itself is an external concern.
func userFromRequest(r *http.Request) (uuid.UUID, error) {
	return uuid.FromString(r.Header.Get("X-User-ID"))
}
