package api

import (
	"net/http"

	"github.com/akarpov87/catsync/internal/model"
)

// startRun launches a detached run; the response does not wait for it. The
// single-flight slot is taken before responding, so of two simultaneous
// starts exactly one gets 202 and the other the conflict.
func (s *Server) startRun(w http.ResponseWriter, mode model.SyncMode) {
	if err := s.orch.Start(s.baseCtx, mode); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "mode": mode.String()})
}

func (s *Server) handleRunIncremental(w http.ResponseWriter, _ *http.Request) {
	s.startRun(w, model.SyncIncremental)
}

func (s *Server) handleRunFull(w http.ResponseWriter, _ *http.Request) {
	s.startRun(w, model.SyncFull)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.orch.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

type statusResponse struct {
	State      string           `json:"state"`
	LastReport *model.RunReport `json:"last_report,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state, last := s.orch.Status()
	writeJSON(w, http.StatusOK, statusResponse{State: state.String(), LastReport: last})
}

func (s *Server) handleResetState(w http.ResponseWriter, r *http.Request) {
	t, ok := pathEntityType(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown entity type"})
		return
	}
	if err := s.states.Reset(r.Context(), s.instanceID, t); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "type": t.String()})
}
