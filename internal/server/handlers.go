package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/hallpass/internal/friction"
	"github.com/ppiankov/hallpass/internal/gatekeeper"
	"github.com/ppiankov/hallpass/internal/logging"
	"github.com/ppiankov/hallpass/internal/store"
)

const maxBodyBytes = 64 << 10

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Now              int64             `json:"now"`
	PassActive       bool              `json:"pass_active"`
	PassExpiresAt    int64             `json:"pass_expires_at"`
	RemainingSeconds int64             `json:"remaining_seconds"`
	Settings         store.Settings    `json:"settings"`
	VisitCounts      store.VisitCounts `json:"visit_counts"`
	Sessions         int               `json:"sessions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type openSessionRequest struct {
	Target string `json:"target"`
}

type inputRequest struct {
	Text string `json:"text"`
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

type confirmResponse struct {
	Grant friction.Grant `json:"grant"`
	View  friction.View  `json:"view"`
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	var ev gatekeeper.NavigationEvent
	if !decodeJSON(w, r, &ev) {
		return
	}
	d, err := s.cfg.Gatekeeper.OnNavigationComplete(r.Context(), ev)
	if err != nil {
		// the decision still tells the bridge what to do
		logging.FromContext(r.Context(), s.logger).Warn("navigator failed", "tab_id", ev.TabID, "error", err)
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Gatekeeper.Check(r.Context(), u))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Grants.Snapshot(r.Context())
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("status read degraded", "error", err)
	}
	now := s.cfg.Now()
	writeJSON(w, http.StatusOK, StatusResponse{
		Now:              now.UnixMilli(),
		PassActive:       snap.Pass.Active(now),
		PassExpiresAt:    snap.Pass.ExpiresAt,
		RemainingSeconds: int64(snap.Pass.Remaining(now) / time.Second),
		Settings:         snap.Settings,
		VisitCounts:      snap.VisitCounts,
		Sessions:         s.cfg.Engine.Len(),
	})
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.cfg.Engine.Open(r.Context(), req.Target)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.cfg.Engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.cfg.Engine.Close(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProceed(w http.ResponseWriter, r *http.Request) {
	s.writeView(w, r)(s.cfg.Engine.Proceed(chi.URLParam(r, "id")))
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.writeView(w, r)(s.cfg.Engine.Input(chi.URLParam(r, "id"), req.Text))
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if !req.Hidden {
		sess, err := s.cfg.Engine.Get(id)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.View())
		return
	}
	s.writeView(w, r)(s.cfg.Engine.VisibilityHidden(id))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	grant, err := s.cfg.Engine.Confirm(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var view friction.View
	if sess, err := s.cfg.Engine.Get(id); err == nil {
		view = sess.View()
	}
	writeJSON(w, http.StatusOK, confirmResponse{Grant: grant, View: view})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	s.writeView(w, r)(s.cfg.Engine.Decline(chi.URLParam(r, "id")))
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.writeView(w, r)(s.cfg.Engine.Abort(chi.URLParam(r, "id")))
}

// writeView returns a sink for the (View, error) pair every engine event returns.
func (s *Server) writeView(w http.ResponseWriter, r *http.Request) func(friction.View, error) {
	return func(v friction.View, err error) {
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, friction.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, friction.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logging.FromContext(r.Context(), s.logger).Error("session operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
