package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/matheus3301/wadesk/internal/apperr"
)

const maxSessionNameLen = 64

type createSessionRequest struct {
	Name string `json:"name"`
}

// POST /v1/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.writeError(w, r, apperr.Validation("name is required"))
		return
	}
	if len(name) > maxSessionNameLen {
		s.writeError(w, r, apperr.Validation("name is too long"))
		return
	}

	session, err := s.db.CreateSession(r.Context(), ownerID(r), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// GET /v1/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.db.ListSessions(r.Context(), ownerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GET /v1/sessions/{sessionID}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.db.GetSession(r.Context(), chi.URLParam(r, "sessionID"), ownerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type sessionCommandRequest struct {
	Action string `json:"action"`
}

// POST /v1/sessions/{sessionID}/commands
func (s *Server) handleSessionCommand(w http.ResponseWriter, r *http.Request) {
	var req sessionCommandRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	owner := ownerID(r)

	switch req.Action {
	case "start":
		session, err := s.ctrl.Start(r.Context(), owner, sessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case "stop":
		session, err := s.ctrl.Stop(r.Context(), owner, sessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	default:
		s.writeError(w, r, apperr.Validation("action must be start or stop"))
	}
}

// DELETE /v1/sessions/{sessionID}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Delete(r.Context(), ownerID(r), chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
