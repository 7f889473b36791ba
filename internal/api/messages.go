package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/matheus3301/wadesk/internal/apperr"
	"github.com/matheus3301/wadesk/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// GET /v1/sessions/{sessionID}/conversations
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	// Ownership check doubles as existence check.
	session, err := s.db.GetSession(r.Context(), chi.URLParam(r, "sessionID"), ownerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	convs, err := s.db.ListConversations(r.Context(), session.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// GET /v1/conversations/{conversationID}/messages
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	afterSentAt, afterSeq, err := parseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))

	msgs, err := s.db.ListMessages(r.Context(), conv.ID, afterSentAt, afterSeq, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := map[string]any{"messages": msgs}
	if len(msgs) == limit {
		last := msgs[len(msgs)-1]
		resp["nextCursor"] = fmt.Sprintf("%d:%d", last.SentAt, last.IngestSeq)
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /v1/conversations/{conversationID}/read
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.db.MarkConversationRead(r.Context(), conv.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// POST /v1/sessions/{sessionID}/messages
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Kind == "" {
		req.Kind = store.KindText
	}
	if !store.ValidKind(req.Kind) {
		s.writeError(w, r, apperr.Validation("unsupported message kind"))
		return
	}
	if strings.TrimSpace(req.To) == "" {
		s.writeError(w, r, apperr.Validation("to is required"))
		return
	}
	if req.Kind == store.KindText && strings.TrimSpace(req.Text) == "" {
		s.writeError(w, r, apperr.Validation("text is required"))
		return
	}

	msg, err := s.ctrl.Send(r.Context(), ownerID(r), chi.URLParam(r, "sessionID"), req.To, req.Kind, req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// The row is durably recorded; delivery continues asynchronously.
	writeJSON(w, http.StatusCreated, msg)
}

// ownedConversation resolves the conversation in the URL and verifies it
// belongs to a session the caller owns. Cross-tenant lookups surface as
// not found, never as forbidden.
func (s *Server) ownedConversation(r *http.Request) (*store.Conversation, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil {
		return nil, apperr.Validation("invalid conversation id")
	}
	conv, err := s.db.GetConversation(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.GetSession(r.Context(), conv.SessionID, ownerID(r)); err != nil {
		return nil, apperr.NotFound("conversation")
	}
	return conv, nil
}

// parseCursor decodes the "sentAt:ingestSeq" keyset cursor. An empty
// cursor means start from the beginning.
func parseCursor(raw string) (sentAt, seq int64, err error) {
	if raw == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, 0, apperr.Validation("invalid cursor")
	}
	sentAt, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, apperr.Validation("invalid cursor")
	}
	seq, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, apperr.Validation("invalid cursor")
	}
	return sentAt, seq, nil
}

func parseLimit(raw string) int {
	limit, _ := strconv.Atoi(raw)
	if limit <= 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}
