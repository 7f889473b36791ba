package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/apperr"
	"github.com/matheus3301/wadesk/internal/bus"
)

const sseHeartbeat = 25 * time.Second

// GET /v1/sessions/{sessionID}/events
//
// Streams the session's lifecycle and message events as server-sent
// events. The event name is the bus kind; the data is the bus payload
// as JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	session, err := s.db.GetSession(r.Context(), chi.URLParam(r, "sessionID"), ownerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, apperr.Internal("streaming not supported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsub := s.bus.SubscribeSession("", session.ID, 64)
	defer unsub()

	s.logger.Debug("event stream opened", zap.String("session_id", session.ID))

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream closed", zap.String("session_id", session.ID))
			return
		case evt := <-events:
			if err := writeSSE(w, flusher, evt); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, evt bus.Event) error {
	data, err := json.Marshal(map[string]any{
		"sessionId": evt.SessionID,
		"timestamp": evt.Timestamp.UnixMilli(),
		"payload":   evt.Payload,
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
