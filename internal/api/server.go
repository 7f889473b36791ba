package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/apperr"
	"github.com/matheus3301/wadesk/internal/bus"
	"github.com/matheus3301/wadesk/internal/store"
)

// Controller is the session lifecycle surface the API drives.
// Implemented by the session manager.
type Controller interface {
	Start(ctx context.Context, ownerID, sessionID string) (*store.Session, error)
	Stop(ctx context.Context, ownerID, sessionID string) (*store.Session, error)
	Send(ctx context.Context, ownerID, sessionID, toAddress, kind, content string) (*store.Message, error)
	Delete(ctx context.Context, ownerID, sessionID string) error
}

// Server is the HTTP surface of the daemon.
type Server struct {
	db     *store.DB
	ctrl   Controller
	bus    *bus.Bus
	logger *zap.Logger
}

// NewServer creates the API server.
func NewServer(db *store.DB, ctrl Controller, b *bus.Bus, logger *zap.Logger) *Server {
	return &Server{db: db, ctrl: ctrl, bus: b, logger: logger}
}

// Router builds the HTTP route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireOwner)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/commands", s.handleSessionCommand)
				r.Get("/conversations", s.handleListConversations)
				r.Post("/messages", s.handleSendMessage)
				r.Get("/events", s.handleEvents)
			})
		})

		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/messages", s.handleListMessages)
			r.Post("/read", s.handleMarkRead)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ctxKey int

const ownerKey ctxKey = 0

// requireOwner extracts the tenant identity from the X-Owner-ID header.
// The daemon trusts its caller (the dashboard backend) to authenticate
// end users; the header only scopes data access.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-Owner-ID")
		if owner == "" {
			s.writeError(w, r, apperr.Validation("missing X-Owner-ID header"))
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerID(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
