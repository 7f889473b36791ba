package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/api"
	"github.com/matheus3301/wadesk/internal/config"
)

// Server manages the daemon's HTTP listener lifecycle.
type Server struct {
	httpServer *http.Server
	addr       string
	logger     *zap.Logger
}

// NewServer creates the HTTP server bound to the configured listen address.
func NewServer(cfg *config.Config, apiSrv *api.Server, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           apiSrv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   cfg.ListenAddr,
		logger: logger,
	}
}

// Start binds the listener and begins serving in the background. A bind
// failure is reported synchronously so startup can abort.
func (s *Server) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.addr = listener.Addr().String()
	s.logger.Info("http server starting", zap.String("addr", s.addr))

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown error", zap.Error(err))
		_ = s.httpServer.Close()
	}
}
