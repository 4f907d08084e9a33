package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/pkg/api/handlers"
)

// shutdownGrace bounds the graceful shutdown after the serving context ends.
const shutdownGrace = 5 * time.Second

// Server is the status HTTP server of a producer or consumer. Routes are
// listed on NewRouter.
type Server struct {
	http   *http.Server
	config APIConfig
}

// NewServer creates a stopped server. Metrics must be initialized before
// NewServer for /metrics to serve them.
func NewServer(config APIConfig, service string, source handlers.Source) *Server {
	config.ApplyDefaults()
	return &Server{
		config: config,
		http: &http.Server{
			Addr:              config.Addr(),
			Handler:           NewRouter(service, source),
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
		},
	}
}

// Start listens on the configured address and serves until ctx ends, then
// shuts down gracefully and returns nil.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("API server failed to listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger.Info("API server listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.http.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	// ctx is already done; shutdown gets its own deadline.
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	logger.Info("API server stopped")
	return nil
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}
