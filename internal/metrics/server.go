package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ucb-seti/beespec"
)

// Server is the HTTP server for the session metrics.
type Server struct {
	addr   string
	path   string
	server *http.Server
}

// NewServer creates a metrics server on addr. The default path is /metrics.
func NewServer(addr, path string) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		addr: addr,
		path: path,
	}
}

// Start listens on the server address and serves m in the background.
func (s *Server) Start(m *Metrics) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	s.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle(s.path, m.Handler())
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	beespec.UpdateLogger.Printf("Serving metrics at http://%s%s", s.addr, s.path)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			beespec.ProblemLogger.Printf("metrics server error: %v", err)
		}
	}()
	return nil
}

// Addr is the address the server listens on, with the port resolved once started.
func (s *Server) Addr() string {
	return s.addr
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}
