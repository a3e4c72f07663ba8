package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/nfs4client/internal/logger"
)

// Server exposes a Prometheus gatherer over HTTP at /metrics.
type Server struct {
	server       *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
}

// NewServer listens on addr (":9090", "127.0.0.1:0") and serves g. The
// listener is bound immediately so Addr is valid before Serve runs.
func NewServer(addr string, g prometheus.Gatherer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	return &Server{
		listener: ln,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", s.Addr())
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if err = s.server.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown", logger.Err(err))
		}
	})
	return err
}
