package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loghaven/loghaven/pkg/config"
	"github.com/loghaven/loghaven/pkg/retention"
)

// Server is the HTTP API server. It exposes the cleanup engine's manual
// trigger, dry-run preview, and run history, plus health and metrics
// endpoints. Log ingestion, querying, and the UI are served elsewhere.
type Server struct {
	config      *config.ServerConfig
	coordinator *retention.Coordinator
	previewer   *retention.Previewer
	registry    *prometheus.Registry
	logger      *slog.Logger

	httpServer *http.Server
	mu         sync.Mutex
	running    bool
}

// NewServer creates the API server. registry may be nil to disable the
// metrics endpoint.
func NewServer(cfg *config.ServerConfig, coordinator *retention.Coordinator, previewer *retention.Previewer, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:      cfg,
		coordinator: coordinator,
		previewer:   previewer,
		registry:    registry,
		logger:      logger.With("component", "server"),
	}
}

// Start starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.routes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// routes builds the request mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/cleanup", s.handleRunCleanup)
	mux.HandleFunc("GET /api/v1/cleanup/preview", s.handlePreview)
	mux.HandleFunc("GET /api/v1/cleanup/runs", s.handleListRuns)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return s.logRequests(mux)
}

// logRequests is the access-log middleware.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
		)
	})
}
