package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dsj7419/qa-doc-convert/internal/auth"
	"github.com/dsj7419/qa-doc-convert/internal/dataset"
	"github.com/dsj7419/qa-doc-convert/internal/events"
	"github.com/dsj7419/qa-doc-convert/internal/history"
	"github.com/dsj7419/qa-doc-convert/internal/training"
)

// Controller is the part of the training orchestrator the API drives.
type Controller interface {
	Status() training.Status
	NeedsTraining() bool
	Stats() dataset.Stats
	HasEnoughData() bool
	AddExample(text string, role dataset.Role, source dataset.Source) (bool, error)
	Collect(items []dataset.LabeledItem, report func(string)) (dataset.CollectResult, error)
	Start(ctx context.Context, so training.StartOptions) (bool, error)
	StopGracefully(timeout time.Duration) training.StopOutcome
	Reset() error
}

// RunLister reads recorded training runs.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
	Get(ctx context.Context, id string) (*history.Run, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token. With no APIKey and no Tokens the
	// API is unauthenticated.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// StopTimeout is used when a stop request names no timeout.
	StopTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	ctl       Controller
	runs      RunLister
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, ctl Controller, runs RunLister, hub *events.Hub, logger *slog.Logger) *Server {
	if config.StopTimeout <= 0 {
		config.StopTimeout = 30 * time.Second
	}
	return &Server{
		config:    config,
		ctl:       ctl,
		runs:      runs,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.authEnabled())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler. Start serves it; tests use it directly.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeTrainingRO)).Get("/status", s.handleStatus)
		r.With(s.requireScopes(auth.ScopeTrainingRO)).Get("/runs", s.handleListRuns)
		r.With(s.requireScopes(auth.ScopeTrainingRO)).Get("/runs/{runID}", s.handleGetRun)
		r.With(s.requireScopes(auth.ScopeTrainingRW)).Post("/training/start", s.handleStart)
		r.With(s.requireScopes(auth.ScopeTrainingRW)).Post("/training/stop", s.handleStop)
		r.With(s.requireScopes(auth.ScopeTrainingRW, auth.ScopeDatasetRW)).Post("/training/reset", s.handleReset)

		r.With(s.requireScopes(auth.ScopeDatasetRO)).Get("/stats", s.handleStats)
		r.With(s.requireScopes(auth.ScopeDatasetRW)).Post("/examples", s.handleAddExample)
		r.With(s.requireScopes(auth.ScopeDatasetRW)).Post("/examples/collect", s.handleCollect)

		r.With(s.requireScopes(auth.ScopeEventsRO, auth.ScopeTrainingRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
