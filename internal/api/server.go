package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/previewd/internal/auth"
	"github.com/mattjoyce/previewd/internal/engine"
	"github.com/mattjoyce/previewd/internal/events"
	"github.com/mattjoyce/previewd/internal/storage"
	"github.com/mattjoyce/previewd/internal/store"
)

// BuildService defines the engine operations the API server drives.
type BuildService interface {
	Build(ctx context.Context, req engine.Request) (*engine.Result, error)
	Inspect(ctx context.Context, id string) (*store.Record, error)
	List(ctx context.Context, limit int) ([]store.Record, error)
	PreviewRoot(ctx context.Context, id string) (string, error)
	DestroyWorkspace(ctx context.Context, id string) error
}

// DiskService reports usage of the workspace volume.
type DiskService interface {
	Snapshot() (*storage.DiskSnapshot, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// Tokens is the list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxDiskUsagePercent is echoed in disk responses so clients can see
	// how close the volume is to the admission ceiling.
	MaxDiskUsagePercent int
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	builds    BuildService
	disk      DiskService
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server instance.
func New(config Config, builds BuildService, disk DiskService, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		builds:    builds,
		disk:      disk,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.config.Listen,
		Handler: router,
		// Build submissions stage files and run toolchains inline, so the
		// write timeout must cover install plus build budgets.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

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

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Preview links are shared with reviewers, so artifact serving is
	// unauthenticated like the health check.
	r.Get("/previews/{workspaceID}/*", s.handlePreview)
	r.Get("/previews/{workspaceID}", s.handlePreviewRedirect)

	// Protected API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes("builds:rw", "*")).Post("/builds", s.handleSubmitBuild)
		r.With(s.requireScopes("builds:ro", "builds:rw", "*")).Get("/builds", s.handleListBuilds)
		r.With(s.requireScopes("builds:ro", "builds:rw", "*")).Get("/builds/{buildID}", s.handleGetBuild)
		r.With(s.requireScopes("workspaces:rw", "*")).Delete("/workspaces/{workspaceID}", s.handleDestroyWorkspace)
		r.With(s.requireScopes("builds:ro", "builds:rw", "*")).Get("/disk", s.handleDisk)
		r.With(s.requireScopes("builds:ro", "builds:rw", "*")).Get("/status", s.handleStatus)
		r.With(s.requireScopes("events:ro", "events:rw", "*")).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
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
