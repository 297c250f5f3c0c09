// Package web serves the AIrsenal control page and runs airsenal commands on
// request, one at a time.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/airsenal-launcher/internal/events"
	"github.com/mattjoyce/airsenal-launcher/internal/runlog"
	"github.com/mattjoyce/airsenal-launcher/internal/runner"
)

//go:generate mockgen -destination=mocks/mock_web.go -package=mocks github.com/mattjoyce/airsenal-launcher/internal/web CommandRunner,RunStore

// CommandRunner executes one airsenal command and waits for it.
type CommandRunner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
	Timeout() time.Duration
}

// RunStore records web-triggered runs.
type RunStore interface {
	Start(ctx context.Context, req runlog.StartRequest) (string, error)
	Complete(ctx context.Context, runID string, req runlog.CompleteRequest) error
	Get(ctx context.Context, runID string) (*runlog.Run, error)
	Recent(ctx context.Context, limit int) ([]*runlog.Run, error)
}

// Config holds web server configuration. APIKey, when set, is required as a
// bearer token on /run_command and /runs. TeamID prefills the page and is used
// when a request carries none.
type Config struct {
	Listen       string
	APIKey       string
	TeamID       string
	HistoryLimit int
}

// Server is the HTTP front end for the airsenal commands.
type Server struct {
	config    Config
	runner    CommandRunner
	store     RunStore
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	events    *events.Hub

	// baseCtx bounds command runs. Commands outlive a disconnecting client but
	// not the server.
	baseCtx context.Context
}

// New creates a new web server instance
func New(config Config, cmdRunner CommandRunner, store RunStore, logger *slog.Logger) *Server {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		runner:    cmdRunner,
		store:     store,
		logger:    logger,
		startedAt: time.Now(),
		events:    events.NewHub(64),
		baseCtx:   context.Background(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.writeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("web server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("web server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// writeTimeout leaves room for a command to hit its own timeout and still
// have its response written.
func (s *Server) writeTimeout() time.Duration {
	if t := s.runner.Timeout(); t > 0 {
		return t + time.Minute
	}
	return 10 * time.Minute
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/run_command", s.handleRunCommand)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/events", s.handleEvents)
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
