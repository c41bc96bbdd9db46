// Package server exposes the agent pipelines over HTTP.
//
// Research linking is triggered and resumed synchronously; trend analysis
// runs in the background and is polled through the run endpoints. Every
// route is instrumented with Prometheus metrics served at /metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/paperflow/pkg/linking"
	"github.com/randalmurphal/paperflow/pkg/trends"
)

// Store is the part of the document store the API reads directly.
type Store interface {
	docstore.RunStore
	docstore.ReportStore
}

// Deps are the services behind the API.
type Deps struct {
	Linking *linking.Service
	Trends  *trends.Runner
	Store   Store
	// Checkpoints backs the checkpoint listing. Nil disables it.
	Checkpoints checkpoint.Store
}

// Server routes API requests to the pipelines.
type Server struct {
	router      *chi.Mux
	linking     *linking.Service
	trends      *trends.Runner
	store       Store
	checkpoints checkpoint.Store
	metrics     *Collector
	logger      *slog.Logger
	origins     []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithCollector replaces the default metrics collector.
func WithCollector(c *Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// New builds a Server and registers its routes.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		linking:     deps.Linking,
		trends:      deps.Trends,
		store:       deps.Store,
		checkpoints: deps.Checkpoints,
		logger:      slog.Default(),
		origins:     []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewCollector("paperflow")
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Content-Length", "Content-Type"},
	})

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.metrics.Middleware)
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

// Collector returns the metrics collector of the server.
func (s *Server) Collector() *Collector { return s.metrics }

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/agents/research-linking", s.handleTriggerLinking)
		r.Get("/agents/research-linking/{runId}", s.handleLinkingStatus)
		r.Post("/agents/research-linking/{runId}", s.handleResumeLinking)
		r.Post("/links/{linkId}/review", s.handleReviewLink)

		r.Post("/agents/trend-analysis/trigger", s.handleTriggerTrends)
		r.Get("/agents/trend-analysis/trigger", s.handleTrendStatus)

		r.Get("/agents/runs", s.handleListRuns)
		r.Get("/agents/runs/{runId}", s.handleGetRun)
		r.Post("/agents/runs/{runId}/cancel", s.handleCancelRun)

		r.Get("/threads/{threadId}/checkpoints", s.handleListCheckpoints)
		r.Get("/reports/{id}", s.handleGetReport)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully and
// waits up to shutdownTimeout for in-flight requests and agent runs.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	err := srv.Shutdown(shutdownCtx)
	if s.trends != nil {
		err = errors.Join(err, s.trends.Wait(shutdownCtx))
	}
	if s.linking != nil {
		err = errors.Join(err, s.linking.Wait(shutdownCtx))
	}
	return err
}
