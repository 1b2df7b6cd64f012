// Package server provides the HTTP server and routing for quantlab.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/di"
	allocationhandlers "github.com/aristath/quantlab/internal/modules/allocation/handlers"
	backtestinghandlers "github.com/aristath/quantlab/internal/modules/backtesting/handlers"
	comparisonhandlers "github.com/aristath/quantlab/internal/modules/comparison/handlers"
	montecarlohandlers "github.com/aristath/quantlab/internal/modules/montecarlo/handlers"
	runshandlers "github.com/aristath/quantlab/internal/modules/runs/handlers"
	walkforwardhandlers "github.com/aristath/quantlab/internal/modules/walkforward/handlers"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
	Jobs      *di.JobInstances
	Version   string
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	container      *di.Container
	systemHandlers *SystemHandlers
	statusMonitor  *StatusMonitor
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	jobs := cfg.Jobs
	if jobs == nil {
		jobs = &di.JobInstances{}
	}

	systemHandlers := NewSystemHandlers(cfg.Container, jobs.ByName(), cfg.Version, cfg.Log)

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Config,
		container:      cfg.Container,
		systemHandlers: systemHandlers,
		statusMonitor:  NewStatusMonitor(cfg.Container.EventBus, systemHandlers, cfg.Log),
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	// analyses run synchronously inside requests, so writes get a long deadline
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5, "application/json"))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	c := s.container

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", c.Metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events/stream", NewEventsStreamHandler(c.EventBus, s.log).ServeHTTP)
		r.Get("/events/ws", NewEventsWebSocketHandler(c.EventBus, s.log).ServeHTTP)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/jobs", s.systemHandlers.HandleJobs)
			r.Post("/jobs/{name}/run", s.systemHandlers.HandleRunJob)
		})

		runshandlers.NewHandler(c.RunService, s.log).RegisterRoutes(r)
		allocationhandlers.NewHandler(c.Registry, s.log).RegisterRoutes(r)
		backtestinghandlers.NewHandler(c.RunService, c.Registry, c.Defaults.Backtest, s.log).RegisterRoutes(r)
		walkforwardhandlers.NewHandler(c.RunService, c.Registry, c.WorkerPool, c.Metrics, c.Defaults.WalkForward, s.log).RegisterRoutes(r)
		montecarlohandlers.NewHandler(c.RunService, c.Registry, c.WorkerPool, c.Metrics, montecarlohandlers.Defaults{
			MonteCarlo: c.Defaults.MonteCarlo,
			Backtest:   c.Defaults.Backtest,
		}, s.log).RegisterRoutes(r)
		comparisonhandlers.NewHandler(c.RunService, c.Registry, c.WorkerPool, c.Metrics, c.Defaults.Comparison, s.log).RegisterRoutes(r)
	})
}

// Start starts the status monitor and serves until Shutdown
func (s *Server) Start() error {
	s.statusMonitor.Start(60 * time.Second)
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.statusMonitor.Stop()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := "ok"
	if err := s.container.RunsDB.Conn().PingContext(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body = "database unavailable"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// loggingMiddleware logs HTTP requests and counts them by route pattern
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.container.Metrics.ObserveRequest(r.Method, route, ww.Status())

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
