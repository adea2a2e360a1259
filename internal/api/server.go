package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/halvard/relay/internal/api/handler"
	mw "github.com/halvard/relay/internal/api/middleware"
	"github.com/halvard/relay/internal/config"
	"github.com/halvard/relay/internal/core"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	rdb      redis.UniversalClient
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, rdb redis.UniversalClient, services *core.Services, cfg *config.Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
		rdb:      rdb,
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.pool))

		// Events
		event := handler.NewEvent(s.services.EventIngest)
		r.Post("/events", event.Send)
		r.Post("/events/batch", event.SendBatch)
		r.Get("/events", event.List)
		r.Get("/events/{id}", event.Get)
		r.Delete("/events/{id}", event.Cancel)

		// Runs
		run := handler.NewRun(s.services.Run)
		r.Get("/runs", run.List)
		r.Get("/runs/{id}", run.Get)
		r.Get("/runs/{id}/executions", run.Executions)

		// Dispatchers
		dispatcher := handler.NewDispatcher(s.services.Dispatcher)
		r.Post("/dispatchers", dispatcher.Register)
		r.Get("/dispatchers", dispatcher.List)
		r.Delete("/dispatchers/{id}", dispatcher.Disable)

		// Schedules
		schedule := handler.NewSchedule(s.services.Schedule)
		r.Post("/schedules", schedule.Register)
		r.Delete("/schedules/{id}", schedule.Deactivate)

		// Connections
		connection := handler.NewConnection(s.services.Connection)
		r.Post("/connections", connection.Create)

		// Endpoints
		endpoint := handler.NewEndpoint(s.services.Endpoint)
		r.Post("/endpoints", endpoint.Register)

		// Tasks
		task := handler.NewTask(s.services.Task)
		r.Post("/tasks/{id}/complete", task.Complete)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
