// Package server provides the HTTP and SSE surface for the convoy API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/semaphore"

	"github.com/convoy-ai/convoy/internal/ordering"
	"github.com/convoy-ai/convoy/internal/refresh"
	"github.com/convoy-ai/convoy/internal/session"
	"github.com/convoy-ai/convoy/internal/steering"
	"github.com/convoy-ai/convoy/internal/task"
	"github.com/convoy-ai/convoy/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Hostname     string
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxSSEStreams bounds concurrent event stream connections.
	MaxSSEStreams int64
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	d := types.DefaultConfig()
	return &Config{
		Hostname:      d.Server.Hostname,
		Port:          d.Server.Port,
		EnableCORS:    true,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  0, // No write timeout for SSE
		MaxSSEStreams: d.Server.MaxSSEStreams,
	}
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	sessions *session.Service
	alloc    *ordering.Allocator
	steering *steering.Manager
	bus      *task.Bus
	registry *task.Registry
	refresh  *refresh.Coordinator
	focus    *refresh.FocusTracker
	sseSem   *semaphore.Weighted
}

// New creates a new Server instance. focus is the tracker the coordinator's
// active-session check reads; the refresh endpoint updates it.
func New(cfg *Config, sessions *session.Service, alloc *ordering.Allocator, steer *steering.Manager, bus *task.Bus, registry *task.Registry, coordinator *refresh.Coordinator, focus *refresh.FocusTracker) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxSSEStreams <= 0 {
		cfg.MaxSSEStreams = DefaultConfig().MaxSSEStreams
	}

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		sessions: sessions,
		alloc:    alloc,
		steering: steer,
		bus:      bus,
		registry: registry,
		refresh:  coordinator,
		focus:    focus,
		sseSem:   semaphore.NewWeighted(cfg.MaxSSEStreams),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	// Request ID
	s.router.Use(middleware.RequestID)

	// Logging
	s.router.Use(middleware.Logger)

	// Recover from panics
	s.router.Use(middleware.Recoverer)

	// Real IP
	s.router.Use(middleware.RealIP)

	// CORS
	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Hostname, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
