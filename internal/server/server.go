// Package server exposes capture, item review and digests over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"polibrief/internal/capture"
	"polibrief/internal/core"
	"polibrief/internal/pipeline"
	"polibrief/internal/scheduler"
)

// Config holds HTTP server settings
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	AdminAPIKey    string
	CORS           CORSConfig
}

// CORSConfig holds cross-origin settings
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
}

// Store is the read side the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	GetContent(ctx context.Context, id string) (*core.ContentItem, error)
	GetAnalysis(ctx context.Context, contentID string) (*core.PoliticalAnalysis, error)
	ListClassifications(ctx context.Context, contentID string) ([]core.ClassificationResult, error)
	GetDigest(ctx context.Context, date string) (*core.DigestRecord, error)
	ListDigests(ctx context.Context, limit int) ([]core.DigestRecord, error)
}

// Capturer stores submitted content.
type Capturer interface {
	Capture(ctx context.Context, p capture.Payload) (*core.ContentItem, bool, error)
}

// ItemProcessor re-runs classification for single items.
type ItemProcessor interface {
	Reprocess(ctx context.Context, id string) (pipeline.Outcome, error)
	Override(ctx context.Context, id, category string) (pipeline.Outcome, error)
}

// DigestGenerator builds and redelivers digests.
type DigestGenerator interface {
	GenerateDigest(ctx context.Context, date string, opts scheduler.Options) (*core.DigestRecord, error)
	Redeliver(ctx context.Context, date string) (*core.DigestRecord, error)
}

// Deps are the components behind the routes.
type Deps struct {
	Store     Store
	Capturer  Capturer
	Processor ItemProcessor
	Digests   DigestGenerator
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     Config
	log        zerolog.Logger
	started    time.Time
}

// New creates a new HTTP server instance
func New(cfg Config, deps Deps, log zerolog.Logger) (*Server, error) {
	if deps.Store == nil || deps.Capturer == nil || deps.Processor == nil || deps.Digests == nil {
		return nil, errors.New("server needs store, capturer, processor and digest generator")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		router:  chi.NewRouter(),
		deps:    deps,
		config:  cfg,
		log:     log.With().Str("component", "server").Logger(),
		started: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.config.RequestTimeout))
	s.router.Use(securityHeaders)

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/content", func(r chi.Router) {
			r.Get("/{id}", s.handleGetContent)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdminAPI)
				r.Post("/", s.handleCapture)
				r.Post("/{id}/reprocess", s.handleReprocess)
				r.Post("/{id}/category", s.handleOverride)
			})
		})

		r.Route("/digests", func(r chi.Router) {
			r.Get("/", s.handleListDigests)
			r.Get("/{date}", s.handleGetDigest)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdminAPI)
				r.Post("/{date}", s.handleGenerateDigest)
				r.Post("/{date}/deliver", s.handleRedeliver)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
