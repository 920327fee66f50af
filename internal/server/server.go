// Package server exposes the HTTP surface: run management, the approval
// endpoint, open-rate analytics and the tracking pixel beacon.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/linkedin"
)

// Server serves the outreach API.
type Server struct {
	cfg      *config.Config
	store    store.Store
	pipeline *pipeline.Pipeline
	linkedin linkedin.Client
}

// New creates a Server.
func New(cfg *config.Config, st store.Store, p *pipeline.Pipeline, li linkedin.Client) *Server {
	return &Server{cfg: cfg, store: st, pipeline: p, linkedin: li}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	corsOrigins := s.cfg.Server.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/approve", s.handleApprove)
		r.Get("/analytics", s.handleAnalytics)
	})

	// The beacon lives outside /api: mail clients fetch it as a bare image.
	r.Get("/track/{id}.png", s.handleTrackingPixel)

	if s.linkedin != nil {
		r.Get("/auth/linkedin", s.handleLinkedInAuth)
		r.Get("/auth/linkedin/callback", s.handleLinkedInCallback)
	}

	return r
}
