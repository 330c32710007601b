package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/stackhand/console/internal/api/handlers"
	"github.com/stackhand/console/internal/api/middleware"
	"github.com/stackhand/console/internal/config"
	"github.com/stackhand/console/internal/console"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, c *console.Console) http.Handler {
	h := handlers.New(c, cfg.Stacks.PollInterval, cfg.Stacks.PollMax)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Session-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Route("/{agentID}", func(r chi.Router) {
				r.Post("/invoke", h.InvokeAgent)
				r.Post("/invoke/parsed", h.InvokeAgentParsed)
			})
		})

		r.Route("/stacks/{stackName}", func(r chi.Router) {
			r.Get("/watch", h.WatchStack)
			r.Delete("/watch", h.StopWatchStack)
			r.Get("/watch/state", h.WatchState)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Get("/{sessionID}", h.GetSession)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "stackhand-console",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "stackhand-console",
		})
	}
}
