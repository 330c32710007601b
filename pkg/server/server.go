// Package server provides the public entry point for initializing the
// Stackhand console backend.
//
// It lives in pkg/ (not internal/) so embedders can compose the full
// backend and wrap the handler with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/stackhand/console/internal/agentclient"
	"github.com/stackhand/console/internal/api"
	"github.com/stackhand/console/internal/config"
	"github.com/stackhand/console/internal/console"
	"github.com/stackhand/console/internal/resilience"
	"github.com/stackhand/console/internal/sessions"
	"github.com/stackhand/console/internal/stackwatch"
	"github.com/stackhand/console/internal/telemetry"
	"github.com/stackhand/console/pkg/models"
)

// Server holds the initialized console backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Console is the orchestration façade. Exposed so embedders can
	// drive invocations and stack watches directly.
	Console *console.Console

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the backend with an explicit configuration.
func NewWithConfig(_ context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	exec := resilience.NewExecutor(resilience.Config{
		MaxAttempts:      cfg.Resilience.MaxAttempts,
		InitialDelay:     cfg.Resilience.InitialDelay,
		MaxDelay:         cfg.Resilience.MaxDelay,
		FailureThreshold: cfg.Resilience.FailureThreshold,
		Cooldown:         cfg.Resilience.Cooldown,
		MaxCooldown:      cfg.Resilience.MaxCooldown,
	})

	agents := agentclient.NewClient(exec, agentclient.Config{
		IdleTimeout: cfg.Agents.IdleTimeout,
		MaxDuration: cfg.Agents.MaxStreamDuration,
	}, agentEndpoints(cfg.Agents)...)
	for _, ep := range agents.Endpoints() {
		log.Info().
			Str("agent_id", ep.AgentID).
			Str("kind", string(ep.Kind)).
			Str("url", ep.URL).
			Msg("✅ Agent endpoint registered")
	}

	status := stackwatch.NewHTTPStatusClient(cfg.Stacks.StatusURL)
	watcher := stackwatch.NewWatcher(status, exec)
	log.Info().Str("url", cfg.Stacks.StatusURL).Msg("✅ Stack watcher initialized")

	c := console.New(agents, watcher, sessions.NewStore())
	router := api.NewRouter(cfg, c)

	return &Server{
		Handler:      router,
		Console:      c,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// agentEndpoints maps the configured URLs onto the managed agent set,
// skipping agents with no URL.
func agentEndpoints(cfg config.AgentsConfig) []agentclient.Endpoint {
	var eps []agentclient.Endpoint
	add := func(id string, kind models.AgentKind, url string) {
		if url == "" {
			return
		}
		eps = append(eps, agentclient.Endpoint{AgentID: id, Kind: kind, URL: url})
	}
	add("onboarding", models.AgentOnboarding, cfg.OnboardingURL)
	add("provisioning", models.AgentProvisioning, cfg.ProvisioningURL)
	add("orchestrator", models.AgentOrchestrator, cfg.OrchestratorURL)
	return eps
}
