package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Stackhand console backend.
type Config struct {
	Port       int
	Version    string
	Agents     AgentsConfig
	Stacks     StacksConfig
	Resilience ResilienceConfig
	Telemetry  TelemetryConfig
}

// AgentsConfig wires the managed agent endpoints. An agent with an
// empty URL is not registered.
type AgentsConfig struct {
	OnboardingURL     string
	ProvisioningURL   string
	OrchestratorURL   string
	IdleTimeout       time.Duration
	MaxStreamDuration time.Duration
}

// StacksConfig points at the deployment status service and tunes the
// poll loop defaults.
type StacksConfig struct {
	StatusURL    string
	PollInterval time.Duration
	PollMax      time.Duration
}

// ResilienceConfig tunes retries and the per-target circuit breaker.
type ResilienceConfig struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	MaxCooldown      time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("STACKHAND_PORT", 8080),
		Version: envStr("STACKHAND_VERSION", "0.2.0"),
		Agents: AgentsConfig{
			OnboardingURL:     envStr("STACKHAND_ONBOARDING_AGENT_URL", "http://localhost:9101/invoke"),
			ProvisioningURL:   envStr("STACKHAND_PROVISIONING_AGENT_URL", "http://localhost:9102/invoke"),
			OrchestratorURL:   envStr("STACKHAND_ORCHESTRATOR_AGENT_URL", ""),
			IdleTimeout:       envDur("STACKHAND_AGENT_IDLE_TIMEOUT", 30*time.Second),
			MaxStreamDuration: envDur("STACKHAND_AGENT_MAX_DURATION", 5*time.Minute),
		},
		Stacks: StacksConfig{
			StatusURL:    envStr("STACKHAND_STACK_STATUS_URL", "http://localhost:9110"),
			PollInterval: envDur("STACKHAND_POLL_INTERVAL", 5*time.Second),
			PollMax:      envDur("STACKHAND_POLL_MAX_DURATION", 30*time.Minute),
		},
		Resilience: ResilienceConfig{
			MaxAttempts:      envInt("STACKHAND_RETRY_MAX_ATTEMPTS", 3),
			InitialDelay:     envDur("STACKHAND_RETRY_INITIAL_DELAY", 500*time.Millisecond),
			MaxDelay:         envDur("STACKHAND_RETRY_MAX_DELAY", 10*time.Second),
			FailureThreshold: envInt("STACKHAND_CIRCUIT_THRESHOLD", 5),
			Cooldown:         envDur("STACKHAND_CIRCUIT_COOLDOWN", 30*time.Second),
			MaxCooldown:      envDur("STACKHAND_CIRCUIT_MAX_COOLDOWN", 10*time.Minute),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "stackhand-console"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
