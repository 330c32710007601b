// Package resilience centralizes retry-with-backoff and circuit
// breaking for every remote call the console makes. Call sites express
// the call as a plain function plus a target key; policy is applied
// uniformly here instead of in ad hoc loops per caller.
//
//	executor.Do(ctx, "agent/onboarding", func(ctx) error { ... })
//	    ├─► breaker.allow  — fail fast with CircuitOpenError when open
//	    ├─► backoff.Retry  — exponential delay with jitter, transient only
//	    └─► breaker.record — final outcome feeds the circuit state
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Config tunes retry and circuit breaker behavior.
type Config struct {
	MaxAttempts      int           // attempts per call, including the first
	InitialDelay     time.Duration // delay before the first retry
	MaxDelay         time.Duration // cap on per-retry delay
	FailureThreshold int           // consecutive transient failures that open a circuit
	Cooldown         time.Duration // initial open-circuit cooldown
	MaxCooldown      time.Duration // cap for the doubling cooldown ladder
}

// DefaultConfig returns the standard policy: 3 attempts with jittered
// exponential backoff, circuits opening after 5 consecutive transient
// failures for a 30s cooldown that doubles up to 10m.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialDelay:     500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxCooldown:      10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = d.MaxCooldown
	}
	return c
}

// Executor applies the retry and circuit policy to remote calls, keyed
// by target. Safe for concurrent use.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewExecutor creates an executor with the given policy. Zero fields
// fall back to DefaultConfig values.
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*breaker),
	}
}

// breakerFor returns the breaker for a target, creating it on first use.
func (e *Executor) breakerFor(target string) *breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[target]
	if !ok {
		b = newBreaker(e.cfg.FailureThreshold, e.cfg.Cooldown, e.cfg.MaxCooldown)
		e.breakers[target] = b
	}
	return b
}

// BreakerState reports the circuit state for a target. Targets that
// have never been called report closed.
func (e *Executor) BreakerState(target string) BreakerState {
	e.mu.Lock()
	b, ok := e.breakers[target]
	e.mu.Unlock()
	if !ok {
		return BreakerClosed
	}
	state, _, _ := b.snapshot()
	return state
}

// Do runs op under the retry and circuit policy for target. Transient
// failures are retried with jittered exponential backoff; permanent
// failures and context cancellation return immediately. When the
// target's circuit is open, Do returns *CircuitOpenError without
// invoking op at all.
func (e *Executor) Do(ctx context.Context, target string, op func(context.Context) error) error {
	b := e.breakerFor(target)
	if err := b.allow(target); err != nil {
		log.Debug().Str("target", target).Msg("call rejected, circuit open")
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialDelay
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2.0
	bo.MaxInterval = e.cfg.MaxDelay
	bo.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		start := time.Now()
		err := op(ctx)
		latency := time.Since(start)

		class := Classify(err)
		event := log.Debug()
		if err != nil {
			event = log.Warn().Err(err).Str("class", string(class))
		}
		event.
			Str("target", target).
			Int("attempt", attempt).
			Str("outcome", outcome(class)).
			Dur("latency", latency).
			Msg("remote call")

		if err == nil {
			return nil
		}
		if class.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.MaxAttempts-1)), ctx))

	b.record(Classify(err))
	return err
}

// Call runs fn under the policy for target and returns its value.
func Call[T any](ctx context.Context, e *Executor, target string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, target, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func outcome(class Class) string {
	if class == "" {
		return "success"
	}
	return string(class)
}
