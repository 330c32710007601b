package resilience

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the current state of one per-target circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitOpenError is returned when a call is rejected without any
// network attempt because the target's circuit is open.
type CircuitOpenError struct {
	Target string
	Until  time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Target, e.Until.Format(time.RFC3339))
}

// breaker tracks consecutive transient failures for one target key.
// All transitions happen under mu: the per-target breaker is the only
// state shared across concurrent calls to the same target.
type breaker struct {
	mu sync.Mutex

	failureThreshold int
	baseCooldown     time.Duration
	maxCooldown      time.Duration

	state         BreakerState
	failures      int // consecutive transient failures while closed
	cooldown      time.Duration
	openedUntil   time.Time
	lastFailureAt time.Time
	trialInFlight bool

	now func() time.Time // swapped in tests
}

func newBreaker(failureThreshold int, cooldown, maxCooldown time.Duration) *breaker {
	return &breaker{
		failureThreshold: failureThreshold,
		baseCooldown:     cooldown,
		maxCooldown:      maxCooldown,
		state:            BreakerClosed,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// allow decides whether a call may proceed. When the circuit is open it
// returns the rejection error; after the cooldown elapses it admits
// exactly one trial call in half-open state.
func (b *breaker) allow(target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if b.now().Before(b.openedUntil) {
			return &CircuitOpenError{Target: target, Until: b.openedUntil}
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		return nil

	case BreakerHalfOpen:
		if b.trialInFlight {
			return &CircuitOpenError{Target: target, Until: b.openedUntil}
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// record applies the final outcome of one call. Only transient failures
// count toward opening; success closes and resets, and permanently
// classified failures leave the count untouched.
func (b *breaker) record(class Class) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.trialInFlight = false
		if class == "" {
			// Trial succeeded: close and reset the cooldown ladder.
			b.state = BreakerClosed
			b.failures = 0
			b.cooldown = b.baseCooldown
			return
		}
		if class == ClassTransient {
			// Trial failed: re-open with a doubled cooldown, capped.
			b.cooldown *= 2
			if b.cooldown > b.maxCooldown {
				b.cooldown = b.maxCooldown
			}
			b.reopen()
		}

	case BreakerClosed:
		switch class {
		case "":
			b.failures = 0
		case ClassTransient:
			b.failures++
			b.lastFailureAt = b.now()
			if b.failures >= b.failureThreshold {
				b.reopen()
			}
		}
	}
}

func (b *breaker) reopen() {
	b.state = BreakerOpen
	b.openedUntil = b.now().Add(b.cooldown)
	b.failures = 0
}

// snapshot returns the state without mutating it. For observability.
func (b *breaker) snapshot() (BreakerState, int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures, b.openedUntil
}
