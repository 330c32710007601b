package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fastConfig keeps retries/cooldowns short enough for unit tests.
func fastConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialDelay:     time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		FailureThreshold: 3,
		Cooldown:         50 * time.Millisecond,
		MaxCooldown:      200 * time.Millisecond,
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	e := NewExecutor(fastConfig())
	calls := 0
	err := e.Do(context.Background(), "t", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestDo_RetriesTransientUpToBudget(t *testing.T) {
	e := NewExecutor(fastConfig())
	calls := 0
	transient := &HTTPError{StatusCode: 503, Status: "Service Unavailable"}
	err := e.Do(context.Background(), "t", func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("Do() error = %v, want %v", err, transient)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3 (MaxAttempts)", calls)
	}
}

func TestDo_TransientSucceedsOnRetry(t *testing.T) {
	e := NewExecutor(fastConfig())
	calls := 0
	err := e.Do(context.Background(), "t", func(context.Context) error {
		calls++
		if calls < 2 {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("op called %d times, want 2", calls)
	}
}

func TestDo_PermanentFailsImmediately(t *testing.T) {
	e := NewExecutor(fastConfig())
	calls := 0
	notFound := &HTTPError{StatusCode: 404, Status: "Not Found"}
	err := e.Do(context.Background(), "t", func(context.Context) error {
		calls++
		return notFound
	})
	if !errors.Is(err, notFound) {
		t.Fatalf("Do() error = %v, want %v", err, notFound)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1 (permanent must not consume retry budget)", calls)
	}
}

func TestDo_CircuitOpensAfterConsecutiveTransientFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1 // one attempt per call so failure counting is exact
	e := NewExecutor(cfg)

	transient := &HTTPError{StatusCode: 500, Status: "Internal Server Error"}
	for i := 0; i < cfg.FailureThreshold; i++ {
		if err := e.Do(context.Background(), "flaky", func(context.Context) error { return transient }); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}

	if state := e.BreakerState("flaky"); state != BreakerOpen {
		t.Fatalf("BreakerState() = %q, want %q", state, BreakerOpen)
	}

	// The next call must fail fast with zero network attempts.
	calls := 0
	err := e.Do(context.Background(), "flaky", func(context.Context) error {
		calls++
		return nil
	})
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("Do() error = %v, want *CircuitOpenError", err)
	}
	if open.Target != "flaky" {
		t.Errorf("CircuitOpenError.Target = %q, want %q", open.Target, "flaky")
	}
	if calls != 0 {
		t.Errorf("op called %d times while circuit open, want 0", calls)
	}
}

func TestDo_HalfOpenTrialClosesCircuit(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 1
	cfg.Cooldown = 10 * time.Millisecond
	e := NewExecutor(cfg)

	transient := &HTTPError{StatusCode: 502, Status: "Bad Gateway"}
	_ = e.Do(context.Background(), "t", func(context.Context) error { return transient })
	if state := e.BreakerState("t"); state != BreakerOpen {
		t.Fatalf("BreakerState() = %q, want %q", state, BreakerOpen)
	}

	time.Sleep(15 * time.Millisecond)

	// Cooldown elapsed: one trial call is admitted and its success closes the circuit.
	err := e.Do(context.Background(), "t", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("trial call error = %v", err)
	}
	if state := e.BreakerState("t"); state != BreakerClosed {
		t.Errorf("BreakerState() after trial success = %q, want %q", state, BreakerClosed)
	}
}

func TestDo_HalfOpenTrialFailureReopensWithDoubledCooldown(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 1
	cfg.Cooldown = 10 * time.Millisecond
	e := NewExecutor(cfg)

	transient := &HTTPError{StatusCode: 502, Status: "Bad Gateway"}
	_ = e.Do(context.Background(), "t", func(context.Context) error { return transient })

	time.Sleep(15 * time.Millisecond)
	_ = e.Do(context.Background(), "t", func(context.Context) error { return transient })

	if state := e.BreakerState("t"); state != BreakerOpen {
		t.Fatalf("BreakerState() after failed trial = %q, want %q", state, BreakerOpen)
	}

	// Doubled cooldown: still open after the original cooldown.
	time.Sleep(15 * time.Millisecond)
	var open *CircuitOpenError
	err := e.Do(context.Background(), "t", func(context.Context) error { return nil })
	if !errors.As(err, &open) {
		t.Fatalf("Do() during doubled cooldown error = %v, want *CircuitOpenError", err)
	}
}

func TestDo_ContextCancelNotRetried(t *testing.T) {
	e := NewExecutor(fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := e.Do(ctx, "t", func(context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	e := NewExecutor(fastConfig())
	got, err := Call(context.Background(), e, "t", func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Call() = %q, want %q", got, "ok")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ""},
		{"rate limited", &HTTPError{StatusCode: 429}, ClassTransient},
		{"server error", &HTTPError{StatusCode: 500}, ClassTransient},
		{"bad gateway", &HTTPError{StatusCode: 502}, ClassTransient},
		{"validation", &HTTPError{StatusCode: 400}, ClassPermanent},
		{"auth", &HTTPError{StatusCode: 401}, ClassPermanent},
		{"not found", &HTTPError{StatusCode: 404}, ClassPermanent},
		{"eof", io.ErrUnexpectedEOF, ClassTransient},
		{"wrapped permanent", Permanent(errors.New("malformed body")), ClassPermanent},
		{"canceled", context.Canceled, ClassCanceled},
		{"deadline", context.DeadlineExceeded, ClassCanceled},
		{"circuit open", &CircuitOpenError{Target: "t"}, ClassCircuitOpen},
		{"unknown defaults transient", errors.New("connection reset"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

// An http.Client timeout reports errors.Is(err, context.DeadlineExceeded)
// but is a remote timeout, not a caller cancellation: it must stay
// retryable or a stalled endpoint would kill its caller's loop.
func TestClassifyClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 30 * time.Millisecond}
	_, err := client.Get(srv.URL)
	if err == nil {
		t.Fatal("Get() error = nil, want client timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout error does not match context.DeadlineExceeded: %v", err)
	}
	if got := Classify(err); got != ClassTransient {
		t.Errorf("Classify(client timeout) = %q, want %q", got, ClassTransient)
	}
}
