package stackwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stackhand/console/internal/resilience"
	"github.com/stackhand/console/pkg/models"
)

const (
	// DefaultInterval between poll ticks.
	DefaultInterval = 5 * time.Second

	// DefaultMaxDuration before a session stops with stopped_timeout.
	DefaultMaxDuration = 30 * time.Minute
)

// Options tunes one poll session.
type Options struct {
	Interval    time.Duration
	MaxDuration time.Duration

	// Terminal overrides the stack status set that stops polling.
	// Nil uses DefaultTerminalStatuses.
	Terminal map[models.StackStatus]struct{}
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = DefaultMaxDuration
	}
	if o.Terminal == nil {
		o.Terminal = DefaultTerminalStatuses()
	}
	return o
}

// session is one active poll loop for one stack. Its terminal state is
// written exactly once: whichever stop cause lands first wins.
type session struct {
	stackName string
	opts      Options
	startedAt time.Time
	cancel    context.CancelFunc
	out       chan models.StackSnapshot
	done      chan struct{}

	mu     sync.Mutex
	state  models.PollState
	reason error
	last   *models.StackSnapshot
}

func (s *session) setState(state models.PollState, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.PollRunning {
		return
	}
	s.state = state
	s.reason = reason
}

func (s *session) currentState() (models.PollState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

func (s *session) setLast(snap models.StackSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &snap
}

func (s *session) lastSnapshot() *models.StackSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Subscription is the consumer handle for one poll session.
type Subscription struct {
	s *session
}

// Snapshots delivers one snapshot per successful tick, strictly in
// tick order. The channel closes after the final snapshot once the
// session stops for any reason.
func (sub *Subscription) Snapshots() <-chan models.StackSnapshot { return sub.s.out }

// Done closes when the session has fully stopped.
func (sub *Subscription) Done() <-chan struct{} { return sub.s.done }

// State reports the session lifecycle state.
func (sub *Subscription) State() models.PollState {
	state, _ := sub.s.currentState()
	return state
}

// Err returns the failure that stopped the session, if state is
// stopped_error.
func (sub *Subscription) Err() error {
	_, reason := sub.s.currentState()
	return reason
}

// LastSnapshot returns the most recent snapshot, or nil before the
// first successful tick.
func (sub *Subscription) LastSnapshot() *models.StackSnapshot {
	return sub.s.lastSnapshot()
}

// Watcher owns the poll session registry: at most one active session
// per stack name. Instances are independent; tests run several side by
// side.
type Watcher struct {
	client StatusClient
	exec   *resilience.Executor

	mu       sync.Mutex
	sessions map[string]*session
}

// NewWatcher creates a watcher whose status queries run through exec.
func NewWatcher(client StatusClient, exec *resilience.Executor) *Watcher {
	return &Watcher{
		client:   client,
		exec:     exec,
		sessions: make(map[string]*session),
	}
}

// Start begins polling stackName. If a session for the same name is
// already active it is stopped first; the new session only becomes
// active once the old one has fully wound down (last writer wins,
// never two concurrent sessions for one stack).
func (w *Watcher) Start(ctx context.Context, stackName string, opts Options) (*Subscription, error) {
	if stackName == "" {
		return nil, fmt.Errorf("stack name is required")
	}
	opts = opts.withDefaults()

	for {
		w.mu.Lock()
		if old, ok := w.sessions[stackName]; ok {
			w.mu.Unlock()
			log.Debug().Str("stack", stackName).Msg("stopping prior poll session")
			old.setState(models.PollStoppedCancelled, nil)
			old.cancel()
			<-old.done
			continue
		}

		sessCtx, cancel := context.WithCancel(ctx)
		s := &session{
			stackName: stackName,
			opts:      opts,
			startedAt: time.Now(),
			cancel:    cancel,
			out:       make(chan models.StackSnapshot),
			done:      make(chan struct{}),
			state:     models.PollRunning,
		}
		w.sessions[stackName] = s
		w.mu.Unlock()

		log.Info().
			Str("stack", stackName).
			Dur("interval", opts.Interval).
			Dur("max_duration", opts.MaxDuration).
			Msg("poll session started")

		go w.run(sessCtx, s)
		return &Subscription{s: s}, nil
	}
}

// Stop cancels the session for stackName and waits for it to wind
// down. Stopping an unknown or already-stopped stack is a no-op.
func (w *Watcher) Stop(stackName string) {
	w.mu.Lock()
	s, ok := w.sessions[stackName]
	w.mu.Unlock()
	if !ok {
		return
	}
	s.setState(models.PollStoppedCancelled, nil)
	s.cancel()
	<-s.done
}

// IsPolling reports whether an active session exists for stackName.
func (w *Watcher) IsPolling(stackName string) bool {
	w.mu.Lock()
	s, ok := w.sessions[stackName]
	w.mu.Unlock()
	if !ok {
		return false
	}
	state, _ := s.currentState()
	return state == models.PollRunning
}

// remove unregisters s, leaving any newer session for the same stack
// untouched.
func (w *Watcher) remove(s *session) {
	w.mu.Lock()
	if w.sessions[s.stackName] == s {
		delete(w.sessions, s.stackName)
	}
	w.mu.Unlock()
}

// run is the per-session poll loop. The first tick fires immediately;
// subsequent ticks follow the interval until a terminal status, the
// session deadline, or cancellation.
func (w *Watcher) run(ctx context.Context, s *session) {
	defer func() {
		w.remove(s)
		close(s.out)
		close(s.done)

		state, reason := s.currentState()
		event := log.Info()
		if state == models.PollStoppedError {
			event = log.Warn().Err(reason)
		}
		event.
			Str("stack", s.stackName).
			Str("state", string(state)).
			Dur("elapsed", time.Since(s.startedAt)).
			Msg("poll session stopped")
	}()

	if stop := w.tick(ctx, s); stop {
		return
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.opts.MaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(models.PollStoppedCancelled, nil)
			return

		case <-deadline.C:
			s.setState(models.PollStoppedTimeout, nil)
			return

		case <-ticker.C:
			// The deadline takes priority over a tick racing with it.
			if time.Since(s.startedAt) >= s.opts.MaxDuration {
				s.setState(models.PollStoppedTimeout, nil)
				return
			}
			if stop := w.tick(ctx, s); stop {
				return
			}
		}
	}
}

// tick performs one status query and snapshot emission. It returns
// true when the session must stop.
func (w *Watcher) tick(ctx context.Context, s *session) bool {
	payload, err := resilience.Call(ctx, w.exec, "stack-status/"+s.stackName,
		func(ctx context.Context) (*models.StackStatusPayload, error) {
			return w.client.StackStatus(ctx, s.stackName)
		})
	if err != nil {
		switch resilience.Classify(err) {
		case resilience.ClassPermanent:
			s.setState(models.PollStoppedError, err)
			return true
		case resilience.ClassCanceled:
			s.setState(models.PollStoppedCancelled, nil)
			return true
		default:
			// Transient after exhausted retries, or circuit open: the
			// tick is skipped and the previous snapshot stays current.
			log.Warn().
				Err(err).
				Str("stack", s.stackName).
				Msg("status query failed, tick skipped")
			return false
		}
	}

	snap := buildSnapshot(payload, s.lastSnapshot(), time.Now().UTC())
	_, terminal := s.opts.Terminal[snap.Status]
	if terminal {
		finalizeProgress(&snap)
	}
	s.setLast(snap)

	select {
	case s.out <- snap:
	case <-ctx.Done():
		s.setState(models.PollStoppedCancelled, nil)
		return true
	}

	if terminal {
		s.setState(models.PollStoppedTerminal, nil)
		return true
	}
	return false
}
