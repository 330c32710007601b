// Package console is the orchestration façade tying the agent client,
// the response segmenter, the stack watcher and the session store into
// one surface for the API layer.
//
// Flow:
//
//	Invoke ──▶ agentclient.Stream ──▶ chunks to the caller
//	   └──▶ on stream end: segment text, record the turn
//	WatchStack ──▶ stackwatch session ──▶ snapshots to the caller
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stackhand/console/internal/agentclient"
	"github.com/stackhand/console/internal/resilience"
	"github.com/stackhand/console/internal/segment"
	"github.com/stackhand/console/internal/sessions"
	"github.com/stackhand/console/internal/stackwatch"
	"github.com/stackhand/console/pkg/models"
)

// Console composes the conversational and deployment halves of the
// backend. All state it holds is in-memory.
type Console struct {
	agents   *agentclient.Client
	watcher  *stackwatch.Watcher
	sessions *sessions.Store

	mu      sync.Mutex
	watches map[string]*stackwatch.Subscription // last subscription per stack
}

// New assembles a console from its parts.
func New(agents *agentclient.Client, watcher *stackwatch.Watcher, store *sessions.Store) *Console {
	return &Console{
		agents:   agents,
		watcher:  watcher,
		sessions: store,
		watches:  make(map[string]*stackwatch.Subscription),
	}
}

// Agents lists the configured agent endpoints.
func (c *Console) Agents() []agentclient.Endpoint {
	return c.agents.Endpoints()
}

// ── Invocation ──────────────────────────────────────────────

// Invoke starts a streaming invocation. The returned stream delivers
// chunks as the agent produces them; once it ends (for any reason with
// text to show) the turn is recorded on the session.
//
// A blank SessionID starts a new conversation; the second return value
// is the session ID actually used.
func (c *Console) Invoke(ctx context.Context, req models.InvocationRequest) (*agentclient.Stream, string, error) {
	kind, ok := c.agents.KindOf(req.AgentID)
	if !ok {
		return nil, "", resilience.Permanent(fmt.Errorf("unknown agent %q", req.AgentID))
	}

	sess, err := c.sessions.Ensure(ctx, req.SessionID, req.AgentID, kind)
	if err != nil {
		return nil, "", fmt.Errorf("ensure session: %w", err)
	}
	req.SessionID = sess.ID

	startedAt := time.Now().UTC()
	stream, err := c.agents.Invoke(ctx, req)
	if err != nil {
		return nil, "", err
	}

	go c.recordTurn(sess.ID, kind, req.Prompt, startedAt, stream)
	return stream, sess.ID, nil
}

// InvokeParsed runs a full invocation and returns the segmented
// response. Partial streams still segment whatever text arrived before
// the cut; only a stream with no text at all is an error.
func (c *Console) InvokeParsed(ctx context.Context, req models.InvocationRequest) (*models.ParsedResponse, string, error) {
	kind, _ := c.agents.KindOf(req.AgentID)

	stream, sessionID, err := c.Invoke(ctx, req)
	if err != nil {
		return nil, "", err
	}
	// Chunks are delivered with backpressure, so the stream only makes
	// progress while someone drains it.
	for {
		if _, err := stream.Next(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			stream.Cancel()
			return nil, "", err
		}
	}

	text := stream.Text()
	if text == "" {
		if serr := stream.Err(); serr != nil {
			return nil, "", serr
		}
		return nil, "", fmt.Errorf("agent %q returned an empty response", req.AgentID)
	}
	parsed := segment.Segment(text, kind)
	return &parsed, sessionID, nil
}

// ParseResponse segments assembled response text for the given agent.
// Unknown agents parse with an empty kind, which still yields sections.
func (c *Console) ParseResponse(agentID, text string) models.ParsedResponse {
	kind, _ := c.agents.KindOf(agentID)
	return segment.Segment(text, kind)
}

// recordTurn waits for the stream to end and appends the turn to the
// session. Streams that died with nothing to show are recorded without
// a parsed response.
func (c *Console) recordTurn(sessionID string, kind models.AgentKind, prompt string, startedAt time.Time, stream *agentclient.Stream) {
	stream.Wait(context.Background())

	turn := models.Turn{
		Prompt:    prompt,
		Outcome:   stream.Outcome(),
		StartedAt: startedAt,
		EndedAt:   time.Now().UTC(),
	}
	if text := stream.Text(); text != "" {
		parsed := segment.Segment(text, kind)
		turn.Response = &parsed
	}
	if err := c.sessions.AppendTurn(context.Background(), sessionID, turn); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("failed to record turn")
	}
}

// ── Stack watching ──────────────────────────────────────────

// WatchStack starts (or restarts) polling for a stack. When sessionID
// is non-empty the stack is associated with that conversation.
func (c *Console) WatchStack(ctx context.Context, sessionID, stackName string, opts stackwatch.Options) (*stackwatch.Subscription, error) {
	sub, err := c.watcher.Start(ctx, stackName, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.watches[stackName] = sub
	c.mu.Unlock()

	if sessionID != "" {
		if err := c.sessions.RecordStack(ctx, sessionID, stackName); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", sessionID).
				Str("stack", stackName).
				Msg("failed to associate stack with session")
		}
	}
	return sub, nil
}

// StopWatch cancels polling for a stack. Unknown stacks are a no-op.
func (c *Console) StopWatch(stackName string) {
	c.watcher.Stop(stackName)
}

// IsWatching reports whether a poll session is active for the stack.
func (c *Console) IsWatching(stackName string) bool {
	return c.watcher.IsPolling(stackName)
}

// WatchState reports the lifecycle state and last snapshot of the most
// recent poll session for a stack. ok is false when the stack was
// never watched.
func (c *Console) WatchState(stackName string) (models.PollState, *models.StackSnapshot, bool) {
	c.mu.Lock()
	sub, ok := c.watches[stackName]
	c.mu.Unlock()
	if !ok {
		return "", nil, false
	}
	return sub.State(), sub.LastSnapshot(), true
}

// ── Sessions ────────────────────────────────────────────────

// Sessions lists conversations, optionally filtered by agent kind.
func (c *Console) Sessions(ctx context.Context, kind models.AgentKind) ([]models.Session, error) {
	return c.sessions.List(ctx, kind)
}

// Session fetches one conversation by ID.
func (c *Console) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	return c.sessions.Get(ctx, sessionID)
}
