// Package agentclient opens invocations against remote agent endpoints
// and exposes their responses as pull-based chunk streams.
//
// An agent endpoint answers either with a single JSON body
// {response, session_id} or with a chunked text stream (plain chunks or
// SSE data lines). Both are normalized to the same Stream: a JSON body
// becomes one chunk followed by immediate completion.
//
//	Invoke(req)
//	    ├─► resilience.Call — connection + status, keyed by agent id
//	    └─► consume goroutine
//	            ├─► reader: body → raw fragments
//	            ├─► idle timer (no chunk for 30s) ─► partial outcome
//	            ├─► total timer (300s ceiling)    ─► partial outcome
//	            └─► ctx cancel                    ─► cancelled outcome
package agentclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stackhand/console/internal/resilience"
	"github.com/stackhand/console/pkg/models"
)

const (
	// DefaultIdleTimeout ends a stream when no chunk arrives for this long.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultMaxDuration is the hard ceiling for one invocation.
	DefaultMaxDuration = 300 * time.Second

	// maxErrorBody caps how much of an error response is kept for the
	// error message.
	maxErrorBody = 2048

	// maxJSONBody caps a non-streamed JSON response body.
	maxJSONBody = 8 << 20
)

// Endpoint binds an agent id to its invocation URL and kind.
type Endpoint struct {
	AgentID string
	Kind    models.AgentKind
	URL     string
}

// Config tunes stream timeouts.
type Config struct {
	IdleTimeout time.Duration
	MaxDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	return c
}

// Client invokes remote agents. Safe for concurrent use.
type Client struct {
	http      *http.Client
	exec      *resilience.Executor
	cfg       Config
	endpoints map[string]Endpoint
}

// NewClient creates a client for the given agent endpoints. All
// connection attempts go through exec, keyed by agent id.
func NewClient(exec *resilience.Executor, cfg Config, endpoints ...Endpoint) *Client {
	eps := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		eps[ep.AgentID] = ep
	}
	return &Client{
		// No client-level timeout: streams outlive any fixed request
		// deadline and are bounded by the stream timers instead.
		http:      &http.Client{},
		exec:      exec,
		cfg:       cfg.withDefaults(),
		endpoints: eps,
	}
}

// Endpoints lists the configured agents.
func (c *Client) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		out = append(out, ep)
	}
	return out
}

// KindOf reports the agent kind for an agent id.
func (c *Client) KindOf(agentID string) (models.AgentKind, bool) {
	ep, ok := c.endpoints[agentID]
	return ep.Kind, ok
}

// Invoke opens a streaming invocation. The returned Stream is
// single-consumer; cancel it (or ctx) to release the connection.
func (c *Client) Invoke(ctx context.Context, req models.InvocationRequest) (*Stream, error) {
	ep, ok := c.endpoints[req.AgentID]
	if !ok {
		return nil, resilience.Permanent(fmt.Errorf("unknown agent %q", req.AgentID))
	}

	streamCtx, cancel := context.WithCancel(ctx)

	resp, err := resilience.Call(streamCtx, c.exec, "agent/"+req.AgentID,
		func(ctx context.Context) (*http.Response, error) {
			return c.open(ctx, ep, req)
		})
	if err != nil {
		cancel()
		return nil, err
	}

	log.Debug().
		Str("agent", req.AgentID).
		Str("session", req.SessionID).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("invocation stream opened")

	st := newStream(cancel)
	go c.consume(streamCtx, resp, st)
	return st, nil
}

// open performs one connection attempt. Non-2xx statuses become typed
// HTTP errors so the resilience layer can classify them.
func (c *Client) open(ctx context.Context, ep Endpoint, req models.InvocationRequest) (*http.Response, error) {
	payload, err := json.Marshal(map[string]string{
		"prompt":     req.Prompt,
		"session_id": req.SessionID,
	})
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("encode invocation: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream, */*")
	if req.SessionID != "" {
		httpReq.Header.Set("X-Session-Id", req.SessionID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", ep.AgentID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &resilience.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Detail:     strings.TrimSpace(string(detail)),
		}
	}
	return resp, nil
}

// readResult is one fragment handed from the body reader to the
// stream loop.
type readResult struct {
	text string
	err  error
}

// consume drives the stream: it relays body fragments to the consumer
// under the idle and total timers and settles the final outcome.
func (c *Client) consume(ctx context.Context, resp *http.Response, st *Stream) {
	defer resp.Body.Close()

	raw := make(chan readResult)
	go c.read(ctx, resp, raw)

	idle := time.NewTimer(c.cfg.IdleTimeout)
	defer idle.Stop()
	total := time.NewTimer(c.cfg.MaxDuration)
	defer total.Stop()

	seq := 0
	for {
		select {
		case r, ok := <-raw:
			if !ok {
				// Body exhausted — but a cancelled context also tears the
				// body down, and that must not read as completion.
				if ctx.Err() != nil {
					st.finish(models.OutcomeCancelled, nil)
				} else {
					st.finish(models.OutcomeCompleted, nil)
				}
				return
			}
			if r.err != nil {
				if errors.Is(r.err, context.Canceled) || ctx.Err() != nil {
					st.finish(models.OutcomeCancelled, nil)
					return
				}
				// Mid-stream failure: keep whatever was delivered.
				st.finish(models.OutcomePartial, r.err)
				return
			}
			seq++
			switch st.emit(ctx, models.ResponseChunk{Seq: seq, Text: r.text}, idle.C, total.C) {
			case emitCancelled:
				st.finish(models.OutcomeCancelled, nil)
				return
			case emitIdleTimeout:
				st.finish(models.OutcomePartial, &TimeoutError{Phase: "idle"})
				return
			case emitTotalTimeout:
				st.finish(models.OutcomePartial, &TimeoutError{Phase: "total"})
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.cfg.IdleTimeout)

		case <-idle.C:
			st.finish(models.OutcomePartial, &TimeoutError{Phase: "idle"})
			return

		case <-total.C:
			st.finish(models.OutcomePartial, &TimeoutError{Phase: "total"})
			return

		case <-ctx.Done():
			st.finish(models.OutcomeCancelled, nil)
			return
		}
	}
}

// read pulls fragments off the response body and forwards them until
// EOF, error, or cancellation. The channel is unbuffered: reading never
// races ahead of the consumer by more than one fragment.
func (c *Client) read(ctx context.Context, resp *http.Response, raw chan<- readResult) {
	defer close(raw)

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		c.readJSON(ctx, resp.Body, raw)
	case strings.HasPrefix(contentType, "text/event-stream"):
		c.readSSE(ctx, resp.Body, raw)
	default:
		c.readChunked(ctx, resp.Body, raw)
	}
}

// readJSON handles the non-streamed contract: one JSON body surfaced
// as a single chunk. A body that is not the expected shape is passed
// through as raw text rather than failing the stream.
func (c *Client) readJSON(ctx context.Context, body io.Reader, raw chan<- readResult) {
	data, err := io.ReadAll(io.LimitReader(body, maxJSONBody))
	if err != nil {
		send(ctx, raw, readResult{err: err})
		return
	}

	text := string(data)
	var parsed models.InvocationBody
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr == nil && parsed.Response != "" {
		text = parsed.Response
	}
	if text != "" {
		send(ctx, raw, readResult{text: text})
	}
}

// readSSE relays the data payload of each SSE event.
func (c *Client) readSSE(ctx context.Context, body io.Reader, raw chan<- readResult) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		if payload == "" || payload == "[DONE]" {
			continue
		}
		if !send(ctx, raw, readResult{text: payload}) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		send(ctx, raw, readResult{err: err})
	}
}

// readChunked relays raw body reads as they arrive.
func (c *Client) readChunked(ctx context.Context, body io.Reader, raw chan<- readResult) {
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if !send(ctx, raw, readResult{text: string(buf[:n])}) {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				send(ctx, raw, readResult{err: err})
			}
			return
		}
	}
}

func send(ctx context.Context, raw chan<- readResult, r readResult) bool {
	select {
	case raw <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
