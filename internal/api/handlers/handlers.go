// Package handlers implements the HTTP handlers for the Stackhand
// console backend: streaming agent invocation, parsed invocation,
// stack watch streams and session inspection.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/stackhand/console/internal/console"
	"github.com/stackhand/console/internal/resilience"
	"github.com/stackhand/console/internal/sessions"
	"github.com/stackhand/console/internal/stackwatch"
	"github.com/stackhand/console/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Console      *console.Console
	PollInterval time.Duration
	PollMax      time.Duration
}

// New creates a Handlers instance around the console façade.
func New(c *console.Console, pollInterval, pollMax time.Duration) *Handlers {
	return &Handlers{
		Console:      c,
		PollInterval: pollInterval,
		PollMax:      pollMax,
	}
}

// invokeBody is the request body for both invoke variants.
type invokeBody struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
}

// ── Agent Handlers ───────────────────────────────────────────

// ListAgents returns the configured agent endpoints.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	type agentInfo struct {
		AgentID string           `json:"agent_id"`
		Kind    models.AgentKind `json:"kind"`
	}
	agents := []agentInfo{}
	for _, ep := range h.Console.Agents() {
		agents = append(agents, agentInfo{AgentID: ep.AgentID, Kind: ep.Kind})
	}
	respondJSON(w, http.StatusOK, agents)
}

// InvokeAgent streams an agent response over SSE: one data event per
// chunk, then a final `parsed` event carrying the segmented response
// and the stream outcome.
func (h *Handlers) InvokeAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var body invokeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Prompt == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	stream, sessionID, err := h.Console.Invoke(r.Context(), models.InvocationRequest{
		AgentID:   agentID,
		Prompt:    body.Prompt,
		SessionID: body.SessionID,
	})
	if err != nil {
		respondInvokeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: session\ndata: {\"session_id\":%q}\n\n", sessionID)
	flusher.Flush()

	for {
		chunk, err := stream.Next(r.Context())
		if err != nil {
			// Client went away: release the invocation too.
			if r.Context().Err() != nil {
				stream.Cancel()
				return
			}
			break // stream ended
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	final := struct {
		Outcome   models.StreamOutcome  `json:"outcome"`
		SessionID string                `json:"session_id"`
		Error     string                `json:"error,omitempty"`
		Response  models.ParsedResponse `json:"response"`
	}{
		Outcome:   stream.Outcome(),
		SessionID: sessionID,
		Response:  h.Console.ParseResponse(agentID, stream.Text()),
	}
	if serr := stream.Err(); serr != nil {
		final.Error = serr.Error()
	}
	data, _ := json.Marshal(final)
	fmt.Fprintf(w, "event: parsed\ndata: %s\n\n", data)
	flusher.Flush()
}

// InvokeAgentParsed runs a full invocation and returns the segmented
// response as one JSON document.
func (h *Handlers) InvokeAgentParsed(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var body invokeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Prompt == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	parsed, sessionID, err := h.Console.InvokeParsed(r.Context(), models.InvocationRequest{
		AgentID:   agentID,
		Prompt:    body.Prompt,
		SessionID: body.SessionID,
	})
	if err != nil {
		respondInvokeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, struct {
		SessionID string                `json:"session_id"`
		Response  models.ParsedResponse `json:"response"`
	}{SessionID: sessionID, Response: *parsed})
}

// ── Stack Handlers ───────────────────────────────────────────

// WatchStack starts polling a stack and streams snapshots over SSE.
// The stream ends with a `state` event naming the stop cause.
func (h *Handlers) WatchStack(w http.ResponseWriter, r *http.Request) {
	stackName := chi.URLParam(r, "stackName")
	sessionID := r.URL.Query().Get("session_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	opts := stackwatch.Options{Interval: h.PollInterval, MaxDuration: h.PollMax}
	if v := r.URL.Query().Get("interval"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			opts.Interval = d
		}
	}
	if v := r.URL.Query().Get("max_duration"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			opts.MaxDuration = d
		}
	}

	sub, err := h.Console.WatchStack(r.Context(), sessionID, stackName, opts)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: watching\ndata: {\"stack\":%q}\n\n", stackName)
	flusher.Flush()

	for snap := range sub.Snapshots() {
		data, _ := json.Marshal(snap)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		if r.Context().Err() != nil {
			h.Console.StopWatch(stackName)
			return
		}
	}

	final := struct {
		State models.PollState `json:"state"`
		Error string           `json:"error,omitempty"`
	}{State: sub.State()}
	if serr := sub.Err(); serr != nil {
		final.Error = serr.Error()
	}
	data, _ := json.Marshal(final)
	fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
	flusher.Flush()
}

// StopWatchStack cancels polling for a stack. Stopping a stack that is
// not being watched succeeds; the operation is idempotent.
func (h *Handlers) StopWatchStack(w http.ResponseWriter, r *http.Request) {
	stackName := chi.URLParam(r, "stackName")
	h.Console.StopWatch(stackName)
	respondJSON(w, http.StatusOK, map[string]any{
		"stack":   stackName,
		"polling": false,
	})
}

// WatchState reports the current poll state and last snapshot.
func (h *Handlers) WatchState(w http.ResponseWriter, r *http.Request) {
	stackName := chi.URLParam(r, "stackName")

	state, snap, ok := h.Console.WatchState(stackName)
	if !ok {
		respondError(w, http.StatusNotFound, "stack was never watched: "+stackName)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Stack    string                `json:"stack"`
		State    models.PollState      `json:"state"`
		Polling  bool                  `json:"polling"`
		Snapshot *models.StackSnapshot `json:"snapshot,omitempty"`
	}{
		Stack:    stackName,
		State:    state,
		Polling:  state == models.PollRunning,
		Snapshot: snap,
	})
}

// ── Session Handlers ─────────────────────────────────────────

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	kind := models.AgentKind(r.URL.Query().Get("kind"))
	list, err := h.Console.Sessions(r.Context(), kind)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Session{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.Console.Session(r.Context(), sessionID)
	if err != nil {
		var notFound *sessions.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// ── Helpers ──────────────────────────────────────────────────

// respondInvokeError maps invocation failures to HTTP statuses by
// error class: permanent setup failures are the caller's problem,
// transient and circuit-open failures are upstream trouble.
func respondInvokeError(w http.ResponseWriter, err error) {
	switch resilience.Classify(err) {
	case resilience.ClassPermanent:
		respondError(w, http.StatusNotFound, err.Error())
	case resilience.ClassCircuitOpen:
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case resilience.ClassCanceled:
		respondError(w, http.StatusRequestTimeout, err.Error())
	default:
		respondError(w, http.StatusBadGateway, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
