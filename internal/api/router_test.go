package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stackhand/console/internal/agentclient"
	"github.com/stackhand/console/internal/config"
	"github.com/stackhand/console/internal/console"
	"github.com/stackhand/console/internal/resilience"
	"github.com/stackhand/console/internal/sessions"
	"github.com/stackhand/console/internal/stackwatch"
	"github.com/stackhand/console/pkg/models"
)

type stubStatus struct{}

func (stubStatus) StackStatus(ctx context.Context, stackName string) (*models.StackStatusPayload, error) {
	return &models.StackStatusPayload{StackName: stackName, Status: "CREATE_COMPLETE"}, nil
}

func newTestRouter(t *testing.T, agentText string) http.Handler {
	t.Helper()
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"response": agentText})
	}))
	t.Cleanup(agent.Close)

	exec := resilience.NewExecutor(resilience.Config{MaxAttempts: 1, FailureThreshold: 100})
	agents := agentclient.NewClient(exec, agentclient.Config{},
		agentclient.Endpoint{AgentID: "onboarding", Kind: models.AgentOnboarding, URL: agent.URL},
	)
	watcher := stackwatch.NewWatcher(stubStatus{}, exec)
	c := console.New(agents, watcher, sessions.NewStore())
	return NewRouter(config.Load(), c)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, "ok")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", body["status"])
	}
}

func TestVersionEndpoint(t *testing.T) {
	router := newTestRouter(t, "ok")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/version", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /version = %d, want 200", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["service"] != "stackhand-console" {
		t.Errorf("service = %q, want stackhand-console", body["service"])
	}
}

func TestListAgentsEndpoint(t *testing.T) {
	router := newTestRouter(t, "ok")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/agents", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/agents = %d, want 200", rec.Code)
	}
	var agents []struct {
		AgentID string `json:"agent_id"`
		Kind    string `json:"kind"`
	}
	json.NewDecoder(rec.Body).Decode(&agents)
	if len(agents) != 1 || agents[0].AgentID != "onboarding" {
		t.Errorf("agents = %+v, want one onboarding agent", agents)
	}
}

func TestInvokeParsedEndpoint(t *testing.T) {
	router := newTestRouter(t, "Plan below.\n# Architecture\nOne bucket.\n# Cost\n$1/month.\n")

	req := httptest.NewRequest("POST", "/api/v1/agents/onboarding/invoke/parsed",
		strings.NewReader(`{"prompt":"design a bucket"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("POST invoke/parsed = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		SessionID string                `json:"session_id"`
		Response  models.ParsedResponse `json:"response"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID == "" {
		t.Error("no session_id assigned")
	}
	if len(body.Response.Sections) != 3 {
		t.Errorf("got %d sections, want 3", len(body.Response.Sections))
	}
}

func TestInvokeUnknownAgent(t *testing.T) {
	router := newTestRouter(t, "ok")

	req := httptest.NewRequest("POST", "/api/v1/agents/mystery/invoke/parsed",
		strings.NewReader(`{"prompt":"hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent = %d, want 404", rec.Code)
	}
}

func TestInvokeRequiresPrompt(t *testing.T) {
	router := newTestRouter(t, "ok")

	req := httptest.NewRequest("POST", "/api/v1/agents/onboarding/invoke",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty prompt = %d, want 400", rec.Code)
	}
}

func TestInvokeStreamEndsWithParsedEvent(t *testing.T) {
	router := newTestRouter(t, "# Architecture\nA queue.\n")
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/agents/onboarding/invoke",
		"application/json", strings.NewReader(`{"prompt":"design a queue"}`))
	if err != nil {
		t.Fatalf("POST invoke: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	out := string(raw)
	if !strings.Contains(out, "event: session") {
		t.Error("stream missing session event")
	}
	if !strings.Contains(out, "event: parsed") {
		t.Error("stream missing final parsed event")
	}
	if !strings.Contains(out, `"outcome":"completed"`) {
		t.Errorf("stream missing completed outcome:\n%s", out)
	}
}

func TestWatchStateUnknownStack(t *testing.T) {
	router := newTestRouter(t, "ok")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stacks/nope/watch/state", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("unwatched stack state = %d, want 404", rec.Code)
	}
}

func TestStopWatchIsIdempotent(t *testing.T) {
	router := newTestRouter(t, "ok")

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/v1/stacks/web/watch", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("DELETE watch #%d = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestListSessionsEmpty(t *testing.T) {
	router := newTestRouter(t, "ok")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/sessions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/sessions = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}
