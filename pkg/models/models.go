// Package models defines the wire and domain types shared across the
// Stackhand console: agent invocations and their chunked responses,
// segmented response sections ("tabs"), and deployment stack state.
package models

import (
	"strings"
	"time"
)

// ── Agents ───────────────────────────────────────────────────

// AgentKind identifies which remote agent a conversation is bound to.
type AgentKind string

const (
	// AgentOnboarding generates infrastructure templates from natural
	// language architecture descriptions.
	AgentOnboarding AgentKind = "onboarding"

	// AgentProvisioning deploys templates and reports on stack progress.
	AgentProvisioning AgentKind = "provisioning"

	// AgentOrchestrator coordinates the other two agents end to end.
	AgentOrchestrator AgentKind = "orchestrator"
)

// KnownAgentKinds lists every kind the console routes to.
func KnownAgentKinds() []AgentKind {
	return []AgentKind{AgentOnboarding, AgentProvisioning, AgentOrchestrator}
}

// InvocationRequest is a single prompt sent to a remote agent.
// Immutable once issued.
type InvocationRequest struct {
	AgentID   string `json:"agent_id"`
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"` // opaque, stable per conversation
}

// ResponseChunk is one ordered fragment of a streamed agent response.
// Chunks are append-only; the assembled response is their concatenation
// in Seq order.
type ResponseChunk struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

// StreamOutcome describes how an invocation stream ended.
type StreamOutcome string

const (
	// OutcomeCompleted — the agent finished and the full text is available.
	OutcomeCompleted StreamOutcome = "completed"

	// OutcomePartial — the stream ended early (idle timeout or hard
	// ceiling) but the text received so far is preserved.
	OutcomePartial StreamOutcome = "partial"

	// OutcomeCancelled — the consumer cancelled mid-stream. Not an error.
	OutcomeCancelled StreamOutcome = "cancelled"

	// OutcomeFailed — the stream ended with a remote failure before any
	// usable completion.
	OutcomeFailed StreamOutcome = "failed"
)

// ── Response sections ("tabs") ───────────────────────────────

// SectionKind classifies a segmented slice of an agent response.
type SectionKind string

const (
	SectionArchitecture SectionKind = "architecture"
	SectionCost         SectionKind = "cost"
	SectionTemplate     SectionKind = "template"
	SectionSummary      SectionKind = "summary"
	SectionProgress     SectionKind = "progress"
	SectionResources    SectionKind = "resources"
	SectionFreeform     SectionKind = "freeform"
)

// SectionFormat is the rendering format of a section's content.
type SectionFormat string

const (
	FormatMarkdown  SectionFormat = "markdown"
	FormatYAML      SectionFormat = "yaml"
	FormatJSON      SectionFormat = "json"
	FormatPlaintext SectionFormat = "plaintext"
)

// Section is a named, typed slice of an agent response used for
// structured presentation. IDs are unique within one ParsedResponse.
type Section struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Kind    SectionKind   `json:"kind"`
	Content string        `json:"content"`
	Format  SectionFormat `json:"format"`
}

// ParsedResponse is the segmented form of one completed (or
// force-flushed) invocation. Immutable once created.
type ParsedResponse struct {
	AgentKind AgentKind `json:"agent_kind"`
	Sections  []Section `json:"sections"`
}

// Reconstitute renders the sections back into marker-tagged text, so
// segmenting the result reproduces the same section set. Used to check
// that segmentation is stable under re-segmentation.
func (p ParsedResponse) Reconstitute() string {
	parts := make([]string, 0, len(p.Sections))
	for _, s := range p.Sections {
		var b strings.Builder
		b.WriteString(`<tab:` + string(s.Kind) + ` title="` + escapeTitleAttr(s.Title) + `">` + "\n")
		b.WriteString(s.Content)
		b.WriteString("\n</tab>")
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n")
}

// escapeTitleAttr escapes a section title for use inside a
// double-quoted marker attribute.
func escapeTitleAttr(title string) string {
	title = strings.ReplaceAll(title, `\`, `\\`)
	return strings.ReplaceAll(title, `"`, `\"`)
}

// ── Stack state ──────────────────────────────────────────────

// StackStatus is the stack-level status string reported by the
// deployment service (CloudFormation vocabulary).
type StackStatus string

const (
	StackCreateInProgress       StackStatus = "CREATE_IN_PROGRESS"
	StackCreateComplete         StackStatus = "CREATE_COMPLETE"
	StackCreateFailed           StackStatus = "CREATE_FAILED"
	StackUpdateInProgress       StackStatus = "UPDATE_IN_PROGRESS"
	StackUpdateComplete         StackStatus = "UPDATE_COMPLETE"
	StackUpdateFailed           StackStatus = "UPDATE_FAILED"
	StackDeleteInProgress       StackStatus = "DELETE_IN_PROGRESS"
	StackDeleteComplete         StackStatus = "DELETE_COMPLETE"
	StackDeleteFailed           StackStatus = "DELETE_FAILED"
	StackRollbackInProgress     StackStatus = "ROLLBACK_IN_PROGRESS"
	StackRollbackComplete       StackStatus = "ROLLBACK_COMPLETE"
	StackRollbackFailed         StackStatus = "ROLLBACK_FAILED"
	StackUpdateRollbackComplete StackStatus = "UPDATE_ROLLBACK_COMPLETE"
	StackUpdateRollbackFailed   StackStatus = "UPDATE_ROLLBACK_FAILED"
)

// ResourceState is the normalized lifecycle state of one stack resource.
type ResourceState string

const (
	ResourcePending    ResourceState = "pending"
	ResourceInProgress ResourceState = "in_progress"
	ResourceComplete   ResourceState = "complete"
	ResourceFailed     ResourceState = "failed"
	ResourceRolledBack ResourceState = "rolled_back"
)

// ResourceStateFromStatus normalizes a raw resource status string
// (e.g. "CREATE_IN_PROGRESS", "CREATE_COMPLETE") into a ResourceState.
// Unknown strings map to pending so a new vocabulary never crashes a
// poll session.
func ResourceStateFromStatus(raw string) ResourceState {
	switch {
	case raw == "":
		return ResourcePending
	case strings.HasSuffix(raw, "_FAILED"):
		return ResourceFailed
	case strings.HasPrefix(raw, "ROLLBACK_") && strings.HasSuffix(raw, "_COMPLETE"),
		strings.HasPrefix(raw, "DELETE_") && strings.HasSuffix(raw, "_COMPLETE"):
		return ResourceRolledBack
	case strings.HasSuffix(raw, "_COMPLETE"):
		return ResourceComplete
	case strings.HasSuffix(raw, "_IN_PROGRESS"):
		return ResourceInProgress
	default:
		return ResourcePending
	}
}

// ResourceStatus tracks one logical resource within a stack.
type ResourceStatus struct {
	LogicalID        string        `json:"logical_id"`
	PhysicalID       string        `json:"physical_id,omitempty"` // empty until provisioned
	Type             string        `json:"type"`
	Status           ResourceState `json:"status"`
	RawStatus        string        `json:"raw_status,omitempty"`
	LastTransitionAt time.Time     `json:"last_transition_at"`
}

// StackEvent is one entry in a stack's event history, newest last.
type StackEvent struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	LogicalID    string    `json:"logical_id"`
	ResourceType string    `json:"resource_type"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
}

// StackSnapshot is a complete, immutable view of a stack at one poll
// tick. A snapshot is replaced wholesale on every tick; consumers never
// see partial mutation. Resources keep discovery order and have unique
// logical IDs.
type StackSnapshot struct {
	StackID         string            `json:"stack_id"`
	StackName       string            `json:"stack_name"`
	Status          StackStatus       `json:"status"`
	Resources       []ResourceStatus  `json:"resources"`
	Events          []StackEvent      `json:"events"`
	Outputs         map[string]string `json:"outputs,omitempty"`
	ProgressPercent int               `json:"progress_percent"`
	CreatedAt       time.Time         `json:"created_at"`
	LastUpdatedAt   time.Time         `json:"last_updated_at"`
}

// Resource returns the resource with the given logical ID, if present.
func (s *StackSnapshot) Resource(logicalID string) (ResourceStatus, bool) {
	for _, r := range s.Resources {
		if r.LogicalID == logicalID {
			return r, true
		}
	}
	return ResourceStatus{}, false
}

// PollState is the lifecycle state of a poll session. All stopped_*
// states are terminal.
type PollState string

const (
	PollRunning          PollState = "running"
	PollStoppedTerminal  PollState = "stopped_terminal"
	PollStoppedTimeout   PollState = "stopped_timeout"
	PollStoppedCancelled PollState = "stopped_cancelled"
	PollStoppedError     PollState = "stopped_error"
)

// Stopped reports whether the state is one of the terminal stop states.
func (s PollState) Stopped() bool {
	return s != PollRunning && s != ""
}

// ── Deployment status endpoint wire format ───────────────────

// StackStatusPayload is the response contract of the deployment-status
// endpoint. Field names follow the provisioning service's JSON.
type StackStatusPayload struct {
	StackID     string                  `json:"stack_id"`
	StackName   string                  `json:"stack_name"`
	Status      string                  `json:"status"`
	Resources   []ResourcePayload       `json:"resources"`
	Outputs     map[string]string       `json:"outputs,omitempty"`
	Events      []StackEventPayload     `json:"events,omitempty"`
	CreatedAt   time.Time               `json:"creation_time"`
	LastUpdated time.Time               `json:"last_updated"`
}

// ResourcePayload is one resource entry in a StackStatusPayload.
type ResourcePayload struct {
	LogicalID  string `json:"logical_id"`
	PhysicalID string `json:"physical_id,omitempty"`
	Type       string `json:"type"`
	Status     string `json:"status"`
}

// StackEventPayload is one event entry in a StackStatusPayload.
type StackEventPayload struct {
	Timestamp    time.Time `json:"timestamp"`
	ResourceType string    `json:"resource_type"`
	LogicalID    string    `json:"logical_id"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
}

// ── Agent endpoint wire format ───────────────────────────────

// InvocationBody is the JSON body a non-streaming agent endpoint
// returns. Streaming endpoints return chunked text instead; the client
// treats this body as a single chunk followed by completion.
type InvocationBody struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// ── Conversation sessions ────────────────────────────────────

// Turn is one prompt/response exchange within a conversation session.
type Turn struct {
	Prompt    string          `json:"prompt"`
	Outcome   StreamOutcome   `json:"outcome"`
	Response  *ParsedResponse `json:"response,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

// Session is an in-memory conversation with one agent. Sessions exist
// only for UI resumability; nothing is persisted across restarts.
type Session struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	AgentKind AgentKind `json:"agent_kind"`
	Turns     []Turn    `json:"turns"`
	Stacks    []string  `json:"stacks,omitempty"` // stack names mentioned in this conversation
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
