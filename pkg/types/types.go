// Package types holds the data model shared between the host daemon and the
// in-container agent runtime. Both binaries serialize these structs across
// the container boundary, so changes here must stay backward compatible.
package types

import (
	"strings"
	"time"
)

// Output markers frame a single JSON payload on the container's stdout
// stream. Everything outside a marker pair is treated as free-form text.
const (
	OutputStartMarker = "---BURROW_OUTPUT_START---"
	OutputEndMarker   = "---BURROW_OUTPUT_END---"
)

// Container ownership labels. Every container spawned by this process
// carries ManagedLabel so a restarted host can find and reap orphans.
const (
	ManagedLabel      = "burrow.managed"
	ManagedLabelValue = "true"
	AgentIDLabel      = "burrow.agent-id"
)

// Agent describes one runnable agent. Exactly one agent in the store has
// IsOrchestrator set; it receives user messages directly and may delegate
// to the others.
type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Model          string    `json:"model"`
	SystemPrompt   string    `json:"system_prompt"`
	ToolServers    []string  `json:"tool_servers,omitempty"`
	Secrets        []string  `json:"secrets,omitempty"`
	IsOrchestrator bool      `json:"is_orchestrator"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ToolServerConfig describes how to launch one tool server subprocess.
type ToolServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ContainerInput is the one-shot payload written to a container's stdin at
// spawn. Secrets are resolved immediately before the spawn and stripped from
// the host-side copy immediately after; they must never be persisted or
// logged.
type ContainerInput struct {
	Prompt         string             `json:"prompt"`
	Media          []string           `json:"media,omitempty"`
	AgentID        string             `json:"agent_id"`
	AgentName      string             `json:"agent_name"`
	Model          string             `json:"model"`
	SystemPrompt   string             `json:"system_prompt"`
	ConversationID string             `json:"conversation_id,omitempty"`
	IsOrchestrator bool               `json:"is_orchestrator"`
	ToolServers    []ToolServerConfig `json:"tool_servers,omitempty"`
	Secrets        map[string]string  `json:"secrets,omitempty"`
}

// Container run status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ContainerOutput is one marker-delimited payload emitted by a running
// container. A single container lifetime may emit zero or more of these;
// the last one carrying a conversationId is authoritative for session
// continuity.
type ContainerOutput struct {
	Status         string  `json:"status"`
	Result         *string `json:"result"`
	ConversationID string  `json:"conversationId,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// SuccessOutput builds a success payload with the given result text.
func SuccessOutput(result, conversationID string) *ContainerOutput {
	return &ContainerOutput{Status: StatusSuccess, Result: &result, ConversationID: conversationID}
}

// ErrorOutput builds an error payload.
func ErrorOutput(msg string) *ContainerOutput {
	return &ContainerOutput{Status: StatusError, Error: msg}
}

// Conversation lifecycle states.
const (
	ConversationActive     = "active"
	ConversationSummarized = "summarized"
	ConversationArchived   = "archived"
)

// Turn is one entry in a conversation transcript.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the persistent transcript owned by one agent. At most one
// conversation per agent is active at a time; clearing or shutdown moves it
// to summarized and a fresh one is created on the next message.
type Conversation struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Turns     []Turn    `json:"turns"`
	Status    string    `json:"status"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedule kinds.
const (
	ScheduleCron     = "cron"
	ScheduleInterval = "interval"
	ScheduleOnce     = "once"
)

// Scheduled task states.
const (
	TaskActive    = "active"
	TaskPaused    = "paused"
	TaskCompleted = "completed"
)

// ScheduledTask is a prompt fired at computed times on behalf of an agent.
// Once tasks complete after a single firing; cron and interval tasks compute
// a new NextRun after every firing.
type ScheduledTask struct {
	ID            string     `json:"id"`
	AgentID       string     `json:"agent_id"`
	Prompt        string     `json:"prompt"`
	ScheduleKind  string     `json:"schedule_kind"`
	ScheduleValue string     `json:"schedule_value"`
	NextRun       *time.Time `json:"next_run,omitempty"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	LastResult    string     `json:"last_result,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Due reports whether the task should fire at the given instant.
func (t *ScheduledTask) Due(now time.Time) bool {
	return t.Status == TaskActive && t.NextRun != nil && !t.NextRun.After(now)
}

// NormalizeAgentName lowercases and trims a name for case-insensitive
// lookups during delegation.
func NormalizeAgentName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
