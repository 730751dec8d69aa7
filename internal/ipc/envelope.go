package ipc

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates envelope payloads on the wire.
type Kind string

const (
	KindMessage     Kind = "message"
	KindImage       Kind = "image"
	KindDelegate    Kind = "delegate_to_agent"
	KindSchedule    Kind = "schedule_task"
	KindPauseTask   Kind = "pause_task"
	KindResumeTask  Kind = "resume_task"
	KindCancelTask  Kind = "cancel_task"
	KindCreateAgent Kind = "create_agent"
	KindUpdateAgent Kind = "update_agent"
	KindDeleteAgent Kind = "delete_agent"
)

// Command is one decoded IPC envelope. The concrete type is selected by the
// "type" discriminator; consumers dispatch with a type switch.
type Command interface {
	Kind() Kind
}

// Message carries a text turn in either direction: host→container follow-up
// input, or container→host outbound chat text. From is set when the host
// relays a specialist's result into the orchestrator's input.
type Message struct {
	Text      string    `json:"text"`
	Media     []string  `json:"media,omitempty"`
	From      string    `json:"from,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Image references a media file under the mailbox media directory.
type Image struct {
	Path      string    `json:"path"`
	Caption   string    `json:"caption,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Delegate asks the host to run a task on another agent.
type Delegate struct {
	AgentName     string    `json:"agent_name"`
	Task          string    `json:"task"`
	WaitForResult bool      `json:"wait_for_result"`
	Timestamp     time.Time `json:"timestamp"`
}

// ScheduleTask registers a new scheduled task for an agent.
type ScheduleTask struct {
	AgentName     string    `json:"agent_name,omitempty"`
	Prompt        string    `json:"prompt"`
	ScheduleType  string    `json:"schedule_type"`
	ScheduleValue string    `json:"schedule_value"`
	Timestamp     time.Time `json:"timestamp"`
}

// PauseTask suspends a scheduled task.
type PauseTask struct {
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ResumeTask reactivates a paused task.
type ResumeTask struct {
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CancelTask deletes a scheduled task.
type CancelTask struct {
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateAgent registers a new specialist agent.
type CreateAgent struct {
	Name         string    `json:"name"`
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	ToolServers  []string  `json:"tool_servers,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// UpdateAgent mutates an existing specialist agent. Nil fields are left
// unchanged.
type UpdateAgent struct {
	Name         string    `json:"name"`
	Model        *string   `json:"model,omitempty"`
	SystemPrompt *string   `json:"system_prompt,omitempty"`
	ToolServers  *[]string `json:"tool_servers,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DeleteAgent removes a specialist agent.
type DeleteAgent struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

func (Message) Kind() Kind      { return KindMessage }
func (Image) Kind() Kind        { return KindImage }
func (Delegate) Kind() Kind     { return KindDelegate }
func (ScheduleTask) Kind() Kind { return KindSchedule }
func (PauseTask) Kind() Kind    { return KindPauseTask }
func (ResumeTask) Kind() Kind   { return KindResumeTask }
func (CancelTask) Kind() Kind   { return KindCancelTask }
func (CreateAgent) Kind() Kind  { return KindCreateAgent }
func (UpdateAgent) Kind() Kind  { return KindUpdateAgent }
func (DeleteAgent) Kind() Kind  { return KindDeleteAgent }

// ErrUnknownKind is wrapped by Decode for unrecognized discriminators so the
// watcher can quarantine the file and keep going.
var ErrUnknownKind = fmt.Errorf("unknown envelope type")

// Encode serializes a command as a single JSON envelope with its "type"
// discriminator and a timestamp injected.
func Encode(cmd Command) ([]byte, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", cmd.Kind(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("reshape %s envelope: %w", cmd.Kind(), err)
	}
	fields["type"], _ = json.Marshal(string(cmd.Kind()))
	if ts, ok := fields["timestamp"]; !ok || string(ts) == `"0001-01-01T00:00:00Z"` {
		fields["timestamp"], _ = json.Marshal(time.Now().UTC().Format(time.RFC3339Nano))
	}
	return json.Marshal(fields)
}

// Decode parses one envelope, selecting the concrete type by discriminator.
func Decode(data []byte) (Command, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse envelope header: %w", err)
	}

	var cmd Command
	switch head.Type {
	case KindMessage:
		cmd = &Message{}
	case KindImage:
		cmd = &Image{}
	case KindDelegate:
		cmd = &Delegate{}
	case KindSchedule:
		cmd = &ScheduleTask{}
	case KindPauseTask:
		cmd = &PauseTask{}
	case KindResumeTask:
		cmd = &ResumeTask{}
	case KindCancelTask:
		cmd = &CancelTask{}
	case KindCreateAgent:
		cmd = &CreateAgent{}
	case KindUpdateAgent:
		cmd = &UpdateAgent{}
	case KindDeleteAgent:
		cmd = &DeleteAgent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}

	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("parse %s envelope: %w", head.Type, err)
	}
	return cmd, nil
}
