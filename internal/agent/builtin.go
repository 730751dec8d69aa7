package agent

import (
	"context"
	"fmt"

	"burrow/internal/ipc"
	"burrow/internal/llm"
	"burrow/internal/mcp"
)

// builtinTool is a tool implemented in-process by writing an IPC envelope
// for the host to act on.
type builtinTool struct {
	def llm.ToolDefinition
	run func(ctx context.Context, args map[string]any) (string, error)
}

func (t *builtinTool) Definition() llm.ToolDefinition { return t.def }

func (t *builtinTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return t.run(ctx, args)
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func strArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func strSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Builtins returns the in-process tools for one agent. Every agent can send
// messages; delegation, scheduling, and agent management are reserved for
// the orchestrator.
func Builtins(mailbox *ipc.Mailbox, isOrchestrator bool) []mcp.Tool {
	tools := []mcp.Tool{
		&builtinTool{
			def: llm.ToolDefinition{
				Name:        "send_message",
				Description: "Send a text message to the user immediately, without ending the current turn.",
				Parameters: objectSchema(map[string]any{
					"text": stringProp("The message text to send."),
				}, "text"),
			},
			run: func(_ context.Context, args map[string]any) (string, error) {
				text := strArg(args, "text")
				if text == "" {
					return "", fmt.Errorf("text is required")
				}
				if err := mailbox.Write(ipc.DirMessages, &ipc.Message{Text: text}); err != nil {
					return "", err
				}
				return "message sent to user", nil
			},
		},
		&builtinTool{
			def: llm.ToolDefinition{
				Name:        "send_photo",
				Description: "Send an image file to the user. The path must point at a file inside the workspace or media directory.",
				Parameters: objectSchema(map[string]any{
					"path":    stringProp("Path of the image file to send."),
					"caption": stringProp("Optional caption."),
				}, "path"),
			},
			run: func(_ context.Context, args map[string]any) (string, error) {
				path := strArg(args, "path")
				if path == "" {
					return "", fmt.Errorf("path is required")
				}
				err := mailbox.Write(ipc.DirMessages, &ipc.Image{Path: path, Caption: strArg(args, "caption")})
				if err != nil {
					return "", err
				}
				return "photo sent to user", nil
			},
		},
	}

	if !isOrchestrator {
		return tools
	}

	orchestratorTools := []mcp.Tool{
		&builtinTool{
			def: llm.ToolDefinition{
				Name:        "delegate_to_agent",
				Description: "Delegate a task to a specialist agent by name. With wait_for_result the specialist's answer arrives as a follow-up message.",
				Parameters: objectSchema(map[string]any{
					"agent_name":      stringProp("Name of the specialist agent."),
					"task":            stringProp("Complete description of the task to perform."),
					"wait_for_result": map[string]any{"type": "boolean", "description": "Relay the result back when done. Defaults to true."},
				}, "agent_name", "task"),
			},
			run: func(_ context.Context, args map[string]any) (string, error) {
				name := strArg(args, "agent_name")
				task := strArg(args, "task")
				if name == "" || task == "" {
					return "", fmt.Errorf("agent_name and task are required")
				}
				wait := true
				if _, present := args["wait_for_result"]; present {
					wait = boolArg(args, "wait_for_result")
				}
				err := mailbox.Write(ipc.DirMessages, &ipc.Delegate{AgentName: name, Task: task, WaitForResult: wait})
				if err != nil {
					return "", err
				}
				if wait {
					return fmt.Sprintf("task delegated to %s; the result will arrive as a follow-up message", name), nil
				}
				return fmt.Sprintf("task delegated to %s (fire and forget)", name), nil
			},
		},
		&builtinTool{
			def: llm.ToolDefinition{
				Name:        "schedule_task",
				Description: "Schedule a prompt to run later. schedule_type is cron (5-field expression), interval (milliseconds), or once (fire immediately).",
				Parameters: objectSchema(map[string]any{
					"prompt":         stringProp("The prompt to run when the task fires."),
					"schedule_type":  stringProp("One of: cron, interval, once."),
					"schedule_value": stringProp("Cron expression or interval in milliseconds. Empty for once."),
					"agent_name":     stringProp("Optional specialist to run the task; defaults to yourself."),
				}, "prompt", "schedule_type"),
			},
			run: func(_ context.Context, args map[string]any) (string, error) {
				prompt := strArg(args, "prompt")
				kind := strArg(args, "schedule_type")
				if prompt == "" || kind == "" {
					return "", fmt.Errorf("prompt and schedule_type are required")
				}
				err := mailbox.Write(ipc.DirTasks, &ipc.ScheduleTask{
					AgentName:     strArg(args, "agent_name"),
					Prompt:        prompt,
					ScheduleType:  kind,
					ScheduleValue: strArg(args, "schedule_value"),
				})
				if err != nil {
					return "", err
				}
				return "task scheduled", nil
			},
		},
		taskIDTool("pause_task", "Pause an active scheduled task.", func(id string) ipc.Command {
			return &ipc.PauseTask{TaskID: id}
		}, mailbox),
		taskIDTool("resume_task", "Resume a paused scheduled task.", func(id string) ipc.Command {
			return &ipc.ResumeTask{TaskID: id}
		}, mailbox),
		taskIDTool("cancel_task", "Cancel and delete a scheduled task.", func(id string) ipc.Command {
			return &ipc.CancelTask{TaskID: id}
		}, mailbox),
		&builtinTool{
			def: llm.ToolDefinition{
				Name:        "create_agent",
				Description: "Create a new specialist agent.",
				Parameters: objectSchema(map[string]any{
					"name":          stringProp("Unique agent name."),
					"model":         stringProp("Model identifier; defaults to the system default."),
					"system_prompt": stringProp("The specialist's system prompt."),
					"tool_servers":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Tool server names to attach."},
				}, "name"),
			},
			run: func(_ context.Context, args map[string]any) (string, error) {
				name := strArg(args, "name")
				if name == "" {
					return "", fmt.Errorf("name is required")
				}
				err := mailbox.Write(ipc.DirTasks, &ipc.CreateAgent{
					Name:         name,
					Model:        strArg(args, "model"),
					SystemPrompt: strArg(args, "system_prompt"),
					ToolServers:  strSliceArg(args, "tool_servers"),
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("agent %s creation requested", name), nil
			},
		},
		&builtinTool{
			def: llm.ToolDefinition{
				Name:        "update_agent",
				Description: "Update an existing specialist agent. Omitted fields keep their current value.",
				Parameters: objectSchema(map[string]any{
					"name":          stringProp("Name of the agent to update."),
					"model":         stringProp("New model identifier."),
					"system_prompt": stringProp("New system prompt."),
					"tool_servers":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Replacement tool server list."},
				}, "name"),
			},
			run: func(_ context.Context, args map[string]any) (string, error) {
				name := strArg(args, "name")
				if name == "" {
					return "", fmt.Errorf("name is required")
				}
				update := &ipc.UpdateAgent{Name: name}
				if v, ok := args["model"].(string); ok {
					update.Model = &v
				}
				if v, ok := args["system_prompt"].(string); ok {
					update.SystemPrompt = &v
				}
				if _, ok := args["tool_servers"]; ok {
					servers := strSliceArg(args, "tool_servers")
					update.ToolServers = &servers
				}
				if err := mailbox.Write(ipc.DirTasks, update); err != nil {
					return "", err
				}
				return fmt.Sprintf("agent %s update requested", name), nil
			},
		},
		&builtinTool{
			def: llm.ToolDefinition{
				Name:        "delete_agent",
				Description: "Delete a specialist agent.",
				Parameters: objectSchema(map[string]any{
					"name": stringProp("Name of the agent to delete."),
				}, "name"),
			},
			run: func(_ context.Context, args map[string]any) (string, error) {
				name := strArg(args, "name")
				if name == "" {
					return "", fmt.Errorf("name is required")
				}
				if err := mailbox.Write(ipc.DirTasks, &ipc.DeleteAgent{Name: name}); err != nil {
					return "", err
				}
				return fmt.Sprintf("agent %s deletion requested", name), nil
			},
		},
	}

	return append(tools, orchestratorTools...)
}

func taskIDTool(name, desc string, build func(id string) ipc.Command, mailbox *ipc.Mailbox) mcp.Tool {
	return &builtinTool{
		def: llm.ToolDefinition{
			Name:        name,
			Description: desc,
			Parameters: objectSchema(map[string]any{
				"task_id": stringProp("ID of the scheduled task."),
			}, "task_id"),
		},
		run: func(_ context.Context, args map[string]any) (string, error) {
			id := strArg(args, "task_id")
			if id == "" {
				return "", fmt.Errorf("task_id is required")
			}
			if err := mailbox.Write(ipc.DirTasks, build(id)); err != nil {
				return "", err
			}
			return "ok", nil
		},
	}
}
