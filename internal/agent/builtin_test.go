package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burrow/internal/ipc"
	"burrow/internal/logging"
	"burrow/internal/mcp"
)

func newBuiltinFixture(t *testing.T, orchestrator bool) (*ipc.Mailbox, *mcp.Registry) {
	t.Helper()
	mailbox := ipc.NewMailbox(t.TempDir(), logging.Nop())
	require.NoError(t, mailbox.EnsureDirs())

	registry := mcp.NewRegistry(logging.Nop())
	for _, tool := range Builtins(mailbox, orchestrator) {
		registry.Register(tool)
	}
	return mailbox, registry
}

func consumeOne(t *testing.T, mailbox *ipc.Mailbox, dir string) ipc.Command {
	t.Helper()
	var got ipc.Command
	n, err := mailbox.Consume(dir, func(cmd ipc.Command) error {
		got = cmd
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return got
}

func TestSpecialistGetsOnlyMessagingTools(t *testing.T) {
	_, registry := newBuiltinFixture(t, false)

	assert.True(t, registry.Has("send_message"))
	assert.True(t, registry.Has("send_photo"))
	assert.False(t, registry.Has("delegate_to_agent"))
	assert.False(t, registry.Has("schedule_task"))
	assert.False(t, registry.Has("create_agent"))
}

func TestOrchestratorGetsManagementTools(t *testing.T) {
	_, registry := newBuiltinFixture(t, true)

	for _, name := range []string{
		"send_message", "send_photo", "delegate_to_agent", "schedule_task",
		"pause_task", "resume_task", "cancel_task",
		"create_agent", "update_agent", "delete_agent",
	} {
		assert.True(t, registry.Has(name), "missing tool %s", name)
	}
}

func TestSendMessageWritesEnvelope(t *testing.T) {
	mailbox, registry := newBuiltinFixture(t, false)

	ack, err := registry.Invoke(context.Background(), "send_message", map[string]any{"text": "hello user"})
	require.NoError(t, err)
	assert.Contains(t, ack, "sent")

	msg, ok := consumeOne(t, mailbox, ipc.DirMessages).(*ipc.Message)
	require.True(t, ok)
	assert.Equal(t, "hello user", msg.Text)
}

func TestSendMessageRequiresText(t *testing.T) {
	_, registry := newBuiltinFixture(t, false)
	_, err := registry.Invoke(context.Background(), "send_message", map[string]any{})
	assert.ErrorContains(t, err, "text is required")
}

func TestDelegateDefaultsToWaiting(t *testing.T) {
	mailbox, registry := newBuiltinFixture(t, true)

	_, err := registry.Invoke(context.Background(), "delegate_to_agent", map[string]any{
		"agent_name": "researcher",
		"task":       "find the population of Oslo",
	})
	require.NoError(t, err)

	del, ok := consumeOne(t, mailbox, ipc.DirMessages).(*ipc.Delegate)
	require.True(t, ok)
	assert.Equal(t, "researcher", del.AgentName)
	assert.True(t, del.WaitForResult)
}

func TestDelegateFireAndForget(t *testing.T) {
	mailbox, registry := newBuiltinFixture(t, true)

	ack, err := registry.Invoke(context.Background(), "delegate_to_agent", map[string]any{
		"agent_name":      "notifier",
		"task":            "post the update",
		"wait_for_result": false,
	})
	require.NoError(t, err)
	assert.Contains(t, ack, "fire and forget")

	del := consumeOne(t, mailbox, ipc.DirMessages).(*ipc.Delegate)
	assert.False(t, del.WaitForResult)
}

func TestScheduleTaskEnvelopeWireFormat(t *testing.T) {
	mailbox, registry := newBuiltinFixture(t, true)

	_, err := registry.Invoke(context.Background(), "schedule_task", map[string]any{
		"prompt":         "daily report",
		"schedule_type":  "interval",
		"schedule_value": "3600000",
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(mailbox.Root(), ipc.DirTasks))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	raw, err := os.ReadFile(filepath.Join(mailbox.Root(), ipc.DirTasks, entries[0].Name()))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "schedule_task", fields["type"])
	assert.Equal(t, "interval", fields["schedule_type"])
	assert.Equal(t, "3600000", fields["schedule_value"])
	assert.Equal(t, "daily report", fields["prompt"])
}

func TestTaskControlTools(t *testing.T) {
	mailbox, registry := newBuiltinFixture(t, true)
	ctx := context.Background()

	_, err := registry.Invoke(ctx, "pause_task", map[string]any{"task_id": "t1"})
	require.NoError(t, err)
	pause := consumeOne(t, mailbox, ipc.DirTasks).(*ipc.PauseTask)
	assert.Equal(t, "t1", pause.TaskID)

	_, err = registry.Invoke(ctx, "resume_task", map[string]any{"task_id": "t1"})
	require.NoError(t, err)
	resume := consumeOne(t, mailbox, ipc.DirTasks).(*ipc.ResumeTask)
	assert.Equal(t, "t1", resume.TaskID)

	_, err = registry.Invoke(ctx, "cancel_task", map[string]any{"task_id": "t1"})
	require.NoError(t, err)
	cancel := consumeOne(t, mailbox, ipc.DirTasks).(*ipc.CancelTask)
	assert.Equal(t, "t1", cancel.TaskID)

	_, err = registry.Invoke(ctx, "pause_task", map[string]any{})
	assert.ErrorContains(t, err, "task_id is required")
}

func TestUpdateAgentPartialFields(t *testing.T) {
	mailbox, registry := newBuiltinFixture(t, true)

	_, err := registry.Invoke(context.Background(), "update_agent", map[string]any{
		"name":  "researcher",
		"model": "gpt-4o-mini",
	})
	require.NoError(t, err)

	update := consumeOne(t, mailbox, ipc.DirTasks).(*ipc.UpdateAgent)
	assert.Equal(t, "researcher", update.Name)
	require.NotNil(t, update.Model)
	assert.Equal(t, "gpt-4o-mini", *update.Model)
	assert.Nil(t, update.SystemPrompt)
	assert.Nil(t, update.ToolServers)
}

func TestCreateAndDeleteAgentEnvelopes(t *testing.T) {
	mailbox, registry := newBuiltinFixture(t, true)
	ctx := context.Background()

	_, err := registry.Invoke(ctx, "create_agent", map[string]any{
		"name":          "writer",
		"system_prompt": "write well",
		"tool_servers":  []any{"filesystem", "web"},
	})
	require.NoError(t, err)
	created := consumeOne(t, mailbox, ipc.DirTasks).(*ipc.CreateAgent)
	assert.Equal(t, "writer", created.Name)
	assert.Equal(t, []string{"filesystem", "web"}, created.ToolServers)

	_, err = registry.Invoke(ctx, "delete_agent", map[string]any{"name": "writer"})
	require.NoError(t, err)
	deleted := consumeOne(t, mailbox, ipc.DirTasks).(*ipc.DeleteAgent)
	assert.Equal(t, "writer", deleted.Name)
}
