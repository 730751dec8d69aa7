package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"burrow/internal/ipc"
	"burrow/internal/schedule"
	"burrow/internal/store"
	"burrow/pkg/types"
)

// handleCommand dispatches one outbound IPC envelope from the orchestrator
// container. A returned error quarantines the file.
func (o *Orchestrator) handleCommand(ctx context.Context, cmd ipc.Command) error {
	switch c := cmd.(type) {
	case *ipc.Message:
		o.mu.Lock()
		chatID := o.sess.chatID
		o.mu.Unlock()
		o.notify(ctx, chatID, c.Text)
		return nil

	case *ipc.Image:
		return o.relayImage(ctx, c)

	case *ipc.Delegate:
		o.delegate(ctx, c)
		return nil

	case *ipc.ScheduleTask:
		return o.createScheduledTask(ctx, c)

	case *ipc.PauseTask:
		return o.setTaskStatus(ctx, c.TaskID, types.TaskPaused)

	case *ipc.ResumeTask:
		return o.resumeTask(ctx, c.TaskID)

	case *ipc.CancelTask:
		if err := o.tasks.Delete(ctx, c.TaskID); err != nil {
			return fmt.Errorf("cancel task %s: %w", c.TaskID, err)
		}
		o.logger.Info("task %s cancelled", c.TaskID)
		return nil

	case *ipc.CreateAgent:
		return o.createAgent(ctx, c)

	case *ipc.UpdateAgent:
		return o.updateAgent(ctx, c)

	case *ipc.DeleteAgent:
		return o.deleteAgent(ctx, c)

	default:
		return fmt.Errorf("unhandled envelope %s", cmd.Kind())
	}
}

func (o *Orchestrator) relayImage(ctx context.Context, img *ipc.Image) error {
	o.mu.Lock()
	chatID := o.sess.chatID
	o.mu.Unlock()
	if chatID == "" {
		return fmt.Errorf("no chat to deliver image to")
	}

	path := img.Path
	if !filepath.IsAbs(path) {
		path = o.runner.Mailbox(o.agent.ID).MediaPath(path)
	}
	if err := o.messenger.SendPhoto(ctx, chatID, path, img.Caption); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// createScheduledTask validates the schedule and computes the first nextRun
// at ingestion time; invalid schedules quarantine the envelope.
func (o *Orchestrator) createScheduledTask(ctx context.Context, c *ipc.ScheduleTask) error {
	if err := schedule.Validate(c.ScheduleType, c.ScheduleValue); err != nil {
		return err
	}

	owner := o.agent
	if c.AgentName != "" {
		target, err := o.agents.GetByName(ctx, c.AgentName)
		if err != nil {
			return fmt.Errorf("schedule target: %w", err)
		}
		owner = target
	}

	next, err := schedule.FirstRun(c.ScheduleType, c.ScheduleValue, time.Now())
	if err != nil {
		return err
	}
	task := &types.ScheduledTask{
		AgentID:       owner.ID,
		Prompt:        c.Prompt,
		ScheduleKind:  c.ScheduleType,
		ScheduleValue: c.ScheduleValue,
		NextRun:       next,
		Status:        types.TaskActive,
	}
	if err := o.tasks.Create(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	o.logger.Info("task %s scheduled (%s %q) for agent %s", task.ID, c.ScheduleType, c.ScheduleValue, owner.Name)
	return nil
}

func (o *Orchestrator) setTaskStatus(ctx context.Context, taskID, status string) error {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}
	task.Status = status
	if err := o.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	o.logger.Info("task %s -> %s", taskID, status)
	return nil
}

// resumeTask reactivates a paused task, recomputing nextRun from now so a
// long pause does not trigger an immediate backlog of firings.
func (o *Orchestrator) resumeTask(ctx context.Context, taskID string) error {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}
	if task.Status == types.TaskCompleted {
		return fmt.Errorf("task %s already completed", taskID)
	}
	next, err := schedule.FirstRun(task.ScheduleKind, task.ScheduleValue, time.Now())
	if err != nil {
		return err
	}
	task.Status = types.TaskActive
	task.NextRun = next
	if err := o.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	o.logger.Info("task %s resumed", taskID)
	return nil
}

// createAgent registers a new specialist. Attempts to claim the
// orchestrator's name (or flag) are rejected and logged, never honored.
func (o *Orchestrator) createAgent(ctx context.Context, c *ipc.CreateAgent) error {
	if o.isOrchestratorName(c.Name) {
		o.logger.Warn("rejected create_agent targeting the orchestrator (%q)", c.Name)
		return nil
	}
	if _, err := o.agents.GetByName(ctx, c.Name); err == nil {
		return fmt.Errorf("agent %q already exists", c.Name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	model := c.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}
	agent := &types.Agent{
		Name:         c.Name,
		Model:        model,
		SystemPrompt: c.SystemPrompt,
		ToolServers:  c.ToolServers,
	}
	if err := o.agents.Create(ctx, agent); err != nil {
		return fmt.Errorf("create agent %q: %w", c.Name, err)
	}
	o.logger.Info("agent %s created", c.Name)
	return o.refreshSpecialists(ctx)
}

func (o *Orchestrator) updateAgent(ctx context.Context, c *ipc.UpdateAgent) error {
	if o.isOrchestratorName(c.Name) {
		o.logger.Warn("rejected update_agent targeting the orchestrator (%q)", c.Name)
		return nil
	}
	agent, err := o.agents.GetByName(ctx, c.Name)
	if err != nil {
		return fmt.Errorf("update agent %q: %w", c.Name, err)
	}
	if agent.IsOrchestrator {
		o.logger.Warn("rejected update_agent targeting the orchestrator (%q)", c.Name)
		return nil
	}

	if c.Model != nil {
		agent.Model = *c.Model
	}
	if c.SystemPrompt != nil {
		agent.SystemPrompt = *c.SystemPrompt
	}
	if c.ToolServers != nil {
		agent.ToolServers = *c.ToolServers
	}
	if err := o.agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("update agent %q: %w", c.Name, err)
	}
	o.logger.Info("agent %s updated", c.Name)
	return o.refreshSpecialists(ctx)
}

func (o *Orchestrator) deleteAgent(ctx context.Context, c *ipc.DeleteAgent) error {
	if o.isOrchestratorName(c.Name) {
		o.logger.Warn("rejected delete_agent targeting the orchestrator (%q)", c.Name)
		return nil
	}
	agent, err := o.agents.GetByName(ctx, c.Name)
	if err != nil {
		return fmt.Errorf("delete agent %q: %w", c.Name, err)
	}
	if agent.IsOrchestrator {
		o.logger.Warn("rejected delete_agent targeting the orchestrator (%q)", c.Name)
		return nil
	}
	if err := o.agents.Delete(ctx, agent.ID); err != nil {
		return fmt.Errorf("delete agent %q: %w", c.Name, err)
	}
	o.logger.Info("agent %s deleted", c.Name)
	return o.refreshSpecialists(ctx)
}

func (o *Orchestrator) isOrchestratorName(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return types.NormalizeAgentName(name) == types.NormalizeAgentName(o.agent.Name)
}
