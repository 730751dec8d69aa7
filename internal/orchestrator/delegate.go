package orchestrator

import (
	"context"
	"fmt"

	"burrow/internal/ipc"
	"burrow/pkg/types"
)

// delegate handles a delegate_to_agent envelope. An unknown target becomes a
// synthetic follow-up turn naming the available agents; a known one runs in
// its own container through the concurrency queue, and its result rides back
// into the orchestrator's input tagged with the specialist's name.
func (o *Orchestrator) delegate(ctx context.Context, cmd *ipc.Delegate) {
	o.mu.Lock()
	orchID := o.agent.ID
	specialists := o.specialists
	o.mu.Unlock()

	var target *types.Agent
	want := types.NormalizeAgentName(cmd.AgentName)
	for _, s := range specialists {
		if types.NormalizeAgentName(s.Name) == want {
			target = s
			break
		}
	}
	if target == nil {
		o.metrics.Delegation("unknown_target")
		o.logger.Warn("delegation to unknown agent %q", cmd.AgentName)
		notFound := fmt.Sprintf("Agent %q not found. Available agents: %s", cmd.AgentName, specialistNames(specialists))
		o.injectFollowUp(orchID, notFound, "")
		return
	}

	// One container per specialist at a time: two readers on the same
	// mailbox would split its messages arbitrarily.
	if !o.claimSpecialist(target.ID) {
		o.metrics.Delegation("target_busy")
		o.logger.Warn("delegation to %s while it is already running a task", target.Name)
		o.injectFollowUp(orchID, fmt.Sprintf("Agent %q is still working on an earlier task. Wait for its result before delegating again.", target.Name), "")
		return
	}

	accepted := o.queue.Enqueue("specialist:"+target.ID, func() {
		defer o.releaseSpecialist(target.ID)
		o.metrics.ContainerStarted("specialist")
		result := o.runSpecialist(ctx, target, cmd.Task)
		o.metrics.ContainerExited()

		if !cmd.WaitForResult {
			o.metrics.Delegation("fire_and_forget")
			return
		}
		o.metrics.Delegation("completed")

		var text string
		switch {
		case result.Status == types.StatusError:
			text = fmt.Sprintf("The task failed: %s", result.Error)
		case result.Result != nil && *result.Result != "":
			text = *result.Result
		default:
			text = "The task completed without a textual result."
		}
		o.injectFollowUp(orchID, text, target.Name)
	})
	if !accepted {
		o.releaseSpecialist(target.ID)
		o.logger.Warn("queue rejected delegation to %s", target.Name)
		o.injectFollowUp(orchID, fmt.Sprintf("Delegation to %s could not be scheduled.", target.Name), "")
	}
}

// runSpecialist spawns one container for a delegated task and waits for its
// terminal result.
func (o *Orchestrator) runSpecialist(ctx context.Context, agent *types.Agent, task string) *types.ContainerOutput {
	input := &types.ContainerInput{
		Prompt:       task,
		AgentID:      agent.ID,
		AgentName:    agent.Name,
		Model:        agent.Model,
		SystemPrompt: agent.SystemPrompt,
		ToolServers:  o.toolServers.For(agent),
	}

	// Specialists are one-shot: a final answer, then the host closes them.
	var lastResult *types.ContainerOutput
	result, err := o.runner.Run(ctx, input, agent.Secrets, func(out types.ContainerOutput) {
		copied := out
		lastResult = &copied
		o.metrics.OutputStreamed()
		o.runner.RequestClose(agent.ID)
	})
	if err != nil {
		o.logger.Error("specialist %s spawn failed: %v", agent.Name, err)
		return types.ErrorOutput(fmt.Sprintf("could not start agent %s: %v", agent.Name, err))
	}

	// The terminal classification carries no result text in streaming mode;
	// the streamed payload does.
	if result.Status == types.StatusSuccess && result.Result == nil && lastResult != nil {
		return lastResult
	}
	return result
}

// injectFollowUp writes a turn into the orchestrator's own input mailbox,
// optionally tagged with the originating specialist.
func (o *Orchestrator) injectFollowUp(agentID, text, from string) {
	mb := o.runner.Mailbox(agentID)
	if err := mb.Write(ipc.DirInput, &ipc.Message{Text: text, From: from}); err != nil {
		o.logger.Error("inject follow-up: %v", err)
	}
}
