// Package orchestrator owns the host-side session state machine: one
// long-lived orchestrator agent whose container is spawned on demand,
// recycled when idle, and fed follow-up turns while it runs, plus the
// delegation and IPC command handling around it.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"burrow/internal/channel"
	"burrow/internal/container"
	"burrow/internal/ipc"
	"burrow/internal/llm"
	"burrow/internal/logging"
	"burrow/internal/memory"
	"burrow/internal/queue"
	"burrow/internal/store"
	"burrow/pkg/types"
)

// failureNotice is sent to the user when a container run ends in error.
const failureNotice = "Something went wrong while processing that. Please try again."

// ContainerRunner is the slice of the lifecycle manager the orchestrator
// needs. *container.Manager satisfies it; tests substitute fakes.
type ContainerRunner interface {
	Run(ctx context.Context, input *types.ContainerInput, secretNames []string, onOutput container.OutputFunc) (*types.ContainerOutput, error)
	SendFollowUp(agentID, text string, media []string) bool
	RequestClose(agentID string)
	Mailbox(agentID string) *ipc.Mailbox
}

// Config tunes the orchestrator.
type Config struct {
	IdleTimeout  time.Duration // quiet window before the container is asked to close
	PollInterval time.Duration // outbound IPC poll cadence
	DefaultModel string        // model for agents created without one
	SummaryTurns int           // transcript tail used for fallback summaries
}

func (c *Config) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o"
	}
	if c.SummaryTurns <= 0 {
		c.SummaryTurns = 20
	}
}

// session is the in-memory state of the single orchestrator session.
type session struct {
	running        bool
	chatID         string
	conversationID string
	lastActivity   time.Time
	idleTimer      *time.Timer
}

// Orchestrator drives the session.
type Orchestrator struct {
	runner      ContainerRunner
	queue       *queue.Queue
	agents      store.AgentStore
	convs       store.ConversationStore
	tasks       store.TaskStore
	messenger   channel.Messenger
	memory      memory.Store // optional
	summarizer  llm.Client   // optional, for conversation summaries
	toolServers *ToolServerSource
	cfg         Config
	metrics     *Metrics
	logger      logging.Logger

	mu          sync.Mutex
	agent       *types.Agent
	specialists []*types.Agent
	sess        session
	// busy tracks specialist agent IDs with a container queued or running,
	// so one agent's mailbox is never consumed by two containers at once.
	busy map[string]bool

	watcher *ipc.Watcher
}

// Deps bundles the collaborators for New.
type Deps struct {
	Runner        ContainerRunner
	Queue         *queue.Queue
	Agents        store.AgentStore
	Conversations store.ConversationStore
	Tasks         store.TaskStore
	Messenger     channel.Messenger
	Memory        memory.Store
	Summarizer    llm.Client
	ToolServers   *ToolServerSource
	Metrics       *Metrics
}

// New builds the orchestrator for the single agent flagged IsOrchestrator.
func New(ctx context.Context, deps Deps, cfg Config) (*Orchestrator, error) {
	cfg.applyDefaults()

	agent, err := deps.Agents.Orchestrator(ctx)
	if err != nil {
		return nil, fmt.Errorf("load orchestrator agent: %w", err)
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = defaultMetrics()
	}

	o := &Orchestrator{
		runner:      deps.Runner,
		queue:       deps.Queue,
		agents:      deps.Agents,
		convs:       deps.Conversations,
		tasks:       deps.Tasks,
		messenger:   deps.Messenger,
		memory:      deps.Memory,
		summarizer:  deps.Summarizer,
		toolServers: deps.ToolServers,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logging.NewComponentLogger("Orchestrator"),
		agent:       agent,
		busy:        make(map[string]bool),
	}
	o.queue.SetDepthObserver(metrics.SetQueueDepth)
	if err := o.refreshSpecialists(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// Start begins watching the orchestrator's outbound IPC directories.
func (o *Orchestrator) Start(ctx context.Context) {
	mb := o.runner.Mailbox(o.agent.ID)
	if err := mb.EnsureDirs(); err != nil {
		o.logger.Error("prepare orchestrator mailbox: %v", err)
	}
	o.watcher = ipc.NewWatcher(mb, o.cfg.PollInterval, func(cmd ipc.Command) error {
		return o.handleCommand(ctx, cmd)
	}, o.logger)
	o.watcher.Start(ctx)
}

// HandleUserMessage is the inbound edge: spawn a container when idle,
// forward as follow-up while one runs, falling back to a spawn if the
// forward fails.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, chatID, text string, media []string) error {
	o.mu.Lock()
	o.sess.chatID = chatID
	o.sess.lastActivity = time.Now()
	agent := o.agent
	running := o.sess.running
	o.mu.Unlock()

	conv, err := o.convs.OpenActive(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	o.mu.Lock()
	o.sess.conversationID = conv.ID
	o.mu.Unlock()

	if err := o.convs.AppendTurn(ctx, conv.ID, types.Turn{Role: "user", Content: text}); err != nil {
		o.logger.Error("append user turn: %v", err)
	}

	if running {
		if o.runner.SendFollowUp(agent.ID, text, media) {
			o.resetIdleTimer()
			return nil
		}
		o.logger.Warn("follow-up to running container failed, falling back to spawn")
	}

	return o.spawn(ctx, text, media, conv.ID)
}

// spawn enqueues one orchestrator container run. Messages arriving while it
// runs ride in through SendFollowUp.
func (o *Orchestrator) spawn(ctx context.Context, prompt string, media []string, conversationID string) error {
	o.mu.Lock()
	if o.sess.running {
		// Lost the race with another spawn; deliver as follow-up instead.
		agentID := o.agent.ID
		o.mu.Unlock()
		if !o.runner.SendFollowUp(agentID, prompt, media) {
			return fmt.Errorf("orchestrator container unreachable")
		}
		return nil
	}
	o.sess.running = true
	agent := o.agent
	specialists := o.specialists
	o.mu.Unlock()

	input := &types.ContainerInput{
		Prompt:         prompt,
		Media:          media,
		AgentID:        agent.ID,
		AgentName:      agent.Name,
		Model:          agent.Model,
		SystemPrompt:   renderSystemPrompt(agent, specialists, o.toolServers.Names(agent)),
		ConversationID: conversationID,
		IsOrchestrator: true,
		ToolServers:    o.toolServers.For(agent),
	}

	accepted := o.queue.Enqueue("orchestrator:"+agent.ID, func() {
		o.metrics.ContainerStarted("orchestrator")
		o.armIdleTimer()

		result, err := o.runner.Run(ctx, input, agent.Secrets, func(out types.ContainerOutput) {
			o.onStreamedOutput(ctx, out)
		})

		o.metrics.ContainerExited()
		o.disarmIdleTimer()
		o.mu.Lock()
		o.sess.running = false
		chatID := o.sess.chatID
		o.mu.Unlock()

		switch {
		case err != nil:
			o.logger.Error("orchestrator spawn failed: %v", err)
			o.notify(ctx, chatID, failureNotice)
		case result.Status == types.StatusError:
			o.logger.Warn("orchestrator run ended in error: %s", result.Error)
			o.notify(ctx, chatID, failureNotice)
		}
	})
	if !accepted {
		o.mu.Lock()
		o.sess.running = false
		o.mu.Unlock()
		return fmt.Errorf("container queue rejected orchestrator run")
	}
	return nil
}

// onStreamedOutput forwards one marker payload to the chat and records it.
func (o *Orchestrator) onStreamedOutput(ctx context.Context, out types.ContainerOutput) {
	o.metrics.OutputStreamed()
	o.resetIdleTimer()

	o.mu.Lock()
	if out.ConversationID != "" {
		o.sess.conversationID = out.ConversationID
	}
	chatID := o.sess.chatID
	conversationID := o.sess.conversationID
	o.mu.Unlock()

	if out.Status == types.StatusError {
		o.logger.Warn("container reported error: %s", out.Error)
		o.notify(ctx, chatID, failureNotice)
		return
	}
	if out.Result == nil {
		return
	}
	text := strings.TrimSpace(*out.Result)
	if text == "" {
		return
	}

	o.notify(ctx, chatID, text)
	if conversationID != "" {
		if err := o.convs.AppendTurn(ctx, conversationID, types.Turn{Role: "assistant", Content: text}); err != nil {
			o.logger.Error("append assistant turn: %v", err)
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, chatID, text string) {
	if chatID == "" || text == "" {
		return
	}
	if err := o.messenger.SendMessage(ctx, chatID, text); err != nil {
		o.logger.Error("send message: %v", err)
	}
}

// Idle timer: when no output has arrived for IdleTimeout, ask the container
// to wind down cooperatively. The hard TTL in the lifecycle manager backs
// this up.
func (o *Orchestrator) armIdleTimer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	agentID := o.agent.ID
	o.sess.idleTimer = time.AfterFunc(o.cfg.IdleTimeout, func() {
		o.logger.Info("idle window elapsed, requesting close")
		o.runner.RequestClose(agentID)
	})
}

func (o *Orchestrator) resetIdleTimer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sess.lastActivity = time.Now()
	if o.sess.idleTimer != nil {
		o.sess.idleTimer.Reset(o.cfg.IdleTimeout)
	}
}

func (o *Orchestrator) disarmIdleTimer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess.idleTimer != nil {
		o.sess.idleTimer.Stop()
		o.sess.idleTimer = nil
	}
}

// Clear closes the active container, summarizes the current conversation,
// stores the summary embedding best-effort, and opens a fresh conversation.
func (o *Orchestrator) Clear(ctx context.Context) error {
	o.mu.Lock()
	agent := o.agent
	running := o.sess.running
	conversationID := o.sess.conversationID
	o.mu.Unlock()

	if running {
		o.runner.RequestClose(agent.ID)
	}

	if conversationID == "" {
		if conv, err := o.convs.OpenActive(ctx, agent.ID); err == nil {
			conversationID = conv.ID
		}
	}
	if conversationID != "" {
		o.summarizeAndStore(ctx, agent, conversationID)
	}

	conv, err := o.convs.OpenActive(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("open fresh conversation: %w", err)
	}
	o.mu.Lock()
	o.sess.conversationID = conv.ID
	o.mu.Unlock()
	return nil
}

// Shutdown performs the clear sequence and stops background work.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	if err := o.Clear(ctx); err != nil {
		o.logger.Error("shutdown clear: %v", err)
	}
	if o.watcher != nil {
		o.watcher.Stop()
	}
	o.queue.Shutdown()
}

// summarizeAndStore marks the conversation summarized. Embedding storage is
// best effort: a memory failure is logged and never aborts the clear.
func (o *Orchestrator) summarizeAndStore(ctx context.Context, agent *types.Agent, conversationID string) {
	conv, err := o.convs.Get(ctx, conversationID)
	if err != nil {
		o.logger.Warn("summarize: load conversation %s: %v", conversationID, err)
		return
	}
	if conv.Status != types.ConversationActive || len(conv.Turns) == 0 {
		return
	}

	summary := o.generateSummary(ctx, conv)
	if err := o.convs.Summarize(ctx, conversationID, summary); err != nil {
		o.logger.Error("summarize conversation %s: %v", conversationID, err)
		return
	}

	if o.memory == nil || summary == "" {
		return
	}
	err = o.memory.Save(ctx, memory.Summary{
		ConversationID: conversationID,
		AgentID:        agent.ID,
		Text:           summary,
	})
	if err != nil {
		o.logger.Warn("store summary embedding: %v", err)
	}
}

// generateSummary asks the summarizer model for a digest, falling back to a
// transcript tail when no summarizer is configured or the call fails.
func (o *Orchestrator) generateSummary(ctx context.Context, conv *types.Conversation) string {
	transcript := transcriptTail(conv, o.cfg.SummaryTurns)
	if transcript == "" {
		return ""
	}

	if o.summarizer != nil {
		resp, err := o.summarizer.Complete(ctx, llm.CompletionRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "Summarize the conversation below in a few sentences. Keep names, decisions, and open items."},
				{Role: llm.RoleUser, Content: transcript},
			},
		})
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content)
		}
		if err != nil {
			o.logger.Warn("summary generation failed, using transcript tail: %v", err)
		}
	}
	return transcript
}

func transcriptTail(conv *types.Conversation, maxTurns int) string {
	turns := conv.Turns
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return strings.TrimSpace(b.String())
}

// refreshSpecialists reloads the non-orchestrator agent snapshot used for
// prompt rendering and delegation lookups.
func (o *Orchestrator) refreshSpecialists(ctx context.Context) error {
	all, err := o.agents.List(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	var specialists []*types.Agent
	for _, a := range all {
		if !a.IsOrchestrator {
			specialists = append(specialists, a)
		}
	}
	// Stable order keeps prompt rendering and failure messages deterministic.
	sort.Slice(specialists, func(i, j int) bool {
		return types.NormalizeAgentName(specialists[i].Name) < types.NormalizeAgentName(specialists[j].Name)
	})
	o.mu.Lock()
	o.specialists = specialists
	o.mu.Unlock()
	return nil
}

// Running reports whether an orchestrator container is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.running
}

// FireTask runs one due scheduled task. Orchestrator-owned prompts are
// injected into the session like a user message; specialist tasks run their
// own container to completion and return its result.
func (o *Orchestrator) FireTask(ctx context.Context, task *types.ScheduledTask) (string, error) {
	agent, err := o.agents.Get(ctx, task.AgentID)
	if err != nil {
		return "", fmt.Errorf("task %s agent: %w", task.ID, err)
	}

	if agent.IsOrchestrator {
		o.mu.Lock()
		chatID := o.sess.chatID
		o.mu.Unlock()
		if chatID == "" {
			chatID = "scheduler"
		}
		if err := o.HandleUserMessage(ctx, chatID, task.Prompt, nil); err != nil {
			return "", err
		}
		return "delivered to orchestrator", nil
	}

	// Specialist fires consume a queue slot like any other container run.
	if !o.claimSpecialist(agent.ID) {
		return "", fmt.Errorf("agent %s is already running a task", agent.Name)
	}
	done := make(chan *types.ContainerOutput, 1)
	accepted := o.queue.Enqueue("specialist:"+agent.ID, func() {
		defer o.releaseSpecialist(agent.ID)
		o.metrics.ContainerStarted("specialist")
		result := o.runSpecialist(ctx, agent, task.Prompt)
		o.metrics.ContainerExited()
		done <- result
	})
	if !accepted {
		o.releaseSpecialist(agent.ID)
		return "", fmt.Errorf("container queue rejected task %s", task.ID)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-done:
		if result.Status == types.StatusError {
			return "", fmt.Errorf("%s", result.Error)
		}
		if result.Result != nil {
			return *result.Result, nil
		}
		return "completed", nil
	}
}

// claimSpecialist reserves the exclusive right to run a container for one
// specialist. Returns false when a run is already queued or active.
func (o *Orchestrator) claimSpecialist(agentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy[agentID] {
		return false
	}
	o.busy[agentID] = true
	return true
}

func (o *Orchestrator) releaseSpecialist(agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.busy, agentID)
}
