// Package agent implements the execution loop that runs inside each spawned
// container: alternate LLM completions with tool dispatch, emit
// marker-framed results on stdout, and poll the mailbox for follow-up turns
// until the host asks for a close.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"burrow/internal/ipc"
	"burrow/internal/llm"
	"burrow/internal/logging"
	"burrow/internal/mcp"
	"burrow/pkg/types"
)

// iterationLimitMessage is emitted when the completion/tool cycle hits the
// cap without producing a final answer.
const iterationLimitMessage = "reached maximum iteration limit"

// Config tunes the loop.
type Config struct {
	MaxIterations int           // completion/tool-dispatch cycles per turn
	PollInterval  time.Duration // follow-up input poll cadence
	Out           io.Writer     // marker-framed output sink (stdout in production)
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
}

// Loop drives one agent's session inside the container.
type Loop struct {
	client         llm.Client
	registry       *mcp.Registry
	mailbox        *ipc.Mailbox
	cfg            Config
	conversationID string
	logger         logging.Logger
}

// NewLoop wires a loop over the given backend, tool registry, and mailbox.
func NewLoop(client llm.Client, registry *mcp.Registry, mailbox *ipc.Mailbox, cfg Config) *Loop {
	cfg.applyDefaults()
	return &Loop{
		client:   client,
		registry: registry,
		mailbox:  mailbox,
		cfg:      cfg,
		logger:   logging.NewComponentLogger("AgentLoop"),
	}
}

// Run executes the session: initial prompt, then follow-up turns until the
// close sentinel appears or ctx is cancelled.
func (l *Loop) Run(ctx context.Context, input *types.ContainerInput) error {
	l.conversationID = input.ConversationID
	if l.conversationID == "" {
		l.conversationID = uuid.NewString()
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: input.SystemPrompt}}
	messages = append(messages, l.userTurn(input.Prompt, input.Media, ""))

	for {
		output := l.converse(ctx, &messages)
		if err := l.emit(output); err != nil {
			return fmt.Errorf("emit output: %w", err)
		}

		turns, closed, err := l.awaitFollowUp(ctx)
		if err != nil {
			return err
		}
		if closed {
			l.logger.Info("close sentinel observed, winding down")
			return nil
		}
		messages = append(messages, turns...)
	}
}

// converse runs the Completing/ToolDispatch cycle until the model stops
// requesting tools or the iteration cap is hit.
func (l *Loop) converse(ctx context.Context, messages *[]llm.Message) *types.ContainerOutput {
	for iteration := 0; iteration < l.cfg.MaxIterations; iteration++ {
		resp, err := l.client.Complete(ctx, llm.CompletionRequest{
			Messages: *messages,
			Tools:    l.registry.Definitions(),
		})
		if err != nil {
			l.logger.Error("completion failed: %v", err)
			out := types.ErrorOutput("completion failed: " + err.Error())
			out.ConversationID = l.conversationID
			return out
		}

		if len(resp.ToolCalls) == 0 {
			*messages = append(*messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			return types.SuccessOutput(resp.Content, l.conversationID)
		}

		*messages = append(*messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			*messages = append(*messages, l.dispatch(ctx, call))
		}

		// Follow-up input that arrived while tools were running becomes the
		// next user turn before the model continues.
		*messages = append(*messages, l.drainInput()...)
	}

	l.logger.Warn("iteration cap (%d) reached", l.cfg.MaxIterations)
	return types.SuccessOutput(iterationLimitMessage, l.conversationID)
}

// dispatch invokes one tool call. Failures become structured error payloads
// in the tool-result turn; they never abort the loop.
func (l *Loop) dispatch(ctx context.Context, call llm.ToolCall) llm.Message {
	result, err := l.registry.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		l.logger.Warn("tool %s failed: %v", call.Name, err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return llm.Message{Role: llm.RoleTool, Content: string(payload), ToolCallID: call.ID}
	}
	return llm.Message{Role: llm.RoleTool, Content: result, ToolCallID: call.ID}
}

// emit writes one marker-framed ContainerOutput.
func (l *Loop) emit(output *types.ContainerOutput) error {
	data, err := json.Marshal(output)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(l.cfg.Out, "%s\n%s\n%s\n", types.OutputStartMarker, data, types.OutputEndMarker)
	return err
}

// awaitFollowUp polls the input directory until a message arrives or the
// close sentinel appears.
func (l *Loop) awaitFollowUp(ctx context.Context) ([]llm.Message, bool, error) {
	for {
		if l.mailbox.TakeClose() {
			return nil, true, nil
		}
		if turns := l.drainInput(); len(turns) > 0 {
			return turns, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(l.cfg.PollInterval):
		}
	}
}

// drainInput consumes every queued input envelope into user turns.
func (l *Loop) drainInput() []llm.Message {
	var turns []llm.Message
	_, err := l.mailbox.Consume(ipc.DirInput, func(cmd ipc.Command) error {
		msg, ok := cmd.(*ipc.Message)
		if !ok {
			return fmt.Errorf("unexpected %s envelope in input", cmd.Kind())
		}
		turns = append(turns, l.userTurn(msg.Text, msg.Media, msg.From))
		return nil
	})
	if err != nil {
		l.logger.Error("draining input: %v", err)
	}
	return turns
}

// userTurn builds a user message, multimodal when media is attached.
func (l *Loop) userTurn(text string, media []string, from string) llm.Message {
	if from != "" {
		text = fmt.Sprintf("[%s] %s", from, text)
	}
	if len(media) == 0 {
		return llm.Message{Role: llm.RoleUser, Content: text}
	}

	parts := []llm.ContentPart{{Type: llm.PartText, Text: text}}
	for _, ref := range media {
		path := ref
		if !filepath.IsAbs(ref) {
			path = l.mailbox.MediaPath(ref)
		}
		parts = append(parts, llm.ContentPart{Type: llm.PartImage, ImageURL: path})
	}
	return llm.Message{Role: llm.RoleUser, Content: text, Parts: parts}
}
