// Command burrow-agent is the in-container runtime. It reads one
// ContainerInput payload from stdin, connects its tools, and runs the agent
// loop until the host drops the close sentinel.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"burrow/internal/agent"
	"burrow/internal/ipc"
	"burrow/internal/llm"
	"burrow/internal/logging"
	"burrow/internal/mcp"
	"burrow/pkg/types"
)

func main() {
	logger := logging.NewComponentLogger("Agent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger logging.Logger) error {
	var input types.ContainerInput
	if err := json.NewDecoder(os.Stdin).Decode(&input); err != nil {
		return fmt.Errorf("decode stdin payload: %w", err)
	}

	ipcDir := os.Getenv("BURROW_IPC_DIR")
	if ipcDir == "" {
		return fmt.Errorf("BURROW_IPC_DIR not set")
	}
	mailbox := ipc.NewMailbox(ipcDir, logger)
	if err := mailbox.EnsureDirs(); err != nil {
		return err
	}

	client, err := buildClient(&input)
	if err != nil {
		return err
	}

	registry := mcp.NewRegistry(logger)
	defer registry.Close()
	for _, tool := range agent.Builtins(mailbox, input.IsOrchestrator) {
		registry.Register(tool)
	}
	registry.ConnectServers(ctx, input.ToolServers)

	logger.Info("agent %s starting (model %s, orchestrator=%t)", input.AgentName, input.Model, input.IsOrchestrator)

	loop := agent.NewLoop(client, registry, mailbox, agent.Config{Out: os.Stdout})
	return loop.Run(ctx, &input)
}

// buildClient wires the completion backend from the stdin payload. The API
// key and an optional base URL override ride in as secrets; they never touch
// the environment or the logs.
func buildClient(input *types.ContainerInput) (llm.Client, error) {
	apiKey, ok := input.Secrets["OPENAI_API_KEY"]
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("no OPENAI_API_KEY secret in payload")
	}
	return llm.NewOpenAIClient(input.Model, llm.OpenAIConfig{
		BaseURL: input.Secrets["OPENAI_BASE_URL"],
		APIKey:  apiKey,
		Timeout: 2 * time.Minute,
	}), nil
}
