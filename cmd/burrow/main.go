// Command burrow is the host daemon: it owns the agent store, spawns agent
// containers on demand, schedules tasks, and bridges user channels to the
// orchestrator agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"burrow/internal/channel"
	"burrow/internal/config"
	"burrow/internal/container"
	"burrow/internal/llm"
	"burrow/internal/logging"
	"burrow/internal/memory"
	"burrow/internal/orchestrator"
	"burrow/internal/queue"
	"burrow/internal/schedule"
	"burrow/internal/secrets"
	"burrow/internal/server"
	"burrow/internal/store"
	"burrow/pkg/types"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "burrow",
		Short:        "Host daemon for containerized LLM agents",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println("burrow", version)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, configPath string) error {
	logger := logging.NewComponentLogger("Main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("starting burrow %s (data dir %s, image %s)", version, cfg.DataDir, cfg.Container.Image)

	fs, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := bootstrapOrchestrator(ctx, fs.Agents(), cfg.DefaultModel, logger); err != nil {
		return err
	}

	runtime, err := container.NewDockerRuntime()
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	manager := container.NewManager(runtime, secrets.EnvResolver{}, container.Config{
		Image:           cfg.Container.Image,
		DataDir:         fs.BaseDir(),
		IdleTimeout:     cfg.IdleTimeout,
		OrchestratorTTL: cfg.Container.OrchestratorTTL,
		SpecialistTTL:   cfg.Container.SpecialistTTL,
		StopGrace:       cfg.Container.StopGrace,
		OutputByteCap:   cfg.Container.OutputByteCap,
	}, logger)
	if reaped := manager.CleanupOrphans(ctx); reaped > 0 {
		logger.Info("reaped %d orphaned containers", reaped)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := orchestrator.MustNewMetrics(registry)

	console := channel.NewConsole(os.Stdin, os.Stdout)

	orch, err := orchestrator.New(ctx, orchestrator.Deps{
		Runner:        manager,
		Queue:         queue.New(cfg.MaxConcurrentContainers, logger),
		Agents:        fs.Agents(),
		Conversations: fs.Conversations(),
		Tasks:         fs.Tasks(),
		Messenger:     console,
		Memory:        openMemory(cfg, fs.BaseDir(), logger),
		Summarizer:    summaryClient(cfg),
		ToolServers: &orchestrator.ToolServerSource{
			Catalog: cfg.ToolServerCatalog(),
			Global:  cfg.GlobalToolServers,
		},
		Metrics: metrics,
	}, orchestrator.Config{
		IdleTimeout:  cfg.IdleTimeout,
		PollInterval: cfg.PollInterval,
		DefaultModel: cfg.DefaultModel,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	orch.Start(ctx)

	scheduler := schedule.NewRunner(fs.Tasks(), orch, cfg.Scheduler.TickInterval, logger)
	scheduler.Start(ctx)

	ops := server.New(cfg.Server.Addr, server.Deps{
		Agents:   fs.Agents(),
		Tasks:    fs.Tasks(),
		Session:  orch,
		Registry: registry,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(ops.Start)
	g.Go(func() error {
		return consoleLoop(ctx, console, orch, logger)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		orch.Shutdown(shutdownCtx)
		return ops.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("bye")
	return nil
}

const turnFailureNotice = "Something went wrong while processing that. Please try again."

// userSession is the slice of the orchestrator the console loop drives.
type userSession interface {
	HandleUserMessage(ctx context.Context, chatID, text string, media []string) error
	Clear(ctx context.Context) error
}

// consoleLoop feeds stdin lines to the orchestrator. The /clear command
// resets the session without restarting the daemon. A failed turn is
// transient: the user gets a notice and the loop keeps reading.
func consoleLoop(ctx context.Context, console *channel.Console, sess userSession, logger logging.Logger) error {
	for {
		incoming, err := console.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				// Headless run: keep serving the ops API and scheduler.
				<-ctx.Done()
				return nil
			}
			return err
		}
		if strings.TrimSpace(incoming.Text) == "/clear" {
			if err := sess.Clear(ctx); err != nil {
				logger.Error("clear session: %v", err)
				notifyFailure(ctx, console, incoming.ChatID, logger)
			}
			continue
		}
		if err := sess.HandleUserMessage(ctx, incoming.ChatID, incoming.Text, incoming.Media); err != nil {
			logger.Error("handle message: %v", err)
			notifyFailure(ctx, console, incoming.ChatID, logger)
		}
	}
}

func notifyFailure(ctx context.Context, console *channel.Console, chatID string, logger logging.Logger) {
	if err := console.SendMessage(ctx, chatID, turnFailureNotice); err != nil {
		logger.Error("send failure notice: %v", err)
	}
}

// bootstrapOrchestrator seeds the single orchestrator agent on first run.
func bootstrapOrchestrator(ctx context.Context, agents store.AgentStore, model string, logger logging.Logger) error {
	_, err := agents.Orchestrator(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load orchestrator agent: %w", err)
	}

	agent := &types.Agent{
		Name:           "orchestrator",
		Model:          model,
		SystemPrompt:   defaultOrchestratorPrompt,
		IsOrchestrator: true,
		Secrets:        []string{"OPENAI_API_KEY"},
	}
	if err := agents.Create(ctx, agent); err != nil {
		return fmt.Errorf("seed orchestrator agent: %w", err)
	}
	logger.Info("seeded orchestrator agent %s", agent.ID)
	return nil
}

const defaultOrchestratorPrompt = `You are the orchestrator of a team of specialist agents.
Answer simple requests yourself. For focused work, delegate to a specialist
with delegate_to_agent, creating one first with create_agent if none fits.
Use schedule_task for anything the user wants done later or repeatedly.
Reply to the user with send_message.`

// openMemory builds the summary embedding store, or nil when disabled or no
// embedding credentials are available.
func openMemory(cfg *config.Config, dataDir string, logger logging.Logger) memory.Store {
	if !cfg.Memory.Enabled {
		return nil
	}
	apiKey, err := secrets.EnvResolver{}.Resolve("OPENAI_API_KEY")
	if err != nil {
		logger.Warn("memory disabled: %v", err)
		return nil
	}
	path := cfg.Memory.Path
	if path == "" {
		path = dataDir
	}
	store, err := memory.NewStore(path, memory.NewOpenAIEmbedder(cfg.LLM.BaseURL, apiKey, "text-embedding-3-small"))
	if err != nil {
		logger.Warn("memory disabled: %v", err)
		return nil
	}
	return store
}

// summaryClient builds the host-side summarizer, or nil to fall back to
// transcript tails.
func summaryClient(cfg *config.Config) llm.Client {
	model := cfg.LLM.SummaryModel
	if model == "" {
		return nil
	}
	apiKey, err := secrets.EnvResolver{}.Resolve("OPENAI_API_KEY")
	if err != nil {
		return nil
	}
	return llm.NewOpenAIClient(model, llm.OpenAIConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  apiKey,
		Timeout: cfg.LLM.Timeout,
	})
}
