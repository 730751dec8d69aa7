// Package config loads the daemon configuration: defaults, then an optional
// config file, then BURROW_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"burrow/pkg/types"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Container ContainerConfig `mapstructure:"container"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`

	// MaxConcurrentContainers bounds simultaneously running agent containers.
	MaxConcurrentContainers int `mapstructure:"max_concurrent_containers"`
	// IdleTimeout is the quiet window before the orchestrator container is
	// asked to wind down.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// PollInterval is the outbound IPC poll cadence.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// DefaultModel is assigned to agents created without one.
	DefaultModel string `mapstructure:"default_model"`

	// ToolServers is the catalog of launchable MCP servers, by name.
	ToolServers []types.ToolServerConfig `mapstructure:"tool_servers"`
	// GlobalToolServers are attached to every agent.
	GlobalToolServers []string `mapstructure:"global_tool_servers"`
}

// ContainerConfig tunes the container lifecycle manager.
type ContainerConfig struct {
	Image           string        `mapstructure:"image"`
	OrchestratorTTL time.Duration `mapstructure:"orchestrator_ttl"`
	SpecialistTTL   time.Duration `mapstructure:"specialist_ttl"`
	StopGrace       time.Duration `mapstructure:"stop_grace"`
	OutputByteCap   int           `mapstructure:"output_byte_cap"`
}

// LLMConfig configures the completion backend used inside agent containers
// and for host-side summaries.
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	SummaryModel string        `mapstructure:"summary_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// MemoryConfig configures the embedded vector store for conversation
// summaries.
type MemoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SchedulerConfig tunes the scheduled-task runner.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "~/.burrow")
	v.SetDefault("max_concurrent_containers", 4)
	v.SetDefault("idle_timeout", "30m")
	v.SetDefault("poll_interval", "500ms")
	v.SetDefault("default_model", "gpt-4o")

	v.SetDefault("container.image", "burrow-agent:latest")
	v.SetDefault("container.orchestrator_ttl", "8h")
	v.SetDefault("container.specialist_ttl", "30m")
	v.SetDefault("container.stop_grace", "10s")
	v.SetDefault("container.output_byte_cap", 1<<20)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.summary_model", "")
	v.SetDefault("llm.timeout", "2m")

	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.path", "")

	v.SetDefault("scheduler.tick_interval", "15s")

	v.SetDefault("server.addr", ":8420")
}

// Load reads configuration from path (optional; empty means search the
// standard locations) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BURROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("burrow")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/burrow")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Container.Image == "" {
		return fmt.Errorf("container.image must be set")
	}
	if c.MaxConcurrentContainers < 1 {
		return fmt.Errorf("max_concurrent_containers must be at least 1")
	}
	seen := make(map[string]bool, len(c.ToolServers))
	for _, ts := range c.ToolServers {
		if ts.Name == "" {
			return fmt.Errorf("tool server with empty name")
		}
		if ts.Command == "" {
			return fmt.Errorf("tool server %s has no command", ts.Name)
		}
		if seen[ts.Name] {
			return fmt.Errorf("duplicate tool server %s", ts.Name)
		}
		seen[ts.Name] = true
	}
	for _, name := range c.GlobalToolServers {
		if !seen[name] {
			return fmt.Errorf("global tool server %s not in catalog", name)
		}
	}
	return nil
}

// ToolServerCatalog indexes the configured servers by name.
func (c *Config) ToolServerCatalog() map[string]types.ToolServerConfig {
	catalog := make(map[string]types.ToolServerConfig, len(c.ToolServers))
	for _, ts := range c.ToolServers {
		catalog[ts.Name] = ts
	}
	return catalog
}
