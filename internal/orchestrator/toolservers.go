package orchestrator

import "burrow/pkg/types"

// ToolServerSource assembles the ordered tool-server list for an agent:
// globally attached servers first, then the agent's own, de-duplicated by
// name. Built-in tools live inside the agent runtime and need no config.
type ToolServerSource struct {
	// Catalog maps server name to its launch config.
	Catalog map[string]types.ToolServerConfig
	// Global names every agent gets.
	Global []string
}

// For returns the launch configs for one agent. Unknown names are skipped.
func (s *ToolServerSource) For(agent *types.Agent) []types.ToolServerConfig {
	if s == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []types.ToolServerConfig
	add := func(name string) {
		if seen[name] {
			return
		}
		cfg, ok := s.Catalog[name]
		if !ok {
			return
		}
		seen[name] = true
		out = append(out, cfg)
	}
	for _, name := range s.Global {
		add(name)
	}
	for _, name := range agent.ToolServers {
		add(name)
	}
	return out
}

// Names lists the server names an agent will get, for prompt rendering.
func (s *ToolServerSource) Names(agent *types.Agent) []string {
	configs := s.For(agent)
	names := make([]string, 0, len(configs))
	for _, cfg := range configs {
		names = append(names, cfg.Name)
	}
	return names
}
