package mcp

import (
	"context"
	"fmt"

	"burrow/internal/llm"
	"burrow/internal/logging"
	"burrow/pkg/types"
)

// Tool is one invocable tool exposed to the model, either built in or backed
// by a tool server.
type Tool interface {
	Definition() llm.ToolDefinition
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the tool set an agent can call. Built-in tools are
// registered first and win name collisions against server tools.
type Registry struct {
	order   []string
	tools   map[string]Tool
	clients []*Client
	logger  logging.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logging.OrNop(logger),
	}
}

// Register adds a tool. The first registration of a name wins; later ones
// are dropped with a warning.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Name
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool %s already registered, ignoring duplicate", name)
		return
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

// ConnectServers starts each configured tool server and registers its tools.
// A server that fails to start or list tools is logged and skipped so one
// broken server does not take the agent down.
func (r *Registry) ConnectServers(ctx context.Context, configs []types.ToolServerConfig) {
	for _, cfg := range configs {
		client := NewClient(cfg)
		if err := client.Start(ctx); err != nil {
			r.logger.Error("tool server %s unreachable, skipping: %v", cfg.Name, err)
			continue
		}
		schemas, err := client.ListTools(ctx)
		if err != nil {
			r.logger.Error("tool server %s tool listing failed, skipping: %v", cfg.Name, err)
			_ = client.Stop()
			continue
		}
		r.clients = append(r.clients, client)
		for _, schema := range schemas {
			r.Register(&serverTool{client: client, schema: schema})
		}
		r.logger.Info("tool server %s connected with %d tools", cfg.Name, len(schemas))
	}
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

// Invoke dispatches a tool call by name.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return tool.Invoke(ctx, args)
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Close stops every connected tool server.
func (r *Registry) Close() {
	for _, client := range r.clients {
		if err := client.Stop(); err != nil {
			r.logger.Warn("stopping tool server %s: %v", client.ServerName(), err)
		}
	}
	r.clients = nil
}

// serverTool adapts one MCP tool schema to the Tool interface.
type serverTool struct {
	client *Client
	schema ToolSchema
}

func (t *serverTool) Definition() llm.ToolDefinition {
	params := t.schema.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.ToolDefinition{
		Name:        t.schema.Name,
		Description: t.schema.Description,
		Parameters:  params,
	}
}

func (t *serverTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.client.CallTool(ctx, t.schema.Name, args)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s failed: %s", t.schema.Name, result.Text())
	}
	return result.Text(), nil
}
