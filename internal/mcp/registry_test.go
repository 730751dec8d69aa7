package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burrow/internal/llm"
	"burrow/internal/logging"
)

type stubTool struct {
	name   string
	result string
	err    error
	calls  int
}

func (s *stubTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: s.name, Description: "stub", Parameters: map[string]any{"type": "object"}}
}

func (s *stubTool) Invoke(_ context.Context, _ map[string]any) (string, error) {
	s.calls++
	return s.result, s.err
}

func TestRegistryFirstRegistrationWins(t *testing.T) {
	r := NewRegistry(logging.Nop())
	first := &stubTool{name: "send_message", result: "builtin"}
	second := &stubTool{name: "send_message", result: "server"}
	r.Register(first)
	r.Register(second)

	out, err := r.Invoke(context.Background(), "send_message", nil)
	require.NoError(t, err)
	assert.Equal(t, "builtin", out)
	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)
	assert.Len(t, r.Definitions(), 1)
}

func TestRegistryDefinitionsPreserveOrder(t *testing.T) {
	r := NewRegistry(logging.Nop())
	for _, name := range []string{"alpha", "beta", "gamma"} {
		r.Register(&stubTool{name: name})
	}

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "beta", defs[1].Name)
	assert.Equal(t, "gamma", defs[2].Name)
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(logging.Nop())
	_, err := r.Invoke(context.Background(), "nope", nil)
	assert.ErrorContains(t, err, `unknown tool "nope"`)
	assert.False(t, r.Has("nope"))
}

func TestServerToolDefaultsEmptySchema(t *testing.T) {
	tool := &serverTool{schema: ToolSchema{Name: "bare", Description: "no schema"}}
	def := tool.Definition()
	assert.Equal(t, "object", def.Parameters["type"])
}
