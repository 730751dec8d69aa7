package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"burrow/pkg/types"
)

func TestRenderSystemPromptListsSpecialists(t *testing.T) {
	agent := &types.Agent{Name: "major", SystemPrompt: "You coordinate."}
	specialists := []*types.Agent{
		{Name: "researcher", SystemPrompt: "Find facts.\nSecond line is dropped."},
		{Name: "writer", SystemPrompt: ""},
	}

	prompt := renderSystemPrompt(agent, specialists, []string{"web-search"})

	assert.True(t, strings.HasPrefix(prompt, "You coordinate."))
	assert.Contains(t, prompt, "- researcher: Find facts.")
	assert.NotContains(t, prompt, "Second line")
	assert.Contains(t, prompt, "- writer: no description")
	assert.Contains(t, prompt, "Attached tool servers: web-search")
}

func TestRenderSystemPromptWithoutSpecialists(t *testing.T) {
	agent := &types.Agent{Name: "major", SystemPrompt: "You coordinate."}
	prompt := renderSystemPrompt(agent, nil, nil)
	assert.Contains(t, prompt, "create_agent")
	assert.NotContains(t, prompt, "Attached tool servers")
}

func TestFirstLineTruncation(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := firstLine(long)
	assert.Len(t, got, 123)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestSpecialistNames(t *testing.T) {
	assert.Equal(t, "", specialistNames(nil))
	assert.Equal(t, "a, b", specialistNames([]*types.Agent{{Name: "a"}, {Name: "b"}}))
}

func TestToolServerSourceOrderAndDedup(t *testing.T) {
	src := &ToolServerSource{
		Catalog: map[string]types.ToolServerConfig{
			"web-search": {Name: "web-search", Command: "npx", Args: []string{"web-search"}},
			"filesystem": {Name: "filesystem", Command: "npx", Args: []string{"fs"}},
		},
		Global: []string{"web-search"},
	}
	agent := &types.Agent{ToolServers: []string{"filesystem", "web-search", "missing"}}

	got := src.For(agent)
	assert.Equal(t, []string{"web-search", "filesystem"}, src.Names(agent))
	assert.Len(t, got, 2, "duplicates and unknown names are dropped")

	var nilSrc *ToolServerSource
	assert.Nil(t, nilSrc.For(agent))
}
