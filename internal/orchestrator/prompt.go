package orchestrator

import (
	"fmt"
	"strings"

	"burrow/pkg/types"
)

// renderSystemPrompt builds the orchestrator's system prompt for one spawn,
// enumerating the specialists and tool servers it can currently reach. The
// snapshot is taken at spawn time; agent mutations take effect on the next
// container.
func renderSystemPrompt(agent *types.Agent, specialists []*types.Agent, toolServers []string) string {
	var b strings.Builder
	b.WriteString(agent.SystemPrompt)

	if len(specialists) > 0 {
		b.WriteString("\n\n## Available specialist agents\n")
		b.WriteString("Delegate tasks with the delegate_to_agent tool. Known agents:\n")
		for _, s := range specialists {
			desc := firstLine(s.SystemPrompt)
			if desc == "" {
				desc = "no description"
			}
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, desc)
		}
	} else {
		b.WriteString("\n\nNo specialist agents exist yet; create one with create_agent when a task needs dedicated focus.\n")
	}

	if len(toolServers) > 0 {
		fmt.Fprintf(&b, "\nAttached tool servers: %s\n", strings.Join(toolServers, ", "))
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 120
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// specialistNames renders the comma-separated list used in delegation
// failure messages.
func specialistNames(specialists []*types.Agent) string {
	names := make([]string, 0, len(specialists))
	for _, s := range specialists {
		names = append(names, s.Name)
	}
	return strings.Join(names, ", ")
}
