// Package agents catalogs the agent CLIs the bridge can drive: how to launch
// them in a terminal window and which hook capabilities they advertise.
package agents

import (
	"sync"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/logger"
)

// AgentType describes one supported agent CLI.
type AgentType struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`

	// Command launches the agent's interactive TUI inside a window.
	Command string `json:"command"`

	// SupportsPromptSubmit marks adapters that emit prompt.submit hooks; the
	// pipeline dispatches prompt.submit only for these.
	SupportsPromptSubmit bool `json:"supportsPromptSubmit"`

	// SupportsHooks marks adapters that emit hook events at all. Agents
	// without hooks rely entirely on the terminal buffer fallback.
	SupportsHooks bool `json:"supportsHooks"`
}

// Catalog maps agent type ids to their descriptions.
type Catalog struct {
	mu     sync.RWMutex
	types  map[string]*AgentType
	logger *logger.Logger
}

// NewCatalog creates a catalog preloaded with the default agent types.
func NewCatalog(log *logger.Logger) *Catalog {
	c := &Catalog{
		types:  make(map[string]*AgentType),
		logger: log.WithFields(zap.String("component", "agent-catalog")),
	}
	for _, t := range defaultTypes() {
		c.types[t.ID] = t
	}
	return c
}

// Register adds or replaces an agent type.
func (c *Catalog) Register(t *AgentType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[t.ID] = t
}

// Get returns the agent type for id.
func (c *Catalog) Get(id string) (*AgentType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[id]
	if !ok {
		return nil, false
	}
	copied := *t
	return &copied, true
}

// LaunchCommand returns the command that starts the agent's TUI, or "" for
// unknown agent types.
func (c *Catalog) LaunchCommand(id string) string {
	if t, ok := c.Get(id); ok {
		return t.Command
	}
	c.logger.Debug("unknown agent type", zap.String("agent", id))
	return ""
}

// PromptSubmitSupported reports whether the agent type advertises the
// prompt.submit hook. Unknown agent types do not.
func (c *Catalog) PromptSubmitSupported(id string) bool {
	t, ok := c.Get(id)
	return ok && t.SupportsPromptSubmit
}

// HookCommand prefixes an agent launch command with the hook endpoint
// environment so the agent's hook scripts know where to POST.
func HookCommand(command, hookURL string) string {
	if command == "" || hookURL == "" {
		return command
	}
	return "DISCODE_HOOK_URL=" + hookURL + " " + command
}

// List returns all registered agent types.
func (c *Catalog) List() []*AgentType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*AgentType, 0, len(c.types))
	for _, t := range c.types {
		copied := *t
		out = append(out, &copied)
	}
	return out
}

// defaultTypes returns the built-in agent catalog.
func defaultTypes() []*AgentType {
	return []*AgentType{
		{
			ID:                   "opencode",
			DisplayName:          "OpenCode",
			Command:              "opencode",
			SupportsPromptSubmit: true,
			SupportsHooks:        true,
		},
		{
			ID:            "claude",
			DisplayName:   "Claude Code",
			Command:       "claude",
			SupportsHooks: true,
		},
		{
			ID:            "codex",
			DisplayName:   "Codex CLI",
			Command:       "codex",
			SupportsHooks: true,
		},
		{
			ID:          "gemini",
			DisplayName: "Gemini CLI",
			Command:     "gemini",
		},
	}
}
