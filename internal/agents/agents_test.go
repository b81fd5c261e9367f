package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/discode/internal/common/logger"
)

func TestCatalogDefaults(t *testing.T) {
	c := NewCatalog(logger.Default())

	opencode, ok := c.Get("opencode")
	require.True(t, ok)
	assert.True(t, opencode.SupportsPromptSubmit)
	assert.True(t, opencode.SupportsHooks)

	gemini, ok := c.Get("gemini")
	require.True(t, ok)
	assert.False(t, gemini.SupportsPromptSubmit)
	assert.False(t, gemini.SupportsHooks)
}

func TestPromptSubmitSupported(t *testing.T) {
	c := NewCatalog(logger.Default())

	assert.True(t, c.PromptSubmitSupported("opencode"))
	assert.False(t, c.PromptSubmitSupported("claude"))
	assert.False(t, c.PromptSubmitSupported("gemini"))
	assert.False(t, c.PromptSubmitSupported("unknown-agent"))

	c.Register(&AgentType{ID: "custom", Command: "custom", SupportsPromptSubmit: true})
	assert.True(t, c.PromptSubmitSupported("custom"))
}

func TestLaunchCommandUnknownType(t *testing.T) {
	c := NewCatalog(logger.Default())
	assert.Equal(t, "claude", c.LaunchCommand("claude"))
	assert.Equal(t, "", c.LaunchCommand("unknown-agent"))
}

func TestGetReturnsCopy(t *testing.T) {
	c := NewCatalog(logger.Default())
	first, ok := c.Get("claude")
	require.True(t, ok)
	first.Command = "mutated"

	second, ok := c.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", second.Command)
}

func TestHookCommand(t *testing.T) {
	assert.Equal(t, "DISCODE_HOOK_URL=http://127.0.0.1:18470 opencode",
		HookCommand("opencode", "http://127.0.0.1:18470"))
	assert.Equal(t, "", HookCommand("", "http://127.0.0.1:18470"))
	assert.Equal(t, "opencode", HookCommand("opencode", ""))
}
