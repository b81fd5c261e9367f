package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/discode/internal/common/config"
	"github.com/discode/discode/internal/common/errors"
)

func seedProject(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateProject(ctx, &Project{
		Name:      "myapp",
		Path:      "/home/dev/myapp",
		ChannelID: "chan-project",
	}))
	require.NoError(t, store.CreateInstance(ctx, &Instance{
		ID:          "backend",
		ProjectName: "myapp",
		AgentType:   "opencode",
		WindowID:    "win-1",
		Kind:        KindTerminal,
		Primary:     true,
	}))
	require.NoError(t, store.CreateInstance(ctx, &Instance{
		ID:          "reviewer",
		ProjectName: "myapp",
		AgentType:   "claude",
		ChannelID:   "chan-reviewer",
		Kind:        KindSDK,
		Command:     "python agent.py",
	}))
}

func TestMemoryStoreProjectLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedProject(t, store)

	project, err := store.GetProject(ctx, "myapp")
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/myapp", project.Path)
	assert.True(t, project.LastActive.IsZero())

	now := time.Now().UTC()
	require.NoError(t, store.TouchProject(ctx, "myapp", now))
	project, err = store.GetProject(ctx, "myapp")
	require.NoError(t, err)
	assert.Equal(t, now, project.LastActive)

	_, err = store.GetProject(ctx, "other")
	assert.Error(t, err)

	require.NoError(t, store.DeleteProject(ctx, "myapp"))
	instances, err := store.ListInstances(ctx, "myapp")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestMemoryStoreDuplicateProject(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateProject(ctx, &Project{Name: "myapp"}))
	assert.Error(t, store.CreateProject(ctx, &Project{Name: "myapp"}))
}

func TestMemoryStoreInstanceResolution(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedProject(t, store)

	// By id.
	instance, err := store.GetInstance(ctx, "myapp", "backend")
	require.NoError(t, err)
	assert.Equal(t, "win-1", instance.WindowID)

	// By agent type fallback.
	instance, err = store.GetInstance(ctx, "myapp", "claude")
	require.NoError(t, err)
	assert.Equal(t, "reviewer", instance.ID)

	_, err = store.GetInstance(ctx, "myapp", "unknown")
	assert.Error(t, err)

	primary, err := store.PrimaryInstance(ctx, "myapp")
	require.NoError(t, err)
	assert.Equal(t, "backend", primary.ID)
}

func TestMemoryStoreResolveChannel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedProject(t, store)

	// Instance-level channel wins.
	project, instance, err := store.ResolveChannel(ctx, "chan-reviewer")
	require.NoError(t, err)
	assert.Equal(t, "myapp", project.Name)
	assert.Equal(t, "reviewer", instance.ID)

	// Project-level channel resolves to the primary instance.
	project, instance, err = store.ResolveChannel(ctx, "chan-project")
	require.NoError(t, err)
	assert.Equal(t, "myapp", project.Name)
	assert.Equal(t, "backend", instance.ID)

	_, _, err = store.ResolveChannel(ctx, "chan-unknown")
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryStoreInstanceChannelFallback(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedProject(t, store)

	project, err := store.GetProject(ctx, "myapp")
	require.NoError(t, err)

	backend, err := store.GetInstance(ctx, "myapp", "backend")
	require.NoError(t, err)
	assert.Equal(t, "chan-project", backend.Channel(project))

	reviewer, err := store.GetInstance(ctx, "myapp", "reviewer")
	require.NoError(t, err)
	assert.Equal(t, "chan-reviewer", reviewer.Channel(project))
}

func TestSeedIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cfg := []config.ProjectConfig{{
		Name:      "myapp",
		Path:      "/home/dev/myapp",
		ChannelID: "chan-project",
		Instances: []config.InstanceConfig{
			{ID: "backend", AgentType: "opencode", WindowID: "win-1", Primary: true},
		},
	}}

	require.NoError(t, Seed(ctx, store, cfg))
	require.NoError(t, Seed(ctx, store, cfg))

	projects, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	instances, err := store.ListInstances(ctx, "myapp")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, KindTerminal, instances[0].Kind)
}
