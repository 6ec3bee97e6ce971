package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/config"
	"taskboard/internal/validation"
)

func TestResolveConfigPrefersWorkspaceArgument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("database:\n  workspace: /elsewhere\n"), 0o644))
	cfg, err := ResolveConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Database.Workspace)
}

func TestOpenMigratesAndServesEngine(t *testing.T) {
	cfg, err := ResolveConfig(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	a, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	due := a.Engine.Today().AddDate(0, 0, 3).Format("2006-01-02")
	task, err := a.Engine.CreateTask(ctx, validation.CreateTask{
		Title: "Wired", Status: "pending", Priority: "low", DueDate: due,
	}, "cli")
	require.NoError(t, err)
	assert.Equal(t, "Wired", task.Title)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.BasePath = "nope"
	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}
