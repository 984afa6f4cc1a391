package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/abzhaw/superpowers/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".skilltest", "config.yaml")

	out, err := execute(t, "init", "--config", path, "--instructions", "/opt/superpowers/skills")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized successfully")

	cfg, err := config.Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/superpowers/skills", cfg.Instructions.Dir)

	require.NoError(t, os.WriteFile(path, []byte("# edited\n"), 0o644))
	_, err = execute(t, "init", "--config", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# edited\n", string(data), "existing config is kept without --force")
}

func TestAblate_PrintsAppliedEdits(t *testing.T) {
	env := setupEnv(t)
	dst := filepath.Join(env.root, "ablated")

	out, err := execute(t, "ablate", "--config", env.config, "--out", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "skill: writing-plans")
	assert.Contains(t, out, "reason: plan mode guard")

	data, err := os.ReadFile(filepath.Join(dst, "writing-plans", "SKILL.md"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "FIX:")
}

func TestAblate_RequiresOut(t *testing.T) {
	env := setupEnv(t)
	_, err := execute(t, "ablate", "--config", env.config)
	require.Error(t, err)
}

func TestRun_ExitStatus(t *testing.T) {
	requireTools(t)
	env := setupEnv(t)

	out, err := execute(t, "run", "--config", env.config, "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "[turn 1] assistant: Read the design.")

	out, err = execute(t, "run", "--config", env.config, "--without-fix")
	require.NoError(t, err)
	assert.Contains(t, out, "REPRODUCED")

	t.Setenv("SILENT_AGENT", "1")
	out, err = execute(t, "run", "--config", env.config)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, "INCONCLUSIVE")

	out, err = execute(t, "runs", "list", "--config", env.config)
	require.NoError(t, err)
	assert.Contains(t, out, "REPRODUCED")
	assert.Contains(t, out, "fix-absent")
	assert.Contains(t, out, "completed")
}

func TestRun_SetupErrorExitsNonZero(t *testing.T) {
	requireTools(t)
	env := setupEnv(t)
	require.NoError(t, os.RemoveAll(env.skills))

	_, err := execute(t, "run", "--config", env.config)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
}

func TestReport_RendersSummary(t *testing.T) {
	requireTools(t)
	env := setupEnv(t)

	_, err := execute(t, "run", "--config", env.config)
	require.NoError(t, err)

	entries, err := os.ReadDir(env.runsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	runID := entries[0].Name()

	out, err := execute(t, "report", runID, "--config", env.config, "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "PASS")

	_, err = execute(t, "report", "19700101-000000-deadbeef", "--config", env.config)
	require.ErrorContains(t, err, "has no summary.md")
}

func TestRunsPrune_RequiresPolicy(t *testing.T) {
	env := setupEnv(t)
	_, err := execute(t, "runs", "prune", "--config", env.config)
	require.ErrorContains(t, err, "--keep-last")

	_, err = execute(t, "runs", "prune", "--config", env.config, "--keep-last", "1", "--dry-run")
	require.NoError(t, err)
}
