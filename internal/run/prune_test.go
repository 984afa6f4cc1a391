package run

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abzhaw/superpowers/internal/config"
	"github.com/abzhaw/superpowers/internal/db"
	"github.com/abzhaw/superpowers/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *db.Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return db.NewStore(database)
}

func seedRun(t *testing.T, store *db.Store, runsDir, runID, status string, age time.Duration) string {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Join(runsDir, runID)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "turns", "01"), 0o755))
	require.NoError(t, store.CreateRunAt(ctx, runID, "scenario", "fix-present", dir, time.Now().Add(-age)))
	if status != db.StatusRunning {
		require.NoError(t, store.UpdateRun(ctx, runID, db.Update{CurrentTurn: 1, Status: status}, nil))
	}
	return dir
}

func runIDs(t *testing.T, store *db.Store) []string {
	t.Helper()
	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	return ids
}

func TestPruneRuns_KeepLast(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	runsDir := t.TempDir()

	oldest := seedRun(t, store, runsDir, "run-1", db.StatusCompleted, 72*time.Hour)
	seedRun(t, store, runsDir, "run-2", db.StatusRunning, 48*time.Hour)
	seedRun(t, store, runsDir, "run-3", db.StatusCompleted, 24*time.Hour)
	seedRun(t, store, runsDir, "run-4", db.StatusInterrupted, time.Hour)

	res, err := PruneRuns(ctx, store, runsDir, config.RetentionPolicy{KeepLast: 1}, true)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{Considered: 4, Kept: 2, Deleted: 2}, res)
	assert.Len(t, runIDs(t, store), 4, "dry run must not delete")
	assert.DirExists(t, oldest)

	res, err = PruneRuns(ctx, store, runsDir, config.RetentionPolicy{KeepLast: 1}, false)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{Considered: 4, Kept: 2, Deleted: 2}, res)
	assert.Equal(t, []string{"run-4", "run-2"}, runIDs(t, store))
	assert.NoDirExists(t, oldest)
}

func TestPruneRuns_KeepDays(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	runsDir := t.TempDir()

	seedRun(t, store, runsDir, "run-old", db.StatusCompleted, 10*24*time.Hour)
	seedRun(t, store, runsDir, "run-new", db.StatusCompleted, time.Hour)

	res, err := PruneRuns(ctx, store, runsDir, config.RetentionPolicy{KeepDays: 7}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"run-new"}, runIDs(t, store))
}

func TestPruneRuns_NoPolicyIsNoop(t *testing.T) {
	store := openStore(t)
	runsDir := t.TempDir()
	seedRun(t, store, runsDir, "run-1", db.StatusCompleted, 72*time.Hour)

	res, err := PruneRuns(context.Background(), store, runsDir, config.RetentionPolicy{}, false)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{}, res)
	assert.Len(t, runIDs(t, store), 1)
}

func TestPurge_SkipsLockedAndRunning(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	runsDir := t.TempDir()

	done := seedRun(t, store, runsDir, "run-done", db.StatusCompleted, 3*time.Hour)
	seedRun(t, store, runsDir, "run-live", db.StatusRunning, 2*time.Hour)
	busy := seedRun(t, store, runsDir, "run-busy", db.StatusInterrupted, time.Hour)

	held, err := lock.Acquire(busy)
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release() })

	res, err := Purge(ctx, store, runsDir)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{Considered: 3, Kept: 1, Deleted: 1, Skipped: 1}, res)
	assert.NoDirExists(t, done)
	assert.DirExists(t, busy)
	assert.ElementsMatch(t, []string{"run-live", "run-busy"}, runIDs(t, store))
}
