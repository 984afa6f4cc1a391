package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abzhaw/superpowers/internal/config"
	"github.com/abzhaw/superpowers/internal/db"
	"github.com/abzhaw/superpowers/internal/lock"
	"github.com/rs/zerolog/log"
)

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
	Skipped    int
}

// PruneRuns deletes old runs and their directories. Runs that are still
// running or whose directory is locked are always kept.
func PruneRuns(ctx context.Context, store *db.Store, runsDir string, policy config.RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return PruneResult{}, err
	}

	res := PruneResult{Considered: len(runs)}
	for idx, r := range runs {
		keep := r.Status == db.StatusRunning
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 {
			createdAt, err := time.Parse(time.RFC3339, r.CreatedAt)
			if err != nil || createdAt.After(cutoff) {
				keep = true
			}
		}
		if keep {
			res.Kept++
			continue
		}
		if dryRun {
			res.Deleted++
			continue
		}
		deleted, err := deleteRun(ctx, store, runsDir, r)
		if err != nil {
			return res, err
		}
		if deleted {
			res.Deleted++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// Purge removes every run that is not in progress.
func Purge(ctx context.Context, store *db.Store, runsDir string) (PruneResult, error) {
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return PruneResult{}, err
	}
	res := PruneResult{Considered: len(runs)}
	for _, r := range runs {
		if r.Status == db.StatusRunning {
			res.Kept++
			continue
		}
		deleted, err := deleteRun(ctx, store, runsDir, r)
		if err != nil {
			return res, err
		}
		if deleted {
			res.Deleted++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

func deleteRun(ctx context.Context, store *db.Store, runsDir string, r db.RunRecord) (bool, error) {
	dir := r.RunDir
	if dir == "" {
		dir = filepath.Join(runsDir, r.RunID)
	}
	if _, err := os.Stat(dir); err == nil {
		l, free, err := lock.TryAcquire(dir)
		if err != nil || !free {
			log.Debug().Str("run_id", r.RunID).Msg("run directory in use, not pruned")
			return false, nil
		}
		err = os.RemoveAll(dir)
		_ = l.Release()
		if err != nil {
			log.Warn().Err(err).Str("run_id", r.RunID).Msg("failed to remove run directory")
			return false, nil
		}
	}
	if err := store.DeleteRun(ctx, r.RunID); err != nil {
		return false, fmt.Errorf("delete run %s: %w", r.RunID, err)
	}
	log.Debug().Str("run_id", r.RunID).Str("dir", dir).Msg("run pruned")
	return true, nil
}
