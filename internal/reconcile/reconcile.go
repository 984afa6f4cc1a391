// Package reconcile brings the run index in line with the run directories
// on disk.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/abzhaw/superpowers/internal/db"
	"github.com/abzhaw/superpowers/internal/lock"
	"github.com/abzhaw/superpowers/internal/report"
	"github.com/abzhaw/superpowers/internal/session"
	"github.com/rs/zerolog/log"
)

// Result counts what a reconciliation changed.
type Result struct {
	Completed   int
	Interrupted int
	Imported    int
}

// Run reconciles the index with runsDir. Runs still marked running whose
// directory is not locked by a live process are finished from result.json
// when present and marked interrupted otherwise. Run directories holding a
// result.json unknown to the index are imported.
func Run(ctx context.Context, store *db.Store, runsDir string) (Result, error) {
	var res Result
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return res, err
	}
	known := make(map[string]bool, len(runs))
	for _, r := range runs {
		known[r.RunID] = true
		if r.Status != db.StatusRunning {
			continue
		}
		var l *lock.Lock
		if _, err := os.Stat(r.RunDir); err == nil {
			var free bool
			l, free, err = lock.TryAcquire(r.RunDir)
			if err != nil {
				log.Warn().Err(err).Str("run_id", r.RunID).Msg("reconcile: cannot check run lock")
				continue
			}
			if !free {
				continue
			}
		}
		completed, err := settle(ctx, store, r)
		_ = l.Release()
		if err != nil {
			return res, err
		}
		if completed {
			res.Completed++
		} else {
			res.Interrupted++
		}
	}

	entries, err := os.ReadDir(runsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read runs dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || known[e.Name()] {
			continue
		}
		runDir := filepath.Join(runsDir, e.Name())
		result, err := report.ReadResult(filepath.Join(runDir, report.ResultFile))
		if err != nil {
			continue
		}
		if result.RunID != e.Name() {
			log.Warn().Str("dir", runDir).Str("run_id", result.RunID).Msg("reconcile: result belongs to another run, skipping")
			continue
		}
		if err := store.CreateRunAt(ctx, result.RunID, result.Scenario, string(result.Verdict.Mode), runDir, result.StartedAt); err != nil {
			return res, err
		}
		if err := complete(ctx, store, result); err != nil {
			return res, err
		}
		res.Imported++
	}

	if res != (Result{}) {
		log.Info().
			Int("completed", res.Completed).
			Int("interrupted", res.Interrupted).
			Int("imported", res.Imported).
			Msg("run index reconciled")
	}
	return res, nil
}

func settle(ctx context.Context, store *db.Store, r db.RunRecord) (bool, error) {
	result, err := report.ReadResult(filepath.Join(r.RunDir, report.ResultFile))
	if err == nil {
		return true, complete(ctx, store, result)
	}

	turns, err := turnDirs(r.RunDir)
	if err != nil {
		return false, err
	}
	last := r.CurrentTurn
	for _, n := range turns {
		if err := store.InsertTurn(ctx, db.TurnRecord{
			RunID:     r.RunID,
			TurnIndex: n,
			Status:    "unknown",
			ExitCode:  -1,
			TurnDir:   filepath.Join(r.RunDir, "turns", fmt.Sprintf("%02d", n)),
			Error:     "recovered from an interrupted run",
		}); err != nil {
			return false, err
		}
		if n > last {
			last = n
		}
	}
	return false, store.UpdateRun(ctx, r.RunID,
		db.Update{CurrentTurn: last, Status: db.StatusInterrupted},
		&db.Event{Type: "run_interrupted", Message: "run ended without a result"})
}

func complete(ctx context.Context, store *db.Store, result report.Run) error {
	for _, t := range result.Turns {
		if err := store.InsertTurn(ctx, TurnRecord(result.RunID, t)); err != nil {
			return err
		}
	}
	outcome := string(result.Verdict.Outcome)
	return store.UpdateRun(ctx, result.RunID,
		db.Update{CurrentTurn: len(result.Turns), Status: db.StatusCompleted, Verdict: &outcome},
		&db.Event{Type: "verdict", Message: outcome})
}

// TurnRecord converts a captured turn into its index row.
func TurnRecord(runID string, t session.TurnTranscript) db.TurnRecord {
	status := "ok"
	switch {
	case t.TimedOut:
		status = string(session.KindTimeout)
	case t.Error != "":
		status = "degraded"
	}
	rec := db.TurnRecord{
		RunID:     runID,
		TurnIndex: t.Index,
		Status:    status,
		ExitCode:  t.ExitCode,
		Lines:     t.Lines,
		TurnDir:   t.Dir,
		Error:     t.Error,
	}
	if !t.StartedAt.IsZero() {
		rec.StartedAt = t.StartedAt.Format(time.RFC3339)
	}
	if !t.EndedAt.IsZero() {
		rec.EndedAt = t.EndedAt.Format(time.RFC3339)
	}
	return rec
}

func turnDirs(runDir string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(runDir, "turns"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read turns dir: %w", err)
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
