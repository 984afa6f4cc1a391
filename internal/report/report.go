// Package report writes the human and machine readable outputs of a run.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abzhaw/superpowers/internal/ablation"
	"github.com/abzhaw/superpowers/internal/agent"
	"github.com/abzhaw/superpowers/internal/fixture"
	"github.com/abzhaw/superpowers/internal/session"
	"github.com/abzhaw/superpowers/internal/transcript"
	"github.com/abzhaw/superpowers/internal/verdict"
)

// File names written into a run directory.
const (
	ResultFile  = "result.json"
	SummaryFile = "summary.md"
	MetricsFile = "metrics.prom"
)

// Run is everything known about a finished run.
type Run struct {
	RunID          string                   `json:"run_id"`
	Scenario       string                   `json:"scenario"`
	Description    string                   `json:"description,omitempty"`
	Success        bool                     `json:"success"`
	Verdict        verdict.Verdict          `json:"verdict"`
	Agent          agent.Info               `json:"agent"`
	RunDir         string                   `json:"run_dir"`
	InstructionDir string                   `json:"instruction_dir"`
	Fixture        fixture.Handle           `json:"fixture"`
	Integrity      *fixture.Integrity       `json:"integrity,omitempty"`
	Ablation       []ablation.Applied       `json:"ablation,omitempty"`
	Turns          []session.TurnTranscript `json:"turns"`
	Transcript     string                   `json:"transcript"`
	EventCounts    map[transcript.Kind]int  `json:"event_counts"`
	Warnings       []transcript.Warning     `json:"warnings,omitempty"`
	StartedAt      time.Time                `json:"started_at"`
	EndedAt        time.Time                `json:"ended_at"`
}

// CountEvents tallies events by kind.
func CountEvents(events []transcript.Event) map[transcript.Kind]int {
	out := make(map[transcript.Kind]int)
	for _, ev := range events {
		out[ev.Kind]++
	}
	return out
}

// WriteResult writes result.json.
func WriteResult(path string, r Run) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadResult reads result.json.
func ReadResult(path string) (Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, err
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return Run{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return r, nil
}

// WriteAll writes result.json, summary.md and metrics.prom into the run
// directory. It stops at the first failure.
func WriteAll(r Run) error {
	if err := WriteResult(filepath.Join(r.RunDir, ResultFile), r); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(r.RunDir, SummaryFile))
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	if err := WriteSummary(f, r); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close summary: %w", err)
	}
	return WriteMetrics(filepath.Join(r.RunDir, MetricsFile), r)
}

func (r Run) rel(p string) string {
	if p == "" || r.RunDir == "" {
		return p
	}
	rel, err := filepath.Rel(r.RunDir, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}
