// Package run orchestrates one scenario run: fixture, instruction set,
// turns, analysis and verdict.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abzhaw/superpowers/internal/ablation"
	"github.com/abzhaw/superpowers/internal/agent"
	"github.com/abzhaw/superpowers/internal/config"
	"github.com/abzhaw/superpowers/internal/db"
	"github.com/abzhaw/superpowers/internal/fixture"
	"github.com/abzhaw/superpowers/internal/lock"
	"github.com/abzhaw/superpowers/internal/reconcile"
	"github.com/abzhaw/superpowers/internal/report"
	"github.com/abzhaw/superpowers/internal/session"
	"github.com/abzhaw/superpowers/internal/skillset"
	"github.com/abzhaw/superpowers/internal/transcript"
	"github.com/abzhaw/superpowers/internal/verdict"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Names inside a run directory.
const (
	FixtureDir      = "fixture"
	InstructionsDir = "instructions"
	TurnsDir        = "turns"
	TranscriptFile  = "transcript.jsonl"
	AblationFile    = "ablation.json"
)

// Options selects how a single run executes.
type Options struct {
	// WithoutFix runs the negative control with the ablated instruction set.
	WithoutFix bool
	// RunsDir overrides the configured runs directory.
	RunsDir string
	// Excerpts, when set, receives a one-line summary of every transcript
	// record as it arrives.
	Excerpts io.Writer
	// Env holds extra KEY=VALUE pairs for the agent process.
	Env []string
}

// Runner executes scenario runs for a configuration.
type Runner struct {
	cfg   config.Config
	agent agent.Runner
	store *db.Store
}

// NewRunner constructs a Runner. store may be nil, in which case no run
// index is kept.
func NewRunner(cfg config.Config, store *db.Store) (*Runner, error) {
	runner, err := agent.NewRunner(cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("init agent: %w", err)
	}
	return newRunner(cfg, runner, store), nil
}

func newRunner(cfg config.Config, runner agent.Runner, store *db.Store) *Runner {
	return &Runner{cfg: cfg, agent: runner, store: store}
}

// Result summarizes a finished run.
type Result struct {
	RunID   string
	RunDir  string
	Verdict verdict.Verdict
	Report  report.Run
}

// Run executes the scenario once. Setup failures (fixture, instruction set,
// ablation) are returned as errors before any turn runs. Everything after
// setup degrades into evidence notes and a verdict.
func (r *Runner) Run(ctx context.Context, opts Options) (res Result, err error) {
	mode := verdict.ParseMode(opts.WithoutFix)
	if mode == verdict.ModeFixAbsent && len(r.cfg.Ablation.Edits) == 0 {
		return Result{}, errors.New("negative control requires ablation.edits")
	}

	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = r.cfg.Runs.Dir
	}
	runsDir, err = filepath.Abs(runsDir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve runs dir: %w", err)
	}

	startedAt := time.Now().UTC()
	runID := newRunID(startedAt)
	runDir := filepath.Join(runsDir, runID)
	res = Result{RunID: runID, RunDir: runDir}
	defer func() {
		event := log.Info().
			Str("run_id", runID).
			Str("mode", string(mode)).
			Dur("duration", time.Since(startedAt))
		if err != nil {
			event = event.Err(err)
		} else {
			event = event.Str("verdict", string(res.Verdict.Outcome))
		}
		event.Msg("run finished")
	}()

	l, err := lock.Acquire(runDir)
	if err != nil {
		return res, err
	}
	defer func() { _ = l.Release() }()

	if r.store != nil {
		if _, err := reconcile.Run(ctx, r.store, runsDir); err != nil {
			log.Warn().Err(err).Msg("run index reconciliation failed")
		}
	}
	r.index(func(s *db.Store) error {
		return s.CreateRun(ctx, runID, r.cfg.Scenario.Name, string(mode), runDir)
	})
	log.Info().Str("run_id", runID).Str("mode", string(mode)).Str("run_dir", runDir).Msg("run started")

	setup, err := r.setup(ctx, runDir, mode)
	if err != nil {
		r.index(func(s *db.Store) error {
			return s.UpdateRun(ctx, runID, db.Update{Status: db.StatusAborted},
				&db.Event{Type: "setup_failed", Message: err.Error()})
		})
		return res, err
	}

	analyzerOpts := transcript.Options{
		SkillTools:   r.cfg.Scenario.Analyzer.SkillTools,
		SkillArgKeys: r.cfg.Scenario.Analyzer.SkillArgKeys,
	}
	driverOpts := []session.Option{}
	if opts.Excerpts != nil {
		driverOpts = append(driverOpts, session.WithExcerpt(excerptWriter(opts.Excerpts, analyzerOpts)))
	}
	driver := session.NewDriver(r.agent, filepath.Join(runDir, TurnsDir), driverOpts...)

	prompts := make([]string, 0, len(r.cfg.Scenario.Turns))
	for _, t := range r.cfg.Scenario.Turns {
		prompts = append(prompts, t.Prompt)
	}
	var notes []string
	turns, turnsErr := driver.RunTurns(ctx, session.Session{
		InstructionDir: setup.instructionDir,
		WorkDir:        setup.fixture.Dir,
		Limits:         session.Limits{Timeout: r.cfg.Agent.Timeout, MaxSteps: r.cfg.Agent.MaxSteps},
		Env:            opts.Env,
	}, prompts, func(tt session.TurnTranscript) {
		r.index(func(s *db.Store) error {
			data, _ := json.Marshal(map[string]any{"exit_code": tt.ExitCode, "lines": tt.Lines, "timed_out": tt.TimedOut})
			return s.CommitTurn(ctx, reconcile.TurnRecord(runID, tt),
				[]db.Event{{Type: "turn_finished", Message: fmt.Sprintf("turn %d finished", tt.Index), DataJSON: string(data)}},
				db.Update{CurrentTurn: tt.Index, Status: db.StatusRunning})
		})
	})
	for _, tt := range turns {
		if tt.Error != "" {
			notes = append(notes, tt.Error)
		}
	}
	if turnsErr != nil {
		notes = append(notes, fmt.Sprintf("run interrupted after %d of %d turns", len(turns), len(prompts)))
	}

	// Analysis and reporting finish even when the run was interrupted.
	ctx = context.WithoutCancel(ctx)

	transcriptPath := filepath.Join(runDir, TranscriptFile)
	if err := Concatenate(transcriptPath, turns); err != nil {
		log.Warn().Err(err).Msg("failed to write concatenated transcript")
		notes = append(notes, fmt.Sprintf("concatenated transcript incomplete: %v", err))
	}
	analysis, err := transcript.AnalyzeFile(transcriptPath, analyzerOpts)
	if err != nil {
		notes = append(notes, fmt.Sprintf("transcript analysis incomplete: %v", err))
	}
	if len(analysis.Warnings) > 0 {
		log.Warn().Int("skipped", len(analysis.Warnings)).Msg("malformed transcript lines skipped")
	}

	v, err := verdict.FromTranscript(mode, analysis, verdict.Rule{
		Correct:   r.cfg.Scenario.Verdict.Correct,
		Incorrect: r.cfg.Scenario.Verdict.Incorrect,
	}, notes...)
	if err != nil {
		return res, err
	}
	res.Verdict = v

	var integrity *fixture.Integrity
	if in, err := fixture.Verify(ctx, setup.fixture); err != nil {
		log.Warn().Err(err).Msg("fixture integrity check failed")
	} else {
		integrity = &in
		if in.ArtifactModified {
			log.Info().Str("artifact", setup.fixture.ArtifactPath).Bool("deleted", in.ArtifactDeleted).Msg("agent changed the prior-work artifact")
		}
	}

	res.Report = report.Run{
		RunID:          runID,
		Scenario:       r.cfg.Scenario.Name,
		Description:    r.cfg.Scenario.Description,
		Success:        v.Success(),
		Verdict:        v,
		Agent:          r.agent.Describe(),
		RunDir:         runDir,
		InstructionDir: setup.instructionDir,
		Fixture:        setup.fixture,
		Integrity:      integrity,
		Ablation:       setup.ablation,
		Turns:          turns,
		Transcript:     transcriptPath,
		EventCounts:    report.CountEvents(analysis.Events),
		Warnings:       analysis.Warnings,
		StartedAt:      startedAt,
		EndedAt:        time.Now().UTC(),
	}
	if err := report.WriteAll(res.Report); err != nil {
		log.Warn().Err(err).Msg("failed to write run reports")
	}

	outcome := string(v.Outcome)
	status := db.StatusCompleted
	if turnsErr != nil {
		status = db.StatusInterrupted
	}
	r.index(func(s *db.Store) error {
		return s.UpdateRun(ctx, runID, db.Update{CurrentTurn: len(turns), Status: status, Verdict: &outcome},
			&db.Event{Type: "verdict", Message: outcome})
	})
	return res, nil
}

type runSetup struct {
	fixture        fixture.Handle
	instructionDir string
	ablation       []ablation.Applied
}

func (r *Runner) setup(ctx context.Context, runDir string, mode verdict.Mode) (runSetup, error) {
	var out runSetup
	fx := r.cfg.Scenario.Fixture
	files := make([]fixture.File, 0, len(fx.Files))
	for _, f := range fx.Files {
		files = append(files, fixture.File{Path: f.Path, Content: f.Content})
	}
	h, err := fixture.Build(ctx, filepath.Join(runDir, FixtureDir), fixture.Spec{
		Source:   fx.Source,
		Files:    files,
		Artifact: fixture.File{Path: fx.Artifact.Path, Content: fx.Artifact.Content},
	})
	if err != nil {
		return out, err
	}
	out.fixture = h

	canonical, err := filepath.Abs(r.cfg.Instructions.Dir)
	if err != nil {
		return out, fmt.Errorf("resolve instruction set: %w", err)
	}
	set, err := skillset.Discover(canonical, r.cfg.Instructions.Pattern)
	if err != nil {
		return out, err
	}
	if len(set.Docs) == 0 {
		return out, fmt.Errorf("instruction set %s has no documents matching %q", canonical, r.cfg.Instructions.Pattern)
	}

	dst := filepath.Join(runDir, InstructionsDir)
	out.instructionDir = dst
	if mode == verdict.ModeFixPresent {
		if err := skillset.Copy(canonical, dst); err != nil {
			return out, fmt.Errorf("copy instruction set: %w", err)
		}
		log.Debug().Str("dir", dst).Int("skills", len(set.Docs)).Msg("instruction set copied")
		return out, nil
	}

	ab, err := ablation.Prepare(canonical, dst, r.cfg.Instructions.Pattern, Edits(r.cfg.Ablation))
	if err != nil {
		return out, err
	}
	out.ablation = ab.Applied
	data, err := json.MarshalIndent(ab, "", "  ")
	if err != nil {
		return out, fmt.Errorf("marshal ablation: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, AblationFile), append(data, '\n'), 0o644); err != nil {
		return out, fmt.Errorf("write %s: %w", AblationFile, err)
	}
	log.Info().Int("edits", len(ab.Applied)).Str("dir", dst).Msg("fix ablated")
	return out, nil
}

// Edits converts configured ablation edits.
func Edits(cfg config.AblationConfig) []ablation.Edit {
	out := make([]ablation.Edit, 0, len(cfg.Edits))
	for _, e := range cfg.Edits {
		out = append(out, ablation.Edit{
			Skill:      e.Skill,
			Old:        e.Old,
			New:        e.New,
			DeleteLine: e.DeleteLine,
			Reason:     e.Reason,
		})
	}
	return out
}

// Concatenate joins per-turn transcripts into path, writing a turn marker
// before each turn. A turn whose transcript is missing contributes only
// its marker.
func Concatenate(path string, turns []session.TurnTranscript) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	var errs []error
	for _, t := range turns {
		if _, err := out.Write(transcript.Marker(t.Index)); err != nil {
			errs = append(errs, err)
			break
		}
		if err := appendFile(out, t.TranscriptPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("turn %d: %w", t.Index, err))
		}
	}
	if err := out.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func appendFile(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	_, err = w.Write(data)
	return err
}

func excerptWriter(w io.Writer, opts transcript.Options) session.ExcerptFunc {
	return func(turn int, line []byte) {
		if s, ok := transcript.Excerpt(line, opts); ok {
			fmt.Fprintf(w, "[turn %d] %s\n", turn, s)
		}
	}
}

// index applies fn to the run index. Index failures are logged and never
// affect the run.
func (r *Runner) index(fn func(*db.Store) error) {
	if r.store == nil {
		return
	}
	if err := fn(r.store); err != nil {
		log.Warn().Err(err).Msg("run index update failed")
	}
}

func newRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", now.Format("20060102-150405"), suffix)
}
