// Package session drives the agent across the turns of one conversation.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/abzhaw/superpowers/internal/agent"
	"github.com/abzhaw/superpowers/internal/logging"
	"github.com/rs/zerolog/log"
)

// File names inside a turn directory.
const (
	TranscriptFile = "transcript.jsonl"
	StderrFile     = "stderr.txt"
)

// ErrorKind classifies a degraded turn.
type ErrorKind string

// Turn error kinds.
const (
	KindTimeout ErrorKind = "timeout"
	KindProcess ErrorKind = "process"
	KindSetup   ErrorKind = "setup"
)

// TurnError describes a turn whose transcript may be partial. It is never
// fatal to a run.
type TurnError struct {
	Turn     int
	Kind     ErrorKind
	ExitCode int
	Err      error
}

func (e *TurnError) Error() string {
	switch {
	case e.Kind == KindTimeout:
		return fmt.Sprintf("turn %d: timed out", e.Turn)
	case e.Err != nil:
		return fmt.Sprintf("turn %d: %s: %v", e.Turn, e.Kind, e.Err)
	default:
		return fmt.Sprintf("turn %d: agent exited with code %d", e.Turn, e.ExitCode)
	}
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// Limits bound a single turn.
type Limits struct {
	Timeout  time.Duration
	MaxSteps int
}

// Session is the run-scoped state shared by every turn.
type Session struct {
	InstructionDir string
	WorkDir        string
	Limits         Limits
	Env            []string
}

// TurnRequest is one turn of a session. Index is 1-based.
type TurnRequest struct {
	Session
	Index    int
	Prompt   string
	Continue bool
}

// TurnTranscript is the captured output of one turn.
type TurnTranscript struct {
	Index          int           `json:"turn"`
	Dir            string        `json:"dir"`
	TranscriptPath string        `json:"transcript"`
	StderrPath     string        `json:"stderr"`
	Continue       bool          `json:"continue"`
	ExitCode       int           `json:"exit_code"`
	Lines          int           `json:"lines"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	Duration       time.Duration `json:"duration_ns"`
	TimedOut       bool          `json:"timed_out"`
	Error          string        `json:"error,omitempty"`
	Err            *TurnError    `json:"-"`
}

// Degraded reports whether the turn's evidence may be incomplete.
func (t TurnTranscript) Degraded() bool {
	return t.Err != nil
}

// ExcerptFunc receives every complete stdout line of a turn.
type ExcerptFunc func(turn int, line []byte)

// Driver runs turns sequentially through an agent runner.
type Driver struct {
	runner   agent.Runner
	turnsDir string
	excerpt  ExcerptFunc
}

// Option configures a Driver.
type Option func(*Driver)

// WithExcerpt installs a hook that sees each transcript line as it arrives.
func WithExcerpt(fn ExcerptFunc) Option {
	return func(d *Driver) { d.excerpt = fn }
}

// NewDriver creates a driver writing turn directories under turnsDir.
func NewDriver(runner agent.Runner, turnsDir string, opts ...Option) *Driver {
	d := &Driver{runner: runner, turnsDir: turnsDir}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunTurns executes prompts in order on one session timeline. Turn 1
// starts fresh; every later turn continues it. onTurn, if set, is called
// after each turn. Only cancellation of ctx stops the sequence early.
func (d *Driver) RunTurns(ctx context.Context, s Session, prompts []string, onTurn func(TurnTranscript)) ([]TurnTranscript, error) {
	out := make([]TurnTranscript, 0, len(prompts))
	for i, prompt := range prompts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		tt, err := d.RunTurn(ctx, TurnRequest{Session: s, Index: i + 1, Prompt: prompt, Continue: i > 0})
		if err != nil {
			te := &TurnError{Turn: i + 1, Kind: KindSetup, ExitCode: -1, Err: err}
			tt.Err = te
			tt.Error = te.Error()
			log.Warn().Err(err).Int("turn", i+1).Msg("turn setup failed")
		}
		out = append(out, tt)
		if onTurn != nil {
			onTurn(tt)
		}
	}
	return out, ctx.Err()
}

// RunTurn invokes the agent once. Timeouts and non-zero exits are reported
// through TurnTranscript.Err with whatever output was captured; the
// returned error is reserved for failures to set up the turn directory.
func (d *Driver) RunTurn(ctx context.Context, req TurnRequest) (TurnTranscript, error) {
	dir := filepath.Join(d.turnsDir, fmt.Sprintf("%02d", req.Index))
	tt := TurnTranscript{
		Index:          req.Index,
		Dir:            dir,
		TranscriptPath: filepath.Join(dir, TranscriptFile),
		StderrPath:     filepath.Join(dir, StderrFile),
		Continue:       req.Continue,
		ExitCode:       -1,
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tt, fmt.Errorf("create turn dir: %w", err)
	}
	stdoutFile, err := os.Create(tt.TranscriptPath)
	if err != nil {
		return tt, fmt.Errorf("create transcript: %w", err)
	}
	defer func() {
		if cErr := stdoutFile.Close(); cErr != nil {
			log.Warn().Err(cErr).Msg("failed to close transcript")
		}
	}()
	stderrFile, err := os.Create(tt.StderrPath)
	if err != nil {
		return tt, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() {
		if cErr := stderrFile.Close(); cErr != nil {
			log.Warn().Err(cErr).Msg("failed to close stderr log")
		}
	}()

	stdoutWriter := io.Writer(stdoutFile)
	stderrWriter := io.Writer(stderrFile)
	if logging.DebugEnabled() {
		stdoutWriter = io.MultiWriter(stdoutFile, os.Stderr)
		stderrWriter = io.MultiWriter(stderrFile, os.Stderr)
	}
	lines := &lineWriter{w: stdoutWriter}
	if d.excerpt != nil {
		lines.onLine = func(line []byte) { d.excerpt(req.Index, line) }
	}

	turnCtx := ctx
	if req.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, req.Limits.Timeout)
		defer cancel()
	}

	log.Info().
		Int("turn", req.Index).
		Bool("continue", req.Continue).
		Str("work_dir", req.WorkDir).
		Dur("timeout", req.Limits.Timeout).
		Msg("agent start")

	tt.StartedAt = time.Now().UTC()
	exitCode, runErr := d.runner.Run(turnCtx, agent.Invocation{
		Prompt:         req.Prompt,
		InstructionDir: req.InstructionDir,
		WorkDir:        req.WorkDir,
		Continue:       req.Continue,
		MaxSteps:       req.Limits.MaxSteps,
		Env:            req.Env,
	}, lines, stderrWriter)
	lines.flush()
	tt.EndedAt = time.Now().UTC()
	tt.Duration = tt.EndedAt.Sub(tt.StartedAt)
	tt.ExitCode = exitCode
	tt.Lines = lines.count
	tt.TimedOut = ctx.Err() == nil && errors.Is(turnCtx.Err(), context.DeadlineExceeded)

	switch {
	case tt.TimedOut:
		tt.Err = &TurnError{Turn: req.Index, Kind: KindTimeout, ExitCode: exitCode, Err: runErr}
	case runErr != nil || exitCode != 0:
		tt.Err = &TurnError{Turn: req.Index, Kind: KindProcess, ExitCode: exitCode, Err: runErr}
	}
	if tt.Err != nil {
		tt.Error = tt.Err.Error()
		_, _ = fmt.Fprintln(stderrWriter, tt.Error)
	}

	finishEvent := log.Info()
	if tt.Err != nil {
		finishEvent = log.Warn().Str("kind", string(tt.Err.Kind)).Err(tt.Err)
	}
	finishEvent.
		Int("turn", req.Index).
		Int("exit_code", exitCode).
		Int("lines", tt.Lines).
		Dur("duration", tt.Duration).
		Msg("agent finished")
	return tt, nil
}

// lineWriter passes bytes through unchanged and reports complete lines.
type lineWriter struct {
	w      io.Writer
	buf    []byte
	count  int
	onLine func([]byte)
}

func (l *lineWriter) Write(p []byte) (int, error) {
	n, err := l.w.Write(p)
	l.buf = append(l.buf, p[:n]...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	return n, err
}

func (l *lineWriter) flush() {
	if len(l.buf) > 0 {
		l.emit(l.buf)
		l.buf = nil
	}
}

func (l *lineWriter) emit(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	l.count++
	if l.onLine != nil {
		l.onLine(line)
	}
}
