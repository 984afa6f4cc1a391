// Package agent runs the agent under test as an external process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/abzhaw/superpowers/internal/config"
	"github.com/rs/zerolog/log"
)

// waitDelay bounds how long Wait keeps copying output after the process
// group has been killed.
const waitDelay = 5 * time.Second

// Invocation is one call of the agent: a single conversation turn.
type Invocation struct {
	Prompt         string
	InstructionDir string
	WorkDir        string
	// Continue resumes the most recent session in WorkDir instead of starting fresh.
	Continue bool
	MaxSteps int
	// Env holds extra KEY=VALUE pairs appended to the harness environment.
	Env []string
}

// Runner executes an agent invocation. The exit code is advisory: output
// written before a failure is still valid evidence.
type Runner interface {
	Run(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (exitCode int, err error)
	Describe() Info
}

// Info describes how an agent is invoked.
type Info struct {
	Type  string   `json:"type"`
	Cmd   []string `json:"cmd"`
	Model string   `json:"model,omitempty"`
}

type agentSpec struct {
	cmd        []string
	extraFlags []string
}

var agentSpecs = map[string]agentSpec{
	config.AgentTypeClaude: {
		cmd:        []string{"claude"},
		extraFlags: []string{"--output-format", "stream-json", "--verbose"},
	},
}

var defaultFlags = config.AgentFlags{
	Prompt:       "-p",
	Instructions: "--plugin-dir",
	Continue:     "--continue",
	MaxSteps:     "--max-turns",
	Model:        "--model",
}

// NewRunner constructs a runner for the given agent config.
func NewRunner(cfg config.AgentConfig) (Runner, error) {
	var cmd, extra []string
	switch cfg.Type {
	case config.AgentTypeExec:
		if len(cfg.Cmd) == 0 {
			return nil, fmt.Errorf("exec agent requires cmd")
		}
		cmd = cfg.Cmd
	default:
		spec, ok := agentSpecs[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("unknown agent type %q", cfg.Type)
		}
		cmd = spec.cmd
		if len(cfg.Cmd) > 0 {
			cmd = cfg.Cmd
		}
		extra = spec.extraFlags
	}

	return &processRunner{
		cmd:   append([]string(nil), cmd...),
		extra: append(append([]string(nil), extra...), cfg.ExtraArgs...),
		flags: mergeFlags(cfg.Flags),
		model: cfg.Model,
		info: Info{
			Type:  cfg.Type,
			Cmd:   append([]string(nil), cmd...),
			Model: cfg.Model,
		},
	}, nil
}

func mergeFlags(f config.AgentFlags) config.AgentFlags {
	out := defaultFlags
	if f.Prompt != "" {
		out.Prompt = f.Prompt
	}
	if f.Instructions != "" {
		out.Instructions = f.Instructions
	}
	if f.Continue != "" {
		out.Continue = f.Continue
	}
	if f.MaxSteps != "" {
		out.MaxSteps = f.MaxSteps
	}
	if f.Model != "" {
		out.Model = f.Model
	}
	return out
}

type processRunner struct {
	cmd   []string
	extra []string
	flags config.AgentFlags
	model string
	info  Info
}

// Args returns the full command line for inv.
func (r *processRunner) Args(inv Invocation) []string {
	out := append([]string(nil), r.cmd...)
	out = append(out, r.extra...)
	if r.model != "" {
		out = append(out, r.flags.Model, r.model)
	}
	if inv.InstructionDir != "" {
		out = append(out, r.flags.Instructions, inv.InstructionDir)
	}
	if inv.MaxSteps > 0 {
		out = append(out, r.flags.MaxSteps, strconv.Itoa(inv.MaxSteps))
	}
	if inv.Continue {
		out = append(out, r.flags.Continue)
	}
	return append(out, r.flags.Prompt, inv.Prompt)
}

func (r *processRunner) Run(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error) {
	args := r.Args(inv)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = inv.WorkDir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Stdin = nil
	cmd.Stdout = orDiscard(stdout)
	cmd.Stderr = orDiscard(stderr)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	log.Debug().Str("dir", inv.WorkDir).Strs("cmd", args).Msg("running agent command")
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start agent: %w", err)
	}
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return code, fmt.Errorf("agent interrupted: %w", ctxErr)
	}
	if exitErr != nil {
		return code, nil
	}
	return code, fmt.Errorf("wait agent: %w", err)
}

func (r *processRunner) Describe() Info {
	return r.info
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
