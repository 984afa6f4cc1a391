package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abzhaw/superpowers/internal/agent"
	"github.com/abzhaw/superpowers/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T, body string) agent.Runner {
	t.Helper()
	script := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0o755))
	r, err := agent.NewRunner(config.AgentConfig{Type: config.AgentTypeExec, Cmd: []string{script}})
	require.NoError(t, err)
	return r
}

func TestRunTurns_SequentialWithContinuation(t *testing.T) {
	work := t.TempDir()
	runner := newRunner(t, `cont=no
for a in "$@"; do [ "$a" = "--continue" ] && cont=yes; done
echo "start $cont" >> calls.log
sleep 0.1
echo "end $cont" >> calls.log
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"continue='$cont'"}]}}'
`)
	d := NewDriver(runner, filepath.Join(t.TempDir(), "turns"))

	var seen []int
	turns, err := d.RunTurns(context.Background(), Session{WorkDir: work, Limits: Limits{Timeout: 10 * time.Second, MaxSteps: 3}},
		[]string{"first", "second", "third"}, func(tt TurnTranscript) { seen = append(seen, tt.Index) })
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, []int{1, 2, 3}, seen)

	calls, err := os.ReadFile(filepath.Join(work, "calls.log"))
	require.NoError(t, err)
	assert.Equal(t, "start no\nend no\nstart yes\nend yes\nstart yes\nend yes\n", string(calls))

	for i, tt := range turns {
		assert.Equal(t, i+1, tt.Index)
		assert.Equal(t, i > 0, tt.Continue)
		assert.Equal(t, 0, tt.ExitCode)
		assert.Equal(t, 1, tt.Lines)
		assert.Nil(t, tt.Err)
		assert.False(t, tt.Degraded())
		assert.FileExists(t, tt.StderrPath)
	}
	assert.Equal(t, "01", filepath.Base(turns[0].Dir))
	data, err := os.ReadFile(turns[1].TranscriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "continue=yes")
}

func TestRunTurn_TimeoutKeepsPartialTranscript(t *testing.T) {
	runner := newRunner(t, `echo '{"type":"tool_use","name":"Skill","input":{"skill":"brainstorming"}}'
sleep 30
echo '{"type":"tool_use","name":"EnterPlanMode","input":{}}'
`)
	d := NewDriver(runner, t.TempDir())

	tt, err := d.RunTurn(context.Background(), TurnRequest{
		Session: Session{WorkDir: t.TempDir(), Limits: Limits{Timeout: 300 * time.Millisecond}},
		Index:   1,
		Prompt:  "go",
	})
	require.NoError(t, err)
	assert.True(t, tt.TimedOut)
	require.NotNil(t, tt.Err)
	assert.Equal(t, KindTimeout, tt.Err.Kind)
	assert.Equal(t, "turn 1: timed out", tt.Error)
	assert.Equal(t, 1, tt.Lines)

	data, err := os.ReadFile(tt.TranscriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "brainstorming")
	assert.NotContains(t, string(data), "EnterPlanMode")

	stderr, err := os.ReadFile(tt.StderrPath)
	require.NoError(t, err)
	assert.Contains(t, string(stderr), "timed out")
}

func TestRunTurn_NonZeroExitIsDegradedNotFatal(t *testing.T) {
	runner := newRunner(t, `printf '{"type":"system"}\n{"type":"assistant","message":{"content":"partial'
echo "boom" >&2
exit 2
`)
	var excerpts []string
	d := NewDriver(runner, t.TempDir(), WithExcerpt(func(turn int, line []byte) {
		excerpts = append(excerpts, string(line))
	}))

	tt, err := d.RunTurn(context.Background(), TurnRequest{Session: Session{WorkDir: t.TempDir()}, Index: 2, Prompt: "go", Continue: true})
	require.NoError(t, err)
	require.NotNil(t, tt.Err)
	assert.Equal(t, KindProcess, tt.Err.Kind)
	assert.Equal(t, 2, tt.ExitCode)
	assert.Equal(t, "turn 2: agent exited with code 2", tt.Error)
	assert.False(t, tt.TimedOut)
	assert.Equal(t, 2, tt.Lines, "the unterminated last line still counts")
	require.Len(t, excerpts, 2)
	assert.True(t, strings.HasPrefix(excerpts[1], `{"type":"assistant"`))

	stderr, err := os.ReadFile(tt.StderrPath)
	require.NoError(t, err)
	assert.Contains(t, string(stderr), "boom")
}

func TestRunTurns_SetupFailureIsRecorded(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "turns")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))

	runner := newRunner(t, "exit 0\n")
	d := NewDriver(runner, blocker)

	turns, err := d.RunTurns(context.Background(), Session{WorkDir: t.TempDir()}, []string{"a", "b"}, nil)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	for _, tt := range turns {
		require.NotNil(t, tt.Err)
		assert.Equal(t, KindSetup, tt.Err.Kind)
	}
}

func TestRunTurns_StopsWhenCancelled(t *testing.T) {
	runner := newRunner(t, "exit 0\n")
	d := NewDriver(runner, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	turns, err := d.RunTurns(ctx, Session{WorkDir: t.TempDir()}, []string{"a", "b"}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, turns)
}

func TestLineWriter(t *testing.T) {
	var got []string
	var sink strings.Builder
	lw := &lineWriter{w: &sink, onLine: func(b []byte) { got = append(got, string(b)) }}

	for _, chunk := range []string{"{\"a\"", ":1}\n\n{\"b\":2}\n{\"c\"", ":3}"} {
		_, err := lw.Write([]byte(chunk))
		require.NoError(t, err)
	}
	lw.flush()

	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, got)
	assert.Equal(t, 3, lw.count)
	assert.Equal(t, "{\"a\":1}\n\n{\"b\":2}\n{\"c\":3}", sink.String())
}
