package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abzhaw/superpowers/internal/ablation"
	"github.com/abzhaw/superpowers/internal/agent"
	"github.com/abzhaw/superpowers/internal/fixture"
	"github.com/abzhaw/superpowers/internal/session"
	"github.com/abzhaw/superpowers/internal/transcript"
	"github.com/abzhaw/superpowers/internal/verdict"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(runDir string) Run {
	started := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	return Run{
		RunID:       "20250115-120000-1a2b3c4d",
		Scenario:    "writing-plans-after-brainstorming",
		Description: "Approved design exists; the agent must hand off to writing-plans.",
		Success:     true,
		Verdict: verdict.Verdict{
			Mode:    verdict.ModeFixAbsent,
			Outcome: verdict.Reproduced,
			Rule:    verdict.Rule{Correct: "writing-plans", Incorrect: "EnterPlanMode"},
			Evidence: verdict.Evidence{
				Observed:          []string{"EnterPlanMode", "Skill", "brainstorming"},
				IncorrectObserved: true,
				FirstIncorrect:    &verdict.Ref{Seq: 4, Turn: 2, Line: 7},
				Notes:             []string{"turn 2: timed out"},
			},
		},
		Agent:  agent.Info{Type: "claude", Cmd: []string{"claude"}, Model: "opus"},
		RunDir: runDir,
		Fixture: fixture.Handle{
			Dir:          filepath.Join(runDir, "fixture"),
			ArtifactPath: "docs/plans/2025-01-15-todo-cli-design.md",
			Commit:       "0123456789abcdef0123456789abcdef01234567",
		},
		Integrity: &fixture.Integrity{},
		Ablation: []ablation.Applied{{
			Index:  0,
			Skill:  "brainstorming",
			Doc:    "skills/brainstorming/SKILL.md",
			Offset: 120,
			Reason: "remove plan-mode guard",
		}},
		Turns: []session.TurnTranscript{
			{
				Index:          1,
				TranscriptPath: filepath.Join(runDir, "turns", "01", "transcript.jsonl"),
				StderrPath:     filepath.Join(runDir, "turns", "01", "stderr.txt"),
				Lines:          12,
				Duration:       4200 * time.Millisecond,
			},
			{
				Index:          2,
				TranscriptPath: filepath.Join(runDir, "turns", "02", "transcript.jsonl"),
				StderrPath:     filepath.Join(runDir, "turns", "02", "stderr.txt"),
				Continue:       true,
				ExitCode:       -1,
				Lines:          5,
				Duration:       10 * time.Second,
				TimedOut:       true,
				Error:          "turn 2: timed out",
			},
		},
		Transcript:  filepath.Join(runDir, "transcript.jsonl"),
		EventCounts: map[transcript.Kind]int{transcript.KindToolInvocation: 3, transcript.KindSkillInvocation: 1},
		Warnings:    []transcript.Warning{{Line: 9, Reason: "invalid JSON: unexpected end of JSON input"}},
		StartedAt:   started,
		EndedAt:     started.Add(15 * time.Second),
	}
}

func TestWriteSummary_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleRun("/runs/r1")))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "summary_fix_absent", buf.Bytes())
}

func TestWriteSummary_Inconclusive(t *testing.T) {
	r := Run{
		RunID:    "r2",
		Scenario: "empty",
		Verdict: verdict.Verdict{
			Mode:    verdict.ModeFixPresent,
			Outcome: verdict.Inconclusive,
			Rule:    verdict.Rule{Correct: "writing-plans", Incorrect: "EnterPlanMode"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, r))

	out := buf.String()
	assert.Contains(t, out, "**Verdict:** INCONCLUSIVE (fix-present)")
	assert.Contains(t, out, "## Observed capabilities\n\nNone.\n")
	assert.NotContains(t, out, "## Ablation")
	assert.NotContains(t, out, "## Evidence notes")
}

func TestWriteSummary_EscapesTableCells(t *testing.T) {
	r := sampleRun("/runs/r1")
	r.Turns[1].Error = "turn 2: agent exited with code 2: bad input | retry\nsee stderr"
	r.Verdict.Evidence.Notes = []string{"turn 2: agent exited\nwith code 2"}

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, r))
	out := buf.String()

	assert.Contains(t, out, "| turn 2: agent exited with code 2: bad input \\| retry see stderr |\n")
	assert.Contains(t, out, "- turn 2: agent exited with code 2\n")
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "| 2 |") {
			assert.Equal(t, 7, strings.Count(line, "|")-strings.Count(line, `\|`), "turn row keeps six columns")
		}
	}
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	r := sampleRun(dir)
	require.NoError(t, WriteAll(r))

	got, err := ReadResult(filepath.Join(dir, ResultFile))
	require.NoError(t, err)
	assert.Equal(t, r.RunID, got.RunID)
	assert.Equal(t, verdict.Reproduced, got.Verdict.Outcome)
	assert.True(t, got.Success)
	require.Len(t, got.Turns, 2)
	assert.True(t, got.Turns[1].TimedOut)
	assert.Equal(t, 10*time.Second, got.Turns[1].Duration)

	assert.FileExists(t, filepath.Join(dir, SummaryFile))

	metrics, err := os.ReadFile(filepath.Join(dir, MetricsFile))
	require.NoError(t, err)
	m := string(metrics)
	assert.Contains(t, m, `skilltest_run_success{mode="fix-absent",scenario="writing-plans-after-brainstorming"} 1`)
	assert.Contains(t, m, `skilltest_run_outcome{mode="fix-absent",outcome="REPRODUCED",scenario="writing-plans-after-brainstorming"} 1`)
	assert.Contains(t, m, `skilltest_turn_duration_seconds{mode="fix-absent",scenario="writing-plans-after-brainstorming",turn="1"} 4.2`)
	assert.Contains(t, m, `skilltest_turn_exit_code{mode="fix-absent",scenario="writing-plans-after-brainstorming",turn="2"} -1`)
	assert.Contains(t, m, `skilltest_capability_observed{capability="EnterPlanMode",mode="fix-absent",scenario="writing-plans-after-brainstorming"} 1`)
	assert.Contains(t, m, `skilltest_transcript_warnings{mode="fix-absent",scenario="writing-plans-after-brainstorming"} 1`)
}

func TestReadResult_Errors(t *testing.T) {
	_, err := ReadResult(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	p := filepath.Join(t.TempDir(), ResultFile)
	require.NoError(t, os.WriteFile(p, []byte("{"), 0o644))
	_, err = ReadResult(p)
	require.Error(t, err)
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, sampleRun("/runs/r1"))

	out := buf.String()
	assert.Contains(t, out, "REPRODUCED")
	assert.Contains(t, out, "writing-plans-after-brainstorming")
	assert.Contains(t, out, "EnterPlanMode: observed in turn 2 (event 4)")
	assert.Contains(t, out, "writing-plans: not observed")
	assert.Contains(t, out, "turn 2: timed out")
	assert.Equal(t, 8, strings.Count(out, "\n"))
}

func TestRenderMarkdown(t *testing.T) {
	out, err := RenderMarkdown("# Title\n\n- item\n", 60)
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "item")
}
