package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abzhaw/superpowers/internal/verdict"
)

// WriteSummary writes the markdown summary of a run. It is produced for
// every outcome, INCONCLUSIVE included.
func WriteSummary(w io.Writer, r Run) error {
	b := bufio.NewWriter(w)
	v := r.Verdict

	fmt.Fprintf(b, "# %s\n\n", r.Scenario)
	if r.Description != "" {
		fmt.Fprintf(b, "%s\n\n", strings.TrimSpace(r.Description))
	}
	fmt.Fprintf(b, "**Verdict:** %s (%s)\n\n", v.Outcome, v.Mode)

	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(b, "| Run | `%s` |\n", r.RunID)
	fmt.Fprintf(b, "| Agent | %s |\n", tableCell(agentLabel(r)))
	fmt.Fprintf(b, "| Correct capability | `%s` %s |\n", v.Rule.Correct, observation(v.Evidence.CorrectObserved, v.Evidence.FirstCorrect))
	fmt.Fprintf(b, "| Incorrect capability | `%s` %s |\n", v.Rule.Incorrect, observation(v.Evidence.IncorrectObserved, v.Evidence.FirstIncorrect))
	fmt.Fprintf(b, "| Expectation met | %s |\n", yesNo(r.Success))
	if !r.StartedAt.IsZero() && !r.EndedAt.IsZero() {
		fmt.Fprintf(b, "| Duration | %s |\n", formatDuration(r.EndedAt.Sub(r.StartedAt)))
	}

	b.WriteString("\n## Observed capabilities\n\n")
	if len(v.Evidence.Observed) == 0 {
		b.WriteString("None.\n")
	}
	for _, name := range v.Evidence.Observed {
		fmt.Fprintf(b, "- `%s`\n", name)
	}

	b.WriteString("\n## Turns\n\n")
	b.WriteString("| Turn | Continue | Exit | Lines | Duration | Status |\n|---|---|---|---|---|---|\n")
	for _, t := range r.Turns {
		status := "ok"
		if t.Error != "" {
			status = tableCell(t.Error)
		}
		fmt.Fprintf(b, "| %d | %s | %d | %d | %s | %s |\n",
			t.Index, yesNo(t.Continue), t.ExitCode, t.Lines, formatDuration(t.Duration), status)
	}

	if v.Mode == verdict.ModeFixAbsent {
		b.WriteString("\n## Ablation\n\n")
		if len(r.Ablation) == 0 {
			b.WriteString("No edits applied.\n")
		}
		for _, a := range r.Ablation {
			fmt.Fprintf(b, "- edit %d, skill `%s`, `%s` at byte %d", a.Index, a.Skill, a.Doc, a.Offset)
			if a.Reason != "" {
				fmt.Fprintf(b, ": %s", a.Reason)
			}
			b.WriteString("\n")
		}
	}

	if len(v.Evidence.Notes) > 0 || len(r.Warnings) > 0 {
		b.WriteString("\n## Evidence notes\n\n")
		for _, n := range v.Evidence.Notes {
			fmt.Fprintf(b, "- %s\n", singleLine(n))
		}
		if len(r.Warnings) > 0 {
			fmt.Fprintf(b, "- %d transcript line(s) skipped, first at line %d: %s\n",
				len(r.Warnings), r.Warnings[0].Line, r.Warnings[0].Reason)
		}
	}

	b.WriteString("\n## Fixture\n\n")
	fmt.Fprintf(b, "- Artifact `%s` committed as `%s`\n", r.Fixture.ArtifactPath, shortHash(r.Fixture.Commit))
	if r.Integrity != nil {
		state := "unchanged"
		switch {
		case r.Integrity.ArtifactDeleted:
			state = "deleted by the agent"
		case r.Integrity.ArtifactModified:
			state = "modified by the agent"
		}
		fmt.Fprintf(b, "- Artifact after the run: %s\n", state)
		if len(r.Integrity.Dirty) > 0 {
			fmt.Fprintf(b, "- Uncommitted paths: %d\n", len(r.Integrity.Dirty))
		}
	}

	b.WriteString("\n## Artifacts\n\n")
	fmt.Fprintf(b, "- Transcript: `%s`\n", r.rel(r.Transcript))
	for _, t := range r.Turns {
		fmt.Fprintf(b, "- Turn %d: `%s`, `%s`\n", t.Index, r.rel(t.TranscriptPath), r.rel(t.StderrPath))
	}
	fmt.Fprintf(b, "- Result: `%s`\n", ResultFile)
	return b.Flush()
}

// tableCell makes s safe inside a markdown table cell.
func tableCell(s string) string {
	return strings.ReplaceAll(singleLine(s), "|", `\|`)
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func agentLabel(r Run) string {
	label := r.Agent.Type
	if r.Agent.Model != "" {
		label += ", model " + r.Agent.Model
	}
	return label
}

func observation(seen bool, ref *verdict.Ref) string {
	if !seen {
		return "not observed"
	}
	if ref == nil {
		return "observed"
	}
	return fmt.Sprintf("observed in turn %d (event %d)", ref.Turn, ref.Seq)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}
