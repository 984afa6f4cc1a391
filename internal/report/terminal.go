package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/abzhaw/superpowers/internal/verdict"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.Color("#9ece6a")
	colorWarning = lipgloss.Color("#e0af68")
	colorError   = lipgloss.Color("#f7768e")
	colorMuted   = lipgloss.Color("#565f89")

	badgeStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(colorMuted).Width(12)
	titleStyle = lipgloss.NewStyle().Bold(true)
)

func outcomeColor(o verdict.Outcome) lipgloss.Color {
	switch o {
	case verdict.Pass, verdict.Reproduced:
		return colorSuccess
	case verdict.Fail:
		return colorError
	default:
		return colorWarning
	}
}

// Print writes a short styled verdict summary for the terminal.
func Print(w io.Writer, r Run) {
	v := r.Verdict
	badge := badgeStyle.Foreground(outcomeColor(v.Outcome)).Render(string(v.Outcome))
	fmt.Fprintf(w, "%s %s (%s)\n", badge, titleStyle.Render(r.Scenario), v.Mode)

	row := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label), value)
	}
	row("correct", fmt.Sprintf("%s: %s", v.Rule.Correct, observation(v.Evidence.CorrectObserved, v.Evidence.FirstCorrect)))
	row("incorrect", fmt.Sprintf("%s: %s", v.Rule.Incorrect, observation(v.Evidence.IncorrectObserved, v.Evidence.FirstIncorrect)))
	observed := "none"
	if len(v.Evidence.Observed) > 0 {
		observed = strings.Join(v.Evidence.Observed, ", ")
	}
	row("observed", observed)
	for _, n := range v.Evidence.Notes {
		row("note", n)
	}
	if len(r.Warnings) > 0 {
		row("skipped", fmt.Sprintf("%d malformed transcript line(s)", len(r.Warnings)))
	}
	row("transcript", r.Transcript)
	row("run dir", r.RunDir)
}

// RenderMarkdown renders markdown for the terminal.
func RenderMarkdown(md string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}
