package transcript

import (
	"strings"
	"unicode/utf8"
)

const excerptLen = 120

// Excerpt summarizes a single transcript line for progress output, using
// the same skill recognition as Analyze with opts. It returns false for
// lines that carry nothing worth echoing.
func Excerpt(line []byte, opts Options) (string, bool) {
	events, warn := newParser(opts).parse(line, 0)
	if warn != nil || len(events) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(events))
	for _, ev := range events {
		switch ev.Kind {
		case KindToolInvocation:
			parts = append(parts, "tool "+ev.Name)
		case KindSkillInvocation:
			parts = append(parts, "skill "+ev.Name)
		case KindAssistantMessage:
			parts = append(parts, "assistant: "+truncate(oneLine(ev.Text), excerptLen))
		}
	}
	return strings.Join(parts, "; "), true
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
