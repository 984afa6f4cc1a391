// Package transcript extracts capability invocations from line-delimited
// agent event streams.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Kind discriminates transcript events.
type Kind string

// Event kinds.
const (
	KindAssistantMessage Kind = "assistant_message"
	KindToolInvocation   Kind = "tool_invocation"
	KindSkillInvocation  Kind = "skill_invocation"
)

// MarkerType is the record type the harness writes between turns of a
// concatenated transcript.
const MarkerType = "harness_turn"

const (
	readBufSize = 64 * 1024
	maxLineSize = 64 * 1024 * 1024
)

// Event is one normalized transcript record. Seq orders events across the
// whole run.
type Event struct {
	Seq       int             `json:"seq"`
	Turn      int             `json:"turn"`
	Line      int             `json:"line"`
	Kind      Kind            `json:"kind"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Text      string          `json:"text,omitempty"`
}

// Warning reports a transcript line that was skipped.
type Warning struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (w Warning) Error() string {
	return fmt.Sprintf("transcript line %d: %s", w.Line, w.Reason)
}

// Options controls skill recognition.
type Options struct {
	// SkillTools are tool names whose invocation loads a skill.
	SkillTools []string
	// SkillArgKeys are the argument keys holding the skill name, in priority order.
	SkillArgKeys []string
}

// DefaultOptions recognizes the Skill tool and its usual argument keys.
func DefaultOptions() Options {
	return Options{
		SkillTools:   []string{"Skill"},
		SkillArgKeys: []string{"skill", "command", "name"},
	}
}

// Result is the outcome of analyzing a transcript.
type Result struct {
	Events   []Event   `json:"events"`
	Warnings []Warning `json:"warnings,omitempty"`
	Lines    int       `json:"lines"`
}

// Capabilities returns the distinct tool and skill names that were invoked.
func (r Result) Capabilities() CapabilitySet {
	set := NewCapabilitySet()
	for _, ev := range r.Events {
		if ev.Kind == KindToolInvocation || ev.Kind == KindSkillInvocation {
			set.Add(ev.Name)
		}
	}
	return set
}

// First returns the first tool or skill invocation matching name.
func (r Result) First(name string) (Event, bool) {
	for _, ev := range r.Events {
		if ev.Kind != KindToolInvocation && ev.Kind != KindSkillInvocation {
			continue
		}
		if nameMatches(ev.Name, name) {
			return ev, true
		}
	}
	return Event{}, false
}

// Analyze parses r one record per line. Malformed or oversized lines
// become warnings; only a read failure is returned as an error, together
// with everything parsed up to that point.
func Analyze(r io.Reader, opts Options) (Result, error) {
	return analyze(r, opts, maxLineSize)
}

func analyze(r io.Reader, opts Options, limit int) (Result, error) {
	p := newParser(opts)
	br := bufio.NewReaderSize(r, readBufSize)

	var res Result
	var line []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 && !oversized {
			if len(line)+len(chunk) > limit {
				oversized = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if err == nil || (errors.Is(err, io.EOF) && (len(line) > 0 || oversized)) {
			res.Lines++
			if oversized {
				res.Warnings = append(res.Warnings, Warning{Line: res.Lines, Reason: fmt.Sprintf("line exceeds %d bytes; skipped", limit)})
			} else {
				events, warn := p.parse(bytes.TrimRight(line, "\r\n"), res.Lines)
				if warn != nil {
					res.Warnings = append(res.Warnings, *warn)
				}
				for _, ev := range events {
					ev.Seq = len(res.Events) + 1
					res.Events = append(res.Events, ev)
				}
			}
			line = line[:0]
			oversized = false
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, fmt.Errorf("read transcript: %w", err)
		}
	}
}

// AnalyzeFile analyzes the transcript stored at path.
func AnalyzeFile(path string, opts Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Analyze(f, opts)
}

// Marker returns the line written before turn n in a concatenated transcript.
func Marker(turn int) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"turn":%d}`+"\n", MarkerType, turn))
}

type header struct {
	Type string `json:"type"`
}

type markerRecord struct {
	Turn int `json:"turn"`
}

type toolRecord struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type assistantRecord struct {
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type block struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type parser struct {
	opts       Options
	skillTools map[string]bool
	turn       int
}

func newParser(opts Options) *parser {
	if len(opts.SkillTools) == 0 {
		opts.SkillTools = DefaultOptions().SkillTools
	}
	if len(opts.SkillArgKeys) == 0 {
		opts.SkillArgKeys = DefaultOptions().SkillArgKeys
	}
	tools := make(map[string]bool, len(opts.SkillTools))
	for _, name := range opts.SkillTools {
		tools[name] = true
	}
	return &parser{opts: opts, skillTools: tools, turn: 1}
}

func (p *parser) parse(line []byte, lineNo int) ([]Event, *Warning) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, &Warning{Line: lineNo, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if h.Type == "" {
		return nil, &Warning{Line: lineNo, Reason: "record has no type"}
	}

	switch h.Type {
	case MarkerType:
		var m markerRecord
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, &Warning{Line: lineNo, Reason: fmt.Sprintf("invalid turn marker: %v", err)}
		}
		if m.Turn > 0 {
			p.turn = m.Turn
		}
		return nil, nil
	case "tool_use":
		var t toolRecord
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, &Warning{Line: lineNo, Reason: fmt.Sprintf("invalid tool_use record: %v", err)}
		}
		if t.Name == "" {
			return nil, &Warning{Line: lineNo, Reason: "tool_use record has no name"}
		}
		return p.tool(t.Name, t.Input, lineNo), nil
	case "assistant":
		var a assistantRecord
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, &Warning{Line: lineNo, Reason: fmt.Sprintf("invalid assistant record: %v", err)}
		}
		return p.assistant(a.Message.Content, lineNo)
	default:
		return nil, nil
	}
}

func (p *parser) assistant(content json.RawMessage, lineNo int) ([]Event, *Warning) {
	if len(content) == 0 || string(content) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return []Event{{Turn: p.turn, Line: lineNo, Kind: KindAssistantMessage, Text: text}}, nil
	}
	var blocks []block
	if err := json.Unmarshal(content, &blocks); err != nil {
		return nil, &Warning{Line: lineNo, Reason: fmt.Sprintf("invalid message content: %v", err)}
	}
	var events []Event
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			events = append(events, Event{Turn: p.turn, Line: lineNo, Kind: KindAssistantMessage, Text: b.Text})
		case "tool_use":
			if b.Name == "" {
				continue
			}
			events = append(events, p.tool(b.Name, b.Input, lineNo)...)
		}
	}
	return events, nil
}

func (p *parser) tool(name string, input json.RawMessage, lineNo int) []Event {
	events := []Event{{Turn: p.turn, Line: lineNo, Kind: KindToolInvocation, Name: name, Arguments: input}}
	if !p.skillTools[name] {
		return events
	}
	if skill := p.skillName(input); skill != "" {
		events = append(events, Event{Turn: p.turn, Line: lineNo, Kind: KindSkillInvocation, Name: skill, Arguments: input})
	}
	return events
}

func (p *parser) skillName(input json.RawMessage) string {
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		return ""
	}
	for _, key := range p.opts.SkillArgKeys {
		s, ok := args[key].(string)
		if !ok {
			continue
		}
		s = strings.TrimPrefix(strings.TrimSpace(s), "/")
		if s != "" {
			return s
		}
	}
	return ""
}

// CapabilitySet is the set of distinct capability names observed in a run.
type CapabilitySet map[string]struct{}

// NewCapabilitySet returns a set holding names.
func NewCapabilitySet(names ...string) CapabilitySet {
	s := make(CapabilitySet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts name. Empty names are ignored.
func (s CapabilitySet) Add(name string) {
	if name != "" {
		s[name] = struct{}{}
	}
}

// Has reports whether name was observed. A namespaced entry such as
// "superpowers:writing-plans" satisfies "writing-plans".
func (s CapabilitySet) Has(name string) bool {
	if _, ok := s[name]; ok {
		return true
	}
	for have := range s {
		if nameMatches(have, name) {
			return true
		}
	}
	return false
}

// Names returns the members in sorted order.
func (s CapabilitySet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func nameMatches(have, want string) bool {
	if have == want {
		return true
	}
	return want != "" && strings.HasSuffix(have, ":"+want)
}
