// Package ablation removes a named behavioral fix from a copy of an
// instruction set through an explicit list of exact-match edits.
package ablation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/abzhaw/superpowers/internal/skillset"
	"github.com/rs/zerolog/log"
)

// Edit replaces Old with New in a skill's document, or deletes the single
// line matching the DeleteLine regular expression. Exactly one of Old and
// DeleteLine is set.
type Edit struct {
	Skill      string `json:"skill"                 yaml:"skill"`
	Old        string `json:"old,omitempty"         yaml:"old,omitempty"`
	New        string `json:"new,omitempty"         yaml:"new,omitempty"`
	DeleteLine string `json:"delete_line,omitempty" yaml:"delete_line,omitempty"`
	Reason     string `json:"reason,omitempty"      yaml:"reason,omitempty"`
}

// Applied records what an edit changed.
type Applied struct {
	Index   int    `json:"index"            yaml:"index"`
	Skill   string `json:"skill"            yaml:"skill"`
	Doc     string `json:"doc"              yaml:"doc"`
	Offset  int    `json:"offset"           yaml:"offset"`
	Removed string `json:"removed"          yaml:"removed"`
	Added   string `json:"added,omitempty"  yaml:"added,omitempty"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Result is the mutated instruction set.
type Result struct {
	Dir     string    `json:"dir"     yaml:"dir"`
	Applied []Applied `json:"applied" yaml:"applied"`
}

// Error reports an edit that did not match exactly once. An ablation that
// fails this way must never be used: the negative control would be invalid.
type Error struct {
	Index   int
	Skill   string
	Matches int
	Reason  string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ablation edit %d (skill %q): %s", e.Index, e.Skill, e.Reason)
	}
	return fmt.Sprintf("ablation edit %d (skill %q): target matched %d times, want exactly 1", e.Index, e.Skill, e.Matches)
}

// Prepare copies the canonical instruction set to dst and applies edits to
// the copy. On any failure dst is removed.
func Prepare(canonical, dst, pattern string, edits []Edit) (Result, error) {
	if _, err := os.Stat(dst); err == nil {
		return Result{}, fmt.Errorf("prepare ablation: %s already exists", dst)
	}
	if err := skillset.Copy(canonical, dst); err != nil {
		_ = os.RemoveAll(dst)
		return Result{}, fmt.Errorf("copy instruction set: %w", err)
	}
	res, err := Apply(dst, pattern, edits)
	if err != nil {
		_ = os.RemoveAll(dst)
		return Result{}, err
	}
	return res, nil
}

type document struct {
	path    string
	mode    os.FileMode
	content string
	changed bool
	// symlink documents are replaced by a regular file in the copy so
	// writes never reach the link target.
	symlink bool
}

// Apply edits the instruction set at dir in place. dir must be a copy owned
// by the caller. Every edit is validated before any file is written, so a
// failing edit leaves dir untouched.
func Apply(dir, pattern string, edits []Edit) (Result, error) {
	set, err := skillset.Discover(dir, pattern)
	if err != nil {
		return Result{}, err
	}

	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve instruction set: %w", err)
	}

	docs := make(map[string]*document)
	applied := make([]Applied, 0, len(edits))
	for i, edit := range edits {
		p, ok := set.Path(edit.Skill)
		if !ok {
			return Result{}, &Error{Index: i, Skill: edit.Skill, Reason: "skill not found in instruction set"}
		}
		doc, ok := docs[p]
		if !ok {
			if err := within(root, filepath.Dir(p)); err != nil {
				return Result{}, &Error{Index: i, Skill: edit.Skill, Reason: err.Error()}
			}
			doc, err = load(p)
			if err != nil {
				return Result{}, err
			}
			docs[p] = doc
		}

		var a Applied
		switch {
		case edit.Old != "" && edit.DeleteLine == "":
			a, err = replace(doc, i, edit)
		case edit.DeleteLine != "" && edit.Old == "":
			a, err = deleteLine(doc, i, edit)
		default:
			err = &Error{Index: i, Skill: edit.Skill, Reason: "edit must set exactly one of old or delete_line"}
		}
		if err != nil {
			return Result{}, err
		}
		a.Doc = set.Docs[edit.Skill]
		applied = append(applied, a)
	}

	for _, doc := range docs {
		if !doc.changed {
			continue
		}
		if doc.symlink {
			if err := os.Remove(doc.path); err != nil {
				return Result{}, fmt.Errorf("replace symlink %s: %w", doc.path, err)
			}
		}
		if err := os.WriteFile(doc.path, []byte(doc.content), doc.mode); err != nil {
			return Result{}, fmt.Errorf("write %s: %w", doc.path, err)
		}
	}
	for _, a := range applied {
		log.Debug().Int("index", a.Index).Str("skill", a.Skill).Int("offset", a.Offset).Msg("ablation applied")
	}
	return Result{Dir: dir, Applied: applied}, nil
}

func load(p string) (*document, error) {
	linfo, err := os.Lstat(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return &document{
		path:    p,
		mode:    info.Mode().Perm(),
		content: string(data),
		symlink: linfo.Mode()&os.ModeSymlink != 0,
	}, nil
}

// within fails unless dir resolves to root or a directory below it.
func within(root, dir string) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("document directory %s resolves outside the instruction set", dir)
	}
	return nil
}

func replace(doc *document, index int, edit Edit) (Applied, error) {
	n := countOverlapping(doc.content, edit.Old)
	if n != 1 {
		return Applied{}, &Error{Index: index, Skill: edit.Skill, Matches: n}
	}
	offset := strings.Index(doc.content, edit.Old)
	doc.content = doc.content[:offset] + edit.New + doc.content[offset+len(edit.Old):]
	doc.changed = true
	return Applied{
		Index:   index,
		Skill:   edit.Skill,
		Offset:  offset,
		Removed: edit.Old,
		Added:   edit.New,
		Reason:  edit.Reason,
	}, nil
}

func deleteLine(doc *document, index int, edit Edit) (Applied, error) {
	re, err := regexp.Compile(edit.DeleteLine)
	if err != nil {
		return Applied{}, &Error{Index: index, Skill: edit.Skill, Reason: fmt.Sprintf("invalid line predicate: %v", err)}
	}

	lines := strings.SplitAfter(doc.content, "\n")
	match, matches, offset, pos := -1, 0, 0, 0
	for i, line := range lines {
		if re.MatchString(strings.TrimRight(line, "\r\n")) && line != "" {
			matches++
			if match < 0 {
				match = i
				offset = pos
			}
		}
		pos += len(line)
	}
	if matches != 1 {
		return Applied{}, &Error{Index: index, Skill: edit.Skill, Matches: matches}
	}

	removed := lines[match]
	doc.content = doc.content[:offset] + doc.content[offset+len(removed):]
	doc.changed = true
	return Applied{
		Index:   index,
		Skill:   edit.Skill,
		Offset:  offset,
		Removed: removed,
		Reason:  edit.Reason,
	}, nil
}

// countOverlapping counts occurrences of sub in s, including overlapping ones,
// so that "aa" in "aaa" is ambiguous rather than unique.
func countOverlapping(s, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); {
		j := strings.Index(s[i:], sub)
		if j < 0 {
			break
		}
		n++
		i += j + 1
	}
	return n
}
