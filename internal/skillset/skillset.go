// Package skillset discovers and copies instruction sets: directories of
// skill documents the agent loads at session start.
package skillset

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Set maps skill names to their documents inside Root.
type Set struct {
	Root string
	// Docs maps a skill name to a slash-separated path relative to Root.
	Docs map[string]string
}

// Discover finds skill documents under root matching pattern. A skill's
// name is the name of the directory holding its document.
func Discover(root, pattern string) (Set, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Set{}, fmt.Errorf("instruction set: %w", err)
	}
	if !info.IsDir() {
		return Set{}, fmt.Errorf("instruction set %s is not a directory", root)
	}
	if !doublestar.ValidatePattern(pattern) {
		return Set{}, fmt.Errorf("invalid instruction pattern %q", pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return Set{}, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)

	set := Set{Root: root, Docs: make(map[string]string, len(matches))}
	for _, m := range matches {
		name := path.Base(path.Dir(m))
		if name == "." || name == "/" {
			continue
		}
		if prev, ok := set.Docs[name]; ok {
			return Set{}, fmt.Errorf("skill %q defined twice: %s and %s", name, prev, m)
		}
		set.Docs[name] = m
	}
	return set, nil
}

// Names returns the skill names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.Docs))
	for name := range s.Docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the absolute document path for a skill.
func (s Set) Path(skill string) (string, bool) {
	rel, ok := s.Docs[skill]
	if !ok {
		return "", false
	}
	return filepath.Join(s.Root, filepath.FromSlash(rel)), true
}

// Copy copies the tree at src into dst, preserving file modes. dst must not exist.
// Symlinks are recreated, not followed.
func Copy(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("copy instruction set: %s already exists", dst)
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			if d.Name() == ".git" && rel != "." {
				return fs.SkipDir
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(p, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
