// Package fixture materializes the isolated project directory a scenario runs in.
package fixture

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/abzhaw/superpowers/internal/git"
	"github.com/rs/zerolog/log"
)

// DefaultArtifactPath is the design document shipped with the embedded skeleton.
const DefaultArtifactPath = "docs/plans/2025-01-15-todo-cli-design.md"

const commitMessage = "docs: approved design for todo-cli"

//go:embed all:skeleton
var skeletonFS embed.FS

// Spec describes what goes into a fixture. The zero value builds the
// embedded todo-cli skeleton with its approved design document.
type Spec struct {
	// Source replaces the embedded skeleton with a directory on disk.
	Source string
	// Files are written after the skeleton and override it.
	Files []File
	// Artifact is the "prior work" document; an empty Content keeps the
	// file that the skeleton or Source already provides.
	Artifact File
}

// File is a path relative to the fixture root and its content.
type File struct {
	Path    string
	Content string
}

// Handle identifies a built fixture.
type Handle struct {
	Dir            string `json:"dir"`
	ArtifactPath   string `json:"artifact_path"`
	ArtifactSHA256 string `json:"artifact_sha256"`
	Commit         string `json:"commit"`
}

// Error reports a fixture setup failure. It is fatal for a run.
type Error struct {
	Dir string
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fixture %s: %s: %v", e.Dir, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Build writes the project skeleton and artifact into dir and commits them.
// dir must not exist or be empty.
func Build(ctx context.Context, dir string, spec Spec) (Handle, error) {
	fail := func(op string, err error) (Handle, error) {
		return Handle{}, &Error{Dir: dir, Op: op, Err: err}
	}

	if err := ensureEmptyDir(dir); err != nil {
		return fail("prepare", err)
	}

	src, err := skeleton(spec.Source)
	if err != nil {
		return fail("skeleton", err)
	}
	if err := writeTree(src, dir); err != nil {
		return fail("write skeleton", err)
	}
	for _, f := range spec.Files {
		if err := writeFile(dir, f); err != nil {
			return fail("write file", err)
		}
	}

	artifactPath := spec.Artifact.Path
	if artifactPath == "" {
		artifactPath = DefaultArtifactPath
	}
	if spec.Artifact.Content != "" {
		if err := writeFile(dir, File{Path: artifactPath, Content: spec.Artifact.Content}); err != nil {
			return fail("write artifact", err)
		}
	}
	sum, err := hashFile(filepath.Join(dir, filepath.FromSlash(artifactPath)))
	if err != nil {
		return fail("artifact", err)
	}

	if err := git.Init(ctx, dir); err != nil {
		return fail("git init", err)
	}
	commit, err := git.CommitAll(ctx, dir, commitMessage)
	if err != nil {
		return fail("git commit", err)
	}
	tracked, err := git.Tracked(ctx, dir, artifactPath)
	if err != nil {
		return fail("artifact", err)
	}
	if !tracked {
		return fail("artifact", fmt.Errorf("%s was not committed (is it ignored by .gitignore?)", artifactPath))
	}

	h := Handle{
		Dir:            dir,
		ArtifactPath:   artifactPath,
		ArtifactSHA256: sum,
		Commit:         commit,
	}
	log.Debug().
		Str("dir", dir).
		Str("artifact", artifactPath).
		Str("commit", commit).
		Msg("fixture built")
	return h, nil
}

// Integrity describes the artifact's state after the agent ran.
type Integrity struct {
	ArtifactSHA256   string   `json:"artifact_sha256,omitempty"`
	ArtifactModified bool     `json:"artifact_modified"`
	ArtifactDeleted  bool     `json:"artifact_deleted"`
	Dirty            []string `json:"dirty,omitempty"`
}

// Verify compares the artifact with its committed state. The result is a
// diagnostic; the harness never restores the fixture.
func Verify(ctx context.Context, h Handle) (Integrity, error) {
	var in Integrity
	sum, err := hashFile(filepath.Join(h.Dir, filepath.FromSlash(h.ArtifactPath)))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		in.ArtifactDeleted = true
		in.ArtifactModified = true
	case err != nil:
		return in, fmt.Errorf("hash artifact: %w", err)
	default:
		in.ArtifactSHA256 = sum
		in.ArtifactModified = sum != h.ArtifactSHA256
	}

	if err := ownRepo(ctx, h.Dir); err != nil {
		return in, err
	}
	if !in.ArtifactModified {
		changed, err := git.PathChanged(ctx, h.Dir, h.Commit, h.ArtifactPath)
		if err != nil {
			return in, err
		}
		in.ArtifactModified = changed
	}
	dirty, err := git.Dirty(ctx, h.Dir)
	if err != nil {
		return in, err
	}
	in.Dirty = dirty
	return in, nil
}

// ownRepo fails when dir is no longer the root of its own repository, for
// example after the agent removed .git inside an enclosing repository.
func ownRepo(ctx context.Context, dir string) error {
	top, err := git.Toplevel(ctx, dir)
	if err != nil {
		return fmt.Errorf("fixture is no longer a git repository: %w", err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if got, err := filepath.EvalSymlinks(top); err != nil || got != want {
		return fmt.Errorf("fixture %s is no longer the root of its repository (found %s)", dir, top)
	}
	return nil
}

func ensureEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return os.MkdirAll(dir, 0o755)
	case err != nil:
		return err
	case len(entries) > 0:
		return fmt.Errorf("directory is not empty")
	}
	marker := filepath.Join(dir, ".write-check")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("directory is not writable: %w", err)
	}
	return os.Remove(marker)
}

func skeleton(source string) (fs.FS, error) {
	if source == "" {
		return fs.Sub(skeletonFS, "skeleton")
	}
	info, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", source)
	}
	return os.DirFS(source), nil
}

// writeTree copies every regular file of src into dst, skipping .git.
func writeTree(src fs.FS, dst string) error {
	return fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, filepath.FromSlash(p)), 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		in, err := src.Open(p)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()
		out, err := os.OpenFile(filepath.Join(dst, filepath.FromSlash(p)), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	})
}

func writeFile(root string, f File) error {
	clean := path.Clean("/" + filepath.ToSlash(f.Path))
	if clean == "/" {
		return fmt.Errorf("invalid fixture path %q", f.Path)
	}
	target := filepath.Join(root, filepath.FromSlash(clean[1:]))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(f.Content), 0o644)
}

func hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
