package git

import (
	"context"
	"fmt"
	"strings"
)

// Init creates a repository in dir with main as the initial branch.
func Init(ctx context.Context, dir string) error {
	if err := RunCmdErr(ctx, dir, "git", "init", "--quiet"); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	if err := RunCmdErr(ctx, dir, "git", "symbolic-ref", "HEAD", "refs/heads/main"); err != nil {
		return fmt.Errorf("git symbolic-ref: %w", err)
	}
	return nil
}

// CommitAll stages everything in dir and commits it, returning the commit hash.
func CommitAll(ctx context.Context, dir, message string) (string, error) {
	if err := RunCmdErr(ctx, dir, "git", "add", "-A"); err != nil {
		return "", fmt.Errorf("git add: %w", err)
	}
	if err := RunCmdErr(ctx, dir, "git", "-c", "commit.gpgsign=false", "commit", "--quiet", "--no-verify", "-m", message); err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}
	return HeadHash(ctx, dir)
}

// Toplevel returns the root of the work tree containing dir.
func Toplevel(ctx context.Context, dir string) (string, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("git rev-parse --show-toplevel: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// HeadHash returns the commit hash of HEAD.
func HeadHash(ctx context.Context, dir string) (string, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Tracked reports whether path is in the index of the repository at dir.
func Tracked(ctx context.Context, dir, path string) (bool, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "ls-files", "--", path)
	if err != nil {
		return false, fmt.Errorf("git ls-files %s: %w", path, err)
	}
	return strings.TrimSpace(out) != "", nil
}

// PathChanged reports whether path differs from its committed version at rev,
// including deletion. Untracked files are not considered.
func PathChanged(ctx context.Context, dir, rev, path string) (bool, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "diff", "--name-only", rev, "--", path)
	if err != nil {
		return false, fmt.Errorf("git diff %s: %w", path, err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Dirty lists paths reported by git status --porcelain.
func Dirty(ctx context.Context, dir string) ([]string, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 3 {
			continue
		}
		paths = append(paths, strings.TrimSpace(line[2:]))
	}
	return paths, nil
}
