// Package git wraps the git CLI for fixture repositories.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Identity is the fixed author and committer used for fixture commits so the
// same tree always produces the same commit hash.
type Identity struct {
	Name  string
	Email string
	Date  string
}

// FixtureIdentity is used for every fixture commit.
var FixtureIdentity = Identity{
	Name:  "skilltest",
	Email: "skilltest@localhost",
	Date:  "2025-01-15T12:00:00Z",
}

// RunCmdOutput runs a command and returns combined output or an error carrying it.
func RunCmdOutput(ctx context.Context, dir string, name string, args ...string) (string, error) {
	log.Debug().Str("dir", dir).Str("cmd", name).Strs("args", args).Msg("running git command (output return)")
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = identityEnv(FixtureIdentity)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// RunCmdErr runs a command and returns an error carrying its output.
func RunCmdErr(ctx context.Context, dir string, name string, args ...string) error {
	_, err := RunCmdOutput(ctx, dir, name, args...)
	return err
}

// identityEnv pins identity and dates and isolates the command from the
// user's global and system git config.
func identityEnv(id Identity) []string {
	env := os.Environ()
	return append(env,
		"GIT_AUTHOR_NAME="+id.Name,
		"GIT_AUTHOR_EMAIL="+id.Email,
		"GIT_AUTHOR_DATE="+id.Date,
		"GIT_COMMITTER_NAME="+id.Name,
		"GIT_COMMITTER_EMAIL="+id.Email,
		"GIT_COMMITTER_DATE="+id.Date,
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_CONFIG_GLOBAL="+os.DevNull,
	)
}
