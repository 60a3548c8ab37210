// Package git wraps the git subprocess surface the control plane needs:
// status probes, rewinds, and commit bookkeeping. Everything shells out to
// the git binary; no libgit bindings.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	oaerrors "github.com/openagents/openagents/internal/errors"
)

// Commander executes a git command in a directory and returns its trimmed
// stdout. Implementations are swapped out in tests.
type Commander interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecCommander runs git via os/exec.
type ExecCommander struct{}

// Run executes git with the given args. A non-zero exit wraps
// ErrGitOperation with the captured stderr.
func (ExecCommander) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "git", args...) //#nosec G204 -- args are internal constants
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: git %s: %s", oaerrors.ErrGitOperation, strings.Join(args, " "), msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Ensure ExecCommander implements Commander.
var _ Commander = ExecCommander{}
