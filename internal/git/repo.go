package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
)

// Repo provides git operations scoped to one working tree.
type Repo struct {
	root   string
	cmd    Commander
	logger zerolog.Logger
}

// NewRepo creates a Repo over the given working tree root.
func NewRepo(root string, cmd Commander, logger zerolog.Logger) *Repo {
	return &Repo{root: root, cmd: cmd, logger: logger}
}

// Root returns the working tree root.
func (r *Repo) Root() string {
	return r.root
}

// IsRepo reports whether the root is inside a git work tree.
func (r *Repo) IsRepo(ctx context.Context) bool {
	out, err := r.cmd.Run(ctx, r.root, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Status captures branch, dirty state, and last commit in one snapshot.
func (r *Repo) Status(ctx context.Context) (domain.GitStatus, error) {
	if !r.IsRepo(ctx) {
		return domain.GitStatus{}, fmt.Errorf("%w: %s", oaerrors.ErrNotGitRepo, r.root)
	}

	var status domain.GitStatus

	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return status, err
	}
	status.Branch = branch

	out, err := r.cmd.Run(ctx, r.root, "status", "--porcelain")
	if err != nil {
		return status, err
	}
	status.ModifiedFiles, status.UntrackedFiles = parsePorcelain(out)
	status.IsDirty = len(status.ModifiedFiles) > 0 || len(status.UntrackedFiles) > 0

	// A freshly initialized repo has no commits; leave the fields empty.
	if sha, msg, lastErr := r.LastCommit(ctx); lastErr == nil {
		status.LastCommitSHA = sha
		status.LastCommitMsg = msg
	}

	return status, nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	return r.cmd.Run(ctx, r.root, "rev-parse", "--abbrev-ref", "HEAD")
}

// LastCommit returns the HEAD commit sha and subject line.
func (r *Repo) LastCommit(ctx context.Context) (sha, subject string, err error) {
	out, err := r.cmd.Run(ctx, r.root, "log", "-1", "--format=%H|%s")
	if err != nil {
		return "", "", err
	}
	sha, subject, _ = strings.Cut(out, "|")
	return sha, subject, nil
}

// DiscardChanges restores tracked modifications and removes untracked files,
// leaving the working tree clean.
func (r *Repo) DiscardChanges(ctx context.Context) error {
	if _, err := r.cmd.Run(ctx, r.root, "restore", "."); err != nil {
		return err
	}
	if _, err := r.cmd.Run(ctx, r.root, "clean", "-fd"); err != nil {
		return err
	}
	r.logger.Info().Str("root", r.root).Msg("discarded uncommitted changes")
	return nil
}

// ResetHard moves the working branch to the given sha, discarding everything
// after it.
func (r *Repo) ResetHard(ctx context.Context, sha string) error {
	if sha == "" {
		return fmt.Errorf("%w: reset target sha %w", oaerrors.ErrGitOperation, oaerrors.ErrEmptyValue)
	}
	if _, err := r.cmd.Run(ctx, r.root, "reset", "--hard", sha); err != nil {
		return err
	}
	r.logger.Warn().Str("sha", sha).Msg("hard reset working branch")
	return nil
}

// DivergedFromRemote reports whether the remote branch holds commits the
// local branch does not. Returns false when no upstream is configured.
func (r *Repo) DivergedFromRemote(ctx context.Context, branch string) (bool, error) {
	out, err := r.cmd.Run(ctx, r.root, "rev-list", "--count", "HEAD..origin/"+branch)
	if err != nil {
		// No upstream configured means nothing to diverge from.
		if strings.Contains(err.Error(), "unknown revision") {
			return false, nil
		}
		return false, err
	}
	behind, convErr := strconv.Atoi(out)
	if convErr != nil {
		return false, fmt.Errorf("%w: unexpected rev-list output %q", oaerrors.ErrGitOperation, out)
	}
	return behind > 0, nil
}

// CommitAll stages everything and commits with the given message.
// Returns the new commit sha.
func (r *Repo) CommitAll(ctx context.Context, message string) (string, error) {
	if _, err := r.cmd.Run(ctx, r.root, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := r.cmd.Run(ctx, r.root, "commit", "-m", message); err != nil {
		return "", err
	}
	sha, _, err := r.LastCommit(ctx)
	if err != nil {
		return "", err
	}
	r.logger.Info().Str("sha", sha).Str("message", message).Msg("committed changes")
	return sha, nil
}

// GreenTag returns the sha the green tag points at, or "" when the tag does
// not exist.
func (r *Repo) GreenTag(ctx context.Context, tag string) (string, error) {
	out, err := r.cmd.Run(ctx, r.root, "rev-parse", "--verify", tag+"^{commit}")
	if err != nil {
		if strings.Contains(err.Error(), "unknown revision") ||
			strings.Contains(err.Error(), "Needed a single revision") {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// parsePorcelain splits `git status --porcelain` output into modified and
// untracked paths.
func parsePorcelain(out string) (modified, untracked []string) {
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		path := strings.TrimSpace(line[3:])
		if code == "??" {
			untracked = append(untracked, path)
			continue
		}
		modified = append(modified, path)
	}
	return modified, untracked
}
