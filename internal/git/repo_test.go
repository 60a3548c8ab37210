package git

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oaerrors "github.com/openagents/openagents/internal/errors"
)

// fakeCommander scripts git responses keyed by the joined argument string.
type fakeCommander struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeCommander) Run(_ context.Context, _ string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	return f.responses[key], nil
}

func newFakeRepo(responses map[string]string) (*Repo, *fakeCommander) {
	fake := &fakeCommander{responses: responses, errs: map[string]error{}}
	return NewRepo("/work/project", fake, zerolog.Nop()), fake
}

func TestRepoStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("parses branch, dirty files, and last commit", func(t *testing.T) {
		repo, _ := newFakeRepo(map[string]string{
			"rev-parse --is-inside-work-tree": "true",
			"rev-parse --abbrev-ref HEAD":     "main",
			"status --porcelain":              " M internal/app.go\n?? notes.txt\nA  added.go",
			"log -1 --format=%H|%s":           "deadbeef|fix parser crash",
		})

		status, err := repo.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, "main", status.Branch)
		assert.True(t, status.IsDirty)
		assert.Equal(t, []string{"internal/app.go", "added.go"}, status.ModifiedFiles)
		assert.Equal(t, []string{"notes.txt"}, status.UntrackedFiles)
		assert.Equal(t, "deadbeef", status.LastCommitSHA)
		assert.Equal(t, "fix parser crash", status.LastCommitMsg)
	})

	t.Run("clean tree is not dirty", func(t *testing.T) {
		repo, _ := newFakeRepo(map[string]string{
			"rev-parse --is-inside-work-tree": "true",
			"rev-parse --abbrev-ref HEAD":     "main",
			"status --porcelain":              "",
			"log -1 --format=%H|%s":           "deadbeef|initial",
		})

		status, err := repo.Status(ctx)
		require.NoError(t, err)
		assert.False(t, status.IsDirty)
		assert.Empty(t, status.ModifiedFiles)
	})

	t.Run("outside a work tree fails with ErrNotGitRepo", func(t *testing.T) {
		fake := &fakeCommander{
			responses: map[string]string{},
			errs: map[string]error{
				"rev-parse --is-inside-work-tree": fmt.Errorf("%w: not a git repository", oaerrors.ErrGitOperation),
			},
		}
		repo := NewRepo("/tmp/nowhere", fake, zerolog.Nop())

		_, err := repo.Status(ctx)
		require.ErrorIs(t, err, oaerrors.ErrNotGitRepo)
	})

	t.Run("missing HEAD leaves commit fields empty", func(t *testing.T) {
		fake := &fakeCommander{
			responses: map[string]string{
				"rev-parse --is-inside-work-tree": "true",
				"rev-parse --abbrev-ref HEAD":     "main",
				"status --porcelain":              "",
			},
			errs: map[string]error{
				"log -1 --format=%H|%s": fmt.Errorf("%w: does not have any commits yet", oaerrors.ErrGitOperation),
			},
		}
		repo := NewRepo("/work/project", fake, zerolog.Nop())

		status, err := repo.Status(ctx)
		require.NoError(t, err)
		assert.Empty(t, status.LastCommitSHA)
	})
}

func TestRepoDiscardChanges(t *testing.T) {
	repo, fake := newFakeRepo(map[string]string{})
	require.NoError(t, repo.DiscardChanges(context.Background()))
	assert.Equal(t, []string{"restore .", "clean -fd"}, fake.calls)
}

func TestRepoResetHard(t *testing.T) {
	t.Run("resets to sha", func(t *testing.T) {
		repo, fake := newFakeRepo(map[string]string{})
		require.NoError(t, repo.ResetHard(context.Background(), "deadbeef"))
		assert.Equal(t, []string{"reset --hard deadbeef"}, fake.calls)
	})

	t.Run("empty sha rejected", func(t *testing.T) {
		repo, _ := newFakeRepo(map[string]string{})
		err := repo.ResetHard(context.Background(), "")
		require.ErrorIs(t, err, oaerrors.ErrGitOperation)
	})
}

func TestRepoDivergedFromRemote(t *testing.T) {
	ctx := context.Background()

	t.Run("behind remote reports diverged", func(t *testing.T) {
		repo, _ := newFakeRepo(map[string]string{
			"rev-list --count HEAD..origin/main": "3",
		})
		diverged, err := repo.DivergedFromRemote(ctx, "main")
		require.NoError(t, err)
		assert.True(t, diverged)
	})

	t.Run("up to date is not diverged", func(t *testing.T) {
		repo, _ := newFakeRepo(map[string]string{
			"rev-list --count HEAD..origin/main": "0",
		})
		diverged, err := repo.DivergedFromRemote(ctx, "main")
		require.NoError(t, err)
		assert.False(t, diverged)
	})

	t.Run("missing upstream is not diverged", func(t *testing.T) {
		fake := &fakeCommander{
			responses: map[string]string{},
			errs: map[string]error{
				"rev-list --count HEAD..origin/main": fmt.Errorf("%w: unknown revision or path", oaerrors.ErrGitOperation),
			},
		}
		repo := NewRepo("/work/project", fake, zerolog.Nop())

		diverged, err := repo.DivergedFromRemote(ctx, "main")
		require.NoError(t, err)
		assert.False(t, diverged)
	})
}

func TestRepoCommitAll(t *testing.T) {
	repo, fake := newFakeRepo(map[string]string{
		"log -1 --format=%H|%s": "cafebabe|checkpoint after subtask",
	})

	sha, err := repo.CommitAll(context.Background(), "checkpoint after subtask")
	require.NoError(t, err)
	assert.Equal(t, "cafebabe", sha)
	assert.Contains(t, fake.calls, "add -A")
	assert.Contains(t, fake.calls, "commit -m checkpoint after subtask")
}
