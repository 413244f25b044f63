// Package task runs complete repair tasks: check out a commit, bring the
// index up to date, retrieve context, run the repair loop and report the
// resulting working-tree diff.
package task

import (
	"context"

	"github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/git"
)

// Workspace is an exclusive handle on one checkout at one commit. The
// working tree is clean when Acquire returns and, unless the result is
// kept, again after Release.
type Workspace struct {
	repo     *git.Provider
	commit   string
	released bool
}

// Acquire cleans the tree if it is dirty, then checks out sha. An empty
// sha keeps the current HEAD. The resolved commit hash is recorded.
func Acquire(ctx context.Context, repo *git.Provider, sha string) (*Workspace, error) {
	clean, err := repo.IsClean(ctx)
	if err != nil {
		return nil, err
	}
	if !clean {
		debug.LogGit("%s: dirty tree, restoring before checkout\n", repo.GetRepoRoot())
		if err := repo.RestoreClean(ctx); err != nil {
			return nil, err
		}
	}
	if sha != "" {
		if err := repo.Checkout(ctx, sha); err != nil {
			return nil, err
		}
	}
	commit, err := repo.GetCommitHash(ctx, "HEAD")
	if err != nil {
		return nil, err
	}
	return &Workspace{repo: repo, commit: commit}, nil
}

// Commit is the full hash the workspace is checked out at.
func (w *Workspace) Commit() string {
	return w.commit
}

// Root is the working tree directory.
func (w *Workspace) Root() string {
	return w.repo.GetRepoRoot()
}

// Repo exposes the git provider for diffs between commits.
func (w *Workspace) Repo() *git.Provider {
	return w.repo
}

// Restore returns the tree to the checked out commit.
func (w *Workspace) Restore(ctx context.Context) error {
	return w.repo.RestoreClean(ctx)
}

// Diff is the task's artifact: the working tree diff ignoring
// whitespace-amount changes.
func (w *Workspace) Diff(ctx context.Context) (string, error) {
	return w.repo.WorkingDiff(ctx)
}

// Release ends the handle. With keep set the modified tree is left in
// place for inspection. Releasing twice is a no-op.
func (w *Workspace) Release(ctx context.Context, keep bool) error {
	if w.released {
		return nil
	}
	w.released = true
	if keep {
		return nil
	}
	return w.repo.RestoreClean(ctx)
}
