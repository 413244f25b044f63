package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/patchloop/internal/debug"
	plerrors "github.com/standardbeagle/patchloop/internal/errors"
)

// Provider wraps git commands run inside one working tree
type Provider struct {
	repoRoot string
}

// NewProvider creates a new git provider for the specified repository
func NewProvider(repoRoot string) (*Provider, error) {
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid repo root: %w", err)
	}

	// rev-parse --show-toplevel works from any subdirectory
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = absRoot
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s (ensure you're in a git repository)", absRoot)
	}

	gitRoot := strings.TrimSpace(string(output))
	return &Provider{repoRoot: gitRoot}, nil
}

// GetRepoRoot returns the repository root path
func (p *Provider) GetRepoRoot() string {
	return p.repoRoot
}

// run executes git with args in the repo root. Failures come back as
// *errors.ProcessError carrying the combined output.
func (p *Provider) run(ctx context.Context, args ...string) ([]byte, error) {
	return runGit(ctx, p.repoRoot, args...)
}

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	debug.LogGit("git %s (in %s)\n", strings.Join(args, " "), dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), plerrors.NewProcessError("git "+strings.Join(args, " "), dir, bytes.TrimSpace(stderr.Bytes()), err)
	}
	return stdout.Bytes(), nil
}

// Checkout switches the working tree to sha (detached).
func (p *Provider) Checkout(ctx context.Context, sha string) error {
	_, err := p.run(ctx, "checkout", "--quiet", sha)
	return err
}

// Status returns the porcelain status entries; an empty result means clean.
func (p *Provider) Status(ctx context.Context) ([]StatusEntry, error) {
	output, err := p.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(output), nil
}

// IsClean reports whether there are no staged, unstaged or untracked changes.
func (p *Provider) IsClean(ctx context.Context) (bool, error) {
	entries, err := p.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// RestoreClean discards staged and unstaged changes and removes untracked
// files and directories, in that order.
func (p *Provider) RestoreClean(ctx context.Context) error {
	steps := [][]string{
		{"restore", "--staged", "."},
		{"restore", "."},
		{"clean", "-fd"},
	}
	for _, args := range steps {
		if _, err := p.run(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// Restore implements the repair loop's tree handle.
func (p *Provider) Restore(ctx context.Context) error {
	return p.RestoreClean(ctx)
}

// Diff returns the raw unified diff between two commits.
func (p *Provider) Diff(ctx context.Context, from, to string) (string, error) {
	output, err := p.run(ctx, "diff", from, to)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// WorkingDiff returns the working tree diff against the checked out
// baseline, ignoring changes in the amount of whitespace.
func (p *Provider) WorkingDiff(ctx context.Context) (string, error) {
	output, err := p.run(ctx, "diff", "--ignore-space-change")
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// ChangedFiles lists working tree changes against HEAD, untracked files included.
func (p *Provider) ChangedFiles(ctx context.Context) ([]ChangedFile, error) {
	output, err := p.run(ctx, "diff", "HEAD", "--name-status")
	if err != nil {
		return nil, err
	}
	files, err := p.parseNameStatus(output)
	if err != nil {
		return nil, err
	}

	entries, err := p.Status(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Index == '?' {
			files = append(files, ChangedFile{Path: e.Path, Status: FileStatusUntracked})
		}
	}
	return files, nil
}

// parseNameStatus parses git name-status output
func (p *Provider) parseNameStatus(output []byte) ([]ChangedFile, error) {
	var files []ChangedFile

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}

		status := parts[0]
		path := parts[1]
		oldPath := ""

		if len(parts) >= 3 && (status[0] == 'R' || status[0] == 'C') {
			oldPath = parts[1]
			path = parts[2]
		}

		files = append(files, ChangedFile{
			Path:    path,
			OldPath: oldPath,
			Status:  p.parseStatus(status),
		})
	}

	return files, scanner.Err()
}

// parseStatus converts git status letter to FileChangeStatus
func (p *Provider) parseStatus(status string) FileChangeStatus {
	if len(status) == 0 {
		return FileStatusModified
	}

	switch status[0] {
	case 'A':
		return FileStatusAdded
	case 'D':
		return FileStatusDeleted
	case 'M':
		return FileStatusModified
	case 'R':
		return FileStatusRenamed
	case 'C':
		return FileStatusCopied
	default:
		return FileStatusModified
	}
}

func parsePorcelain(output []byte) []StatusEntry {
	var entries []StatusEntry
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		// Renames are reported as "old -> new"
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		entries = append(entries, StatusEntry{
			Index:    line[0],
			Worktree: line[1],
			Path:     strings.Trim(path, "\""),
		})
	}
	return entries
}

// GetCommitHash returns the full commit hash for a reference
func (p *Provider) GetCommitHash(ctx context.Context, ref string) (string, error) {
	output, err := p.run(ctx, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// GetParentCommit returns the first parent of commit, used as the default
// prior commit for incremental index synchronization.
func (p *Provider) GetParentCommit(ctx context.Context, commit string) (string, error) {
	return p.GetCommitHash(ctx, commit+"^")
}

// CloneURL returns the clone URL for an owner/name repository slug.
func CloneURL(repo string) string {
	return fmt.Sprintf("https://github.com/%s.git", strings.Trim(repo, "/"))
}

// Clone clones url into dest. An existing dest is reused unless overwrite
// is set, in which case it is removed first.
func Clone(ctx context.Context, url, dest string, overwrite bool) (*Provider, error) {
	if _, err := os.Stat(dest); err == nil {
		if !overwrite {
			return NewProvider(dest)
		}
		if err := os.RemoveAll(dest); err != nil {
			return nil, plerrors.NewFileError("remove", dest, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, plerrors.NewFileError("mkdir", filepath.Dir(dest), err)
	}
	if _, err := runGit(ctx, filepath.Dir(dest), "clone", "--quiet", url, dest); err != nil {
		return nil, err
	}
	return NewProvider(dest)
}
