package vcs

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// VCS is the version-control surface the engine depends on. The real
// implementation is Git; tests substitute fakes.
type VCS interface {
	EnsureCleanWorkingTree(ctx context.Context) error
	ResolveRunBaseSHA(ctx context.Context) (string, error)
	HeadSHA(ctx context.Context, dir string) (string, error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	CreateTaskWorkspace(ctx context.Context, path, branch, baseSHA string) error
	RemoveWorkspace(ctx context.Context, path string) error
	ListChangedFiles(ctx context.Context, workspace, baseSHA string) ([]string, error)
	MergeTaskBranches(ctx context.Context, workspace string, branches []string) (MergeResult, error)
	DiscardIntegration(ctx context.Context, workspace string) error
	FastForwardMain(ctx context.Context, sha string) error
}

// Git implements VCS against a real repository via a Runner.
type Git struct {
	runner   Runner
	repoPath string
	main     string
}

// NewGit builds a Git bound to the repository at repoPath with the given
// main branch name.
func NewGit(runner Runner, repoPath, mainBranch string) *Git {
	return &Git{runner: runner, repoPath: repoPath, main: mainBranch}
}

// EnsureCleanWorkingTree fails with ErrDirtyWorkingTree if the repository
// has staged, unstaged, or untracked changes.
func (g *Git) EnsureCleanWorkingTree(ctx context.Context) error {
	out, err := g.runner.Exec(ctx, g.repoPath, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("check working tree: %w", err)
	}
	if strings.TrimSpace(out) != "" {
		return fmt.Errorf("%w in %s", ErrDirtyWorkingTree, g.repoPath)
	}
	return nil
}

// ResolveRunBaseSHA returns the commit the main branch currently points at.
// Every task workspace in the run is created from this commit.
func (g *Git) ResolveRunBaseSHA(ctx context.Context) (string, error) {
	out, err := g.runner.Exec(ctx, g.repoPath, "rev-parse", "refs/heads/"+g.main)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", g.main, err)
	}
	return strings.TrimSpace(out), nil
}

// HeadSHA returns the commit HEAD points at in dir.
func (g *Git) HeadSHA(ctx context.Context, dir string) (string, error) {
	out, err := g.runner.Exec(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD in %s: %w", dir, err)
	}
	return strings.TrimSpace(out), nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (g *Git) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	base, err := g.runner.Exec(ctx, g.repoPath, "merge-base", ancestor, descendant)
	if err != nil {
		return false, fmt.Errorf("merge-base %s %s: %w", ancestor, descendant, err)
	}
	resolved, err := g.runner.Exec(ctx, g.repoPath, "rev-parse", ancestor)
	if err != nil {
		return false, fmt.Errorf("rev-parse %s: %w", ancestor, err)
	}
	return strings.TrimSpace(base) == strings.TrimSpace(resolved), nil
}

// CreateTaskWorkspace adds a worktree at path on branch, creating the
// branch at baseSHA if it does not exist yet. Idempotent: an existing
// worktree for the branch is reused, a stale registration is pruned first.
func (g *Git) CreateTaskWorkspace(ctx context.Context, path, branch, baseSHA string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		// Workspace already exists from a previous attempt or resume.
		if _, err := g.runner.Exec(ctx, path, "rev-parse", "HEAD"); err == nil {
			return nil
		}
	}
	// Drop any stale worktree registration pointing at a removed directory.
	if _, err := g.runner.Exec(ctx, g.repoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}

	if g.branchExists(ctx, branch) {
		_, err := g.runner.Exec(ctx, g.repoPath, "worktree", "add", path, branch)
		if err != nil {
			return fmt.Errorf("attach worktree for %s: %w", branch, err)
		}
		return nil
	}
	_, err := g.runner.Exec(ctx, g.repoPath, "worktree", "add", "-b", branch, path, baseSHA)
	if err != nil {
		return fmt.Errorf("create worktree for %s: %w", branch, err)
	}
	return nil
}

func (g *Git) branchExists(ctx context.Context, branch string) bool {
	_, err := g.runner.Exec(ctx, g.repoPath, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// RemoveWorkspace detaches and deletes a worktree. Missing workspaces are
// not an error.
func (g *Git) RemoveWorkspace(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_, pruneErr := g.runner.Exec(ctx, g.repoPath, "worktree", "prune")
		return pruneErr
	}
	if _, err := g.runner.Exec(ctx, g.repoPath, "worktree", "remove", "--force", path); err != nil {
		// Fall back to a plain delete plus prune for worktrees git no
		// longer recognizes.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove workspace %s: %w", path, rmErr)
		}
		if _, pruneErr := g.runner.Exec(ctx, g.repoPath, "worktree", "prune"); pruneErr != nil {
			return fmt.Errorf("prune after removing %s: %w", path, pruneErr)
		}
	}
	return nil
}

// ListChangedFiles returns the paths a task branch touched relative to the
// run base, as reported by the workspace's HEAD.
func (g *Git) ListChangedFiles(ctx context.Context, workspace, baseSHA string) ([]string, error) {
	out, err := g.runner.Exec(ctx, workspace, "diff", "--name-only", baseSHA+"...HEAD")
	if err != nil {
		return nil, fmt.Errorf("diff against %s: %w", baseSHA, err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}
