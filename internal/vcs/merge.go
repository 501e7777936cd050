package vcs

import (
	"context"
	"fmt"
	"strings"
)

// MergeResult describes the outcome of one temporary integration attempt.
type MergeResult struct {
	// MergedSHA is the integration HEAD after all branches merged cleanly.
	// Empty when Conflicted is true.
	MergedSHA string

	// Merged lists the branches that merged cleanly, in order.
	Merged []string

	// Conflicted is true if a branch failed to merge.
	Conflicted bool

	// ConflictBranch is the first branch that conflicted.
	ConflictBranch string

	// ConflictFiles lists the unmerged paths at the point of conflict.
	ConflictFiles []string
}

// MergeTaskBranches performs a temporary integration: it resets a detached
// worktree at the current main tip, then merges each branch in order with a
// real merge commit. On the first conflict the merge is aborted and the
// conflicting branch reported, leaving the result unpublished so the caller
// can retry with a reduced set. Main itself is never touched here.
func (g *Git) MergeTaskBranches(ctx context.Context, workspace string, branches []string) (MergeResult, error) {
	if err := g.ensureIntegrationWorkspace(ctx, workspace); err != nil {
		return MergeResult{}, err
	}

	result := MergeResult{}
	for _, branch := range branches {
		_, err := g.runner.Exec(ctx, workspace,
			"merge", "--no-ff", "--no-edit",
			"-m", fmt.Sprintf("integrate %s", branch),
			"refs/heads/"+branch)
		if err != nil {
			files, listErr := g.unmergedFiles(ctx, workspace)
			if listErr != nil {
				files = nil
			}
			if _, abortErr := g.runner.Exec(ctx, workspace, "merge", "--abort"); abortErr != nil {
				return result, fmt.Errorf("abort conflicted merge of %s: %w", branch, abortErr)
			}
			result.Conflicted = true
			result.ConflictBranch = branch
			result.ConflictFiles = files
			return result, nil
		}
		result.Merged = append(result.Merged, branch)
	}

	sha, err := g.HeadSHA(ctx, workspace)
	if err != nil {
		return result, err
	}
	result.MergedSHA = sha
	return result, nil
}

// ensureIntegrationWorkspace makes workspace a detached worktree pinned at
// the current main tip, creating or resetting it as needed so every attempt
// starts from the same state.
func (g *Git) ensureIntegrationWorkspace(ctx context.Context, workspace string) error {
	tip, err := g.ResolveRunBaseSHA(ctx)
	if err != nil {
		return err
	}
	if _, err := g.runner.Exec(ctx, workspace, "rev-parse", "HEAD"); err != nil {
		if _, pruneErr := g.runner.Exec(ctx, g.repoPath, "worktree", "prune"); pruneErr != nil {
			return fmt.Errorf("prune worktrees: %w", pruneErr)
		}
		if _, addErr := g.runner.Exec(ctx, g.repoPath, "worktree", "add", "--detach", workspace, tip); addErr != nil {
			return fmt.Errorf("create integration worktree: %w", addErr)
		}
		return nil
	}
	if _, err := g.runner.Exec(ctx, workspace, "checkout", "--detach", tip); err != nil {
		return fmt.Errorf("pin integration worktree at %s: %w", tip, err)
	}
	if _, err := g.runner.Exec(ctx, workspace, "reset", "--hard", tip); err != nil {
		return fmt.Errorf("reset integration worktree: %w", err)
	}
	if _, err := g.runner.Exec(ctx, workspace, "clean", "-fd"); err != nil {
		return fmt.Errorf("clean integration worktree: %w", err)
	}
	return nil
}

func (g *Git) unmergedFiles(ctx context.Context, workspace string) ([]string, error) {
	out, err := g.runner.Exec(ctx, workspace, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// DiscardIntegration removes the integration worktree, throwing away any
// unpublished merge result.
func (g *Git) DiscardIntegration(ctx context.Context, workspace string) error {
	return g.RemoveWorkspace(ctx, workspace)
}

// FastForwardMain publishes an integration result by fast-forwarding the
// main branch to sha. Fails with ErrFastForwardFailed if main is not an
// ancestor of sha, which means main moved underneath the run.
func (g *Git) FastForwardMain(ctx context.Context, sha string) error {
	tip, err := g.ResolveRunBaseSHA(ctx)
	if err != nil {
		return err
	}
	ok, err := g.IsAncestor(ctx, tip, sha)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a descendant of %s tip %s",
			ErrFastForwardFailed, sha, g.main, tip)
	}
	if _, err := g.runner.Exec(ctx, g.repoPath, "checkout", g.main); err != nil {
		return fmt.Errorf("checkout %s: %w", g.main, err)
	}
	if _, err := g.runner.Exec(ctx, g.repoPath, "merge", "--ff-only", sha); err != nil {
		return fmt.Errorf("%w: %v", ErrFastForwardFailed, err)
	}
	return nil
}
