// Package vcs wraps the git primitives the engine consumes: clean-tree
// guard, run-base resolution, per-task worktrees, temporary integration
// merges and the fast-forward that publishes a batch.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git commands. The engine never shells out directly; all
// git access flows through a Runner so tests can substitute a stub.
type Runner interface {
	Exec(ctx context.Context, dir string, args ...string) (string, error)
}

// osRunner executes real git commands via exec.CommandContext.
type osRunner struct{}

// NewRunner returns the default Runner backed by the git binary.
func NewRunner() Runner {
	return osRunner{}
}

func (osRunner) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w\nstderr: %s",
			strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}
