// Package validate runs per-task verification commands and the project
// integration doctor via the shell.
package validate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/JamesPaynter/mycelium/internal/manifest"
	"github.com/JamesPaynter/mycelium/internal/state"
)

// CommandValidator runs a task's verify commands in its workspace. Doctor
// verdicts block; fast and lint verdicts warn.
type CommandValidator struct{}

// NewCommandValidator returns the default validator runner.
func NewCommandValidator() *CommandValidator {
	return &CommandValidator{}
}

// RunValidator executes one validator kind. A task without a command for
// the kind returns nil (disabled).
func (v *CommandValidator) RunValidator(ctx context.Context, kind string, task *manifest.Task, workspace string) (*state.ValidatorResult, error) {
	var command, mode string
	switch kind {
	case "doctor":
		command, mode = task.Verify.Doctor, "block"
	case "fast":
		command, mode = task.Verify.Fast, "warn"
	case "lint":
		command, mode = task.Verify.Lint, "warn"
	default:
		return nil, fmt.Errorf("unknown validator kind %q", kind)
	}
	if command == "" {
		return nil, nil
	}

	result := &state.ValidatorResult{Kind: kind, Mode: mode}
	output, err := runShell(ctx, workspace, command, nil)
	if err != nil {
		if ctx.Err() != nil {
			result.Status = "error"
			result.Summary = "timeout"
			return result, nil
		}
		result.Status = "fail"
		result.Summary = summarize(output, err)
		return result, nil
	}
	result.Status = "pass"
	return result, nil
}

// ShellDoctor runs doctor commands through the shell with optional extra
// environment. Exit code zero means pass.
type ShellDoctor struct{}

// NewShellDoctor returns the default doctor runner.
func NewShellDoctor() *ShellDoctor {
	return &ShellDoctor{}
}

func (d *ShellDoctor) RunDoctor(ctx context.Context, dir, command string, extraEnv []string) error {
	output, err := runShell(ctx, dir, command, extraEnv)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("doctor timed out: %w", ctx.Err())
		}
		return fmt.Errorf("doctor failed: %s", summarize(output, err))
	}
	return nil
}

func runShell(ctx context.Context, dir, command string, extraEnv []string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extraEnv...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// summarize trims command output into a single-line failure summary.
func summarize(output string, err error) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	tail := lines[len(lines)-1]
	if tail == "" {
		return err.Error()
	}
	if len(tail) > 200 {
		tail = tail[:200]
	}
	return fmt.Sprintf("%v: %s", err, tail)
}
