// Package worker provides the default WorkerRunner: an external command
// invoked per attempt with a JSON envelope on stdin, streaming JSONL
// progress on stdout.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JamesPaynter/mycelium/internal/budget"
	"github.com/JamesPaynter/mycelium/internal/engine"
	"github.com/JamesPaynter/mycelium/internal/events"
)

// envelope is the JSON document the worker command receives on stdin.
type envelope struct {
	Action    string `json:"action"` // prepare|run|resume|stop|cleanup
	Project   string `json:"project"`
	RunID     string `json:"run_id"`
	TaskID    string `json:"task_id"`
	TaskName  string `json:"task_name,omitempty"`
	TaskSpec  string `json:"task_spec,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Workspace string `json:"workspace"`
	Attempt   int    `json:"attempt,omitempty"`
}

// CommandRunner shells out to a configured worker binary. The worker's
// stdout is a JSONL stream; recognized record types:
//
//	{"type":"usage","input_tokens":N,"output_tokens":N,"cost_usd":F}
//	{"type":"checkpoint","sha":"..."}
//	{"type":"result","success":true,"reset_to_pending":false,"error":""}
//
// Every line is mirrored to the task's event log.
type CommandRunner struct {
	// Command is the worker binary, resolved via PATH if relative.
	Command string
}

// NewCommandRunner builds a runner for the given worker command.
func NewCommandRunner(command string) *CommandRunner {
	return &CommandRunner{Command: command}
}

func (r *CommandRunner) Prepare(ctx context.Context, in engine.WorkerInput) error {
	_, err := r.invoke(ctx, "prepare", in)
	return err
}

func (r *CommandRunner) RunAttempt(ctx context.Context, in engine.WorkerInput) (engine.WorkerResult, error) {
	return r.invoke(ctx, "run", in)
}

func (r *CommandRunner) ResumeAttempt(ctx context.Context, in engine.WorkerInput) (engine.WorkerResult, error) {
	return r.invoke(ctx, "resume", in)
}

func (r *CommandRunner) Stop(ctx context.Context, in engine.WorkerInput) (engine.StopResult, error) {
	if _, err := r.invoke(ctx, "stop", in); err != nil {
		return engine.StopResult{Errors: 1}, err
	}
	return engine.StopResult{Stopped: 1}, nil
}

func (r *CommandRunner) CleanupTask(ctx context.Context, in engine.WorkerInput) error {
	_, err := r.invoke(ctx, "cleanup", in)
	return err
}

// invoke runs the worker command once, feeding the envelope on stdin and
// consuming its JSONL stream until exit.
func (r *CommandRunner) invoke(ctx context.Context, action string, in engine.WorkerInput) (engine.WorkerResult, error) {
	if r.Command == "" {
		return engine.WorkerResult{}, fmt.Errorf("worker command not configured")
	}

	env := envelope{
		Action:    action,
		Project:   in.ProjectName,
		RunID:     in.RunID,
		TaskID:    in.TaskID,
		TaskName:  in.TaskName,
		TaskSpec:  in.TaskSpec,
		Branch:    in.Branch,
		Workspace: in.WorkspacePath,
		Attempt:   in.Attempt,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return engine.WorkerResult{}, fmt.Errorf("encode worker envelope: %w", err)
	}

	parts := strings.Fields(r.Command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = in.WorkspacePath
	cmd.Stdin = strings.NewReader(string(payload) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return engine.WorkerResult{}, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return engine.WorkerResult{}, fmt.Errorf("start worker: %w", err)
	}

	result := engine.WorkerResult{}
	sawResult := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r.mirror(in, line)

		if usage, ok := budget.ParseUsageLine(in.TaskID, in.Attempt, line); ok {
			result.Usage = append(result.Usage, usage)
			continue
		}
		doc := gjson.ParseBytes(line)
		switch doc.Get("type").String() {
		case "checkpoint":
			if sha := doc.Get("sha").String(); sha != "" {
				result.CheckpointCommits = append(result.CheckpointCommits, sha)
			}
		case "result":
			sawResult = true
			result.Success = doc.Get("success").Bool()
			result.ResetToPending = doc.Get("reset_to_pending").Bool()
			result.ErrorMessage = doc.Get("error").String()
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return result, fmt.Errorf("read worker output: %w", scanErr)
	}
	if waitErr != nil {
		if sawResult {
			// The worker reported its own verdict before exiting non-zero.
			return result, nil
		}
		return result, fmt.Errorf("worker exited: %w", waitErr)
	}
	if !sawResult && (action == "run" || action == "resume") {
		return result, fmt.Errorf("worker emitted no result record")
	}
	return result, nil
}

// mirror copies one worker output line into the task's event log.
func (r *CommandRunner) mirror(in engine.WorkerInput, line []byte) {
	if in.TaskEvents == nil {
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(line, &payload); err != nil {
		payload = map[string]any{"raw": string(line)}
	}
	_, _ = in.TaskEvents.Append(events.Event{
		Type:    "worker.output",
		Task:    in.TaskID,
		Payload: payload,
	})
}
