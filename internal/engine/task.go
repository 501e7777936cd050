package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/JamesPaynter/mycelium/internal/budget"
	"github.com/JamesPaynter/mycelium/internal/events"
	"github.com/JamesPaynter/mycelium/internal/state"
	"github.com/JamesPaynter/mycelium/internal/vcs"
)

// validatorKinds is the order validators run in; doctor verdicts block by
// default, the rest warn unless the runner says otherwise.
var validatorKinds = []string{"doctor", "fast", "lint"}

// runTask drives one task through its attempt loop: workspace setup,
// worker attempts with retries, compliance, and validators. The task ends
// in validated, failed, rescope_required, or needs_human_review; promotion
// to complete happens at batch finalization after the fast-forward.
func (e *Engine) runTask(ctx context.Context, taskID string, batchID int) error {
	m := e.catalog.Task(taskID)
	if m == nil {
		return fmt.Errorf("task %s not in catalog", taskID)
	}

	branch := vcs.TaskBranchName(e.cfg.BranchPrefix, m.ID, m.Name)
	workspace := e.paths.TaskWorkspace(e.runID, m.ID)
	logsDir := e.paths.TaskLogDir(e.runID, m.ID, m.Name)

	baseSHA := e.State().BaseSHA
	if err := e.vcs.CreateTaskWorkspace(ctx, workspace, branch, baseSHA); err != nil {
		return e.failTask(taskID, batchID, fmt.Sprintf("workspace: %v", err))
	}
	e.emit(events.New(events.WorkspaceCreated, taskID).WithBatch(batchID).
		WithPayload(map[string]any{"path": workspace, "branch": branch}))

	taskLog, err := events.OpenLog(e.paths.TaskEventsLog(e.runID, m.ID, m.Name))
	if err != nil {
		return e.failTask(taskID, batchID, fmt.Sprintf("open task log: %v", err))
	}
	defer taskLog.Close()

	err = e.mutate(func(st *state.RunState) error {
		t := st.Task(taskID)
		t.Branch = branch
		t.Workspace = workspace
		t.LogsDir = logsDir
		// Stale validator verdicts do not survive re-entry of the run loop.
		t.ValidatorResults = nil
		return nil
	})
	if err != nil {
		return err
	}

	input := WorkerInput{
		ProjectName:   e.cfg.Project,
		RunID:         e.runID,
		TaskID:        m.ID,
		TaskName:      m.Name,
		TaskSpec:      m.Spec,
		Branch:        branch,
		WorkspacePath: workspace,
		TaskEvents:    taskLog,
	}
	if err := e.worker.Prepare(ctx, input); err != nil {
		return e.failTask(taskID, batchID, fmt.Sprintf("prepare: %v", err))
	}

	fatalAttempts := 0
	for {
		attempt, err := e.beginAttempt(taskID, batchID)
		if err != nil {
			return err
		}
		input.Attempt = attempt

		result := e.invokeWorker(ctx, input, taskID)
		e.recordUsage(taskID, batchID, attempt, result.Usage)
		if len(result.CheckpointCommits) > 0 {
			if err := e.mutate(func(st *state.RunState) error {
				t := st.Task(taskID)
				t.CheckpointCommits = append(t.CheckpointCommits, result.CheckpointCommits...)
				return nil
			}); err != nil {
				return err
			}
		}

		if result.ResetToPending {
			err := e.mutate(func(st *state.RunState) error {
				return st.Task(taskID).Transition(state.TaskPending)
			})
			if err != nil {
				return err
			}
			e.emit(events.New(events.TaskReset, taskID).WithBatch(batchID).WithAttempt(attempt))
			continue
		}

		if !result.Success {
			if e.stop.Stopped() {
				// Interrupted attempt: the stop path reverts the task to
				// pending, so this is not a real failure.
				return nil
			}
			fatalAttempts++
			if err := e.mutate(func(st *state.RunState) error {
				st.Task(taskID).LastError = result.ErrorMessage
				return nil
			}); err != nil {
				return err
			}
			if e.cfg.MaxRetries > 0 && fatalAttempts >= e.cfg.MaxRetries {
				return e.failTask(taskID, batchID, result.ErrorMessage)
			}
			// Retry in place: the task stays running for the next attempt.
			continue
		}

		return e.acceptAttempt(ctx, taskID, batchID, input, baseSHA)
	}
}

// beginAttempt transitions a pending task back to running if needed and
// increments the attempt counter.
func (e *Engine) beginAttempt(taskID string, batchID int) (int, error) {
	var attempt int
	err := e.mutate(func(st *state.RunState) error {
		t := st.Task(taskID)
		if t.Status == state.TaskPending {
			if err := t.Transition(state.TaskRunning); err != nil {
				return err
			}
		}
		t.Attempts++
		attempt = t.Attempts
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.emit(events.New(events.TaskAttempt, taskID).WithBatch(batchID).WithAttempt(attempt))
	return attempt, nil
}

// invokeWorker runs one attempt under the worker timeout. A timeout is a
// failed attempt with errorMessage=timeout, counting against max_retries.
// The resume path is taken for the first attempt after crash recovery.
// A container-kill request stops the worker and cancels the attempt
// instead of letting it finish.
func (e *Engine) invokeWorker(ctx context.Context, input WorkerInput, taskID string) WorkerResult {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if timeout := e.workerTimeout(); timeout > 0 {
		var tcancel context.CancelFunc
		attemptCtx, tcancel = context.WithTimeout(attemptCtx, timeout)
		defer tcancel()
	}

	attemptDone := make(chan struct{})
	defer close(attemptDone)
	go func() {
		select {
		case <-e.stop.KillRequested():
			res, stopErr := e.worker.Stop(context.WithoutCancel(ctx), input)
			e.tallyStop(res, stopErr)
			cancel()
		case <-attemptDone:
		case <-attemptCtx.Done():
		}
	}()

	e.mu.Lock()
	resume := e.resumedFromRunning[taskID]
	e.resumedFromRunning[taskID] = false
	e.mu.Unlock()

	var result WorkerResult
	var err error
	if resume {
		result, err = e.worker.ResumeAttempt(attemptCtx, input)
	} else {
		result, err = e.worker.RunAttempt(attemptCtx, input)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return WorkerResult{ErrorMessage: "timeout", Usage: result.Usage}
		}
		return WorkerResult{ErrorMessage: err.Error(), Usage: result.Usage}
	}
	return result
}

// recordUsage accumulates streamed usage into the tracker and the state.
func (e *Engine) recordUsage(taskID string, batchID, attempt int, usage []budget.Usage) {
	if len(usage) == 0 {
		return
	}
	var tokens int64
	var cost float64
	for _, u := range usage {
		e.tracker.Record(u)
		tokens += u.Tokens()
		cost += u.EstimatedCost
	}
	_ = e.mutate(func(st *state.RunState) error {
		t := st.Task(taskID)
		t.TokensUsed += tokens
		t.EstimatedCost += cost
		t.UsageByAttempt = append(t.UsageByAttempt, state.AttemptUsage{
			Attempt:       attempt,
			InputTokens:   sumInput(usage),
			OutputTokens:  sumOutput(usage),
			EstimatedCost: cost,
		})
		st.TokensUsed += tokens
		st.EstimatedCost += cost
		return nil
	})
	e.emit(events.New(events.TaskUsage, taskID).WithBatch(batchID).WithAttempt(attempt).
		WithPayload(map[string]any{"tokens": tokens, "cost": cost}))
}

// acceptAttempt handles a successful worker attempt: compliance first
// (which can force rescoping), then promotion to validated, then the
// validator pipeline.
func (e *Engine) acceptAttempt(ctx context.Context, taskID string, batchID int, input WorkerInput, baseSHA string) error {
	m := e.catalog.Task(taskID)

	if e.comply != nil {
		changed, err := e.vcs.ListChangedFiles(ctx, input.WorkspacePath, baseSHA)
		if err != nil {
			return e.failTask(taskID, batchID, fmt.Sprintf("list changed files: %v", err))
		}
		result, err := e.comply.RunForTask(m, changed, e.paths.TaskLogDir(e.runID, m.ID, m.Name))
		if err != nil {
			return e.failTask(taskID, batchID, fmt.Sprintf("compliance: %v", err))
		}
		if result.Blocks() {
			err := e.mutate(func(st *state.RunState) error {
				t := st.Task(taskID)
				t.LastError = result.Rescope.Reason
				return t.Transition(state.TaskRescopeRequired)
			})
			if err != nil {
				return err
			}
			e.emit(events.New(events.TaskRescopeRequired, taskID).WithBatch(batchID).
				WithPayload(map[string]any{"reason": result.Rescope.Reason, "report": result.ReportPath}))
			return nil
		}
	}

	if err := e.mutate(func(st *state.RunState) error {
		return st.Task(taskID).Transition(state.TaskValidated)
	}); err != nil {
		return err
	}
	e.emit(events.New(events.TaskValidated, taskID).WithBatch(batchID))

	return e.runValidators(ctx, taskID, batchID, input.WorkspacePath)
}

// runValidators executes each validator kind; the first blocking failure
// sends the task to human review.
func (e *Engine) runValidators(ctx context.Context, taskID string, batchID int, workspace string) error {
	if e.valid == nil {
		return nil
	}
	m := e.catalog.Task(taskID)
	for _, kind := range validatorKinds {
		result, err := e.valid.RunValidator(ctx, kind, m, workspace)
		if err != nil {
			return fmt.Errorf("validator %s: %w", kind, err)
		}
		if result == nil {
			continue
		}
		if err := e.mutate(func(st *state.RunState) error {
			t := st.Task(taskID)
			t.ValidatorResults = append(t.ValidatorResults, *result)
			return nil
		}); err != nil {
			return err
		}
		if result.Status == "fail" && result.Mode == "block" {
			reason := fmt.Sprintf("validator %s failed: %s", kind, result.Summary)
			e.emit(events.New(events.TaskValidationFail, taskID).WithBatch(batchID).
				WithPayload(map[string]any{"kind": kind, "summary": result.Summary}))
			return e.needsHumanReview(taskID, batchID, reason)
		}
	}
	return nil
}

// needsHumanReview moves a task to human review with a recorded reason.
func (e *Engine) needsHumanReview(taskID string, batchID int, reason string) error {
	err := e.mutate(func(st *state.RunState) error {
		t := st.Task(taskID)
		if err := t.Transition(state.TaskNeedsHumanReview); err != nil {
			return err
		}
		t.HumanReview = &state.HumanReview{Reason: reason, At: e.now()}
		t.LastError = reason
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(events.New(events.TaskNeedsReview, taskID).WithBatch(batchID).
		WithPayload(map[string]any{"reason": reason}))
	return nil
}

// failTask marks a task failed with its final error.
func (e *Engine) failTask(taskID string, batchID int, errorMessage string) error {
	err := e.mutate(func(st *state.RunState) error {
		t := st.Task(taskID)
		if err := t.Transition(state.TaskFailed); err != nil {
			return err
		}
		t.LastError = errorMessage
		done := e.now()
		t.CompletedAt = &done
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(events.New(events.TaskFailed, taskID).WithBatch(batchID).
		WithError(errors.New(errorMessage)))
	return nil
}

func sumInput(usage []budget.Usage) int64 {
	var n int64
	for _, u := range usage {
		n += u.InputTokens
	}
	return n
}

func sumOutput(usage []budget.Usage) int64 {
	var n int64
	for _, u := range usage {
		n += u.OutputTokens
	}
	return n
}
