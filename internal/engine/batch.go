package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/JamesPaynter/mycelium/internal/config"
	"github.com/JamesPaynter/mycelium/internal/events"
	"github.com/JamesPaynter/mycelium/internal/locks"
	"github.com/JamesPaynter/mycelium/internal/paths"
	"github.com/JamesPaynter/mycelium/internal/state"
)

// Batch stop reasons that fail the whole run.
const (
	StopReasonIntegrationDoctorFailed = "integration_doctor_failed"
	StopReasonFastForwardFailed       = "fast_forward_failed"
	StopReasonBudgetBreach            = "budget_breach"
)

// batchOutcome is what runBatch reports back to the run loop.
type batchOutcome struct {
	batchID    int
	stopReason string
}

// runBatch executes one scheduled batch: dispatch every task with the
// concurrency cap, then gate the merged result through the integration
// doctor before touching main.
func (e *Engine) runBatch(ctx context.Context, batch locks.Batch) (batchOutcome, error) {
	var batchID int
	err := e.mutate(func(st *state.RunState) error {
		batchID = st.NextBatchID()
		started := e.now()
		b := &state.BatchState{
			ID:        batchID,
			Status:    state.BatchPending,
			Tasks:     batch.TaskIDs(),
			Locks:     batch.Locks,
			StartedAt: &started,
		}
		if err := b.Transition(state.BatchRunning); err != nil {
			return err
		}
		st.Batches = append(st.Batches, b)
		for _, id := range b.Tasks {
			t := st.Task(id)
			if t.Status == state.TaskPending {
				if err := t.Transition(state.TaskRunning); err != nil {
					return err
				}
				now := e.now()
				t.StartedAt = &now
			}
			t.BatchID = &batchID
		}
		return nil
	})
	if err != nil {
		return batchOutcome{}, err
	}
	e.emit(events.New(events.BatchStarted, "").WithBatch(batchID).
		WithPayload(map[string]any{"tasks": batch.TaskIDs()}))
	for _, id := range batch.TaskIDs() {
		e.emit(events.New(events.TaskStarted, id).WithBatch(batchID))
	}

	outcome := batchOutcome{batchID: batchID}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)
	dispatched := make(map[string]bool, len(batch.Candidates))
	interrupted := false
	for _, cand := range batch.Candidates {
		if e.stop.Stopped() {
			interrupted = true
			break
		}
		id := cand.ID
		dispatched[id] = true
		g.Go(func() error {
			return e.runTask(gctx, id, batchID)
		})
	}
	if err := g.Wait(); err != nil {
		return outcome, err
	}

	// Tasks marked running but never dispatched (stop signal) go back to
	// pending so a resume can pick them up.
	err = e.mutate(func(st *state.RunState) error {
		for _, id := range batch.TaskIDs() {
			if dispatched[id] {
				continue
			}
			t := st.Task(id)
			if t.Status == state.TaskRunning {
				if err := t.Transition(state.TaskPending); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}

	if interrupted {
		// No merge for an interrupted batch: dispatched tasks keep their
		// outcomes and the stop path settles the run.
		return outcome, nil
	}

	if e.budgetExceeded() {
		if err := e.concludeBatch(batchID, state.BatchFailed, ""); err != nil {
			return outcome, err
		}
		outcome.stopReason = StopReasonBudgetBreach
		return outcome, nil
	}

	stopReason, err := e.finalizeBatch(ctx, batchID)
	if err != nil {
		return outcome, err
	}
	outcome.stopReason = stopReason
	return outcome, nil
}

// finalizeBatch merges the batch's validated branches into a temporary
// integration worktree, runs the integration doctor, and fast-forwards
// main. The temp merge is the sole place integration risk is borne; main
// is never mutated until the doctor passes.
func (e *Engine) finalizeBatch(ctx context.Context, batchID int) (string, error) {
	succeeded := e.validatedTasks(batchID)
	if len(succeeded) == 0 {
		return "", e.concludeBatch(batchID, state.BatchFailed, "")
	}

	integrationWS := e.paths.IntegrationWorkspace(e.runID)
	defer func() {
		_ = e.vcs.DiscardIntegration(context.WithoutCancel(ctx), integrationWS)
	}()

	mergedSHA, mergedTasks, err := e.mergeWithRetries(ctx, batchID, integrationWS, succeeded)
	if err != nil {
		return "", err
	}
	if mergedSHA == "" {
		// Every branch conflicted; nothing to publish.
		return "", e.concludeBatch(batchID, state.BatchFailed, "")
	}

	if stopReason, err := e.integrationDoctor(ctx, batchID, integrationWS, mergedTasks); stopReason != "" || err != nil {
		return stopReason, err
	}

	if err := e.vcs.FastForwardMain(ctx, mergedSHA); err != nil {
		e.emit(events.New(events.BatchFailed, "").WithBatch(batchID).WithError(err))
		if reviewErr := e.reviewTasks(batchID, mergedTasks, fmt.Sprintf("fast-forward failed: %v", err)); reviewErr != nil {
			return "", reviewErr
		}
		if err := e.concludeBatch(batchID, state.BatchFailed, ""); err != nil {
			return "", err
		}
		return StopReasonFastForwardFailed, nil
	}
	e.emit(events.New(events.BatchFastForwarded, "").WithBatch(batchID).
		WithPayload(map[string]any{"merge_commit": mergedSHA}))

	err = e.mutate(func(st *state.RunState) error {
		for _, id := range mergedTasks {
			t := st.Task(id)
			if err := t.Transition(state.TaskComplete); err != nil {
				return err
			}
			done := e.now()
			t.CompletedAt = &done
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	for _, id := range mergedTasks {
		e.emit(events.New(events.TaskCompleted, id).WithBatch(batchID))
	}

	if err := e.concludeBatch(batchID, state.BatchComplete, mergedSHA); err != nil {
		return "", err
	}
	if e.history != nil {
		_ = e.history.RecordTaskMerge(e.State(), batchID, mergedSHA, mergedTasks)
	}

	e.archiveTasks(batchID, mergedTasks)
	e.cleanupWorkspaces(ctx, batchID, mergedTasks)
	return "", nil
}

// mergeWithRetries merges branches in batch order, dropping the first
// conflicting branch (its task goes to human review) and retrying with the
// shrunken set until a clean merge or nothing remains.
func (e *Engine) mergeWithRetries(ctx context.Context, batchID int, integrationWS string, taskIDs []string) (string, []string, error) {
	remaining := append([]string(nil), taskIDs...)
	for len(remaining) > 0 {
		branches := make([]string, len(remaining))
		branchTask := make(map[string]string, len(remaining))
		for i, id := range remaining {
			branch := e.State().Task(id).Branch
			branches[i] = branch
			branchTask[branch] = id
		}

		e.emit(events.New(events.BatchMergeAttempt, "").WithBatch(batchID).
			WithPayload(map[string]any{"branches": branches}))
		result, err := e.vcs.MergeTaskBranches(ctx, integrationWS, branches)
		if err != nil {
			return "", nil, fmt.Errorf("batch %d merge: %w", batchID, err)
		}
		if !result.Conflicted {
			return result.MergedSHA, remaining, nil
		}

		conflictTask := branchTask[result.ConflictBranch]
		e.emit(events.New(events.BatchMergeConflict, conflictTask).WithBatch(batchID).
			WithPayload(map[string]any{
				"branch": result.ConflictBranch,
				"files":  result.ConflictFiles,
			}))
		reason := fmt.Sprintf("merge conflict on %s (files: %v)", result.ConflictBranch, result.ConflictFiles)
		if err := e.needsHumanReview(conflictTask, batchID, reason); err != nil {
			return "", nil, err
		}

		kept := remaining[:0]
		for _, id := range remaining {
			if id != conflictTask {
				kept = append(kept, id)
			}
		}
		remaining = kept
	}
	return "", nil, nil
}

// integrationDoctor runs the optional canary and then the project doctor
// against the merged tree. A failure fails the batch and the run; no
// partial main mutation is possible because the merge is still temporary.
func (e *Engine) integrationDoctor(ctx context.Context, batchID int, integrationWS string, mergedTasks []string) (string, error) {
	if e.doctor == nil || e.cfg.Doctor == "" {
		e.emit(events.New(events.BatchDoctorPassed, "").WithBatch(batchID).
			WithPayload(map[string]any{"skipped": true}))
		return "", e.markDoctorResult(batchID, true)
	}

	if stopReason, err := e.doctorCanary(ctx, batchID, integrationWS, mergedTasks); stopReason != "" || err != nil {
		return stopReason, err
	}

	doctorCtx := ctx
	if timeout := e.doctorTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		doctorCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := e.doctor.RunDoctor(doctorCtx, integrationWS, e.cfg.Doctor, nil); err != nil {
		e.emit(events.New(events.BatchDoctorFailed, "").WithBatch(batchID).WithError(err))
		if reviewErr := e.reviewTasks(batchID, mergedTasks, fmt.Sprintf("integration doctor failed: %v", err)); reviewErr != nil {
			return "", reviewErr
		}
		if err := e.markDoctorResult(batchID, false); err != nil {
			return "", err
		}
		if err := e.concludeBatch(batchID, state.BatchFailed, ""); err != nil {
			return "", err
		}
		return StopReasonIntegrationDoctorFailed, nil
	}
	e.emit(events.New(events.BatchDoctorPassed, "").WithBatch(batchID))
	return "", e.markDoctorResult(batchID, true)
}

// doctorCanary verifies the doctor command can fail at all by running it
// once with the canary variable set. A doctor that passes anyway is not
// exercising real checks.
func (e *Engine) doctorCanary(ctx context.Context, batchID int, integrationWS string, mergedTasks []string) (string, error) {
	canary := e.cfg.DoctorCanary
	if canary.Mode != config.DoctorCanaryEnable {
		return "", nil
	}
	canaryCtx := ctx
	if timeout := e.doctorTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		canaryCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := e.doctor.RunDoctor(canaryCtx, integrationWS, e.cfg.Doctor, []string{canary.EnvVar + "=1"})
	if err != nil {
		return "", nil // expected: the canary run must fail
	}
	if canary.WarnOnUnexpectedPass {
		e.emit(events.New(events.BatchDoctorFailed, "").WithBatch(batchID).
			WithPayload(map[string]any{"canary": "unexpected_pass", "warned": true}))
		return "", nil
	}
	e.emit(events.New(events.BatchDoctorFailed, "").WithBatch(batchID).
		WithPayload(map[string]any{"canary": "unexpected_pass"}))
	if reviewErr := e.reviewTasks(batchID, mergedTasks, "doctor canary passed unexpectedly"); reviewErr != nil {
		return "", reviewErr
	}
	if err := e.concludeBatch(batchID, state.BatchFailed, ""); err != nil {
		return "", err
	}
	return StopReasonIntegrationDoctorFailed, nil
}

// reviewTasks moves every given validated task to human review.
func (e *Engine) reviewTasks(batchID int, taskIDs []string, reason string) error {
	for _, id := range taskIDs {
		if e.State().Task(id).Status != state.TaskValidated {
			continue
		}
		if err := e.needsHumanReview(id, batchID, reason); err != nil {
			return err
		}
	}
	return nil
}

// concludeBatch finishes a batch in the given terminal status.
func (e *Engine) concludeBatch(batchID int, status state.BatchStatus, mergeCommit string) error {
	err := e.mutate(func(st *state.RunState) error {
		b := st.Batch(batchID)
		if err := b.Transition(status); err != nil {
			return err
		}
		b.MergeCommit = mergeCommit
		done := e.now()
		b.CompletedAt = &done
		return nil
	})
	if err != nil {
		return err
	}
	eventType := events.BatchCompleted
	if status == state.BatchFailed {
		eventType = events.BatchFailed
	}
	e.emit(events.New(eventType, "").WithBatch(batchID))
	return nil
}

func (e *Engine) markDoctorResult(batchID int, passed bool) error {
	return e.mutate(func(st *state.RunState) error {
		st.Batch(batchID).IntegrationDoctorPassed = &passed
		return nil
	})
}

// validatedTasks returns the batch's tasks currently in validated, in
// batch order.
func (e *Engine) validatedTasks(batchID int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.st.Batch(batchID)
	var out []string
	for _, id := range b.Tasks {
		if e.st.Task(id).Status == state.TaskValidated {
			out = append(out, id)
		}
	}
	return out
}

// archiveTasks rotates each completed task's catalog directory from
// active/ into the run's archive. Tasks without an active directory are
// left alone.
func (e *Engine) archiveTasks(batchID int, taskIDs []string) {
	for _, id := range taskIDs {
		m := e.catalog.Task(id)
		name := id
		if m != nil && m.Name != "" {
			name = id + "-" + paths.Slug(m.Name)
		}
		src := filepath.Join(e.cfg.TasksDir, "active", name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(e.cfg.TasksDir, "archive", "run-"+e.runID, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			continue
		}
		if err := os.Rename(src, dst); err == nil {
			e.emit(events.New(events.TaskArchived, id).WithBatch(batchID).
				WithPayload(map[string]any{"from": src, "to": dst}))
		}
	}
}

// cleanupWorkspaces removes merged tasks' worktrees and, if configured,
// their worker containers.
func (e *Engine) cleanupWorkspaces(ctx context.Context, batchID int, taskIDs []string) {
	if !e.cfg.CleanupWorkspacesOnSuccess && !e.cfg.CleanupContainersOnSuccess {
		return
	}
	for _, id := range taskIDs {
		t := e.State().Task(id)
		input := WorkerInput{
			ProjectName:   e.cfg.Project,
			RunID:         e.runID,
			TaskID:        id,
			Branch:        t.Branch,
			WorkspacePath: t.Workspace,
		}
		if e.cfg.CleanupContainersOnSuccess {
			_ = e.worker.CleanupTask(ctx, input)
		}
		if e.cfg.CleanupWorkspacesOnSuccess && t.Workspace != "" {
			if err := e.vcs.RemoveWorkspace(ctx, t.Workspace); err == nil {
				e.emit(events.New(events.WorkspaceRemoved, id).WithBatch(batchID).
					WithPayload(map[string]any{"path": t.Workspace}))
			}
		}
	}
}
