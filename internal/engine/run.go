package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/JamesPaynter/mycelium/internal/controlplane"
	"github.com/JamesPaynter/mycelium/internal/events"
	"github.com/JamesPaynter/mycelium/internal/locks"
	"github.com/JamesPaynter/mycelium/internal/state"
)

// Run drives the full run lifecycle: resolve or resume state, schedule
// batches until no progress is possible, and settle the terminal status.
func (e *Engine) Run(ctx context.Context, resume bool) (state.RunStatus, error) {
	alreadyTerminal, err := e.resolveState(ctx, resume)
	if err != nil {
		return "", err
	}
	if alreadyTerminal {
		// Nothing to do and nothing to touch: a terminal run resumed again
		// must not invoke workers or write to the repository.
		return e.State().Status, nil
	}

	runFailed := false
	for {
		if e.stop.Stopped() {
			return e.handleStop(ctx)
		}

		candidates, blocked := e.readyCandidates()
		if len(candidates) == 0 {
			if !e.State().AllTasksTerminal() && len(blocked) > 0 {
				return e.pauseBlocked(blocked)
			}
			break
		}

		batch, _ := locks.BuildGreedyBatch(candidates, e.cfg.MaxParallel)
		if len(batch.Candidates) == 0 {
			break
		}
		outcome, err := e.runBatch(ctx, batch)
		if err != nil {
			return "", err
		}
		if outcome.stopReason != "" {
			if err := e.mutate(func(st *state.RunState) error {
				st.StopReason = outcome.stopReason
				return nil
			}); err != nil {
				return "", err
			}
			runFailed = true
			break
		}
	}

	return e.settle(runFailed)
}

// resolveState creates a fresh RunState or loads and repairs a persisted
// one. Returns true when the loaded run is already terminal.
func (e *Engine) resolveState(ctx context.Context, resume bool) (bool, error) {
	if resume {
		st, err := e.store.Load()
		if err != nil {
			return false, err
		}
		if st.Status.IsTerminal() {
			e.mu.Lock()
			e.st = st
			e.mu.Unlock()
			return true, nil
		}

		reset := st.ResetRunningTasks(e.now())
		for _, id := range reset {
			e.resumedFromRunning[id] = true
		}
		if st.Status == state.RunPaused {
			st.Status = state.RunRunning
		}
		st.StopReason = ""
		for id, t := range st.Tasks {
			e.tracker.Seed(id, t.TokensUsed, t.EstimatedCost)
		}

		e.mu.Lock()
		e.st = st
		err = e.checkpoint()
		e.mu.Unlock()
		if err != nil {
			return false, err
		}
		e.emit(events.New(events.RunResumed, "").
			WithPayload(map[string]any{"reset_tasks": reset}))
		return false, nil
	}

	if err := e.vcs.EnsureCleanWorkingTree(ctx); err != nil {
		return false, err
	}
	baseSHA, err := e.vcs.ResolveRunBaseSHA(ctx)
	if err != nil {
		return false, err
	}

	st := state.NewRunState(e.cfg.Project, e.runID, e.cfg.RepoPath, e.cfg.MainBranch,
		baseSHA, e.catalog.IDs(), e.now())
	if e.model != nil && e.cfg.ControlPlane.Enabled {
		st.ControlPlane = &state.ControlPlaneMeta{
			SnapshotPath: e.cfg.ControlPlane.ModelPath,
			LockMode:     string(e.cfg.ControlPlane.LockMode),
			Components:   len(e.model.Components),
		}
	}

	e.mu.Lock()
	e.st = st
	err = e.checkpoint()
	e.mu.Unlock()
	if err != nil {
		return false, err
	}
	if e.history != nil {
		_ = e.history.RecordRunStart(st)
	}
	e.emit(events.New(events.RunStarted, "").
		WithPayload(map[string]any{"run_id": e.runID, "base_sha": baseSHA, "tasks": len(st.Tasks)}))
	return false, nil
}

// blockedTask describes a pending task that cannot run because of its
// dependencies' states.
type blockedTask struct {
	taskID    string
	unmetDeps []map[string]any
}

// readyCandidates returns the pending tasks whose dependencies are all
// satisfied, in catalog order with their effective lock sets, plus the
// pending tasks blocked by a fatally-terminated dependency.
func (e *Engine) readyCandidates() ([]locks.Candidate, []blockedTask) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var candidates []locks.Candidate
	var blocked []blockedTask
	for _, m := range e.catalog.Tasks {
		t := e.st.Task(m.ID)
		if t == nil || t.Status != state.TaskPending {
			continue
		}

		ready := true
		var unmet []map[string]any
		for _, dep := range m.Dependencies {
			depState := e.st.Task(dep)
			if depState == nil || depState.Status.Satisfies() {
				continue
			}
			ready = false
			if depState.Status.Blocks() {
				unmet = append(unmet, map[string]any{
					"dep_id":         dep,
					"dep_status":     string(depState.Status),
					"dep_last_error": depState.LastError,
				})
			}
		}
		if ready {
			candidates = append(candidates, locks.Candidate{
				ID:    m.ID,
				Locks: controlplane.TaskLocks(m, e.model, e.cfg.ControlPlane),
			})
		} else if len(unmet) > 0 {
			blocked = append(blocked, blockedTask{taskID: m.ID, unmetDeps: unmet})
		}
	}
	return candidates, blocked
}

// pauseBlocked parks the run when every pending task is waiting on a
// fatally-terminated dependency. Operator intervention is required.
func (e *Engine) pauseBlocked(blocked []blockedTask) (state.RunStatus, error) {
	sort.Slice(blocked, func(i, j int) bool { return blocked[i].taskID < blocked[j].taskID })
	listing := make([]map[string]any, len(blocked))
	for i, b := range blocked {
		listing[i] = map[string]any{
			"task_id":    b.taskID,
			"unmet_deps": b.unmetDeps,
		}
	}

	err := e.mutate(func(st *state.RunState) error {
		st.Status = state.RunPaused
		st.StopReason = "blocked_dependencies"
		return nil
	})
	if err != nil {
		return "", err
	}
	e.emit(events.New(events.RunPaused, "").WithPayload(map[string]any{
		"reason":        "blocked_dependencies",
		"blocked_tasks": listing,
	}))
	e.emit(events.New(events.RunSummary, "").WithPayload(e.writeSummary()))
	return state.RunPaused, nil
}

// handleStop persists a stopped run. In-flight attempts were stopped by
// their kill watchers when container kill was requested; this reports the
// tallied outcomes.
func (e *Engine) handleStop(ctx context.Context) (state.RunStatus, error) {
	containers := "left"
	if e.stop.KillContainers() {
		containers = "stopped"
	}
	e.mu.Lock()
	stops := e.stops
	e.mu.Unlock()

	err := e.mutate(func(st *state.RunState) error {
		st.ResetRunningTasks(e.now())
		st.Status = state.RunPaused
		st.StopReason = "stopped"
		return nil
	})
	if err != nil {
		return "", err
	}
	e.emit(events.New(events.RunStopped, "").WithPayload(map[string]any{
		"stopped":    stops.Stopped,
		"errors":     stops.Errors,
		"containers": containers,
	}))
	e.emit(events.New(events.RunSummary, "").WithPayload(e.writeSummary()))
	return state.RunPaused, nil
}

// budgetExceeded evaluates token ceilings before a batch merges. In block
// mode a breach fails the run; the breaching tasks keep their accepted
// changes but are not merged.
func (e *Engine) budgetExceeded() bool {
	breaches := e.tracker.EvaluateBreaches()
	if len(breaches) == 0 {
		return false
	}
	for _, b := range breaches {
		e.emit(events.New(events.BudgetBreach, b.TaskID).WithPayload(map[string]any{
			"tokens_used": b.TokensUsed,
			"limit":       b.Limit,
			"mode":        string(b.Mode),
		}))
	}
	return e.tracker.Blocking()
}

// settle computes the terminal run status, writes the summary, and records
// the run in the history ledger.
func (e *Engine) settle(runFailed bool) (state.RunStatus, error) {
	// Task statuses are the verdict. Batch failure always strands at least
	// one task outside the success statuses, and a batch failed during crash
	// recovery must not taint a resumed run that finishes its tasks.
	final := state.RunComplete
	e.mu.Lock()
	allSucceeded := true
	for _, t := range e.st.Tasks {
		if t.Status != state.TaskComplete && t.Status != state.TaskSkipped && t.Status != state.TaskValidated {
			allSucceeded = false
		}
	}
	e.mu.Unlock()

	if runFailed || !allSucceeded {
		final = state.RunFailed
	}

	err := e.mutate(func(st *state.RunState) error {
		st.Status = final
		return nil
	})
	if err != nil {
		return "", err
	}

	summary := e.writeSummary()
	e.emit(events.New(events.RunSummary, "").WithPayload(summary))
	if final == state.RunComplete {
		e.emit(events.New(events.RunCompleted, ""))
	} else {
		e.emit(events.New(events.RunFailed, "").
			WithError(fmt.Errorf("run failed: %s", e.State().StopReason)))
	}
	if e.history != nil {
		_ = e.history.RecordRunEnd(e.State())
	}
	return final, nil
}
