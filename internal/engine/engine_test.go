package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesPaynter/mycelium/internal/budget"
	"github.com/JamesPaynter/mycelium/internal/config"
	"github.com/JamesPaynter/mycelium/internal/engine"
	"github.com/JamesPaynter/mycelium/internal/events"
	"github.com/JamesPaynter/mycelium/internal/manifest"
	"github.com/JamesPaynter/mycelium/internal/paths"
	"github.com/JamesPaynter/mycelium/internal/state"
	"github.com/JamesPaynter/mycelium/internal/testutil"
	"github.com/JamesPaynter/mycelium/internal/vcs"
)

const testRunID = "01testrun"

type harness struct {
	cfg    *config.Config
	pc     *paths.Context
	store  *state.Store
	git    *testutil.FakeVCS
	worker *testutil.FakeWorker
	log    *events.Log
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	home := t.TempDir()
	pc, err := paths.New(home, "proj")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.RepoPath = "/repo"
	cfg.TasksDir = filepath.Join(home, "tasks")
	cfg.Home = home
	cfg.Project = "proj"

	log, err := events.OpenLog(pc.OrchestratorLog(testRunID))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	return &harness{
		cfg:    cfg,
		pc:     pc,
		store:  state.NewStore(pc, testRunID),
		git:    testutil.NewFakeVCS(),
		worker: testutil.NewFakeWorker(),
		log:    log,
	}
}

func (h *harness) engine(t *testing.T, cat *manifest.Catalog, tweak func(*engine.Options)) *engine.Engine {
	t.Helper()
	opts := engine.Options{
		Config:  h.cfg,
		Paths:   h.pc,
		Catalog: cat,
		Store:   h.store,
		Log:     h.log,
		VCS:     h.git,
		Worker:  h.worker,
		RunID:   testRunID,
	}
	if tweak != nil {
		tweak(&opts)
	}
	eng, err := engine.New(opts)
	require.NoError(t, err)
	return eng
}

func (h *harness) persist(t *testing.T, st *state.RunState) {
	t.Helper()
	require.NoError(t, h.store.Save(st))
}

func catalog(t *testing.T, tasks ...*manifest.Task) *manifest.Catalog {
	t.Helper()
	cat, err := manifest.NewCatalog(tasks)
	require.NoError(t, err)
	return cat
}

func simpleTask(id, name string, deps ...string) *manifest.Task {
	return &manifest.Task{ID: id, Name: name, Dependencies: deps}
}

func seededState(ids ...string) *state.RunState {
	return state.NewRunState("proj", testRunID, "/repo", "main", "base0", ids,
		time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
}

func TestRunCompletesBatchAndFastForwards(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"), simpleTask("002", "Second"))

	// Active catalog dirs get archived after the batch lands.
	activeDir := filepath.Join(h.cfg.TasksDir, "active", "001-first")
	require.NoError(t, os.MkdirAll(activeDir, 0o755))

	status, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.TaskComplete, st.Tasks["001"].Status)
	assert.Equal(t, state.TaskComplete, st.Tasks["002"].Status)
	require.Len(t, st.Batches, 1)
	assert.Equal(t, state.BatchComplete, st.Batches[0].Status)
	assert.Equal(t, "merge-1", st.Batches[0].MergeCommit)

	assert.Equal(t, 1, h.git.MergeCalls)
	assert.Equal(t, 1, h.git.FFCalls)
	assert.Equal(t, "merge-1", h.git.MainHead)

	// The completed task's manifest dir moved into the run archive.
	_, statErr := os.Stat(activeDir)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(h.cfg.TasksDir, "archive", "run-"+testRunID, "001-first"))
	assert.NoError(t, statErr)

	// Workspaces are removed once the batch fast-forwards.
	assert.Len(t, h.git.RemovedPaths, 2)

	// Each task's start was logged.
	page, err := events.ReadPage(h.pc.OrchestratorLog(testRunID), 0, 0)
	require.NoError(t, err)
	started := make(map[string]bool)
	for _, line := range page.Lines {
		ev, err := events.ParseLine([]byte(line))
		require.NoError(t, err)
		if ev.Type == events.TaskStarted {
			started[ev.Task] = true
		}
	}
	assert.True(t, started["001"])
	assert.True(t, started["002"])
}

func TestIntegrationDoctorFailureLeavesMainUntouched(t *testing.T) {
	h := newHarness(t)
	h.cfg.Doctor = "make test"
	cat := catalog(t, simpleTask("001", "First"), simpleTask("002", "Second"))
	doctor := &testutil.FakeDoctor{Err: errors.New("integration tests failed")}

	status, err := h.engine(t, cat, func(o *engine.Options) { o.Doctor = doctor }).
		Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, engine.StopReasonIntegrationDoctorFailed, st.StopReason)
	assert.Equal(t, state.TaskNeedsHumanReview, st.Tasks["001"].Status)
	assert.Equal(t, state.TaskNeedsHumanReview, st.Tasks["002"].Status)
	require.Len(t, st.Batches, 1)
	assert.Equal(t, state.BatchFailed, st.Batches[0].Status)
	require.NotNil(t, st.Batches[0].IntegrationDoctorPassed)
	assert.False(t, *st.Batches[0].IntegrationDoctorPassed)

	assert.Equal(t, 1, h.git.MergeCalls)
	assert.Zero(t, h.git.FFCalls)
	assert.Equal(t, "base0", h.git.MainHead)
	assert.Equal(t, 1, doctor.Calls)
}

func TestMergeConflictDropsTaskAndRetries(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"), simpleTask("002", "Second"))
	h.git.ConflictOnce[vcs.TaskBranchName(h.cfg.BranchPrefix, "002", "Second")] = true

	status, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.TaskComplete, st.Tasks["001"].Status)
	assert.Equal(t, state.TaskNeedsHumanReview, st.Tasks["002"].Status)
	assert.Contains(t, st.Tasks["002"].LastError, "merge conflict")

	// One conflicted attempt, one clean retry with the shrunken set.
	assert.Equal(t, 2, h.git.MergeCalls)
	assert.Equal(t, 1, h.git.FFCalls)
	assert.Equal(t, "merge-1", h.git.MainHead)
}

func TestResumeRunsOnlyUnfinishedTasks(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"), simpleTask("002", "Second", "001"))

	st := seededState("001", "002")
	st.Status = state.RunPaused
	st.Tasks["001"].Status = state.TaskComplete
	h.persist(t, st)

	status, err := h.engine(t, cat, nil).Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)

	assert.Zero(t, h.worker.TotalRunCalls("001"))
	assert.Equal(t, 1, h.worker.TotalRunCalls("002"))

	loaded, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.TaskComplete, loaded.Tasks["002"].Status)
}

func TestResumeOfTerminalRunTouchesNothing(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"))

	st := seededState("001")
	st.Status = state.RunComplete
	st.Tasks["001"].Status = state.TaskComplete
	h.persist(t, st)

	status, err := h.engine(t, cat, nil).Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)

	assert.Zero(t, h.worker.TotalRunCalls("001"))
	assert.Zero(t, h.git.MergeCalls)
	assert.Zero(t, h.git.FFCalls)
}

func TestCrashRecoveryResumesRunningTask(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"))

	st := seededState("001")
	st.Status = state.RunRunning
	st.Tasks["001"].Status = state.TaskRunning
	st.Tasks["001"].Attempts = 2
	st.Batches = append(st.Batches, &state.BatchState{ID: 1, Status: state.BatchRunning, Tasks: []string{"001"}})
	h.persist(t, st)

	status, err := h.engine(t, cat, nil).Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)

	// The interrupted attempt is resumed, not restarted.
	assert.Equal(t, 1, h.worker.ResumeCalls["001"])
	assert.Zero(t, h.worker.RunCalls["001"])

	loaded, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Tasks["001"].Attempts)
	// The orphaned batch was failed during recovery; a new one landed.
	assert.Equal(t, state.BatchFailed, loaded.Batches[0].Status)
	assert.Equal(t, state.BatchComplete, loaded.Batches[1].Status)
}

func TestWorkerResetToPendingRetriesWithoutPenalty(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"))
	h.worker.Queue("001", engine.WorkerResult{ResetToPending: true})

	status, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)

	assert.Equal(t, 2, h.worker.TotalRunCalls("001"))

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Tasks["001"].Attempts)
	assert.Equal(t, state.TaskComplete, st.Tasks["001"].Status)
}

func TestBlockedDependenciesPauseRun(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"), simpleTask("002", "Second", "001"))

	st := seededState("001", "002")
	st.Status = state.RunPaused
	st.Tasks["001"].Status = state.TaskRescopeRequired
	st.Tasks["001"].LastError = "write scope violation"
	h.persist(t, st)

	status, err := h.engine(t, cat, nil).Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, state.RunPaused, status)

	loaded, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "blocked_dependencies", loaded.StopReason)
	assert.Zero(t, h.worker.TotalRunCalls("002"))

	// The pause event names the blocked task and its unmet dependency.
	page, err := events.ReadPage(h.pc.OrchestratorLog(testRunID), 0, 0)
	require.NoError(t, err)
	var paused *events.Event
	for _, line := range page.Lines {
		ev, err := events.ParseLine([]byte(line))
		require.NoError(t, err)
		if ev.Type == events.RunPaused {
			paused = &ev
		}
	}
	require.NotNil(t, paused)
	assert.Equal(t, "blocked_dependencies", paused.Payload["reason"])
	blocked := paused.Payload["blocked_tasks"].([]any)
	require.Len(t, blocked, 1)
	entry := blocked[0].(map[string]any)
	assert.Equal(t, "002", entry["task_id"])
	unmet := entry["unmet_deps"].([]any)[0].(map[string]any)
	assert.Equal(t, "001", unmet["dep_id"])
	assert.Equal(t, string(state.TaskRescopeRequired), unmet["dep_status"])
	assert.Equal(t, "write scope violation", unmet["dep_last_error"])

	// Paused runs still get their roll-up report.
	_, statErr := os.Stat(filepath.Join(h.pc.RunLogDir(testRunID), "summary.json"))
	assert.NoError(t, statErr)
}

func TestRetriesExhaustedFailsTask(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxRetries = 3
	cat := catalog(t, simpleTask("001", "First"))
	h.worker.Queue("001",
		engine.WorkerResult{Success: false, ErrorMessage: "boom"},
		engine.WorkerResult{Success: false, ErrorMessage: "boom"},
		engine.WorkerResult{Success: false, ErrorMessage: "boom"})

	status, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.TaskFailed, st.Tasks["001"].Status)
	assert.Equal(t, "boom", st.Tasks["001"].LastError)
	assert.Equal(t, 3, st.Tasks["001"].Attempts)
	assert.Equal(t, 3, h.worker.TotalRunCalls("001"))
	require.NotNil(t, st.Tasks["001"].CompletedAt)
}

func TestBlockingValidatorFailureNeedsReview(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"))
	valid := &testutil.FakeValidator{Results: map[string]*state.ValidatorResult{
		"doctor": {Kind: "doctor", Mode: "block", Status: "fail", Summary: "2 tests failed"},
	}}

	status, err := h.engine(t, cat, func(o *engine.Options) { o.Validate = valid }).
		Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.TaskNeedsHumanReview, st.Tasks["001"].Status)
	assert.Contains(t, st.Tasks["001"].LastError, "2 tests failed")
	require.NotNil(t, st.Tasks["001"].HumanReview)
	// Nothing validated, so the batch never merged.
	assert.Zero(t, h.git.MergeCalls)
}

func TestWarningValidatorFailureStillCompletes(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"))
	valid := &testutil.FakeValidator{Results: map[string]*state.ValidatorResult{
		"lint": {Kind: "lint", Mode: "warn", Status: "fail", Summary: "style nits"},
	}}

	status, err := h.engine(t, cat, func(o *engine.Options) { o.Validate = valid }).
		Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.TaskComplete, st.Tasks["001"].Status)
	require.Len(t, st.Tasks["001"].ValidatorResults, 1)
	assert.Equal(t, "lint", st.Tasks["001"].ValidatorResults[0].Kind)
}

func TestBudgetBlockModeFailsRunBeforeMerge(t *testing.T) {
	h := newHarness(t)
	h.cfg.Budgets = budget.Limits{MaxTokensPerTask: 100, Mode: budget.ModeBlock}
	cat := catalog(t, simpleTask("001", "First"))
	h.worker.Queue("001", engine.WorkerResult{
		Success: true,
		Usage:   []budget.Usage{{TaskID: "001", Attempt: 1, InputTokens: 150, OutputTokens: 50}},
	})

	status, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, engine.StopReasonBudgetBreach, st.StopReason)
	// The breaching task keeps its accepted change but is never merged.
	assert.Equal(t, state.TaskValidated, st.Tasks["001"].Status)
	assert.Equal(t, int64(200), st.Tasks["001"].TokensUsed)
	assert.Equal(t, int64(200), st.TokensUsed)
	require.Len(t, st.Batches, 1)
	assert.Equal(t, state.BatchFailed, st.Batches[0].Status)
	assert.Zero(t, h.git.MergeCalls)
	assert.Zero(t, h.git.FFCalls)
	assert.Equal(t, "base0", h.git.MainHead)
}

func TestBudgetWarnModeDoesNotFailRun(t *testing.T) {
	h := newHarness(t)
	h.cfg.Budgets = budget.Limits{MaxTokensPerTask: 100, Mode: budget.ModeWarn}
	cat := catalog(t, simpleTask("001", "First"))
	h.worker.Queue("001", engine.WorkerResult{
		Success: true,
		Usage:   []budget.Usage{{TaskID: "001", Attempt: 1, InputTokens: 500}},
	})

	status, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)
}

func TestDependentTaskWaitsForItsBatch(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"), simpleTask("002", "Second", "001"))

	status, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	require.Len(t, st.Batches, 2)
	assert.Equal(t, []string{"001"}, st.Batches[0].Tasks)
	assert.Equal(t, []string{"002"}, st.Batches[1].Tasks)
	assert.Equal(t, 2, h.git.FFCalls)
	assert.Equal(t, "merge-2", h.git.MainHead)
}

func TestConflictingLocksSplitBatches(t *testing.T) {
	h := newHarness(t)
	first := simpleTask("001", "First")
	first.Locks.Writes = []string{"schema"}
	second := simpleTask("002", "Second")
	second.Locks.Writes = []string{"schema"}
	cat := catalog(t, first, second)

	status, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	require.Len(t, st.Batches, 2)
	assert.Equal(t, []string{"001"}, st.Batches[0].Tasks)
	assert.Equal(t, []string{"002"}, st.Batches[1].Tasks)
}

func TestDirtyWorkingTreeRefusesToStart(t *testing.T) {
	h := newHarness(t)
	h.git.DirtyTree = true
	cat := catalog(t, simpleTask("001", "First"))

	_, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.ErrorIs(t, err, vcs.ErrDirtyWorkingTree)
	assert.Zero(t, h.worker.TotalRunCalls("001"))
}

func TestStopSignalPausesRun(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"))
	stop := &engine.StopSignal{}
	stop.Stop(false)

	status, err := h.engine(t, cat, func(o *engine.Options) { o.Stop = stop }).
		Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunPaused, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.StopReason)
	assert.Zero(t, h.worker.TotalRunCalls("001"))

	// Stopped runs still get their roll-up report.
	_, statErr := os.Stat(filepath.Join(h.pc.RunLogDir(testRunID), "summary.json"))
	assert.NoError(t, statErr)
}

func TestStopDuringBatchSkipsMerge(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxParallel = 1
	cat := catalog(t, simpleTask("001", "First"), simpleTask("002", "Second"),
		simpleTask("003", "Third"))
	stop := &engine.StopSignal{}
	h.worker.OnAttempt = func(taskID string) {
		if taskID == "001" {
			stop.Stop(false)
		}
	}

	status, err := h.engine(t, cat, func(o *engine.Options) { o.Stop = stop }).
		Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunPaused, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.StopReason)

	// The interrupted batch never merged: main is untouched and the
	// finished task keeps its accepted change without being published.
	assert.Zero(t, h.git.MergeCalls)
	assert.Zero(t, h.git.FFCalls)
	assert.Equal(t, "base0", h.git.MainHead)
	assert.Equal(t, state.TaskValidated, st.Tasks["001"].Status)

	// The undispatched task went back to pending without a worker call.
	assert.Equal(t, state.TaskPending, st.Tasks["003"].Status)
	assert.Zero(t, h.worker.TotalRunCalls("003"))
}

func TestContainerKillStopsInFlightWorker(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"))
	stop := &engine.StopSignal{}
	h.worker.Block = map[string]bool{"001": true}
	h.worker.OnAttempt = func(taskID string) { stop.Stop(true) }

	status, err := h.engine(t, cat, func(o *engine.Options) { o.Stop = stop }).
		Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunPaused, status)

	// The in-flight worker was stopped, not left to finish.
	assert.Equal(t, 1, h.worker.StopCalls)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.StopReason)
	assert.Equal(t, state.TaskPending, st.Tasks["001"].Status)
	assert.Equal(t, 1, st.Tasks["001"].Attempts)
	assert.Zero(t, h.git.MergeCalls)
	assert.Equal(t, "base0", h.git.MainHead)

	// The stop record reports the kill outcome.
	page, err := events.ReadPage(h.pc.OrchestratorLog(testRunID), 0, 0)
	require.NoError(t, err)
	var stoppedEv *events.Event
	for _, line := range page.Lines {
		ev, err := events.ParseLine([]byte(line))
		require.NoError(t, err)
		if ev.Type == events.RunStopped {
			stoppedEv = &ev
		}
	}
	require.NotNil(t, stoppedEv)
	assert.Equal(t, "stopped", stoppedEv.Payload["containers"])
	assert.Equal(t, float64(1), stoppedEv.Payload["stopped"])
}

func TestFastForwardFailureSendsBatchToReview(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"))
	h.git.FFErr = errors.New("main moved underneath the run")

	status, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, status)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, engine.StopReasonFastForwardFailed, st.StopReason)
	assert.Equal(t, state.TaskNeedsHumanReview, st.Tasks["001"].Status)
	assert.Equal(t, "base0", h.git.MainHead)
}

func TestDoctorCanaryUnexpectedPassFailsBatch(t *testing.T) {
	h := newHarness(t)
	h.cfg.Doctor = "make test"
	h.cfg.DoctorCanary = config.DoctorCanary{
		Mode:   config.DoctorCanaryEnable,
		EnvVar: "MYCELIUM_DOCTOR_CANARY",
	}
	cat := catalog(t, simpleTask("001", "First"))
	doctor := &testutil.FakeDoctor{CanaryPasses: true}

	status, err := h.engine(t, cat, func(o *engine.Options) { o.Doctor = doctor }).
		Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, status)

	assert.Equal(t, 1, doctor.CanaryCalls)
	// The real doctor never ran: the canary verdict ended the batch.
	assert.Zero(t, doctor.Calls)
	assert.Zero(t, h.git.FFCalls)
}

func TestDoctorCanaryExpectedFailureIsTransparent(t *testing.T) {
	h := newHarness(t)
	h.cfg.Doctor = "make test"
	h.cfg.DoctorCanary = config.DoctorCanary{
		Mode:   config.DoctorCanaryEnable,
		EnvVar: "MYCELIUM_DOCTOR_CANARY",
	}
	cat := catalog(t, simpleTask("001", "First"))
	doctor := &testutil.FakeDoctor{}

	status, err := h.engine(t, cat, func(o *engine.Options) { o.Doctor = doctor }).
		Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, state.RunComplete, status)
	assert.Equal(t, 1, doctor.CanaryCalls)
	assert.Equal(t, 1, doctor.Calls)
}

func TestSummaryWrittenAtSettle(t *testing.T) {
	h := newHarness(t)
	cat := catalog(t, simpleTask("001", "First"))

	_, err := h.engine(t, cat, nil).Run(context.Background(), false)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(h.pc.RunLogDir(testRunID), "summary.json"))
	assert.NoError(t, statErr)
}
