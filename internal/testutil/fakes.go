// Package testutil provides stubs and fakes for exercising the engine
// without a real repository or worker.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/JamesPaynter/mycelium/internal/engine"
	"github.com/JamesPaynter/mycelium/internal/manifest"
	"github.com/JamesPaynter/mycelium/internal/state"
	"github.com/JamesPaynter/mycelium/internal/vcs"
)

// FakeVCS is an in-memory VCS: branches merge cleanly unless scripted to
// conflict, and fast-forward simply moves the recorded main head.
type FakeVCS struct {
	mu sync.Mutex

	// MainHead is the current tip of main. Starts at "base0".
	MainHead string

	// DirtyTree makes EnsureCleanWorkingTree fail.
	DirtyTree bool

	// ConflictOnce marks branches that conflict on their first merge
	// attempt only.
	ConflictOnce map[string]bool

	// Changed maps workspace path to the files its task changed.
	Changed map[string][]string

	// FFErr, if set, fails FastForwardMain.
	FFErr error

	mergeSeq     int
	MergeCalls   int
	FFCalls      int
	Workspaces   map[string]string // path -> branch
	RemovedPaths []string
}

// NewFakeVCS returns a FakeVCS with main at "base0".
func NewFakeVCS() *FakeVCS {
	return &FakeVCS{
		MainHead:     "base0",
		ConflictOnce: make(map[string]bool),
		Changed:      make(map[string][]string),
		Workspaces:   make(map[string]string),
	}
}

var _ vcs.VCS = (*FakeVCS)(nil)

func (f *FakeVCS) EnsureCleanWorkingTree(ctx context.Context) error {
	if f.DirtyTree {
		return vcs.ErrDirtyWorkingTree
	}
	return nil
}

func (f *FakeVCS) ResolveRunBaseSHA(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MainHead, nil
}

func (f *FakeVCS) HeadSHA(ctx context.Context, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MainHead, nil
}

func (f *FakeVCS) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	return true, nil
}

func (f *FakeVCS) CreateTaskWorkspace(ctx context.Context, path, branch, baseSHA string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Workspaces[path] = branch
	return nil
}

func (f *FakeVCS) RemoveWorkspace(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Workspaces, path)
	f.RemovedPaths = append(f.RemovedPaths, path)
	return nil
}

func (f *FakeVCS) ListChangedFiles(ctx context.Context, workspace, baseSHA string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if files, ok := f.Changed[workspace]; ok {
		return files, nil
	}
	return nil, nil
}

func (f *FakeVCS) MergeTaskBranches(ctx context.Context, workspace string, branches []string) (vcs.MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MergeCalls++

	result := vcs.MergeResult{}
	for _, branch := range branches {
		if f.ConflictOnce[branch] {
			delete(f.ConflictOnce, branch)
			result.Conflicted = true
			result.ConflictBranch = branch
			result.ConflictFiles = []string{"conflict.txt"}
			return result, nil
		}
		result.Merged = append(result.Merged, branch)
	}
	f.mergeSeq++
	result.MergedSHA = fmt.Sprintf("merge-%d", f.mergeSeq)
	return result, nil
}

func (f *FakeVCS) DiscardIntegration(ctx context.Context, workspace string) error {
	return nil
}

func (f *FakeVCS) FastForwardMain(ctx context.Context, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FFCalls++
	if f.FFErr != nil {
		return f.FFErr
	}
	f.MainHead = sha
	return nil
}

// FakeWorker replays scripted results per task, defaulting to success.
type FakeWorker struct {
	mu sync.Mutex

	// Script queues results per task ID, consumed one per attempt.
	Script map[string][]engine.WorkerResult

	// OnAttempt, if set, is called at the start of every attempt.
	OnAttempt func(taskID string)

	// Block marks task IDs whose attempts run until the attempt context is
	// canceled.
	Block map[string]bool

	RunCalls    map[string]int
	ResumeCalls map[string]int
	StopCalls   int
	Cleanups    []string
}

// NewFakeWorker returns a worker whose every attempt succeeds unless
// scripted otherwise.
func NewFakeWorker() *FakeWorker {
	return &FakeWorker{
		Script:      make(map[string][]engine.WorkerResult),
		RunCalls:    make(map[string]int),
		ResumeCalls: make(map[string]int),
	}
}

var _ engine.WorkerRunner = (*FakeWorker)(nil)

// Queue appends scripted results for a task.
func (w *FakeWorker) Queue(taskID string, results ...engine.WorkerResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Script[taskID] = append(w.Script[taskID], results...)
}

func (w *FakeWorker) next(taskID string) engine.WorkerResult {
	queue := w.Script[taskID]
	if len(queue) == 0 {
		return engine.WorkerResult{Success: true}
	}
	result := queue[0]
	w.Script[taskID] = queue[1:]
	return result
}

func (w *FakeWorker) Prepare(ctx context.Context, in engine.WorkerInput) error {
	return nil
}

func (w *FakeWorker) RunAttempt(ctx context.Context, in engine.WorkerInput) (engine.WorkerResult, error) {
	w.mu.Lock()
	w.RunCalls[in.TaskID]++
	result := w.next(in.TaskID)
	blocked := w.Block[in.TaskID]
	w.mu.Unlock()

	if w.OnAttempt != nil {
		w.OnAttempt(in.TaskID)
	}
	if blocked {
		<-ctx.Done()
		return engine.WorkerResult{}, ctx.Err()
	}
	return result, nil
}

func (w *FakeWorker) ResumeAttempt(ctx context.Context, in engine.WorkerInput) (engine.WorkerResult, error) {
	w.mu.Lock()
	w.ResumeCalls[in.TaskID]++
	result := w.next(in.TaskID)
	blocked := w.Block[in.TaskID]
	w.mu.Unlock()

	if w.OnAttempt != nil {
		w.OnAttempt(in.TaskID)
	}
	if blocked {
		<-ctx.Done()
		return engine.WorkerResult{}, ctx.Err()
	}
	return result, nil
}

func (w *FakeWorker) Stop(ctx context.Context, in engine.WorkerInput) (engine.StopResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.StopCalls++
	return engine.StopResult{Stopped: 1}, nil
}

func (w *FakeWorker) CleanupTask(ctx context.Context, in engine.WorkerInput) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Cleanups = append(w.Cleanups, in.TaskID)
	return nil
}

// TotalRunCalls sums RunAttempt and ResumeAttempt invocations for a task.
func (w *FakeWorker) TotalRunCalls(taskID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.RunCalls[taskID] + w.ResumeCalls[taskID]
}

// FakeValidator returns canned verdicts by validator kind.
type FakeValidator struct {
	// Results maps kind to verdict; absent kinds are disabled.
	Results map[string]*state.ValidatorResult
}

var _ engine.ValidatorRunner = (*FakeValidator)(nil)

func (v *FakeValidator) RunValidator(ctx context.Context, kind string, task *manifest.Task, workspace string) (*state.ValidatorResult, error) {
	if v.Results == nil {
		return nil, nil
	}
	return v.Results[kind], nil
}

// FakeDoctor records invocations and fails when Err is set. Canary runs
// (extra env present) fail unless CanaryPasses is set.
type FakeDoctor struct {
	mu           sync.Mutex
	Err          error
	CanaryPasses bool
	Calls        int
	CanaryCalls  int
}

var _ engine.DoctorRunner = (*FakeDoctor)(nil)

func (d *FakeDoctor) RunDoctor(ctx context.Context, dir, command string, extraEnv []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(extraEnv) > 0 {
		d.CanaryCalls++
		if d.CanaryPasses {
			return nil
		}
		return fmt.Errorf("canary run failed as expected")
	}
	d.Calls++
	return d.Err
}
