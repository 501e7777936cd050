// Package engine contains the run, batch, and task engines: the controller
// that drives tasks from pending to merged while persisting every
// transition.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/JamesPaynter/mycelium/internal/budget"
	"github.com/JamesPaynter/mycelium/internal/compliance"
	"github.com/JamesPaynter/mycelium/internal/events"
	"github.com/JamesPaynter/mycelium/internal/manifest"
	"github.com/JamesPaynter/mycelium/internal/state"
)

// WorkerInput carries everything a worker needs for one task attempt.
type WorkerInput struct {
	ProjectName   string
	RunID         string
	TaskID        string
	TaskName      string
	TaskSpec      string
	Branch        string
	WorkspacePath string
	Attempt       int

	// TaskEvents receives the worker's streamed progress records.
	TaskEvents *events.Log
}

// WorkerResult is the outcome of one worker attempt.
type WorkerResult struct {
	Success bool

	// ResetToPending asks the controller to revert the task to pending
	// without counting a fatal attempt, e.g. after losing a container.
	ResetToPending bool

	ErrorMessage string

	// CheckpointCommits are in-attempt commits made on the task branch.
	CheckpointCommits []string

	// Usage is the streamed token usage collected during the attempt.
	Usage []budget.Usage
}

// StopResult summarizes a best-effort stop of in-flight workers.
type StopResult struct {
	Stopped int
	Errors  int
}

// WorkerRunner is the external collaborator that executes task attempts.
type WorkerRunner interface {
	// Prepare provisions whatever the worker needs before the first
	// attempt (containers, caches). Idempotent.
	Prepare(ctx context.Context, in WorkerInput) error

	// RunAttempt executes one fresh attempt.
	RunAttempt(ctx context.Context, in WorkerInput) (WorkerResult, error)

	// ResumeAttempt continues from the task's checkpoint commits after an
	// interrupted attempt.
	ResumeAttempt(ctx context.Context, in WorkerInput) (WorkerResult, error)

	// Stop best-effort terminates the worker for a task.
	Stop(ctx context.Context, in WorkerInput) (StopResult, error)

	// CleanupTask tears down per-task worker resources.
	CleanupTask(ctx context.Context, in WorkerInput) error
}

// ValidatorRunner runs one validator kind against a task workspace.
// A nil result means the validator is disabled for this task.
type ValidatorRunner interface {
	RunValidator(ctx context.Context, kind string, task *manifest.Task, workspace string) (*state.ValidatorResult, error)
}

// DoctorRunner executes a verification command in a directory. Exit code
// zero means pass. Used for the integration doctor and its canary.
type DoctorRunner interface {
	RunDoctor(ctx context.Context, dir, command string, extraEnv []string) error
}

// CompliancePipeline compares changed files against the declared write
// scope and decides whether rescoping is required.
type CompliancePipeline interface {
	RunForTask(task *manifest.Task, changedFiles []string, reportDir string) (compliance.Result, error)
}

// History receives terminal run and merge records for the project ledger.
// All methods are best-effort from the engine's perspective.
type History interface {
	RecordRunStart(st *state.RunState) error
	RecordRunEnd(st *state.RunState) error
	RecordTaskMerge(st *state.RunState, batchID int, mergeCommit string, taskIDs []string) error
}

// StopSignal is the user-facing cancellation handle. It is polled between
// batches and between task dispatches; in-flight tasks finish unless
// container kill was requested.
type StopSignal struct {
	mu             sync.Mutex
	stopped        bool
	killContainers bool
	kill           chan struct{}
}

// Stop sets the signal. killContainers requests WorkerRunner.Stop for each
// in-flight task and interrupts their attempts.
func (s *StopSignal) Stop(killContainers bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if killContainers && !s.killContainers {
		s.killContainers = true
		close(s.killChan())
	}
}

// killChan lazily allocates the kill notification channel. Caller holds mu.
func (s *StopSignal) killChan() chan struct{} {
	if s.kill == nil {
		s.kill = make(chan struct{})
	}
	return s.kill
}

// KillRequested returns a channel that is closed once container kill has
// been requested.
func (s *StopSignal) KillRequested() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killChan()
}

// Stopped reports whether the signal is set.
func (s *StopSignal) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// KillContainers reports whether container kill was requested.
func (s *StopSignal) KillContainers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killContainers
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time
