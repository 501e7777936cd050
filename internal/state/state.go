// Package state holds the durable run-state model and its atomic,
// crash-safe snapshot store.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JamesPaynter/mycelium/internal/locks"
)

// ValidatorResult records a single validator verdict on a task.
type ValidatorResult struct {
	Kind       string `json:"kind"`
	Status     string `json:"status"` // pass|fail|error|skip
	Mode       string `json:"mode"`   // block|warn
	Summary    string `json:"summary,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
}

// AttemptUsage records token/cost usage for one worker attempt.
type AttemptUsage struct {
	Attempt       int     `json:"attempt"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// HumanReview captures why a task was handed to a human.
type HumanReview struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// TaskState tracks one task through the run.
type TaskState struct {
	ID                string            `json:"id"`
	Status            TaskStatus        `json:"status"`
	BatchID           *int              `json:"batch_id,omitempty"`
	Branch            string            `json:"branch,omitempty"`
	Workspace         string            `json:"workspace,omitempty"`
	LogsDir           string            `json:"logs_dir,omitempty"`
	Attempts          int               `json:"attempts"`
	CheckpointCommits []string          `json:"checkpoint_commits,omitempty"`
	ValidatorResults  []ValidatorResult `json:"validator_results,omitempty"`
	HumanReview       *HumanReview      `json:"human_review,omitempty"`
	TokensUsed        int64             `json:"tokens_used"`
	EstimatedCost     float64           `json:"estimated_cost"`
	UsageByAttempt    []AttemptUsage    `json:"usage_by_attempt,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// Transition moves the task to a new status, rejecting disallowed moves.
func (t *TaskState) Transition(to TaskStatus) error {
	if !CanTransitionTask(t.Status, to) {
		return fmt.Errorf("%w: task %s cannot move %s -> %s", ErrInvalidTransition, t.ID, t.Status, to)
	}
	t.Status = to
	return nil
}

// BatchState tracks one scheduled batch.
type BatchState struct {
	ID                      int           `json:"id"`
	Status                  BatchStatus   `json:"status"`
	Tasks                   []string      `json:"tasks"`
	Locks                   locks.LockSet `json:"locks"`
	MergeCommit             string        `json:"merge_commit,omitempty"`
	IntegrationDoctorPassed *bool         `json:"integration_doctor_passed,omitempty"`
	StartedAt               *time.Time    `json:"started_at,omitempty"`
	CompletedAt             *time.Time    `json:"completed_at,omitempty"`
}

// Transition moves the batch to a new status, rejecting disallowed moves.
func (b *BatchState) Transition(to BatchStatus) error {
	if !CanTransitionBatch(b.Status, to) {
		return fmt.Errorf("%w: batch %d cannot move %s -> %s", ErrInvalidTransition, b.ID, b.Status, to)
	}
	b.Status = to
	return nil
}

// ControlPlaneMeta records which control-plane snapshot informed the run.
type ControlPlaneMeta struct {
	SnapshotPath string `json:"snapshot_path,omitempty"`
	LockMode     string `json:"lock_mode,omitempty"`
	Components   int    `json:"components,omitempty"`
}

// RunState is the single durable document describing a run. It is owned by
// the controller; readers may observe stale but never torn snapshots.
type RunState struct {
	Project       string                `json:"project"`
	RunID         string                `json:"run_id"`
	RepoPath      string                `json:"repo_path"`
	MainBranch    string                `json:"main_branch"`
	BaseSHA       string                `json:"base_sha"`
	Status        RunStatus             `json:"status"`
	StartedAt     time.Time             `json:"started_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Batches       []*BatchState         `json:"batches"`
	Tasks         map[string]*TaskState `json:"tasks"`
	TokensUsed    int64                 `json:"tokens_used"`
	EstimatedCost float64               `json:"estimated_cost"`
	ControlPlane  *ControlPlaneMeta     `json:"control_plane,omitempty"`
	StopReason    string                `json:"stop_reason,omitempty"`

	// extra preserves unknown snapshot fields across load/save cycles for
	// forward compatibility.
	extra map[string]json.RawMessage
}

// runStateKnownFields lists the JSON keys the engine owns. Anything else in
// a loaded snapshot is preserved verbatim.
var runStateKnownFields = map[string]struct{}{
	"project": {}, "run_id": {}, "repo_path": {}, "main_branch": {},
	"base_sha": {}, "status": {}, "started_at": {}, "updated_at": {},
	"batches": {}, "tasks": {}, "tokens_used": {}, "estimated_cost": {},
	"control_plane": {}, "stop_reason": {},
}

// runStateAlias avoids MarshalJSON/UnmarshalJSON recursion.
type runStateAlias RunState

// MarshalJSON merges preserved unknown fields back into the snapshot.
func (s *RunState) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal((*runStateAlias)(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return base, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		if _, known := runStateKnownFields[k]; !known {
			doc[k] = v
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON captures unknown fields alongside the known shape.
func (s *RunState) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*runStateAlias)(s)); err != nil {
		return err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	for k := range doc {
		if _, known := runStateKnownFields[k]; known {
			delete(doc, k)
		}
	}
	if len(doc) > 0 {
		s.extra = doc
	}
	return nil
}

// NewRunState creates the initial snapshot for a fresh run. Every task in
// taskIDs starts pending.
func NewRunState(project, runID, repoPath, mainBranch, baseSHA string, taskIDs []string, now time.Time) *RunState {
	tasks := make(map[string]*TaskState, len(taskIDs))
	for _, id := range taskIDs {
		tasks[id] = &TaskState{ID: id, Status: TaskPending}
	}
	return &RunState{
		Project:    project,
		RunID:      runID,
		RepoPath:   repoPath,
		MainBranch: mainBranch,
		BaseSHA:    baseSHA,
		Status:     RunRunning,
		StartedAt:  now,
		UpdatedAt:  now,
		Tasks:      tasks,
	}
}

// Task returns the state for a task ID, or nil if unknown.
func (s *RunState) Task(id string) *TaskState {
	return s.Tasks[id]
}

// Batch returns the batch with the given ID, or nil.
func (s *RunState) Batch(id int) *BatchState {
	for _, b := range s.Batches {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// NextBatchID returns the next monotonic batch ID for the run.
func (s *RunState) NextBatchID() int {
	max := 0
	for _, b := range s.Batches {
		if b.ID > max {
			max = b.ID
		}
	}
	return max + 1
}

// CountByStatus returns how many tasks are in each status.
func (s *RunState) CountByStatus() map[TaskStatus]int {
	counts := make(map[TaskStatus]int)
	for _, t := range s.Tasks {
		counts[t.Status]++
	}
	return counts
}

// AllTasksTerminal reports whether every task reached a terminal status.
func (s *RunState) AllTasksTerminal() bool {
	for _, t := range s.Tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// ResetRunningTasks is the crash-recovery contract: every task found in
// running is reverted to pending with attempts preserved, and every batch
// found in running is marked failed with a synthetic completion time.
// Returns the IDs of the tasks that were reset.
func (s *RunState) ResetRunningTasks(now time.Time) []string {
	var reset []string
	for _, t := range s.Tasks {
		if t.Status == TaskRunning {
			t.Status = TaskPending
			reset = append(reset, t.ID)
		}
	}
	for _, b := range s.Batches {
		if b.Status == BatchRunning {
			b.Status = BatchFailed
			done := now
			b.CompletedAt = &done
		}
	}
	return reset
}
