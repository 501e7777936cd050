package state

// TaskStatus represents a task's lifecycle state.
type TaskStatus string

const (
	TaskPending          TaskStatus = "pending"
	TaskRunning          TaskStatus = "running"
	TaskValidated        TaskStatus = "validated"
	TaskComplete         TaskStatus = "complete"
	TaskFailed           TaskStatus = "failed"
	TaskNeedsHumanReview TaskStatus = "needs_human_review"
	TaskNeedsRescope     TaskStatus = "needs_rescope"
	TaskRescopeRequired  TaskStatus = "rescope_required"
	TaskSkipped          TaskStatus = "skipped"
)

// validTaskTransitions defines the allowed task status moves. Every
// transition in the engine passes through TaskState.Transition; there is no
// ad-hoc status assignment.
var validTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:          {TaskRunning, TaskSkipped},
	TaskRunning:          {TaskValidated, TaskFailed, TaskPending, TaskRescopeRequired, TaskNeedsHumanReview},
	TaskValidated:        {TaskComplete, TaskNeedsHumanReview},
	TaskComplete:         {},
	TaskFailed:           {},
	TaskNeedsHumanReview: {},
	TaskNeedsRescope:     {TaskPending},
	TaskRescopeRequired:  {TaskPending},
	TaskSkipped:          {},
}

// IsTerminal reports whether the status ends the task's participation in
// the current run.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskComplete, TaskFailed, TaskNeedsHumanReview, TaskNeedsRescope, TaskRescopeRequired, TaskSkipped:
		return true
	}
	return false
}

// IsSuccess reports whether the status counts toward run completion.
func (s TaskStatus) IsSuccess() bool {
	return s == TaskComplete || s == TaskValidated || s == TaskSkipped
}

// Blocks reports whether a dependency in this status blocks its dependents.
// A skipped dependency is treated as satisfied.
func (s TaskStatus) Blocks() bool {
	switch s {
	case TaskFailed, TaskNeedsHumanReview, TaskNeedsRescope, TaskRescopeRequired:
		return true
	}
	return false
}

// Satisfies reports whether a dependency in this status lets dependents run.
func (s TaskStatus) Satisfies() bool {
	return s == TaskComplete || s == TaskSkipped
}

// CanTransitionTask checks whether a task move from -> to is allowed.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, t := range validTaskTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// BatchStatus represents a batch's lifecycle state.
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchRunning  BatchStatus = "running"
	BatchComplete BatchStatus = "complete"
	BatchFailed   BatchStatus = "failed"
)

var validBatchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:  {BatchRunning},
	BatchRunning:  {BatchComplete, BatchFailed},
	BatchComplete: {},
	BatchFailed:   {},
}

// CanTransitionBatch checks whether a batch move from -> to is allowed.
func CanTransitionBatch(from, to BatchStatus) bool {
	for _, t := range validBatchTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// RunStatus represents the run's overall state.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunPaused   RunStatus = "paused"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// IsTerminal reports whether the run has reached a final status.
func (s RunStatus) IsTerminal() bool {
	return s == RunComplete || s == RunFailed
}
