// Package events defines the orchestrator's structured event records and
// the append-only JSONL logs they are written to.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Event is a single occurrence in the run lifecycle. Events are written as
// JSON lines to the run's orchestrator log and to per-task logs.
type Event struct {
	// Time is when the event occurred (set by the log on append).
	Time time.Time `json:"time"`

	// Type identifies what happened.
	Type EventType `json:"type"`

	// Task is the task ID this event relates to (empty for run/batch events).
	Task string `json:"task,omitempty"`

	// Batch is the batch ID (nil if not batch-related).
	Batch *int `json:"batch,omitempty"`

	// Attempt is the worker attempt number (nil if not attempt-related).
	Attempt *int `json:"attempt,omitempty"`

	// Payload contains event-specific data.
	Payload map[string]any `json:"payload,omitempty"`

	// Error contains the error message if this is a failure event.
	Error string `json:"error,omitempty"`
}

// EventType is a string constant identifying the event category.
type EventType string

// Run lifecycle events.
const (
	RunStarted   EventType = "run.started"
	RunResumed   EventType = "run.resumed"
	RunPaused    EventType = "run.paused"
	RunCompleted EventType = "run.completed"
	RunFailed    EventType = "run.failed"
	RunStopped   EventType = "run.stopped"
	RunSummary   EventType = "run.summary"
)

// Batch lifecycle events.
const (
	BatchStarted       EventType = "batch.started"
	BatchMergeAttempt  EventType = "batch.merge.attempt"
	BatchMergeConflict EventType = "batch.merge.conflict"
	BatchDoctorPassed  EventType = "batch.doctor.passed"
	BatchDoctorFailed  EventType = "batch.doctor.failed"
	BatchFastForwarded EventType = "batch.fast_forwarded"
	BatchCompleted     EventType = "batch.completed"
	BatchFailed        EventType = "batch.failed"
)

// Task lifecycle events.
const (
	TaskStarted         EventType = "task.started"
	TaskAttempt         EventType = "task.attempt"
	TaskReset           EventType = "task.reset"
	TaskUsage           EventType = "task.usage"
	TaskValidated       EventType = "task.validated"
	TaskValidationFail  EventType = "task.validation.fail"
	TaskCompleted       EventType = "task.completed"
	TaskFailed          EventType = "task.failed"
	TaskNeedsReview     EventType = "task.needs_review"
	TaskRescopeRequired EventType = "task.rescope_required"
	TaskArchived        EventType = "task.archived"
)

// Workspace events.
const (
	WorkspaceCreated EventType = "workspace.created"
	WorkspaceRemoved EventType = "workspace.removed"
)

// Budget events.
const (
	BudgetBreach EventType = "budget.breach"
)

// New creates an event with the given type and task.
func New(eventType EventType, task string) Event {
	return Event{Type: eventType, Task: task}
}

// WithBatch returns a copy of the event with the batch ID set.
func (e Event) WithBatch(batch int) Event {
	e.Batch = &batch
	return e
}

// WithAttempt returns a copy of the event with the attempt number set.
func (e Event) WithAttempt(attempt int) Event {
	e.Attempt = &attempt
	return e
}

// WithPayload returns a copy of the event with the payload set.
func (e Event) WithPayload(payload map[string]any) Event {
	e.Payload = payload
	return e
}

// WithError returns a copy of the event with the error message set.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsFailure reports whether this is a failure event type.
func (e Event) IsFailure() bool {
	return strings.HasSuffix(string(e.Type), ".failed") || e.Type == TaskNeedsReview
}

// String returns a compact human-readable representation.
func (e Event) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.Task != "" {
		parts = append(parts, e.Task)
	}
	if e.Batch != nil {
		parts = append(parts, fmt.Sprintf("batch=%d", *e.Batch))
	}
	if e.Attempt != nil {
		parts = append(parts, fmt.Sprintf("attempt=%d", *e.Attempt))
	}
	if e.Error != "" {
		parts = append(parts, "error="+e.Error)
	}
	return strings.Join(parts, " ")
}
