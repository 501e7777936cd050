package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTime() time.Time {
	return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func TestTaskTransitionGuard(t *testing.T) {
	task := &TaskState{ID: "001", Status: TaskPending}

	require.NoError(t, task.Transition(TaskRunning))
	require.NoError(t, task.Transition(TaskValidated))
	require.NoError(t, task.Transition(TaskComplete))

	err := task.Transition(TaskRunning)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, TaskComplete, task.Status)
}

func TestOnlyValidatedReachesComplete(t *testing.T) {
	task := &TaskState{ID: "001", Status: TaskRunning}
	require.ErrorIs(t, task.Transition(TaskComplete), ErrInvalidTransition)
}

func TestRescopeStatesRetryViaPending(t *testing.T) {
	for _, status := range []TaskStatus{TaskNeedsRescope, TaskRescopeRequired} {
		task := &TaskState{ID: "001", Status: status}
		require.NoError(t, task.Transition(TaskPending))
	}
}

func TestDependencyBlockedStatuses(t *testing.T) {
	assert.True(t, TaskFailed.Blocks())
	assert.True(t, TaskNeedsHumanReview.Blocks())
	assert.True(t, TaskNeedsRescope.Blocks())
	assert.True(t, TaskRescopeRequired.Blocks())
	// Skipped dependencies are satisfied, not blocked.
	assert.False(t, TaskSkipped.Blocks())
	assert.True(t, TaskSkipped.Satisfies())
}

func TestResetRunningTasksPreservesAttempts(t *testing.T) {
	st := NewRunState("proj", "run1", "/repo", "main", "abc", []string{"001", "002", "003"}, testTime())
	st.Tasks["001"].Status = TaskRunning
	st.Tasks["001"].Attempts = 2
	st.Tasks["002"].Status = TaskRunning
	st.Tasks["002"].Attempts = 1
	st.Tasks["003"].Status = TaskComplete
	st.Batches = append(st.Batches, &BatchState{ID: 1, Status: BatchRunning})

	reset := st.ResetRunningTasks(testTime())

	assert.ElementsMatch(t, []string{"001", "002"}, reset)
	assert.Equal(t, TaskPending, st.Tasks["001"].Status)
	assert.Equal(t, 2, st.Tasks["001"].Attempts)
	assert.Equal(t, TaskPending, st.Tasks["002"].Status)
	assert.Equal(t, 1, st.Tasks["002"].Attempts)
	assert.Equal(t, TaskComplete, st.Tasks["003"].Status)
	assert.Equal(t, BatchFailed, st.Batches[0].Status)
	require.NotNil(t, st.Batches[0].CompletedAt)
}

func TestUnknownFieldsSurviveRoundTrip(t *testing.T) {
	doc := []byte(`{
		"project": "proj",
		"run_id": "run1",
		"repo_path": "/repo",
		"main_branch": "main",
		"base_sha": "abc",
		"status": "running",
		"started_at": "2026-03-14T09:30:00Z",
		"updated_at": "2026-03-14T09:30:00Z",
		"batches": [],
		"tasks": {},
		"tokens_used": 0,
		"estimated_cost": 0,
		"future_field": {"nested": [1, 2, 3]}
	}`)

	var st RunState
	require.NoError(t, json.Unmarshal(doc, &st))

	out, err := json.Marshal(&st)
	require.NoError(t, err)

	var round map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &round))
	assert.JSONEq(t, `{"nested":[1,2,3]}`, string(round["future_field"]))
	assert.Equal(t, "run1", st.RunID)
}

func TestNextBatchIDIsMonotonic(t *testing.T) {
	st := NewRunState("proj", "run1", "/repo", "main", "abc", nil, testTime())
	assert.Equal(t, 1, st.NextBatchID())

	st.Batches = append(st.Batches, &BatchState{ID: 1}, &BatchState{ID: 3})
	assert.Equal(t, 4, st.NextBatchID())
}

func TestAllTasksTerminal(t *testing.T) {
	st := NewRunState("proj", "run1", "/repo", "main", "abc", []string{"001", "002"}, testTime())
	assert.False(t, st.AllTasksTerminal())

	st.Tasks["001"].Status = TaskComplete
	st.Tasks["002"].Status = TaskSkipped
	assert.True(t, st.AllTasksTerminal())
}
