package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesPaynter/mycelium/internal/engine"
	"github.com/JamesPaynter/mycelium/internal/events"
)

func writeWorkerScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func workerInput(t *testing.T) engine.WorkerInput {
	t.Helper()
	return engine.WorkerInput{
		ProjectName:   "proj",
		RunID:         "run1",
		TaskID:        "001",
		TaskName:      "Add widgets",
		Branch:        "mycelium/001-add-widgets",
		WorkspacePath: t.TempDir(),
		Attempt:       1,
	}
}

func TestRunAttemptParsesStream(t *testing.T) {
	script := writeWorkerScript(t, `
cat > envelope.json
echo '{"type":"usage","input_tokens":1200,"output_tokens":340,"cost_usd":0.012}'
echo '{"type":"checkpoint","sha":"abc123"}'
echo '{"type":"result","success":true}'
`)
	in := workerInput(t)
	result, err := NewCommandRunner(script).RunAttempt(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"abc123"}, result.CheckpointCommits)
	require.Len(t, result.Usage, 1)
	assert.Equal(t, int64(1540), result.Usage[0].Tokens())
	assert.Equal(t, 1, result.Usage[0].Attempt)

	// The envelope arrives as a single JSON line on stdin, run from the
	// task workspace.
	data, err := os.ReadFile(filepath.Join(in.WorkspacePath, "envelope.json"))
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "run", env["action"])
	assert.Equal(t, "001", env["task_id"])
	assert.Equal(t, "run1", env["run_id"])
	assert.Equal(t, float64(1), env["attempt"])
}

func TestRunAttemptFailureResult(t *testing.T) {
	script := writeWorkerScript(t,
		`echo '{"type":"result","success":false,"error":"tests failed"}'`)

	result, err := NewCommandRunner(script).RunAttempt(context.Background(), workerInput(t))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "tests failed", result.ErrorMessage)
}

func TestRunAttemptResetToPending(t *testing.T) {
	script := writeWorkerScript(t,
		`echo '{"type":"result","success":false,"reset_to_pending":true}'`)

	result, err := NewCommandRunner(script).RunAttempt(context.Background(), workerInput(t))
	require.NoError(t, err)
	assert.True(t, result.ResetToPending)
}

func TestRunAttemptRequiresResultRecord(t *testing.T) {
	script := writeWorkerScript(t, `echo '{"type":"checkpoint","sha":"abc"}'`)

	_, err := NewCommandRunner(script).RunAttempt(context.Background(), workerInput(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no result record")
}

func TestNonZeroExitToleratedAfterResult(t *testing.T) {
	script := writeWorkerScript(t, `
echo '{"type":"result","success":false,"error":"gave up"}'
exit 3
`)
	result, err := NewCommandRunner(script).RunAttempt(context.Background(), workerInput(t))
	require.NoError(t, err)
	assert.Equal(t, "gave up", result.ErrorMessage)
}

func TestPrepareAndStopNeedNoResultRecord(t *testing.T) {
	script := writeWorkerScript(t, `exit 0`)
	r := NewCommandRunner(script)

	require.NoError(t, r.Prepare(context.Background(), workerInput(t)))

	stop, err := r.Stop(context.Background(), workerInput(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stop.Stopped)
}

func TestTimeoutSurfacesContextError(t *testing.T) {
	script := writeWorkerScript(t, `sleep 10`)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewCommandRunner(script).RunAttempt(ctx, workerInput(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOutputMirroredToTaskEvents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := events.OpenLog(logPath)
	require.NoError(t, err)
	defer log.Close()

	script := writeWorkerScript(t, `
echo 'not json at all'
echo '{"type":"result","success":true}'
`)
	in := workerInput(t)
	in.TaskEvents = log

	_, err = NewCommandRunner(script).RunAttempt(context.Background(), in)
	require.NoError(t, err)

	page, err := events.ReadPage(logPath, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Lines, 2)

	ev, err := events.ParseLine([]byte(page.Lines[0]))
	require.NoError(t, err)
	assert.Equal(t, events.EventType("worker.output"), ev.Type)
	assert.Equal(t, "not json at all", ev.Payload["raw"])
}

func TestMissingCommandIsAnError(t *testing.T) {
	_, err := NewCommandRunner("").RunAttempt(context.Background(), workerInput(t))
	require.Error(t, err)
}
