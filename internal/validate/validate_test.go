package validate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesPaynter/mycelium/internal/manifest"
)

func verifyTask(doctor, fast, lint string) *manifest.Task {
	return &manifest.Task{
		ID:     "001",
		Verify: manifest.Verify{Doctor: doctor, Fast: fast, Lint: lint},
	}
}

func TestRunValidatorPass(t *testing.T) {
	v := NewCommandValidator()
	result, err := v.RunValidator(context.Background(), "doctor", verifyTask("true", "", ""), t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "pass", result.Status)
	assert.Equal(t, "block", result.Mode)
}

func TestRunValidatorFailCapturesOutput(t *testing.T) {
	v := NewCommandValidator()
	result, err := v.RunValidator(context.Background(), "doctor",
		verifyTask("echo boom; exit 1", "", ""), t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "fail", result.Status)
	assert.Contains(t, result.Summary, "boom")
}

func TestRunValidatorFastAndLintWarn(t *testing.T) {
	v := NewCommandValidator()
	task := verifyTask("", "exit 1", "exit 1")

	for _, kind := range []string{"fast", "lint"} {
		result, err := v.RunValidator(context.Background(), kind, task, t.TempDir())
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "warn", result.Mode)
		assert.Equal(t, "fail", result.Status)
	}
}

func TestRunValidatorMissingCommandIsDisabled(t *testing.T) {
	v := NewCommandValidator()
	result, err := v.RunValidator(context.Background(), "fast", verifyTask("true", "", ""), t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRunValidatorUnknownKind(t *testing.T) {
	v := NewCommandValidator()
	_, err := v.RunValidator(context.Background(), "mystery", verifyTask("true", "", ""), t.TempDir())
	require.Error(t, err)
}

func TestRunValidatorTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	v := NewCommandValidator()
	result, err := v.RunValidator(ctx, "doctor", verifyTask("sleep 10", "", ""), t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "timeout", result.Summary)
}

func TestShellDoctor(t *testing.T) {
	d := NewShellDoctor()
	require.NoError(t, d.RunDoctor(context.Background(), t.TempDir(), "true", nil))

	err := d.RunDoctor(context.Background(), t.TempDir(), "echo broken; exit 2", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestShellDoctorInjectsExtraEnv(t *testing.T) {
	d := NewShellDoctor()
	command := `test -z "$FORCE_FAIL"`

	require.NoError(t, d.RunDoctor(context.Background(), t.TempDir(), command, nil))
	require.Error(t, d.RunDoctor(context.Background(), t.TempDir(), command, []string{"FORCE_FAIL=1"}))
}

func TestShellDoctorTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewShellDoctor().RunDoctor(ctx, t.TempDir(), "sleep 10", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
