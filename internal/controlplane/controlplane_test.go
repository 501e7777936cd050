package controlplane

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesPaynter/mycelium/internal/manifest"
)

func testModel(t *testing.T) *Model {
	t.Helper()
	m, err := NewModel([]Component{
		{Name: "api", Paths: []string{"src/api"}, DependsOn: []string{"core"}},
		{Name: "core", Paths: []string{"src/core"}},
		{Name: "core-auth", Paths: []string{"src/core/auth"}, DependsOn: []string{"core"}},
		{Name: "web", Paths: []string{"web"}, DependsOn: []string{"api"}},
	})
	require.NoError(t, err)
	return m
}

func writeTask(writes ...string) *manifest.Task {
	task := &manifest.Task{ID: "001", Name: "Derived scope"}
	task.Files.Writes = writes
	return task
}

func TestLoadModelFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "components.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
components:
  - name: core
    paths: [src/core]
  - name: api
    paths: [src/api]
    depends_on: [core]
`), 0o644))

	m, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "api", m.Owner("src/api/server.go"))
}

func TestModelRejectsUnknownDependency(t *testing.T) {
	_, err := NewModel([]Component{{Name: "api", DependsOn: []string{"missing"}}})
	require.Error(t, err)
}

func TestOwnerPicksLongestPrefix(t *testing.T) {
	m := testModel(t)
	assert.Equal(t, "core", m.Owner("src/core/store.go"))
	assert.Equal(t, "core-auth", m.Owner("src/core/auth/token.go"))
	assert.Equal(t, "", m.Owner("docs/readme.md"))
}

func TestDependentsIsTransitiveBlastRadius(t *testing.T) {
	m := testModel(t)
	assert.Equal(t, []string{"api", "core-auth", "web"}, m.Dependents([]string{"core"}))
	assert.Empty(t, m.Dependents([]string{"web"}))
}

func TestDeriveScopeMapsWritesToComponents(t *testing.T) {
	report := DeriveTaskWriteScopeReport(writeTask("src/core/**", "src/api/handler.go"),
		testModel(t), Options{LockMode: LockModeDerived})

	assert.Equal(t, []string{"component:api", "component:core"}, report.DerivedWriteResources)
	assert.InDelta(t, 1.0, report.Confidence, 1e-9)
	assert.Equal(t, report.DerivedWriteResources, report.DerivedLocks.Writes)
}

func TestDeriveScopeFallbackLowersConfidence(t *testing.T) {
	report := DeriveTaskWriteScopeReport(writeTask("src/core/a.go", "mystery/b.go"),
		testModel(t), Options{LockMode: LockModeDerived})

	assert.Contains(t, report.DerivedWriteResources, "repo")
	assert.InDelta(t, 0.5, report.Confidence, 1e-9)
	assert.NotEmpty(t, report.Notes)
}

func TestDeriveScopeNoWritesIsUnconstrained(t *testing.T) {
	report := DeriveTaskWriteScopeReport(writeTask(), testModel(t), Options{})
	assert.Equal(t, []string{"repo"}, report.DerivedWriteResources)
	assert.Zero(t, report.Confidence)
}

func TestSurfaceOverlayOnlyInDerivedMode(t *testing.T) {
	opts := Options{
		LockMode:            LockModeDerived,
		SurfacePatterns:     []string{"src/api/**"},
		SurfaceLocksEnabled: true,
	}
	report := DeriveTaskWriteScopeReport(writeTask("src/api/handler.go"), testModel(t), opts)
	assert.Contains(t, report.DerivedWriteResources, "surface")

	opts.LockMode = LockModeDeclared
	report = DeriveTaskWriteScopeReport(writeTask("src/api/handler.go"), testModel(t), opts)
	assert.NotContains(t, report.DerivedWriteResources, "surface")
}

func TestTaskLocksHonorsLockMode(t *testing.T) {
	task := writeTask("src/core/store.go")
	task.Locks.Reads = []string{"schema"}
	task.Locks.Writes = []string{"widgets"}

	declared := TaskLocks(task, testModel(t), Options{Enabled: true, LockMode: LockModeDeclared})
	assert.Equal(t, []string{"widgets"}, declared.Writes)

	derived := TaskLocks(task, testModel(t), Options{Enabled: true, LockMode: LockModeDerived})
	assert.Equal(t, []string{"component:core"}, derived.Writes)

	disabled := TaskLocks(task, testModel(t), Options{Enabled: false, LockMode: LockModeDerived})
	assert.Equal(t, []string{"widgets"}, disabled.Writes)
}
