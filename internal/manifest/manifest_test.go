package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadReadsManifestsInFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "002-second.yaml", "id: \"002\"\nname: Second task\n")
	writeManifest(t, dir, "001-first.yaml", "id: \"001\"\nname: First task\n")
	writeManifest(t, dir, "notes.txt", "not a manifest")

	cat, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, cat.IDs())
	assert.Equal(t, "First task", cat.Task("001").Name)
}

func TestLoadParsesFullManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "001.yaml", `
id: "001"
name: Add widget store
spec: Implement the widget store per docs/widgets.md
dependencies: []
locks:
  reads: [schema]
  writes: [widgets]
files:
  writes:
    - "src/widgets/**"
tdd_mode: strict
verify:
  doctor: make test
  lint: make lint
`)

	cat, err := Load(dir)
	require.NoError(t, err)

	task := cat.Task("001")
	require.NotNil(t, task)
	assert.Equal(t, TDDStrict, task.TDDMode)
	assert.Equal(t, "make test", task.Verify.Doctor)
	assert.Equal(t, []string{"src/widgets/**"}, task.Files.Writes)

	ls := task.DeclaredLocks()
	assert.Equal(t, []string{"widgets"}, ls.Writes)
	assert.Contains(t, ls.Reads, "schema")
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "id: \"001\"\n")
	writeManifest(t, dir, "b.yaml", "id: \"001\"\n")

	_, err := Load(dir)
	require.ErrorIs(t, err, ErrDuplicateTask)
}

func TestLoadRejectsUnknownDependency(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "id: \"001\"\ndependencies: [\"999\"]\n")

	_, err := Load(dir)
	require.ErrorIs(t, err, ErrUnknownDependency)
}

func TestLoadRejectsDependencyCycle(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "id: \"001\"\ndependencies: [\"002\"]\n")
	writeManifest(t, dir, "b.yaml", "id: \"002\"\ndependencies: [\"001\"]\n")

	_, err := Load(dir)
	require.ErrorIs(t, err, ErrDependencyCycle)
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	task := &Task{ID: "001", Dependencies: []string{"001"}}
	require.Error(t, task.Validate())
}

func TestValidateRejectsBadTDDMode(t *testing.T) {
	task := &Task{ID: "001", TDDMode: "sometimes"}
	require.Error(t, task.Validate())
}

func TestNewCatalogValidatesGraph(t *testing.T) {
	_, err := NewCatalog([]*Task{
		{ID: "001", Dependencies: []string{"002"}},
		{ID: "002"},
	})
	require.NoError(t, err)

	_, err = NewCatalog([]*Task{
		{ID: "001", Dependencies: []string{"001x"}},
	})
	require.ErrorIs(t, err, ErrUnknownDependency)
}
