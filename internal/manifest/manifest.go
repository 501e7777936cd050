// Package manifest loads and validates the precomputed task catalog the
// engine executes. Manifests are immutable within a run.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JamesPaynter/mycelium/internal/locks"
)

var (
	// ErrDuplicateTask indicates two manifests declared the same id.
	ErrDuplicateTask = errors.New("duplicate task id")

	// ErrUnknownDependency indicates a manifest references a task that is
	// not in the catalog.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDependencyCycle indicates the dependency graph is not a DAG.
	ErrDependencyCycle = errors.New("dependency cycle")
)

// TDDMode controls whether the worker is required to write failing tests
// before implementation.
type TDDMode string

const (
	TDDOff    TDDMode = "off"
	TDDStrict TDDMode = "strict"
)

// Verify holds the per-task verification commands.
type Verify struct {
	// Doctor is the full verification command; exit code 0 means pass.
	Doctor string `yaml:"doctor"`

	// Fast is an optional quick check run between attempts.
	Fast string `yaml:"fast,omitempty"`

	// Lint is an optional style check.
	Lint string `yaml:"lint,omitempty"`
}

// FileScope declares the files a task intends to read and write.
// Write entries may be doublestar globs.
type FileScope struct {
	Reads  []string `yaml:"reads,omitempty"`
	Writes []string `yaml:"writes,omitempty"`
}

// Task is a single task manifest from the catalog.
type Task struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name,omitempty"`
	Spec         string        `yaml:"spec,omitempty"`
	Dependencies []string      `yaml:"dependencies,omitempty"`
	Locks        locks.LockSet `yaml:"locks,omitempty"`
	Files        FileScope     `yaml:"files,omitempty"`
	TDDMode      TDDMode       `yaml:"tdd_mode,omitempty"`
	Verify       Verify        `yaml:"verify,omitempty"`
	TestPaths    []string      `yaml:"test_paths,omitempty"`
}

// DeclaredLocks returns the task's normalized declared lock set.
func (t *Task) DeclaredLocks() locks.LockSet {
	return locks.Normalize(t.Locks.Reads, t.Locks.Writes)
}

// Validate checks the manifest in isolation.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task manifest missing id")
	}
	switch t.TDDMode {
	case "", TDDOff, TDDStrict:
	default:
		return fmt.Errorf("task %s: invalid tdd_mode %q", t.ID, t.TDDMode)
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return fmt.Errorf("task %s depends on itself", t.ID)
		}
	}
	return nil
}

// Catalog is the full ordered set of task manifests for a run.
type Catalog struct {
	// Tasks in catalog (file name) order. This order is authoritative for
	// scheduling.
	Tasks []*Task

	byID map[string]*Task
}

// Load reads every *.yaml / *.yml manifest in tasksDir, in sorted file
// order, and validates the catalog as a whole.
func Load(tasksDir string) (*Catalog, error) {
	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		return nil, fmt.Errorf("read tasks dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	cat := &Catalog{byID: make(map[string]*Task)}
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(tasksDir, name))
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", name, err)
		}
		task := &Task{}
		if err := yaml.Unmarshal(data, task); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", name, err)
		}
		if err := task.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", name, err)
		}
		if _, dup := cat.byID[task.ID]; dup {
			return nil, fmt.Errorf("%w: %s (in %s)", ErrDuplicateTask, task.ID, name)
		}
		cat.byID[task.ID] = task
		cat.Tasks = append(cat.Tasks, task)
	}

	if err := cat.validateGraph(); err != nil {
		return nil, err
	}
	return cat, nil
}

// NewCatalog builds a catalog from in-memory tasks. Intended for tests and
// programmatic callers; applies the same validation as Load.
func NewCatalog(tasks []*Task) (*Catalog, error) {
	cat := &Catalog{byID: make(map[string]*Task)}
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := cat.byID[t.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		cat.byID[t.ID] = t
		cat.Tasks = append(cat.Tasks, t)
	}
	if err := cat.validateGraph(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Task returns the manifest for an id, or nil.
func (c *Catalog) Task(id string) *Task {
	return c.byID[id]
}

// IDs returns every task id in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.Tasks))
	for i, t := range c.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// validateGraph checks dependency references and acyclicity using Kahn's
// algorithm.
func (c *Catalog) validateGraph() error {
	inDegree := make(map[string]int, len(c.Tasks))
	dependents := make(map[string][]string)
	for _, t := range c.Tasks {
		inDegree[t.ID] += 0
		for _, dep := range t.Dependencies {
			if c.byID[dep] == nil {
				return fmt.Errorf("%w: task %s depends on %q", ErrUnknownDependency, t.ID, dep)
			}
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
		sort.Strings(queue)
	}

	if visited != len(c.Tasks) {
		var cyclic []string
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return fmt.Errorf("%w: involving %s", ErrDependencyCycle, strings.Join(cyclic, ", "))
	}
	return nil
}
