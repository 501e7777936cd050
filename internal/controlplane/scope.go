package controlplane

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/JamesPaynter/mycelium/internal/locks"
	"github.com/JamesPaynter/mycelium/internal/manifest"
)

// LockMode selects where a task's scheduling locks come from.
type LockMode string

const (
	// LockModeDeclared uses the manifest's declared lock set verbatim.
	LockModeDeclared LockMode = "declared"

	// LockModeDerived derives locks from the manifest's write paths via the
	// component model.
	LockModeDerived LockMode = "derived"
)

// Options is the control_plane section of the run config.
type Options struct {
	Enabled                 bool     `yaml:"enabled"`
	ModelPath               string   `yaml:"model_path,omitempty"`
	ComponentResourcePrefix string   `yaml:"componentResourcePrefix"`
	FallbackResource        string   `yaml:"fallbackResource"`
	LockMode                LockMode `yaml:"lockMode"`
	ScopeMode               string   `yaml:"scopeMode,omitempty"`
	Checks                  []string `yaml:"checks,omitempty"`
	SurfacePatterns         []string `yaml:"surfacePatterns,omitempty"`
	SurfaceLocksEnabled     bool     `yaml:"surfaceLocksEnabled"`
}

// ScopeReport is the derived write scope for one task.
type ScopeReport struct {
	TaskID                string        `json:"task_id"`
	DerivedWriteResources []string      `json:"derived_write_resources"`
	DerivedWritePaths     []string      `json:"derived_write_paths,omitempty"`
	DerivedLocks          locks.LockSet `json:"derived_locks"`
	Confidence            float64       `json:"confidence"`
	Notes                 []string      `json:"notes,omitempty"`
}

// DeriveTaskWriteScopeReport maps a task's declared write paths onto
// component-level resources. Paths with no owning component fall back to
// the configured fallback resource and lower the confidence score. The
// surface-lock overlay adds a shared resource for writes matching any
// surface pattern; it applies only in derived lock mode.
func DeriveTaskWriteScopeReport(task *manifest.Task, model *Model, opts Options) ScopeReport {
	report := ScopeReport{TaskID: task.ID, Confidence: 1.0}

	prefix := opts.ComponentResourcePrefix
	if prefix == "" {
		prefix = "component:"
	}
	fallback := opts.FallbackResource
	if fallback == "" {
		fallback = "repo"
	}

	resources := make(map[string]bool)
	unowned := 0
	for _, path := range task.Files.Writes {
		report.DerivedWritePaths = append(report.DerivedWritePaths, path)
		owner := ""
		if model != nil {
			owner = model.Owner(globRoot(path))
		}
		if owner == "" {
			resources[fallback] = true
			unowned++
			report.Notes = append(report.Notes,
				fmt.Sprintf("no component owns %q; using fallback resource %q", path, fallback))
			continue
		}
		resources[prefix+owner] = true
	}
	if len(task.Files.Writes) == 0 {
		resources[fallback] = true
		report.Confidence = 0
		report.Notes = append(report.Notes, "task declares no write paths; scope is unconstrained")
	} else if unowned > 0 {
		report.Confidence = 1.0 - float64(unowned)/float64(len(task.Files.Writes))
	}

	if opts.LockMode == LockModeDerived && opts.SurfaceLocksEnabled {
		for _, path := range task.Files.Writes {
			if matchesSurface(opts.SurfacePatterns, path) {
				resources["surface"] = true
				report.Notes = append(report.Notes,
					fmt.Sprintf("%q matches a surface pattern; adding shared surface lock", path))
				break
			}
		}
	}

	for r := range resources {
		report.DerivedWriteResources = append(report.DerivedWriteResources, r)
	}
	sort.Strings(report.DerivedWriteResources)
	report.DerivedLocks = locks.Normalize(report.DerivedWriteResources, report.DerivedWriteResources)
	return report
}

// TaskLocks returns the lock set to schedule a task with, per lock mode.
func TaskLocks(task *manifest.Task, model *Model, opts Options) locks.LockSet {
	if !opts.Enabled || opts.LockMode != LockModeDerived {
		return task.DeclaredLocks()
	}
	return DeriveTaskWriteScopeReport(task, model, opts).DerivedLocks
}

// globRoot strips the glob suffix of a write pattern, leaving the literal
// path prefix for ownership matching.
func globRoot(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		pattern = pattern[:i]
	}
	return pattern
}

func matchesSurface(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}
