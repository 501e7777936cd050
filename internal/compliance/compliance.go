// Package compliance compares the files a task actually changed against
// the write scope its manifest declared, and decides whether the task
// needs rescoping.
package compliance

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/JamesPaynter/mycelium/internal/manifest"
	"github.com/JamesPaynter/mycelium/internal/state"
)

// Policy is the enforcement level for manifest write scopes.
type Policy string

const (
	PolicyOff   Policy = "off"
	PolicyWarn  Policy = "warn"
	PolicyBlock Policy = "block"
)

// ScopeViolations counts out-of-scope writes by severity.
type ScopeViolations struct {
	WarnCount  int `json:"warnCount"`
	BlockCount int `json:"blockCount"`
}

// Rescope is the pipeline's verdict on whether the task must narrow or
// correct its declared write set.
type Rescope struct {
	Status string `json:"status"` // "none" or "required"
	Reason string `json:"reason,omitempty"`
}

// Result is what the engine consumes per task.
type Result struct {
	TaskID          string          `json:"task_id"`
	EffectivePolicy Policy          `json:"effectivePolicy"`
	Compliant       bool            `json:"compliance"`
	OutOfScope      []string        `json:"out_of_scope,omitempty"`
	ScopeViolations ScopeViolations `json:"scopeViolations"`
	Rescope         Rescope         `json:"rescope"`
	ReportPath      string          `json:"reportPath,omitempty"`
	CheckedAt       time.Time       `json:"checked_at"`
}

// Blocks reports whether this result must force the task into rescoping.
func (r Result) Blocks() bool {
	return r.EffectivePolicy == PolicyBlock && r.ScopeViolations.BlockCount > 0
}

// Pipeline evaluates changed files against declared scopes.
type Pipeline struct {
	policy Policy
	now    func() time.Time
}

// NewPipeline builds a Pipeline with the configured enforcement policy.
func NewPipeline(policy Policy) *Pipeline {
	if policy == "" {
		policy = PolicyOff
	}
	return &Pipeline{policy: policy, now: time.Now}
}

// SetClock overrides the wall clock. Intended for tests.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// RunForTask checks every changed file against the task's declared write
// globs. A task with no declared writes is treated as unconstrained. When
// reportDir is non-empty, a JSON report is written there.
func (p *Pipeline) RunForTask(task *manifest.Task, changedFiles []string, reportDir string) (Result, error) {
	result := Result{
		TaskID:          task.ID,
		EffectivePolicy: p.policy,
		Compliant:       true,
		Rescope:         Rescope{Status: "none"},
		CheckedAt:       p.now(),
	}
	if p.policy == PolicyOff || len(task.Files.Writes) == 0 {
		return p.report(result, reportDir)
	}

	for _, file := range changedFiles {
		if !matchesAny(task.Files.Writes, file) {
			result.OutOfScope = append(result.OutOfScope, file)
		}
	}
	sort.Strings(result.OutOfScope)

	if len(result.OutOfScope) > 0 {
		result.Compliant = false
		switch p.policy {
		case PolicyBlock:
			result.ScopeViolations.BlockCount = len(result.OutOfScope)
			result.Rescope = Rescope{
				Status: "required",
				Reason: fmt.Sprintf("%d file(s) outside declared write scope: %v",
					len(result.OutOfScope), result.OutOfScope),
			}
		default:
			result.ScopeViolations.WarnCount = len(result.OutOfScope)
		}
	}
	return p.report(result, reportDir)
}

func (p *Pipeline) report(result Result, reportDir string) (Result, error) {
	if reportDir == "" {
		return result, nil
	}
	path := filepath.Join(reportDir, "compliance.json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return result, fmt.Errorf("encode compliance report: %w", err)
	}
	if err := state.AtomicWriteFile(path, append(data, '\n'), 0o644); err != nil {
		return result, fmt.Errorf("write compliance report: %w", err)
	}
	result.ReportPath = path
	return result, nil
}

func matchesAny(globs []string, file string) bool {
	for _, glob := range globs {
		if ok, err := doublestar.Match(glob, file); err == nil && ok {
			return true
		}
	}
	return false
}
