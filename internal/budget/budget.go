// Package budget accumulates per-task token usage and evaluates breaches
// against the configured ceilings.
package budget

import (
	"fmt"
	"sort"
	"sync"
)

// Mode controls what happens when a task exceeds its token ceiling.
type Mode string

const (
	// ModeWarn records breaches without affecting run status.
	ModeWarn Mode = "warn"

	// ModeBlock fails the run on breach. The breaching task keeps its
	// accepted code change.
	ModeBlock Mode = "block"
)

// Limits is the budget section of the run config.
type Limits struct {
	// MaxTokensPerTask is the per-task token ceiling. Zero disables
	// budget checks entirely.
	MaxTokensPerTask int64 `yaml:"max_tokens_per_task"`

	Mode Mode `yaml:"mode"`
}

// Usage is one streamed usage update from a worker attempt.
type Usage struct {
	TaskID        string
	Attempt       int
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost float64
}

// Tokens returns the total tokens this update contributes.
func (u Usage) Tokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Breach reports one task over its ceiling.
type Breach struct {
	TaskID     string `json:"task_id"`
	TokensUsed int64  `json:"tokens_used"`
	Limit      int64  `json:"limit"`
	Mode       Mode   `json:"mode"`
}

func (b Breach) String() string {
	return fmt.Sprintf("task %s used %d tokens (limit %d, mode %s)",
		b.TaskID, b.TokensUsed, b.Limit, b.Mode)
}

// Snapshot is the accumulated usage picture at a point in time.
type Snapshot struct {
	TotalTokens   int64              `json:"total_tokens"`
	EstimatedCost float64            `json:"estimated_cost"`
	PerTask       map[string]int64   `json:"per_task"`
	PerTaskCost   map[string]float64 `json:"per_task_cost"`
}

// Tracker accumulates usage updates across concurrent worker attempts.
type Tracker struct {
	mu          sync.Mutex
	limits      Limits
	perTask     map[string]int64
	perTaskCost map[string]float64
	total       int64
	totalCost   float64
}

// NewTracker builds a Tracker with the given limits.
func NewTracker(limits Limits) *Tracker {
	if limits.Mode == "" {
		limits.Mode = ModeWarn
	}
	return &Tracker{
		limits:      limits,
		perTask:     make(map[string]int64),
		perTaskCost: make(map[string]float64),
	}
}

// Record accumulates one usage update and returns the current snapshot.
func (t *Tracker) Record(u Usage) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perTask[u.TaskID] += u.Tokens()
	t.perTaskCost[u.TaskID] += u.EstimatedCost
	t.total += u.Tokens()
	t.totalCost += u.EstimatedCost
	return t.snapshotLocked()
}

// Seed restores accumulated usage from persisted state, as on resume.
func (t *Tracker) Seed(taskID string, tokens int64, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += tokens - t.perTask[taskID]
	t.totalCost += cost - t.perTaskCost[taskID]
	t.perTask[taskID] = tokens
	t.perTaskCost[taskID] = cost
}

// Snapshot returns the current accumulated usage.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		TotalTokens:   t.total,
		EstimatedCost: t.totalCost,
		PerTask:       make(map[string]int64, len(t.perTask)),
		PerTaskCost:   make(map[string]float64, len(t.perTaskCost)),
	}
	for id, n := range t.perTask {
		snap.PerTask[id] = n
	}
	for id, c := range t.perTaskCost {
		snap.PerTaskCost[id] = c
	}
	return snap
}

// EvaluateBreaches returns every task over the configured ceiling, in task
// id order. A zero ceiling disables evaluation.
func (t *Tracker) EvaluateBreaches() []Breach {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limits.MaxTokensPerTask <= 0 {
		return nil
	}
	var breaches []Breach
	for id, used := range t.perTask {
		if used > t.limits.MaxTokensPerTask {
			breaches = append(breaches, Breach{
				TaskID:     id,
				TokensUsed: used,
				Limit:      t.limits.MaxTokensPerTask,
				Mode:       t.limits.Mode,
			})
		}
	}
	sort.Slice(breaches, func(i, j int) bool { return breaches[i].TaskID < breaches[j].TaskID })
	return breaches
}

// Blocking reports whether breaches should fail the run.
func (t *Tracker) Blocking() bool {
	return t.limits.Mode == ModeBlock
}
