// Package paths resolves on-disk locations for run state, logs, workspaces
// and history from a single home root.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultHomeDirName is the directory created under $HOME when no explicit
// home is configured.
const DefaultHomeDirName = ".mycelium"

// Context resolves every on-disk location the engine touches.
//
// Layout under Home:
//
//	state/<project>/run-<runID>.json
//	logs/<project>/run-<runID>/orchestrator.jsonl
//	logs/<project>/run-<runID>/tasks/<taskID>-<slug>/events.jsonl
//	workspaces/<project>/run-<runID>/task-<taskID>
//	history/<project>/runs.json
//	history/<project>/tasks.json
//	history/<project>/history.db
type Context struct {
	// Home is the absolute root directory (e.g. ~/.mycelium)
	Home string

	// Project is the project name used to namespace all paths
	Project string
}

// New creates a paths context rooted at home. An empty home resolves to
// $HOME/.mycelium.
func New(home, project string) (*Context, error) {
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(userHome, DefaultHomeDirName)
	}
	abs, err := filepath.Abs(home)
	if err != nil {
		return nil, err
	}
	return &Context{Home: abs, Project: project}, nil
}

// StateDir returns the directory holding run snapshots for the project.
func (c *Context) StateDir() string {
	return filepath.Join(c.Home, "state", c.Project)
}

// StateFile returns the snapshot path for a run.
func (c *Context) StateFile(runID string) string {
	return filepath.Join(c.StateDir(), "run-"+runID+".json")
}

// RunLogDir returns the log directory for a run.
func (c *Context) RunLogDir(runID string) string {
	return filepath.Join(c.Home, "logs", c.Project, "run-"+runID)
}

// OrchestratorLog returns the controller event log path for a run.
func (c *Context) OrchestratorLog(runID string) string {
	return filepath.Join(c.RunLogDir(runID), "orchestrator.jsonl")
}

// TaskLogDir returns the per-task log directory for a run.
func (c *Context) TaskLogDir(runID, taskID, taskName string) string {
	return filepath.Join(c.RunLogDir(runID), "tasks", taskID+"-"+Slug(taskName))
}

// TaskEventsLog returns the per-task event log path.
func (c *Context) TaskEventsLog(runID, taskID, taskName string) string {
	return filepath.Join(c.TaskLogDir(runID, taskID, taskName), "events.jsonl")
}

// WorkspaceDir returns the directory holding all task workspaces for a run.
func (c *Context) WorkspaceDir(runID string) string {
	return filepath.Join(c.Home, "workspaces", c.Project, "run-"+runID)
}

// TaskWorkspace returns the worktree path for a task.
func (c *Context) TaskWorkspace(runID, taskID string) string {
	return filepath.Join(c.WorkspaceDir(runID), "task-"+taskID)
}

// IntegrationWorkspace returns the temporary worktree used for batch
// integration merges.
func (c *Context) IntegrationWorkspace(runID string) string {
	return filepath.Join(c.WorkspaceDir(runID), "integration")
}

// HistoryDir returns the history ledger directory for the project.
func (c *Context) HistoryDir() string {
	return filepath.Join(c.Home, "history", c.Project)
}

// RunIndexFile returns the JSON run index path.
func (c *Context) RunIndexFile() string {
	return filepath.Join(c.HistoryDir(), "runs.json")
}

// TaskLedgerFile returns the JSON task ledger path.
func (c *Context) TaskLedgerFile() string {
	return filepath.Join(c.HistoryDir(), "tasks.json")
}

// HistoryDB returns the sqlite ledger path.
func (c *Context) HistoryDB() string {
	return filepath.Join(c.HistoryDir(), "history.db")
}

// Slug converts a human-readable name into a filesystem- and branch-safe
// fragment: lowercase, alphanumeric runs joined by single hyphens.
func Slug(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > 48 {
		s = strings.Trim(s[:48], "-")
	}
	if s == "" {
		s = "task"
	}
	return s
}
