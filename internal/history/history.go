// Package history maintains the project's durable ledgers: a sqlite
// database of runs and merged tasks, plus JSON exports for tooling that
// reads the history directory directly.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JamesPaynter/mycelium/internal/paths"
	"github.com/JamesPaynter/mycelium/internal/state"
)

// Store wraps the sqlite ledger for one project.
type Store struct {
	conn  *sql.DB
	paths *paths.Context
}

// Open creates or opens the project history database, enabling WAL mode
// and running migrations.
func Open(pc *paths.Context) (*Store, error) {
	if err := os.MkdirAll(pc.HistoryDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	conn, err := sql.Open("sqlite", pc.HistoryDB())
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{conn: conn, paths: pc}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    project      TEXT NOT NULL,
    repo_path    TEXT NOT NULL,
    main_branch  TEXT NOT NULL,
    base_sha     TEXT NOT NULL,
    status       TEXT NOT NULL,
    started_at   DATETIME NOT NULL,
    completed_at DATETIME,
    tasks_total  INTEGER NOT NULL,
    tokens_used  INTEGER NOT NULL DEFAULT 0,
    est_cost     REAL NOT NULL DEFAULT 0,
    stop_reason  TEXT
);

CREATE TABLE IF NOT EXISTS task_merges (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    batch_id     INTEGER NOT NULL,
    merge_commit TEXT NOT NULL,
    task_id      TEXT NOT NULL,
    branch       TEXT,
    merged_at    DATETIME NOT NULL,
    UNIQUE(run_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_task_merges_commit ON task_merges(merge_commit);
`
	_, err := s.conn.Exec(schema)
	return err
}

// RecordRunStart registers a run in the index when it begins.
func (s *Store) RecordRunStart(st *state.RunState) error {
	_, err := s.conn.Exec(`
		INSERT INTO runs (run_id, project, repo_path, main_branch, base_sha,
			status, started_at, tasks_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET status = excluded.status`,
		st.RunID, st.Project, st.RepoPath, st.MainBranch, st.BaseSHA,
		string(st.Status), st.StartedAt, len(st.Tasks))
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return s.exportRuns()
}

// RecordRunEnd finalizes a run's ledger row and refreshes the JSON export.
func (s *Store) RecordRunEnd(st *state.RunState) error {
	_, err := s.conn.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, tokens_used = ?,
			est_cost = ?, stop_reason = ?
		WHERE run_id = ?`,
		string(st.Status), st.UpdatedAt, st.TokensUsed, st.EstimatedCost,
		st.StopReason, st.RunID)
	if err != nil {
		return fmt.Errorf("record run end: %w", err)
	}
	return s.exportRuns()
}

// RecordTaskMerge appends ledger rows for every task whose branch
// contributed to a fast-forwarded merge commit.
func (s *Store) RecordTaskMerge(st *state.RunState, batchID int, mergeCommit string, taskIDs []string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin merge ledger tx: %w", err)
	}
	now := time.Now().UTC()
	for _, id := range taskIDs {
		branch := ""
		if t := st.Task(id); t != nil {
			branch = t.Branch
		}
		if _, err := tx.Exec(`
			INSERT INTO task_merges (run_id, batch_id, merge_commit, task_id, branch, merged_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, task_id) DO NOTHING`,
			st.RunID, batchID, mergeCommit, id, branch, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("record task merge %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge ledger: %w", err)
	}
	return s.exportTasks()
}

// exportRuns regenerates <history>/runs.json from the runs table.
func (s *Store) exportRuns() error {
	rows, err := s.conn.Query(`
		SELECT run_id, status, started_at, completed_at, tasks_total,
			tokens_used, est_cost, stop_reason
		FROM runs ORDER BY run_id`)
	if err != nil {
		return fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var completed sql.NullTime
		var stopReason sql.NullString
		if err := rows.Scan(&r.RunID, &r.Status, &r.StartedAt, &completed,
			&r.TasksTotal, &r.TokensUsed, &r.EstimatedCost, &stopReason); err != nil {
			return fmt.Errorf("scan run row: %w", err)
		}
		if completed.Valid {
			r.CompletedAt = &completed.Time
		}
		r.StopReason = stopReason.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSON(s.paths.RunIndexFile(), out)
}

// exportTasks regenerates <history>/tasks.json from the merge ledger.
func (s *Store) exportTasks() error {
	rows, err := s.conn.Query(`
		SELECT run_id, batch_id, merge_commit, task_id, branch, merged_at
		FROM task_merges ORDER BY merged_at, task_id`)
	if err != nil {
		return fmt.Errorf("query task merges: %w", err)
	}
	defer rows.Close()

	var out []MergeRecord
	for rows.Next() {
		var m MergeRecord
		var branch sql.NullString
		if err := rows.Scan(&m.RunID, &m.BatchID, &m.MergeCommit, &m.TaskID,
			&branch, &m.MergedAt); err != nil {
			return fmt.Errorf("scan merge row: %w", err)
		}
		m.Branch = branch.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSON(s.paths.TaskLedgerFile(), out)
}

// Runs returns the run index, newest last.
func (s *Store) Runs() ([]RunRecord, error) {
	if err := s.exportRuns(); err != nil {
		return nil, err
	}
	return readRunIndex(s.paths.RunIndexFile())
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := marshalIndent(v)
	if err != nil {
		return err
	}
	return state.AtomicWriteFile(path, data, 0o644)
}
