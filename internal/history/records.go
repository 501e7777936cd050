package history

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// RunRecord is one row of the run index export.
type RunRecord struct {
	RunID         string     `json:"run_id"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	TasksTotal    int        `json:"tasks_total"`
	TokensUsed    int64      `json:"tokens_used"`
	EstimatedCost float64    `json:"estimated_cost"`
	StopReason    string     `json:"stop_reason,omitempty"`
}

// MergeRecord is one row of the task ledger export, keyed by the merge
// commit that carried the task's branch onto main.
type MergeRecord struct {
	RunID       string    `json:"run_id"`
	BatchID     int       `json:"batch_id"`
	MergeCommit string    `json:"merge_commit"`
	TaskID      string    `json:"task_id"`
	Branch      string    `json:"branch,omitempty"`
	MergedAt    time.Time `json:"merged_at"`
}

func marshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode history export: %w", err)
	}
	return append(data, '\n'), nil
}

func readRunIndex(path string) ([]RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run index: %w", err)
	}
	var out []RunRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse run index: %w", err)
	}
	return out, nil
}
