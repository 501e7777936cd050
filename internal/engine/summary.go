package engine

import (
	"encoding/json"
	"path/filepath"

	"github.com/JamesPaynter/mycelium/internal/state"
)

// writeSummary builds the per-metric roll-up for the run and persists it
// next to the orchestrator log. Returns the summary payload for the
// run.summary event.
func (e *Engine) writeSummary() map[string]any {
	e.mu.Lock()
	st := e.st
	counts := st.CountByStatus()

	batches := make([]map[string]any, len(st.Batches))
	for i, b := range st.Batches {
		batches[i] = map[string]any{
			"id":           b.ID,
			"status":       string(b.Status),
			"tasks":        len(b.Tasks),
			"merge_commit": b.MergeCommit,
		}
	}

	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	summary := map[string]any{
		"run_id":         st.RunID,
		"status":         string(st.Status),
		"tasks_total":    len(st.Tasks),
		"tasks":          byStatus,
		"batches":        batches,
		"tokens_used":    st.TokensUsed,
		"estimated_cost": st.EstimatedCost,
		"stop_reason":    st.StopReason,
	}
	e.mu.Unlock()

	if data, err := json.MarshalIndent(summary, "", "  "); err == nil {
		path := filepath.Join(e.paths.RunLogDir(e.runID), "summary.json")
		_ = state.AtomicWriteFile(path, append(data, '\n'), 0o644)
	}
	return summary
}
