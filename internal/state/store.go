package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/JamesPaynter/mycelium/internal/paths"
)

var (
	// ErrNotFound indicates no snapshot exists for the run.
	ErrNotFound = errors.New("run state not found")

	// ErrCorrupt indicates the snapshot exists but failed to parse or
	// violates basic schema checks.
	ErrCorrupt = errors.New("run state corrupt")

	// ErrInvalidTransition indicates a disallowed status move.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store persists RunState snapshots for a single (project, runID) pair.
// The orchestrator process is the exclusive writer.
type Store struct {
	paths *paths.Context
	runID string
	now   func() time.Time
}

// NewStore creates a store for the given run.
func NewStore(pc *paths.Context, runID string) *Store {
	return &Store{paths: pc, runID: runID, now: time.Now}
}

// SetClock overrides the wall clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.paths.StateFile(s.runID)
}

// Save atomically replaces the persisted snapshot. UpdatedAt is stamped
// just before writing.
func (s *Store) Save(st *RunState) error {
	st.UpdatedAt = s.now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	if err := AtomicWriteFile(s.Path(), data, 0o644); err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	return nil
}

// Load reads the snapshot. Returns ErrNotFound if absent and ErrCorrupt if
// the document fails to parse or lacks required identity fields.
func (s *Store) Load() (*RunState, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.Path())
		}
		return nil, fmt.Errorf("read run state: %w", err)
	}
	st := &RunState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if st.RunID == "" || st.Project == "" {
		return nil, fmt.Errorf("%w: missing run identity", ErrCorrupt)
	}
	if st.UpdatedAt.Before(st.StartedAt) {
		return nil, fmt.Errorf("%w: updated_at precedes started_at", ErrCorrupt)
	}
	return st, nil
}

// Exists reports whether a snapshot file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// FindLatestRunID scans the project state directory and returns the
// lexicographically greatest run ID, or "" if none exist. Run IDs are
// ULIDs, so lexical order matches chronological order.
func FindLatestRunID(pc *paths.Context) (string, error) {
	entries, err := os.ReadDir(pc.StateDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("scan state dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "run-"), ".json"))
	}
	if len(ids) == 0 {
		return "", nil
	}
	sort.Strings(ids)
	return ids[len(ids)-1], nil
}
