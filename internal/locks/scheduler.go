package locks

// Candidate is a ready task presented to the batch scheduler with its
// effective lock set already resolved (declared or derived).
type Candidate struct {
	ID    string
	Locks LockSet
}

// Batch is the outcome of a greedy selection pass.
type Batch struct {
	// Candidates accepted into the batch, in acceptance order.
	Candidates []Candidate

	// Locks is the union of all accepted lock sets.
	Locks LockSet
}

// TaskIDs returns the accepted task IDs in acceptance order.
func (b Batch) TaskIDs() []string {
	ids := make([]string, len(b.Candidates))
	for i, c := range b.Candidates {
		ids[i] = c.ID
	}
	return ids
}

// BuildGreedyBatch selects a maximal prefix-greedy batch from candidates.
// Input order is authoritative: candidates are considered in the order
// given, and a candidate is accepted iff its lock set does not conflict
// with any already-accepted candidate. Selection stops once maxParallel
// tasks are accepted. The unaccepted candidates are returned as remaining,
// preserving order.
func BuildGreedyBatch(candidates []Candidate, maxParallel int) (Batch, []Candidate) {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	var batch Batch
	var remaining []Candidate
	for _, cand := range candidates {
		if len(batch.Candidates) >= maxParallel {
			remaining = append(remaining, cand)
			continue
		}
		if Conflicts(cand.Locks, batch.Locks) {
			remaining = append(remaining, cand)
			continue
		}
		batch.Candidates = append(batch.Candidates, cand)
		batch.Locks = Union(batch.Locks, cand.Locks)
	}
	return batch, remaining
}
