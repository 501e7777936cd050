// Package locks implements the writer/reader lock algebra and the greedy
// batch scheduler that decides which ready tasks may execute together.
package locks

import "sort"

// LockSet is a normalized set of read and write locks. Writes imply reads,
// so Writes is always a subset of Reads.
type LockSet struct {
	Reads  []string `json:"reads" yaml:"reads"`
	Writes []string `json:"writes" yaml:"writes"`
}

// Normalize deduplicates and sorts the given reads/writes and enforces the
// write-implies-read invariant.
func Normalize(reads, writes []string) LockSet {
	w := dedupeSorted(writes)
	r := dedupeSorted(append(append([]string{}, reads...), w...))
	return LockSet{Reads: r, Writes: w}
}

// IsEmpty reports whether the set holds no locks at all.
func (l LockSet) IsEmpty() bool {
	return len(l.Reads) == 0 && len(l.Writes) == 0
}

// Conflicts reports whether two lock sets cannot run concurrently:
// a conflict exists iff one side's writes intersect the other side's
// reads or writes.
func Conflicts(a, b LockSet) bool {
	if intersects(a.Writes, b.Reads) || intersects(a.Writes, b.Writes) {
		return true
	}
	return intersects(b.Writes, a.Reads)
}

// Union merges two lock sets into a normalized set covering both.
func Union(a, b LockSet) LockSet {
	return Normalize(
		append(append([]string{}, a.Reads...), b.Reads...),
		append(append([]string{}, a.Writes...), b.Writes...),
	)
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// intersects assumes both slices are sorted.
func intersects(a, b []string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return false
}
