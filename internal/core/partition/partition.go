package partition

import "hash/fnv"

// Count is the fixed number of logical partitions per topic.
// Never changes after initial deployment: window state and checkpoint
// offsets are keyed by partition, so changing it invalidates every checkpoint.
const Count = 64

// For returns the partition ID for a subject.
// Stable and deterministic: the same subject always maps to the same
// partition, which is what gives the pipeline per-subject ordering.
func For(subjectID string) int {
	h := fnv.New32a()
	h.Write([]byte(subjectID))
	return int(h.Sum32()) % Count
}

// Range returns the half-open partition range [lo, hi) owned by worker
// `index` out of `workers`. Ranges are disjoint and cover all partitions,
// so no two workers ever process the same subject concurrently.
func Range(index, workers int) (lo, hi int) {
	if workers <= 0 {
		return 0, Count
	}
	per := Count / workers
	rem := Count % workers
	lo = index*per + minInt(index, rem)
	hi = lo + per
	if index < rem {
		hi++
	}
	return lo, hi
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
