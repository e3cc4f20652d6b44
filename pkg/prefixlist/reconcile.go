package prefixlist

import (
	"fmt"

	"github.com/newtron-network/fibopt/pkg/util"
)

// Reconcile merges a fresh candidate set into the currently persisted list and
// returns the list to persist next. It performs no I/O and never returns a
// partial result.
//
// On an empty existing list the candidates are numbered 1..n in ascending
// prefix order. Otherwise:
//   - fewer than 75% as many candidates as existing entries is rejected with
//     ShrinkTooLargeError;
//   - candidates already present keep their sequence number;
//   - new candidates take free slots in ascending order, where the free slots
//     are [1, capacity] minus every number used by existing (dropped entries
//     free their slot for the next cycle, not this one);
//   - more new candidates than free slots is rejected with
//     CapacityExceededError.
func Reconcile(existing List, candidates CandidateSet, capacity int) (List, error) {
	if capacity < 1 {
		return nil, util.NewValidationError(fmt.Sprintf("capacity must be at least 1, got %d", capacity))
	}

	ordered := candidates.Sorted()

	if len(existing) == 0 {
		if len(ordered) > capacity {
			return nil, &util.CapacityExceededError{Needed: len(ordered), Available: capacity}
		}
		out := make(List, len(ordered))
		for i, p := range ordered {
			out[i+1] = p
		}
		return out, nil
	}

	if 4*len(candidates) < 3*len(existing) {
		return nil, &util.ShrinkTooLargeError{Existing: len(existing), Candidates: len(candidates)}
	}

	index := existing.Index()
	out := make(List, len(ordered))
	var fresh []string
	for _, p := range ordered {
		// A slot outside [1, capacity] survives only if capacity was lowered;
		// such prefixes are renumbered like new ones.
		if seq, ok := index[p]; ok && seq >= 1 && seq <= capacity {
			out[seq] = p
			continue
		}
		fresh = append(fresh, p)
	}

	free := FreeSlots(existing, capacity)
	if len(fresh) > len(free) {
		return nil, &util.CapacityExceededError{Needed: len(fresh), Available: len(free)}
	}
	for i, p := range fresh {
		out[free[i]] = p
	}
	return out, nil
}

// FreeSlots returns, in ascending order, the sequence numbers in [1, capacity]
// not used by l.
func FreeSlots(l List, capacity int) []int {
	free := make([]int, 0, capacity)
	for seq := 1; seq <= capacity; seq++ {
		if _, used := l[seq]; !used {
			free = append(free, seq)
		}
	}
	return free
}
