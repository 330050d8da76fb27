package storage

import "fmt"

// Journal key schema:
//
//	stl:<unix-nanos>:<seq>  → settlement.Entry (JSON)
//	cyc:<cycle>             → CycleRecord (JSON)
//
// Numbers are zero-padded so lexicographic order is chronological.
const (
	prefixSettlement = "stl:"
	prefixCycle      = "cyc:"
)

// settlementKey returns the key for a settlement outcome
// Format: "stl:{unixNanos}:{seq}"
func settlementKey(unixNanos int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%010d", prefixSettlement, unixNanos, seq))
}

// cycleKey returns the key for a cycle summary
// Format: "cyc:{cycle}"
func cycleKey(cycle uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixCycle, cycle))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
