package join

import (
	"sort"

	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

// IndexNestedLoopJoin is used when the left input is small, the right
// input is expensive to re-sort (typically an IndexScan), and no UNDEF
// participates in the join columns. For each left row, it
// probes a precomputed block index on the right side by join-column
// value. Output order is the left input's order; within one probe, rows
// preserve the right side's original order.
//
// probeIndex groups right row indices by their join-column key so repeated
// probes (common when the left side has duplicate keys) don't re-scan.
type probeIndex struct {
	order []int      // right rows in their original order, grouped by key
	keys  []groupKey // keys[i] describes the run order[keys[i].start:keys[i].end]
}

type groupKey struct {
	start, end int // range within order
	keyRow int // a right row in [start,end) whose key cols give the key
}

func buildProbeIndex(right *idtable.IdTable, rightCols []int) probeIndex {
	n := right.NumRows()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return idtable.CompareRows(right, order[i], rightCols, right, order[j], rightCols) < 0
	})
	var keys []groupKey
	i := 0
	for i < n {
		j := i + 1
		for j < n && idtable.CompareRows(right, order[i], rightCols, right, order[j], rightCols) == 0 {
			j++
		}
		keys = append(keys, groupKey{start: i, end: j, keyRow: order[i]})
		i = j
	}
	return probeIndex{order: order, keys: keys}
}

func (p probeIndex) find(right *idtable.IdTable, rightCols []int, left *idtable.IdTable, leftRow int, leftCols []int) (start, end int, ok bool) {
	lo, hi := 0, len(p.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		c := idtable.CompareRows(right, p.keys[mid].keyRow, rightCols, left, leftRow, leftCols)
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(p.keys) {
		return 0, 0, false
	}
	c := idtable.CompareRows(right, p.keys[lo].keyRow, rightCols, left, leftRow, leftCols)
	if c != 0 {
		return 0, 0, false
	}
	return p.keys[lo].start, p.keys[lo].end, true
}

// IndexNestedLoopJoin probes right once per left row. mightContainUndef
// callers should not use this path (the planner only selects it when no
// UNDEF participates); passing a table with UNDEF join
// values here simply fails to match them, which is correct only under that
// precondition.
func IndexNestedLoopJoin(left, right *idtable.IdTable, leftCols, rightCols []int, yield YieldFunc) {
	idx := buildProbeIndex(right, rightCols)
	for l := 0; l < left.NumRows(); l++ {
		start, end, ok := idx.find(right, rightCols, left, l, leftCols)
		if !ok {
			continue
		}
		for k := start; k < end; k++ {
			if !yield(Pair{LeftRow: l, RightRow: idx.order[k]}) {
				return
			}
		}
	}
}

// OptionalJoin implements the LEFT OUTER contract: for
// each left row, emit all matching right rows via inner; if inner finds
// none, yield is called once with RightUnmatched=true and RightRow=-1 so
// the caller can extend the left row with Undefined for every right-only
// column.
func OptionalJoin(left, right *idtable.IdTable, leftCols, rightCols []int, mightContainUndef bool, yield YieldFunc) {
	matched := make([]bool, left.NumRows())
	inner := func(p Pair) bool {
		matched[p.LeftRow] = true
		return yield(p)
	}
	ZipperJoin(left, right, leftCols, rightCols, mightContainUndef, inner)
	for l, got := range matched {
		if !got {
			if !yield(Pair{LeftRow: l, RightRow: -1, RightUnmatched: true}) {
				return
			}
		}
	}
}

// MinusKeep reports, for each left row, whether it survives a MINUS
// against right: a row is dropped iff some right row
// agrees with it on every join column using MinusEquals (UNDEF matches
// only UNDEF — a match that exists solely because both sides are UNDEF on
// every join column does NOT suppress the row). Returns a boolean slice
// indexed like left's rows.
func MinusKeep(left, right *idtable.IdTable, leftCols, rightCols []int) []bool {
	keep := make([]bool, left.NumRows())
	for i := range keep {
		keep[i] = true
	}
	for l := 0; l < left.NumRows(); l++ {
		for r := 0; r < right.NumRows(); r++ {
			if rowsMatchForMinus(left, l, leftCols, right, r, rightCols) {
				keep[l] = false
				break
			}
		}
	}
	return keep
}

// MinusKeepSorted is the sort-merge specialization of MinusKeep for the
// single-join-column case: both
// inputs sorted ascending on one column each. It walks both sides once
// instead of left.NumRows() * right.NumRows() comparisons.
func MinusKeepSorted(left, right *idtable.IdTable, leftCol, rightCol int) []bool {
	keep := make([]bool, left.NumRows())
	for i := range keep {
		keep[i] = true
	}
	lData, rData := left.Column(leftCol), right.Column(rightCol)
	i, j := 0, 0
	for i < len(lData) && j < len(rData) {
		a, b := lData[i], rData[j]
		switch {
		case a.IsUndefined() && b.IsUndefined():
			// Does not suppress; advance the smaller run without marking.
			i++
		case ids.MinusEquals(a, b):
			keep[i] = false
			i++
		case idAfterMinus(a, b):
			j++
		default:
			i++
		}
	}
	return keep
}

func idAfterMinus(a, b ids.Id) bool {
	return ids.Compare(a, b) == ids.Greater
}

func rowsMatchForMinus(left *idtable.IdTable, l int, leftCols []int, right *idtable.IdTable, r int, rightCols []int) bool {
	allUndefBoth := true
	for k := range leftCols {
		a := left.Column(leftCols[k])[l]
		b := right.Column(rightCols[k])[r]
		if !ids.MinusEquals(a, b) {
			return false
		}
		if !(a.IsUndefined() && b.IsUndefined()) {
			allUndefBoth = false
		}
	}
	// A match that holds solely because every join column is UNDEF on
	// both sides does not suppress the row.
	return !allUndefBoth
}
