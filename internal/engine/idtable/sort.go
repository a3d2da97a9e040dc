package idtable

import (
	"sort"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

// CompareRows lexicographically compares row a of ta and row b of tb across
// the given column lists (which must be the same length), using the
// internal total order (ids.Compare, with Incomparable treated as Equal so
// that a stable, total comparator is always available for sorting —
// genuinely incomparable values are adjacent in the resulting order and
// filters, not Sort, are responsible for rejecting them).
func CompareRows(ta *IdTable, a int, colsA []int, tb *IdTable, b int, colsB []int) int {
	for i := range colsA {
		va := ta.cols[colsA[i]].data[a]
		vb := tb.cols[colsB[i]].data[b]
		switch ids.Compare(va, vb) {
		case ids.Less:
			return -1
		case ids.Greater:
			return 1
		}
	}
	return 0
}

// IsSorted reports whether t is lex-sorted ascending by the given columns,
// the invariant every operator's resultSortedOn() promises.
func IsSorted(t *IdTable, cols []int) bool {
	for r := 1; r < t.rows; r++ {
		if CompareRows(t, r-1, cols, t, r, cols) > 0 {
			return false
		}
	}
	return true
}

// SortByColumns sorts t in place, ascending, by the given columns.
func SortByColumns(t *IdTable, cols []int) {
	idx := make([]int, t.rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return CompareRows(t, idx[i], cols, t, idx[j], cols) < 0
	})
	permute(t, idx)
}

// permute reorders every column of t according to idx (idx[i] is the
// source row for destination row i).
func permute(t *IdTable, idx []int) {
	for c := range t.cols {
		src := t.cols[c].data[:t.rows]
		dst := make([]ids.Id, t.rows)
		for i, s := range idx {
			dst[i] = src[s]
		}
		t.cols[c].data = dst
	}
}
