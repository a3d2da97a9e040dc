// Package join implements the core merge/probe algorithms the join
// operators (ops.Join, ops.OptionalJoin, ops.Minus) are built on: the
// sort-merge zipper, multi-column join, index-nested-loop join, and a
// block-wise variant usable by lazy producers. Each returns matched row
// index pairs rather than materializing output itself, so the same
// primitive serves both the materialized and lazy Compute paths.
package join

import (
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

// Pair is one matched (left row, right row) index pair. RightUnmatched is
// true only for the synthetic pairs OptionalJoin emits when a left row has
// no match (RightRow is meaningless in that case).
type Pair struct {
	LeftRow, RightRow int
	RightUnmatched bool
}

// YieldFunc receives matched pairs as they're discovered; returning false
// stops iteration early (used by LIMIT pushdown into a join).
type YieldFunc func(Pair) (cont bool)

// ZipperJoin performs the classic sort-merge join: both inputs must
// already be sorted ascending on leftCols/rightCols respectively (the same
// length, paired positionally). Equal-key runs on both sides produce the
// full Cartesian product of the runs. If mightContainUndef is false the
// merge never special-cases UNDEF; the planner selects that fast path when
// every join column is known to be always defined.
func ZipperJoin(left, right *idtable.IdTable, leftCols, rightCols []int, mightContainUndef bool, yield YieldFunc) {
	if mightContainUndef {
		zipperWithUndef(left, right, leftCols, rightCols, yield)
		return
	}
	zipperExact(left, right, leftCols, rightCols, yield)
}

func keyCompare(t *idtable.IdTable, row int, cols []int, u *idtable.IdTable, row2 int, cols2 []int) int {
	return idtable.CompareRows(t, row, cols, u, row2, cols2)
}

func rowHasUndef(t *idtable.IdTable, row int, cols []int) bool {
	for _, c := range cols {
		if t.Column(c)[row].IsUndefined() {
			return true
		}
	}
	return false
}

// zipperExact is the UNDEF-free fast path: a textbook merge join.
func zipperExact(left, right *idtable.IdTable, leftCols, rightCols []int, yield YieldFunc) {
	l, r := left.NumRows(), right.NumRows()
	i, j := 0, 0
	for i < l && j < r {
		c := keyCompare(left, i, leftCols, right, j, rightCols)
		switch {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			// Equal-key runs: find the extent of both runs, emit the
			// cross product, then advance past both.
			iEnd := i + 1
			for iEnd < l && keyCompare(left, i, leftCols, left, iEnd, leftCols) == 0 {
				iEnd++
			}
			jEnd := j + 1
			for jEnd < r && keyCompare(right, j, rightCols, right, jEnd, rightCols) == 0 {
				jEnd++
			}
			if !emitCross(i, iEnd, j, jEnd, yield) {
				return
			}
			i, j = iEnd, jEnd
		}
	}
}

func emitCross(iStart, iEnd, jStart, jEnd int, yield YieldFunc) bool {
	for a := iStart; a < iEnd; a++ {
		for b := jStart; b < jEnd; b++ {
			if !yield(Pair{LeftRow: a, RightRow: b}) {
				return false
			}
		}
	}
	return true
}

// zipperWithUndef implements the UNDEF-aware merge with a secondary
// smaller-UNDEF-ranges pass so semantics are preserved without full
// O(n^2) scans. Because inputs are
// sorted with the internal total order, UNDEF sorts as the smallest tag
// and therefore occupies a contiguous prefix run on each side once a join
// key's values are sorted; that prefix is the "smaller UNDEF range" the
// spec refers to, and it must be cross-joined against every run on the
// other side (not just the equal-key run), since an UNDEF matches any
// value. The rest of the merge proceeds as the exact algorithm.
func zipperWithUndef(left, right *idtable.IdTable, leftCols, rightCols []int, yield YieldFunc) {
	l, r := left.NumRows(), right.NumRows()

	// Sorted-prefix extents of UNDEF rows on each side (first join column
	// is enough: a row counts as "UNDEF for join purposes" here if its
	// leading join column is UNDEF, matching the single-column join cases
	// this path is reserved for; multi-column UNDEF joins route through
	// MultiColumnJoin instead, see multicolumn.go).
	leftUndefEnd := prefixUndefEnd(left, leftCols[0], l)
	rightUndefEnd := prefixUndefEnd(right, rightCols[0], r)

	// UNDEF-left rows match every right row (including right's own UNDEF
	// rows, already covered here so they are not double-counted below).
	if leftUndefEnd > 0 {
		if !emitCross(0, leftUndefEnd, 0, r, yield) {
			return
		}
	}
	// UNDEF-right rows (excluding the already-covered undef-left rows)
	// match every defined left row.
	if rightUndefEnd > 0 {
		if !emitCross(leftUndefEnd, l, 0, rightUndefEnd, yield) {
			return
		}
	}

	// Regular merge over the defined suffixes.
	i, j := leftUndefEnd, rightUndefEnd
	for i < l && j < r {
		c := keyCompare(left, i, leftCols, right, j, rightCols)
		switch {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			iEnd := i + 1
			for iEnd < l && keyCompare(left, i, leftCols, left, iEnd, leftCols) == 0 {
				iEnd++
			}
			jEnd := j + 1
			for jEnd < r && keyCompare(right, j, rightCols, right, jEnd, rightCols) == 0 {
				jEnd++
			}
			if !emitCross(i, iEnd, j, jEnd, yield) {
				return
			}
			i, j = iEnd, jEnd
		}
	}
}

func prefixUndefEnd(t *idtable.IdTable, col int, n int) int {
	data := t.Column(col)
	end := 0
	for end < n && data[end].Tag() == ids.Undefined {
		end++
	}
	return end
}
