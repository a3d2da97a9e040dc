package join

import (
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

// MultiColumnJoin handles the case where two or more variables are shared:
// inputs must be sorted on all join columns, in the same paired order;
// otherwise the contract is identical to ZipperJoin. With several join
// columns an UNDEF may appear in any one of them independently, so
// UNDEF-bearing rows no longer occupy a contiguous sorted prefix. They are
// pulled out and probed row by row against the opposite side, matching
// only when every join column agrees under join equality (UNDEF matches
// any value in its column, defined values must be equal). The
// fully-defined subsequence on each side (still sorted, since it is an
// order-preserving subsequence of a sorted table) is merged normally.
func MultiColumnJoin(left, right *idtable.IdTable, leftCols, rightCols []int, mightContainUndef bool, yield YieldFunc) {
	if !mightContainUndef || len(leftCols) == 1 {
		ZipperJoin(left, right, leftCols, rightCols, mightContainUndef, yield)
		return
	}

	leftUndef, leftDefined := partitionByUndef(left, leftCols)
	rightUndef, rightDefined := partitionByUndef(right, rightCols)

	// UNDEF-bearing left rows match the right rows that agree on all of
	// their defined join columns.
	for _, li := range leftUndef {
		for ri := 0; ri < right.NumRows(); ri++ {
			if !rowsMatchForJoin(left, li, leftCols, right, ri, rightCols) {
				continue
			}
			if !yield(Pair{LeftRow: li, RightRow: ri}) {
				return
			}
		}
	}
	// UNDEF-bearing right rows against the defined left rows (pairs with
	// an UNDEF-bearing left row are already covered above).
	for _, ri := range rightUndef {
		for _, li := range leftDefined {
			if !rowsMatchForJoin(left, li, leftCols, right, ri, rightCols) {
				continue
			}
			if !yield(Pair{LeftRow: li, RightRow: ri}) {
				return
			}
		}
	}

	// Merge the two fully-defined, still-sorted subsequences.
	i, j := 0, 0
	for i < len(leftDefined) && j < len(rightDefined) {
		li, ri := leftDefined[i], rightDefined[j]
		c := keyCompare(left, li, leftCols, right, ri, rightCols)
		switch {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			iEnd := i + 1
			for iEnd < len(leftDefined) && keyCompare(left, leftDefined[i], leftCols, left, leftDefined[iEnd], leftCols) == 0 {
				iEnd++
			}
			jEnd := j + 1
			for jEnd < len(rightDefined) && keyCompare(right, rightDefined[j], rightCols, right, rightDefined[jEnd], rightCols) == 0 {
				jEnd++
			}
			for a := i; a < iEnd; a++ {
				for b := j; b < jEnd; b++ {
					if !yield(Pair{LeftRow: leftDefined[a], RightRow: rightDefined[b]}) {
						return
					}
				}
			}
			i, j = iEnd, jEnd
		}
	}
}

// rowsMatchForJoin applies join equality column-wise: each pair of values
// must be equal or have UNDEF on at least one side.
func rowsMatchForJoin(left *idtable.IdTable, l int, leftCols []int, right *idtable.IdTable, r int, rightCols []int) bool {
	for k := range leftCols {
		if !ids.JoinEquals(left.Column(leftCols[k])[l], right.Column(rightCols[k])[r]) {
			return false
		}
	}
	return true
}

func partitionByUndef(t *idtable.IdTable, cols []int) (undef, defined []int) {
	for r := 0; r < t.NumRows(); r++ {
		if rowHasUndef(t, r, cols) {
			undef = append(undef, r)
		} else {
			defined = append(defined, r)
		}
	}
	return
}
