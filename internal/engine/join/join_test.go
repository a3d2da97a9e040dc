package join

import (
	"testing"

	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

func v(i uint64) ids.Id { return ids.FromVocabIndex(i) }

func table(t *testing.T, cols int, rows ...[]ids.Id) *idtable.IdTable {
	t.Helper()
	tbl := idtable.New(cols, nil)
	for _, r := range rows {
		if err := tbl.AppendRow(r); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	return tbl
}

func collect(pairs *[]Pair) YieldFunc {
	return func(p Pair) bool {
		*pairs = append(*pairs, p)
		return true
	}
}

func TestZipperEqualRunsCrossProduct(t *testing.T) {
	left := table(t, 1, []ids.Id{v(1)}, []ids.Id{v(2)}, []ids.Id{v(2)})
	right := table(t, 1, []ids.Id{v(2)}, []ids.Id{v(2)}, []ids.Id{v(3)})
	var pairs []Pair
	ZipperJoin(left, right, []int{0}, []int{0}, false, collect(&pairs))
	if len(pairs) != 4 {
		t.Fatalf("two left 2s x two right 2s should give 4 pairs, got %d", len(pairs))
	}
}

func TestZipperUndefMatchesEverything(t *testing.T) {
	left := table(t, 1, []ids.Id{ids.UndefinedId}, []ids.Id{v(5)})
	right := table(t, 1, []ids.Id{v(4)}, []ids.Id{v(5)}, []ids.Id{v(6)})
	var pairs []Pair
	ZipperJoin(left, right, []int{0}, []int{0}, true, collect(&pairs))
	// UNDEF matches all 3 right rows; the 5 matches once.
	if len(pairs) != 4 {
		t.Fatalf("expected 4 pairs, got %d", len(pairs))
	}
}

func TestZipperSkipsUndefPathWhenAlwaysDefined(t *testing.T) {
	// With mightContainUndef=false an UNDEF row is treated as an ordinary
	// smallest value and never matches; the planner only selects this path
	// for always-defined columns, so equality of behavior matters only for
	// defined inputs.
	left := table(t, 1, []ids.Id{v(1)}, []ids.Id{v(2)})
	right := table(t, 1, []ids.Id{v(2)})
	var fast, slow []Pair
	ZipperJoin(left, right, []int{0}, []int{0}, false, collect(&fast))
	ZipperJoin(left, right, []int{0}, []int{0}, true, collect(&slow))
	if len(fast) != len(slow) || len(fast) != 1 {
		t.Fatalf("fast and UNDEF-aware paths must agree on defined inputs: %d vs %d", len(fast), len(slow))
	}
}

func TestMultiColumnJoinUndefRows(t *testing.T) {
	left := table(t, 2,
		[]ids.Id{ids.UndefinedId, v(1)},
		[]ids.Id{v(1), v(1)},
	)
	right := table(t, 2,
		[]ids.Id{v(1), v(1)},
		[]ids.Id{v(2), v(2)},
	)
	var pairs []Pair
	MultiColumnJoin(left, right, []int{0, 1}, []int{0, 1}, true, collect(&pairs))
	// UNDEF matches per column, not per row: the (UNDEF, 1) left row
	// matches (1, 1) because its defined second column agrees, but not
	// (2, 2); the (1, 1) row matches only (1, 1).
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d: %v", len(pairs), pairs)
	}
	for _, p := range pairs {
		if p.RightRow == 1 {
			t.Fatalf("no left row may match (2, 2): %v", pairs)
		}
	}
}

func TestIndexNestedLoopMatchesZipper(t *testing.T) {
	left := table(t, 1, []ids.Id{v(2)}, []ids.Id{v(3)}, []ids.Id{v(3)})
	// Right unsorted: the probe index handles it.
	right := table(t, 2,
		[]ids.Id{v(3), v(30)},
		[]ids.Id{v(2), v(20)},
		[]ids.Id{v(3), v(31)},
	)
	var nested []Pair
	IndexNestedLoopJoin(left, right, []int{0}, []int{0}, collect(&nested))

	sortedRight := table(t, 2,
		[]ids.Id{v(2), v(20)},
		[]ids.Id{v(3), v(30)},
		[]ids.Id{v(3), v(31)},
	)
	var zipped []Pair
	ZipperJoin(left, sortedRight, []int{0}, []int{0}, false, collect(&zipped))

	if len(nested) != len(zipped) {
		t.Fatalf("nested-loop found %d pairs, zipper %d", len(nested), len(zipped))
	}
	// Nested-loop output must preserve the left input's order.
	for i := 1; i < len(nested); i++ {
		if nested[i].LeftRow < nested[i-1].LeftRow {
			t.Fatalf("nested-loop pairs out of left order: %v", nested)
		}
	}
}

func TestOptionalJoinEmitsUnmatched(t *testing.T) {
	left := table(t, 1, []ids.Id{v(1)}, []ids.Id{v(2)})
	right := table(t, 1, []ids.Id{v(2)})
	var pairs []Pair
	OptionalJoin(left, right, []int{0}, []int{0}, false, collect(&pairs))
	if len(pairs) != 2 {
		t.Fatalf("expected a match plus an unmatched marker, got %v", pairs)
	}
	unmatched := 0
	for _, p := range pairs {
		if p.RightUnmatched {
			unmatched++
			if p.LeftRow != 0 {
				t.Fatalf("wrong unmatched row: %v", p)
			}
		}
	}
	if unmatched != 1 {
		t.Fatalf("expected exactly one unmatched pair, got %d", unmatched)
	}
}

func TestMinusKeepSortedAgreesWithQuadratic(t *testing.T) {
	left := table(t, 1,
		[]ids.Id{ids.UndefinedId}, []ids.Id{v(1)}, []ids.Id{v(2)}, []ids.Id{v(3)})
	right := table(t, 1, []ids.Id{ids.UndefinedId}, []ids.Id{v(2)})

	sorted := MinusKeepSorted(left, right, 0, 0)
	quadratic := MinusKeep(left, right, []int{0}, []int{0})
	if len(sorted) != len(quadratic) {
		t.Fatalf("length mismatch")
	}
	for i := range sorted {
		if sorted[i] != quadratic[i] {
			t.Fatalf("row %d: sorted=%v quadratic=%v", i, sorted[i], quadratic[i])
		}
	}
	// UNDEF-only match keeps the row; the 2 is suppressed.
	want := []bool{true, true, false, true}
	for i := range want {
		if sorted[i] != want[i] {
			t.Fatalf("row %d: got %v, want %v", i, sorted[i], want[i])
		}
	}
}
