package idtable

import (
	"testing"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

func TestAppendAndColumn(t *testing.T) {
	tbl := New(2, NewAllocator(0))
	rows := [][2]int64{{1, 10}, {2, 20}, {3, 30}}
	for _, r := range rows {
		if err := tbl.AppendRow([]ids.Id{ids.FromInt(r[0]), ids.FromInt(r[1])}); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	if tbl.NumRows() != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.NumRows())
	}
	col0 := tbl.Column(0)
	for i, v := range col0 {
		if v.ToInt() != rows[i][0] {
			t.Errorf("col0[%d] = %d, want %d", i, v.ToInt(), rows[i][0])
		}
	}
}

func TestViewIsZeroCopyProjection(t *testing.T) {
	tbl := New(3, NewAllocator(0))
	_ = tbl.AppendRow([]ids.Id{ids.FromInt(1), ids.FromInt(2), ids.FromInt(3)})
	v := tbl.View(2, 0)
	if v.NumColumns() != 2 {
		t.Fatalf("expected 2 columns in view")
	}
	if v.Column(0)[0].ToInt() != 3 || v.Column(1)[0].ToInt() != 1 {
		t.Errorf("view did not reorder/project columns correctly")
	}
}

func TestSortByColumns(t *testing.T) {
	tbl := New(1, NewAllocator(0))
	for _, v := range []int64{3, 1, 2} {
		_ = tbl.AppendRow([]ids.Id{ids.FromInt(v)})
	}
	SortByColumns(tbl, []int{0})
	if !IsSorted(tbl, []int{0}) {
		t.Fatalf("table not sorted after SortByColumns")
	}
	want := []int64{1, 2, 3}
	for i, v := range tbl.Column(0) {
		if v.ToInt() != want[i] {
			t.Errorf("sorted[%d] = %d, want %d", i, v.ToInt(), want[i])
		}
	}
}

func TestMemoryLimitExceeded(t *testing.T) {
	alloc := NewAllocator(128) // 16 ids.Id slots
	tbl := New(1, alloc)
	if err := tbl.AppendRow([]ids.Id{ids.FromInt(1)}); err != nil {
		t.Fatalf("first append should fit: %v", err)
	}
	// Force growth past the limit by reserving a larger final size.
	err := tbl.Reserve(1000)
	if err == nil {
		t.Fatalf("expected MemoryLimitExceeded")
	}
}

func TestAppendConcatenates(t *testing.T) {
	a := New(1, NewAllocator(0))
	b := New(1, NewAllocator(0))
	_ = a.AppendRow([]ids.Id{ids.FromInt(1)})
	_ = b.AppendRow([]ids.Id{ids.FromInt(2)})
	_ = b.AppendRow([]ids.Id{ids.FromInt(3)})
	if err := a.Append(b); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if a.NumRows() != 3 {
		t.Fatalf("expected 3 rows after append, got %d", a.NumRows())
	}
}
