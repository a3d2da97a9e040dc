package merge

import (
	"context"
	"testing"

	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

func block(t *testing.T, vals ...uint64) *idtable.IdTable {
	t.Helper()
	tbl := idtable.New(1, nil)
	for _, v := range vals {
		if err := tbl.AppendRow([]ids.Id{ids.FromVocabIndex(v)}); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	return tbl
}

func drain(t *testing.T, s Stream) []uint64 {
	t.Helper()
	var out []uint64
	for {
		tbl, ok, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return out
		}
		for r := 0; r < tbl.NumRows(); r++ {
			out = append(out, tbl.Column(0)[r].Payload())
		}
	}
}

func TestMergeSortedPermutation(t *testing.T) {
	streams := []Stream{
		NewSliceStream(block(t, 1, 4, 7), block(t, 9, 12)),
		NewSliceStream(block(t, 2, 3), block(t, 8)),
		NewSliceStream(block(t, 5, 6, 10, 11)),
	}
	merged := Merge(context.Background(), streams, []int{0}, 4, nil, 1)
	got := drain(t, merged)

	if len(got) != 12 {
		t.Fatalf("expected 12 rows, got %d: %v", len(got), got)
	}
	// Sorted output...
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("output not sorted at %d: %v", i, got)
		}
	}
	// ...and a permutation of the inputs.
	seen := map[uint64]bool{}
	for _, v := range got {
		if seen[v] {
			t.Fatalf("duplicate value %d: %v", v, got)
		}
		seen[v] = true
	}
	for v := uint64(1); v <= 12; v++ {
		if !seen[v] {
			t.Fatalf("missing value %d: %v", v, got)
		}
	}
}

func TestMergeBlockSizeBound(t *testing.T) {
	streams := []Stream{
		NewSliceStream(block(t, 1, 3, 5, 7, 9, 11, 13, 15)),
		NewSliceStream(block(t, 2, 4, 6, 8, 10, 12, 14, 16)),
	}
	const chunk = 3
	merged := Merge(context.Background(), streams, []int{0}, chunk, nil, 1)
	for {
		tbl, ok, err := merged.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return
		}
		if tbl.NumRows() > chunk {
			t.Fatalf("block exceeds the chunk bound: %d > %d", tbl.NumRows(), chunk)
		}
	}
}

func TestMergeSingleStreamPassThrough(t *testing.T) {
	s := NewSliceStream(block(t, 1, 2, 3))
	merged := Merge(context.Background(), []Stream{s}, []int{0}, 10, nil, 1)
	got := drain(t, merged)
	if len(got) != 3 {
		t.Fatalf("expected pass-through of 3 rows, got %v", got)
	}
}

func TestMergeEmpty(t *testing.T) {
	merged := Merge(context.Background(), nil, []int{0}, 10, nil, 1)
	if got := drain(t, merged); len(got) != 0 {
		t.Fatalf("expected no rows, got %v", got)
	}
}
