// Package result defines the Result lifecycle (materialized or lazy),
// shared LocalVocab handling, and the Estimates every physical
// operator must expose to the planner.
package result

import (
	"context"
	"sync/atomic"

	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

// SortedColumns is the list of columns, in order, a result is guaranteed
// lex-sorted by. An empty (non-nil) slice means "sorted on the empty
// list", the Cartesian product's unspecified-order declaration.
type SortedColumns []int

// Block is one chunk of a lazy result: an IdTable internally sorted by the
// producing operator's SortedColumns, paired with the LocalVocab that
// gives meaning to any LocalVocabIndex ids it carries.
type Block struct {
	Table *idtable.IdTable
	Vocab *ids.LocalVocab
}

// Producer yields a single-consumption sequence of Blocks. The last row of
// block i is guaranteed <= the first row of block i+1 under the result's
// SortedColumns. Next returns (Block{}, false, nil) at end of stream.
type Producer interface {
	Next(ctx context.Context) (Block, bool, error)
	Close() error
}

// Result is either a single materialized IdTable or a lazy Producer of
// blocks. Exactly one of the two is populated, selected by Lazy.
type Result struct {
	Lazy bool

	// Materialized form.
	Table *idtable.IdTable
	Vocab *ids.LocalVocab

	// Lazy form.
	producer Producer
	consumed int32 // guard flag: 0 = unconsumed, 1 = consumed
}

// NewMaterialized wraps a table+vocab pair as a materialized Result.
func NewMaterialized(table *idtable.IdTable, vocab *ids.LocalVocab) *Result {
	return &Result{Table: table, Vocab: vocab}
}

// NewLazy wraps a Producer as a lazy Result.
func NewLazy(p Producer) *Result {
	return &Result{Lazy: true, producer: p}
}

// Next advances a lazy Result's producer. Calling it on a materialized
// Result panics — materialized results are read via Table directly.
// Calling it again after the stream has returned a final (Block{}, false,
// nil) is a programming error and panics: a lazy result is consumed at
// most once, and restarting iteration could observe a block the previous
// consumer already mutated in place.
func (r *Result) Next(ctx context.Context) (Block, bool, error) {
	if !r.Lazy {
		panic("result: Next called on a materialized Result")
	}
	if atomic.LoadInt32(&r.consumed) != 0 {
		panic("result: lazy producer consumed past its end")
	}
	blk, ok, err := r.producer.Next(ctx)
	if !ok || err != nil {
		atomic.StoreInt32(&r.consumed, 1)
	}
	return blk, ok, err
}

// Close releases the lazy producer's resources. Safe to call multiple
// times and on a materialized Result (no-op).
func (r *Result) Close() error {
	if !r.Lazy || r.producer == nil {
		return nil
	}
	return r.producer.Close()
}

// Materialize drains a lazy Result into a single IdTable+LocalVocab,
// merging each block's vocabulary into one surviving vocabulary via
// ids.MergeSmallerInto. If r is already materialized, it is returned
// as-is (not consumed).
func Materialize(ctx context.Context, r *Result, numCols int, alloc func() *idtable.IdTable) (*idtable.IdTable, *ids.LocalVocab, error) {
	if !r.Lazy {
		return r.Table, r.Vocab, nil
	}
	out := alloc()
	vocab := ids.NewLocalVocab()
	for {
		blk, ok, err := r.Next(ctx)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		survivor, remapAccumulated, remapBlock := ids.MergeSmallerInto(vocab, blk.Vocab)
		vocab = survivor
		// When the incoming block's vocabulary survives the merge, the
		// rows already accumulated refer to the merged-away vocabulary and
		// must be remapped too.
		remapInPlace(out, remapAccumulated)
		if err := appendRemapped(out, blk.Table, remapBlock); err != nil {
			return nil, nil, err
		}
	}
	return out, vocab, nil
}

func remapInPlace(t *idtable.IdTable, remap func(ids.Id) ids.Id) {
	for c := 0; c < t.NumColumns(); c++ {
		col := t.Column(c)
		for r := range col {
			if col[r].Tag() == ids.LocalVocabIndex {
				col[r] = remap(col[r])
			}
		}
	}
}

func appendRemapped(dst, src *idtable.IdTable, remap func(ids.Id) ids.Id) error {
	// Fast path: no remapping needed for most rows (local vocab ids are
	// rare outside BIND/VALUES/aggregate columns), but we must still scan
	// every cell because we can't tell which columns carry LocalVocabIndex
	// values without per-row inspection.
	n := src.NumRows()
	if n == 0 {
		return nil
	}
	for r := 0; r < n; r++ {
		row := src.Row(r)
		for i, v := range row {
			row[i] = remap(v)
		}
		if err := dst.AppendRow(row); err != nil {
			return err
		}
	}
	return nil
}

