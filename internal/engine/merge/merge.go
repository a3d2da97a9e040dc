// Package merge implements the parallel multiway merge: a recursive
// binary merge tree over sorted block
// streams, one worker goroutine per binary-merge node, each reading from
// its children's block streams and writing into a bounded (capacity-one)
// queue consumed by its parent. This yields pipelined parallelism without
// any shared mutable state beyond the queues themselves.
//
// golang.org/x/sync/errgroup provides structured goroutine lifetime and
// first-error propagation for the worker tree.
package merge

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

// Stream is one sorted input to the merge: a single-consumption sequence
// of IdTable blocks, each internally sorted ascending by Cols, with the
// last row of block i <= the first row of block i+1.
type Stream interface {
	Next(ctx context.Context) (*idtable.IdTable, bool, error)
}

// sliceStream adapts a pre-materialized slice of blocks into a Stream, for
// tests and for merge leaves fed by already-computed child tables.
type sliceStream struct {
	blocks []*idtable.IdTable
	i int
}

func NewSliceStream(blocks ...*idtable.IdTable) Stream { return &sliceStream{blocks: blocks} }

func (s *sliceStream) Next(ctx context.Context) (*idtable.IdTable, bool, error) {
	if s.i >= len(s.blocks) {
		return nil, false, nil
	}
	b := s.blocks[s.i]
	s.i++
	return b, true, nil
}

// Merge runs a parallel multiway merge of streams, sorted by cols, and
// returns a Stream of merged blocks each holding at most chunkSize rows.
// For 0 or 1 input streams this degenerates to a pass-through (0 streams:
// immediately-exhausted; 1 stream: returned as-is). For >=2 streams it
// recursively builds a binary tree of merge workers: each internal node
// spawns a goroutine (via an errgroup.Group, so any worker's error cancels
// the whole tree) that reads one block from each child via a
// capacity-one channel and writes merged blocks into its own
// capacity-one output channel, bounding the total rows any single node
// holds at any time to O(chunkSize) per level regardless of input size —
// the bounded-memory property the merge guarantees.
func Merge(ctx context.Context, streams []Stream, cols []int, chunkSize int, alloc *idtable.Allocator, numCols int) Stream {
	switch len(streams) {
	case 0:
		return NewSliceStream()
	case 1:
		return streams[0]
	}
	mid := len(streams) / 2
	left := Merge(ctx, streams[:mid], cols, chunkSize, alloc, numCols)
	right := Merge(ctx, streams[mid:], cols, chunkSize, alloc, numCols)
	return newBinaryMergeNode(ctx, left, right, cols, chunkSize, alloc, numCols)
}

// binaryMergeNode is one worker of the merge tree.
type binaryMergeNode struct {
	out chan mergedBlock
	done chan struct{}
	doneGroupWait func() error
}

type mergedBlock struct {
	table *idtable.IdTable
	err error
}

func newBinaryMergeNode(ctx context.Context, left, right Stream, cols []int, chunkSize int, alloc *idtable.Allocator, numCols int) *binaryMergeNode {
	node := &binaryMergeNode{
		out:  make(chan mergedBlock, 1), // bounded: capacity one block
		done: make(chan struct{}),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(node.out)
		return runMergeWorker(gctx, left, right, cols, chunkSize, alloc, numCols, node.out, node.done)
	})
	// The errgroup's lifetime is tied to this node; we intentionally do
	// not call g.Wait() here (that would block construction) — the
	// worker goroutine's own completion closes node.out, which is the
	// signal its consumer (the parent node, or Next's caller) observes.
	// Wait is invoked lazily by Close via the stored group below.
	node.doneGroupWait = g.Wait
	return node
}

func runMergeWorker(ctx context.Context, left, right Stream, cols []int, chunkSize int, alloc *idtable.Allocator, numCols int, out chan<- mergedBlock, done <-chan struct{}) error {
	lw := &blockWindow{stream: left}
	rw := &blockWindow{stream: right}
	for {
		select {
		case <-done:
			return nil
		default:
		}
		out2 := idtable.New(numCols, alloc)
		emitted := 0
		for emitted < chunkSize {
			lRow, lOK, err := lw.peek(ctx)
			if err != nil {
				out <- mergedBlock{err: err}
				return err
			}
			rRow, rOK, err := rw.peek(ctx)
			if err != nil {
				out <- mergedBlock{err: err}
				return err
			}
			if !lOK && !rOK {
				if emitted > 0 {
					out <- mergedBlock{table: out2}
				}
				return nil
			}
			var takeLeft bool
			switch {
			case !lOK:
				takeLeft = false
			case !rOK:
				takeLeft = true
			default:
				takeLeft = idtable.CompareRows(lw.table, lw.idx, cols, rw.table, rw.idx, cols) <= 0
			}
			if takeLeft {
				if err := out2.AppendRow(lRow); err != nil {
					out <- mergedBlock{err: err}
					return err
				}
				lw.advance()
			} else {
				if err := out2.AppendRow(rRow); err != nil {
					out <- mergedBlock{err: err}
					return err
				}
				rw.advance()
			}
			emitted++
		}
		out <- mergedBlock{table: out2}
	}
}

// blockWindow buffers the current block of a Stream and exposes a
// one-row-at-a-time peek/advance interface over it, fetching the next
// block lazily so a merge worker never holds more than one block per
// input in memory.
type blockWindow struct {
	stream Stream
	table  *idtable.IdTable
	idx int
	eof bool
}

func (w *blockWindow) peek(ctx context.Context) ([]ids.Id, bool, error) {
	for {
		if w.eof {
			return nil, false, nil
		}
		if w.table != nil && w.idx < w.table.NumRows() {
			return w.table.Row(w.idx), true, nil
		}
		t, ok, err := w.stream.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			w.eof = true
			return nil, false, nil
		}
		w.table = t
		w.idx = 0
	}
}

func (w *blockWindow) advance() { w.idx++ }

func (n *binaryMergeNode) Next(ctx context.Context) (*idtable.IdTable, bool, error) {
	select {
	case mb, ok := <-n.out:
		if !ok {
			return nil, false, nil
		}
		if mb.err != nil {
			return nil, false, mb.err
		}
		return mb.table, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Close signals the worker to stop after its current block and waits for
// it to exit, propagating any error it returned.
func (n *binaryMergeNode) Close() error {
	close(n.done)
	if n.doneGroupWait != nil {
		return n.doneGroupWait()
	}
	return nil
}
