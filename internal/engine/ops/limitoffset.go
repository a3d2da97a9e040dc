package ops

import (
	"context"
	"fmt"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/lazy"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// LimitOffset truncates its input to [offset, offset+limit). The planner
// only inserts it when the root operator cannot absorb the limit natively
// (via the SetLimit pushdown interface).
type LimitOffset struct {
	env    *Env
	child result.Operation
	limit int64 // -1 = no limit
	offset int64
	est estimates
}

// LimitPushdown is implemented by operators that can absorb LIMIT/OFFSET
// natively; SetLimit returns false when the particular combination (e.g. a
// non-zero offset on an index scan) is not supported.
type LimitPushdown interface {
	SetLimit(limit, offset int64) bool
}

func NewLimitOffset(env *Env, child result.Operation, limit, offset int64) *LimitOffset {
	return &LimitOffset{env: env, child: child, limit: limit, offset: offset}
}

func (l *LimitOffset) Variables() result.VariableColumns { return l.child.Variables() }
func (l *LimitOffset) NumColumns() int                   { return l.child.NumColumns() }
func (l *LimitOffset) Children() []result.Operation      { return []result.Operation{l.child} }

func (l *LimitOffset) Estimates() result.Estimates {
	return l.est.getOrCompute(func() result.Estimates {
		e := l.child.Estimates()
		if e.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		size := e.SizeEstimate - float64(l.offset)
		if size < 0 {
			size = 0
		}
		if l.limit >= 0 && float64(l.limit) < size {
			size = float64(l.limit)
		}
		return result.Estimates{SizeEstimate: size, CostEstimate: e.CostEstimate + size}
	})
}

func (l *LimitOffset) Multiplicity() result.Multiplicity    { return l.child.Multiplicity() }
func (l *LimitOffset) ResultSortedOn() result.SortedColumns { return l.child.ResultSortedOn() }
func (l *LimitOffset) SupportsLazy() bool                   { return l.child.SupportsLazy() }
func (l *LimitOffset) AlwaysDefined(col int) bool           { return alwaysDefined(l.child, col) }

func (l *LimitOffset) CacheKey() string {
	return fmt.Sprintf("LimitOffset{limit=%d,offset=%d,child=%s}", l.limit, l.offset, l.child.CacheKey())
}

func (l *LimitOffset) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	if wantLazy && l.child.SupportsLazy() {
		res, err := l.child.Compute(ctx, true)
		if err != nil {
			return nil, err
		}
		return result.NewLazy(lazy.FromGenerator(func(ctx context.Context, yield lazy.Yield) error {
			defer res.Close()
			skip := l.offset
			remaining := l.limit
			for {
				blk, ok, err := res.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				n := int64(blk.Table.NumRows())
				lo := int64(0)
				if skip > 0 {
					if skip >= n {
						skip -= n
						continue
					}
					lo = skip
					skip = 0
				}
				hi := n
				if remaining >= 0 && hi-lo > remaining {
					hi = lo + remaining
				}
				if hi > lo {
					out := result.Block{Table: blk.Table.Slice(int(lo), int(hi)), Vocab: blk.Vocab}
					if !yield(out) {
						return nil
					}
					if remaining >= 0 {
						remaining -= hi - lo
						if remaining == 0 {
							return nil
						}
					}
				}
			}
		})), nil
	}

	t, v, err := materialize(ctx, l.env, l.child)
	if err != nil {
		return nil, err
	}
	n := int64(t.NumRows())
	lo := l.offset
	if lo > n {
		lo = n
	}
	hi := n
	if l.limit >= 0 && lo+l.limit < hi {
		hi = lo + l.limit
	}
	return result.NewMaterialized(t.Slice(int(lo), int(hi)), v), nil
}

// NeutralElement is the one-row, zero-column operation: the identity of
// the join. It seeds plans for group graph patterns with no triples (a
// pure VALUES/BIND body) and the pattern-trick rewrite.
type NeutralElement struct{}

func (NeutralElement) Variables() result.VariableColumns { return result.VariableColumns{} }
func (NeutralElement) NumColumns() int                   { return 0 }
func (NeutralElement) Estimates() result.Estimates {
	return result.Estimates{SizeEstimate: 1, CostEstimate: 1}
}
func (NeutralElement) Multiplicity() result.Multiplicity {
	return func(int) float64 { return 1 }
}
func (NeutralElement) ResultSortedOn() result.SortedColumns { return result.SortedColumns{} }
func (NeutralElement) SupportsLazy() bool                   { return false }
func (NeutralElement) AlwaysDefined(int) bool               { return true }
func (NeutralElement) CacheKey() string                     { return "NeutralElement{}" }

func (NeutralElement) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t := idtable.New(0, nil)
	if err := t.AppendRow(nil); err != nil {
		return nil, err
	}
	return result.NewMaterialized(t, ids.NewLocalVocab()), nil
}
