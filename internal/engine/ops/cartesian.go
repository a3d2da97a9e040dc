package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/lazy"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// CartesianProduct combines the results of two or more children with
// pairwise-disjoint variable sets. Output columns are the
// children's columns concatenated in child order; output ordering is
// unspecified (sorted on the empty list). Supports LIMIT/OFFSET natively
// and a lazy block-streaming form.
type CartesianProduct struct {
	env      *Env
	children []result.Operation

	limit int64 // -1 = none
	offset int64

	vars result.VariableColumns
	est estimates
}

func NewCartesianProduct(env *Env, children []result.Operation) (*CartesianProduct, error) {
	cp := &CartesianProduct{env: env, children: children, limit: -1}
	cp.vars = make(result.VariableColumns)
	base := 0
	for _, ch := range children {
		for name, col := range ch.Variables() {
			if _, dup := cp.vars[name]; dup {
				return nil, contractf("cartesian product children share variable %q", name)
			}
			cp.vars[name] = base + col
		}
		base += ch.NumColumns()
	}
	return cp, nil
}

func (cp *CartesianProduct) Variables() result.VariableColumns { return cp.vars }

func (cp *CartesianProduct) NumColumns() int {
	n := 0
	for _, ch := range cp.children {
		n += ch.NumColumns()
	}
	return n
}

func (cp *CartesianProduct) Children() []result.Operation { return cp.children }

func (cp *CartesianProduct) Estimates() result.Estimates {
	return cp.est.getOrCompute(func() result.Estimates {
		size := 1.0
		cost := 0.0
		for _, ch := range cp.children {
			e := ch.Estimates()
			if e.KnownEmpty {
				return result.Estimates{KnownEmpty: true}
			}
			size *= e.SizeEstimate
			cost += e.CostEstimate
		}
		if cp.limit >= 0 && float64(cp.limit+cp.offset) < size {
			size = float64(cp.limit + cp.offset)
		}
		return result.Estimates{SizeEstimate: size, CostEstimate: cost + size}
	})
}

func (cp *CartesianProduct) Multiplicity() result.Multiplicity {
	return func(col int) float64 {
		base := 0
		total := cp.Estimates().SizeEstimate
		for _, ch := range cp.children {
			if col < base+ch.NumColumns() {
				own := ch.Estimates().SizeEstimate
				return ch.Multiplicity()(col-base) * total / maxf(1, own)
			}
			base += ch.NumColumns()
		}
		return 1
	}
}

func (cp *CartesianProduct) ResultSortedOn() result.SortedColumns { return result.SortedColumns{} }
func (cp *CartesianProduct) SupportsLazy() bool                   { return true }

func (cp *CartesianProduct) AlwaysDefined(col int) bool {
	base := 0
	for _, ch := range cp.children {
		if col < base+ch.NumColumns() {
			return alwaysDefined(ch, col-base)
		}
		base += ch.NumColumns()
	}
	return false
}

// SetLimit enables the native LIMIT/OFFSET specialization. The per-child
// limit propagation (ceil(limit / product-of-others)) is applied by the
// planner before execution; here the operator only truncates its own
// output. Non-zero offsets are accepted (the offset is skipped while
// streaming).
func (cp *CartesianProduct) SetLimit(limit, offset int64) bool {
	cp.limit, cp.offset = limit, offset
	cp.est = estimates{}
	return true
}

func (cp *CartesianProduct) CacheKey() string {
	var b strings.Builder
	b.WriteString("CartesianProduct{")
	for i, ch := range cp.children {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(ch.CacheKey())
	}
	if cp.limit >= 0 {
		fmt.Fprintf(&b, ",limit=%d,offset=%d", cp.limit, cp.offset)
	}
	b.WriteByte('}')
	return b.String()
}

// materializeChildren computes all children and merges their vocabularies,
// remapping each child's local ids into the surviving vocabulary.
func (cp *CartesianProduct) materializeChildren(ctx context.Context) ([]*idtable.IdTable, *ids.LocalVocab, error) {
	tables := make([]*idtable.IdTable, len(cp.children))
	vocab := ids.NewLocalVocab()
	for i, ch := range cp.children {
		t, v, err := materialize(ctx, cp.env, ch)
		if err != nil {
			return nil, nil, err
		}
		survivor, remapAcc, remapNew := ids.MergeSmallerInto(vocab, v)
		if remapAcc != nil {
			remapTables(tables[:i], remapAcc)
		}
		remapTables([]*idtable.IdTable{t}, remapNew)
		vocab = survivor
		tables[i] = t
	}
	return tables, vocab, nil
}

func remapTables(tables []*idtable.IdTable, remap func(ids.Id) ids.Id) {
	for _, t := range tables {
		if t == nil {
			continue
		}
		for c := 0; c < t.NumColumns(); c++ {
			col := t.Column(c)
			for r := range col {
				if col[r].Tag() == ids.LocalVocabIndex {
					col[r] = remap(col[r])
				}
			}
		}
	}
}

// writeRange fills rows [from, to) of the output (in total-product row
// numbering) column by column, replicating each input column with the
// appropriate stride: the rightmost child varies fastest.
func (cp *CartesianProduct) writeRange(tables []*idtable.IdTable, from, to int64) (*idtable.IdTable, error) {
	out := idtable.New(cp.NumColumns(), cp.env.Q.Alloc)
	n := int(to - from)
	if err := out.Reserve(n); err != nil {
		return nil, err
	}
	// stride[i] = product of sizes of children to the right of i.
	stride := make([]int64, len(tables))
	s := int64(1)
	for i := len(tables) - 1; i >= 0; i-- {
		stride[i] = s
		s *= int64(tables[i].NumRows())
	}
	outCol := 0
	for i, t := range tables {
		size := int64(t.NumRows())
		for c := 0; c < t.NumColumns(); c++ {
			src := t.Column(c)
			data := make([]ids.Id, n)
			for k := int64(0); k < int64(n); k++ {
				data[k] = src[((from+k)/stride[i])%size]
			}
			out.SetColumn(outCol, data)
			outCol++
		}
	}
	out.SetRows(n)
	return out, nil
}

func (cp *CartesianProduct) rowBounds(total int64) (from, to int64) {
	from = cp.offset
	if from > total {
		from = total
	}
	to = total
	if cp.limit >= 0 && from+cp.limit < to {
		to = from + cp.limit
	}
	return
}

func (cp *CartesianProduct) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	tables, vocab, err := cp.materializeChildren(ctx)
	if err != nil {
		return nil, err
	}
	total := int64(1)
	for _, t := range tables {
		total *= int64(t.NumRows())
	}
	from, to := cp.rowBounds(total)

	if wantLazy {
		return result.NewLazy(lazy.FromGenerator(func(ctx context.Context, yield lazy.Yield) error {
			for lo := from; lo < to; lo += ChunkSize {
				if err := cp.env.Q.CheckCancellation(ctx); err != nil {
					return err
				}
				hi := lo + ChunkSize
				if hi > to {
					hi = to
				}
				blk, err := cp.writeRange(tables, lo, hi)
				if err != nil {
					return err
				}
				if !yield(result.Block{Table: blk, Vocab: vocab.Clone()}) {
					return nil
				}
			}
			return nil
		})), nil
	}
	out, err := cp.writeRange(tables, from, to)
	if err != nil {
		return nil, err
	}
	return result.NewMaterialized(out, vocab), nil
}
