package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/lazy"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// IndexScan reads one permutation with 0-3 leading terms bound and emits
// the remaining positions as variable columns, sorted by the remaining
// permutation positions in order.
type IndexScan struct {
	env  *Env
	perm index.Permutation

	// Bound[i] is the fixed Id for the permutation's i-th position, or
	// ids.UndefinedId if that position is a variable. Bound positions form
	// a prefix except for the fully-bound existence-check case, where all
	// three are fixed.
	bound [3]ids.Id
	// varNames[i] names the variable at the permutation's i-th position
	// ("" when bound). Output columns are the unbound positions in
	// permutation order.
	varNames [3]string

	graphs []ids.Id // nil means all graphs

	limit int64 // -1 means no limit pushed down
	offset int64

	vars result.VariableColumns
	est estimates
}

// NewIndexScan builds a scan over perm. bound/varNames are in the
// permutation's position order (e.g. for POS: predicate, object, subject).
func NewIndexScan(env *Env, perm index.Permutation, bound [3]ids.Id, varNames [3]string, graphs []ids.Id) *IndexScan {
	s := &IndexScan{env: env, perm: perm, bound: bound, varNames: varNames, graphs: graphs, limit: -1}
	s.vars = make(result.VariableColumns)
	col := 0
	for i := 0; i < 3; i++ {
		if varNames[i] != "" {
			s.vars[varNames[i]] = col
			col++
		}
	}
	return s
}

func (s *IndexScan) Variables() result.VariableColumns { return s.vars }
func (s *IndexScan) NumColumns() int                   { return len(s.vars) }
func (s *IndexScan) Permutation() index.Permutation    { return s.perm }

// numBoundPrefix counts the bound leading positions (0-2) used as the scan
// key; a bound third position is applied as a post-filter.
func (s *IndexScan) numBoundPrefix() int {
	n := 0
	for n < 2 && !s.bound[n].IsUndefined() {
		n++
	}
	return n
}

func (s *IndexScan) Estimates() result.Estimates {
	return s.est.getOrCompute(func() result.Estimates {
		md := s.env.Idx.Metadata(s.perm)
		nb := s.numBoundPrefix()
		if nb >= 1 && !md.Col0IdExists(s.bound[0]) {
			return result.Estimates{KnownEmpty: true}
		}
		var m index.Metadata
		if nb >= 1 {
			m = md.Get(s.bound[0])
		} else {
			m = md.Get(ids.UndefinedId)
		}
		size := float64(m.NumRows)
		if nb >= 2 {
			// Second bound term narrows by the col1 multiplicity.
			if m.MultiplicityCol1 > 0 {
				size = m.MultiplicityCol1
			} else {
				size = 1
			}
		}
		if !s.bound[2].IsUndefined() && s.varNames[2] == "" && nb == 2 {
			// Fully-bound existence check: zero or one row.
			size = 1
		}
		if s.limit >= 0 && float64(s.limit+s.offset) < size {
			size = float64(s.limit + s.offset)
		}
		return result.Estimates{
			SizeEstimate: size,
			CostEstimate: size,
		}
	})
}

func (s *IndexScan) Multiplicity() result.Multiplicity {
	md := s.env.Idx.Metadata(s.perm)
	nb := s.numBoundPrefix()
	var m index.Metadata
	if nb >= 1 {
		m = md.Get(s.bound[0])
	} else {
		m = md.Get(ids.UndefinedId)
	}
	return func(col int) float64 {
		// Column 0 of the output is the first unbound permutation position.
		switch col + nb {
		case 1:
			if m.MultiplicityCol1 > 0 {
				return m.MultiplicityCol1
			}
		case 2:
			if m.MultiplicityCol2 > 0 {
				return m.MultiplicityCol2
			}
		}
		return 1
	}
}

func (s *IndexScan) ResultSortedOn() result.SortedColumns {
	cols := make(result.SortedColumns, 0, s.NumColumns())
	for i := 0; i < s.NumColumns(); i++ {
		cols = append(cols, i)
	}
	return cols
}

func (s *IndexScan) SupportsLazy() bool { return true }

// AlwaysDefined: index scans never produce UNDEF.
func (s *IndexScan) AlwaysDefined(col int) bool { return true }

// SetLimit pushes a LIMIT into the scan (block-level truncation). Only a
// zero offset is accepted, per §4.1.
func (s *IndexScan) SetLimit(limit, offset int64) bool {
	if offset != 0 {
		return false
	}
	s.limit = limit
	s.est = estimates{}
	return true
}

func (s *IndexScan) CacheKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "IndexScan{perm=%s", s.perm)
	for i := 0; i < 3; i++ {
		if s.varNames[i] != "" {
			fmt.Fprintf(&b, ",v%d=%s", i, s.varNames[i])
		} else {
			fmt.Fprintf(&b, ",c%d=%d", i, uint64(s.bound[i]))
		}
	}
	if len(s.graphs) > 0 {
		b.WriteString(",graphs=")
		for i, g := range s.graphs {
			if i > 0 {
				b.WriteByte('|')
			}
			fmt.Fprintf(&b, "%d", uint64(g))
		}
	}
	if s.limit >= 0 {
		fmt.Fprintf(&b, ",limit=%d", s.limit)
	}
	b.WriteByte('}')
	return b.String()
}

// scanBlocks drives the index iterator, converting each storage block into
// an output IdTable and passing it to emit. emit returning false stops the
// scan early (limit reached).
func (s *IndexScan) scanBlocks(ctx context.Context, emit func(*idtable.IdTable) (bool, error)) error {
	nb := s.numBoundPrefix()
	var col0, col1 ids.Id = ids.UndefinedId, ids.UndefinedId
	if nb >= 1 {
		col0 = s.bound[0]
	}
	if nb >= 2 {
		col1 = s.bound[1]
	}
	it, err := s.env.Idx.Scan(ctx, s.perm, col0, col1, s.graphs)
	if err != nil {
		return err
	}
	defer it.Close()

	remaining := int64(-1)
	if s.limit >= 0 {
		remaining = s.limit
	}
	// The third position may be bound without being part of the scan key
	// (a fully-bound triple); rows are filtered against it here.
	postFilter := nb == 2 && !s.bound[2].IsUndefined() && s.varNames[2] == ""

	for {
		if err := s.env.Q.CheckCancellation(ctx); err != nil {
			return err
		}
		blk, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		out := idtable.New(s.NumColumns(), s.env.Q.Alloc)
		for _, row := range blk.Rows {
			if postFilter && row[0] != s.bound[2] {
				continue
			}
			if s.NumColumns() > 0 {
				if err := out.AppendRow(row[:s.NumColumns()]); err != nil {
					return err
				}
			} else {
				// Existence check: a matching row yields one empty row.
				if err := out.AppendRow(nil); err != nil {
					return err
				}
			}
			if remaining > 0 {
				remaining--
			}
			if remaining == 0 {
				break
			}
		}
		if out.NumRows() > 0 {
			cont, err := emit(out)
			if err != nil || !cont {
				return err
			}
		}
		if remaining == 0 {
			return nil
		}
	}
}

func (s *IndexScan) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	if wantLazy {
		return result.NewLazy(lazy.FromGenerator(func(ctx context.Context, yield lazy.Yield) error {
			return s.scanBlocks(ctx, func(t *idtable.IdTable) (bool, error) {
				return yield(result.Block{Table: t, Vocab: ids.NewLocalVocab()}), nil
			})
		})), nil
	}
	out := idtable.New(s.NumColumns(), s.env.Q.Alloc)
	err := s.scanBlocks(ctx, func(t *idtable.IdTable) (bool, error) {
		return true, out.Append(t)
	})
	if err != nil {
		return nil, err
	}
	return result.NewMaterialized(out, ids.NewLocalVocab()), nil
}
