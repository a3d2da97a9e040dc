package ops

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// Sort re-orders its input by the internal Id order on the given columns.
// It is the fast, id-encoded sort the planner inserts to satisfy a join's
// or Distinct's sortedness precondition; the slower semantic ORDER BY is
// the separate OrderBy operator.
type Sort struct {
	env   *Env
	child result.Operation
	cols  []int
	est estimates
}

func NewSort(env *Env, child result.Operation, cols []int) *Sort {
	return &Sort{env: env, child: child, cols: cols}
}

func (s *Sort) Variables() result.VariableColumns { return s.child.Variables() }
func (s *Sort) NumColumns() int                   { return s.child.NumColumns() }
func (s *Sort) Children() []result.Operation      { return []result.Operation{s.child} }

// SortCostEstimate is the additive penalty the cost model charges for a
// sort of the given size (n log2 n row moves).
func SortCostEstimate(n float64) float64 {
	if n < 2 {
		return n
	}
	log := 0.0
	for v := n; v > 1; v /= 2 {
		log++
	}
	return n * log
}

func (s *Sort) Estimates() result.Estimates {
	return s.est.getOrCompute(func() result.Estimates {
		e := s.child.Estimates()
		if e.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		return result.Estimates{
			SizeEstimate: e.SizeEstimate,
			CostEstimate: e.CostEstimate + SortCostEstimate(e.SizeEstimate),
		}
	})
}

func (s *Sort) Multiplicity() result.Multiplicity { return s.child.Multiplicity() }

func (s *Sort) ResultSortedOn() result.SortedColumns {
	return result.SortedColumns(append([]int(nil), s.cols...))
}

func (s *Sort) SupportsLazy() bool          { return false }
func (s *Sort) AlwaysDefined(col int) bool  { return alwaysDefined(s.child, col) }

func (s *Sort) CacheKey() string {
	return fmt.Sprintf("Sort{cols=%v,child=%s}", s.cols, s.child.CacheKey())
}

func (s *Sort) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t, v, err := materialize(ctx, s.env, s.child)
	if err != nil {
		return nil, err
	}
	if err := s.env.Q.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	if idtable.IsSorted(t, s.cols) {
		return result.NewMaterialized(t, v), nil
	}
	// Sorting mutates in place; a shared (cached) child result must not be
	// disturbed, so sort a copy.
	copied, err := t.Clone()
	if err != nil {
		return nil, err
	}
	idtable.SortByColumns(copied, s.cols)
	return result.NewMaterialized(copied, v), nil
}

// OrderKey is one ORDER BY criterion.
type OrderKey struct {
	Col int
	Ascending bool
}

// OrderBy performs the semantic SPARQL ORDER BY: IRIs, then blank nodes,
// then literals (numerics by value, strings by lexical comparison). This
// order differs from the internal Id encoding order, so rows are ranked by
// resolving each key column's term. Output sortedness is
// declared empty because downstream operators compare by internal order.
type OrderBy struct {
	env   *Env
	child result.Operation
	keys  []OrderKey
	est estimates
}

func NewOrderBy(env *Env, child result.Operation, keys []OrderKey) *OrderBy {
	return &OrderBy{env: env, child: child, keys: keys}
}

func (o *OrderBy) Variables() result.VariableColumns { return o.child.Variables() }
func (o *OrderBy) NumColumns() int                   { return o.child.NumColumns() }
func (o *OrderBy) Children() []result.Operation      { return []result.Operation{o.child} }

func (o *OrderBy) Estimates() result.Estimates {
	return o.est.getOrCompute(func() result.Estimates {
		e := o.child.Estimates()
		if e.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		return result.Estimates{
			SizeEstimate: e.SizeEstimate,
			// Semantic comparison resolves terms, so charge a higher
			// constant than the internal Sort.
			CostEstimate: e.CostEstimate + 2*SortCostEstimate(e.SizeEstimate),
		}
	})
}

func (o *OrderBy) Multiplicity() result.Multiplicity    { return o.child.Multiplicity() }
func (o *OrderBy) ResultSortedOn() result.SortedColumns { return result.SortedColumns{} }
func (o *OrderBy) SupportsLazy() bool                   { return false }
func (o *OrderBy) AlwaysDefined(col int) bool           { return alwaysDefined(o.child, col) }

func (o *OrderBy) CacheKey() string {
	var b strings.Builder
	b.WriteString("OrderBy{keys=")
	for i, k := range o.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		dir := "desc"
		if k.Ascending {
			dir = "asc"
		}
		fmt.Fprintf(&b, "%d:%s", k.Col, dir)
	}
	fmt.Fprintf(&b, ",child=%s}", o.child.CacheKey())
	return b.String()
}

// semRank classifies an Id for the semantic order: unbound first, then
// IRIs, then blank nodes, then literals.
const (
	rankUndef = iota
	rankIRI
	rankBlank
	rankLiteral
)

type semKey struct {
	rank int
	num float64 // literal numeric value, when numeric
	isNum bool
	str string // lexical form otherwise
}

func (o *OrderBy) semanticKey(id ids.Id, vocab *ids.LocalVocab) semKey {
	switch id.Tag() {
	case ids.Undefined:
		return semKey{rank: rankUndef}
	case ids.Int, ids.Double, ids.Date:
		return semKey{rank: rankLiteral, isNum: true, num: id.AsDouble()}
	case ids.Bool:
		v := 0.0
		if id.ToBool() {
			v = 1
		}
		return semKey{rank: rankLiteral, isNum: true, num: v}
	case ids.BlankNodeIndex:
		return semKey{rank: rankBlank, str: fmt.Sprintf("%020d", id.Payload())}
	}
	term, ok := resolveWithVocab(o.env, vocab, id)
	if !ok {
		return semKey{rank: rankLiteral, str: fmt.Sprintf("%020d", uint64(id))}
	}
	switch t := term.(type) {
	case *rdf.NamedNode:
		return semKey{rank: rankIRI, str: t.IRI}
	case *rdf.BlankNode:
		return semKey{rank: rankBlank, str: t.ID}
	case *rdf.Literal:
		return semKey{rank: rankLiteral, str: t.Value}
	default:
		return semKey{rank: rankLiteral, str: term.String()}
	}
}

func compareSemKeys(a, b semKey) int {
	if a.rank != b.rank {
		if a.rank < b.rank {
			return -1
		}
		return 1
	}
	if a.isNum && b.isNum {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	}
	// Numerics sort before string-valued literals within the literal rank.
	if a.isNum != b.isNum {
		if a.isNum {
			return -1
		}
		return 1
	}
	return strings.Compare(a.str, b.str)
}

func (o *OrderBy) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t, v, err := materialize(ctx, o.env, o.child)
	if err != nil {
		return nil, err
	}
	if err := o.env.Q.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	n := t.NumRows()
	// Precompute every row's key tuple once; resolving terms inside the
	// comparator would repeat vocabulary lookups O(n log n) times.
	keys := make([][]semKey, n)
	for r := 0; r < n; r++ {
		if err := checkEvery(ctx, o.env, r); err != nil {
			return nil, err
		}
		ks := make([]semKey, len(o.keys))
		for i, k := range o.keys {
			ks[i] = o.semanticKey(t.Column(k.Col)[r], v)
		}
		keys[r] = ks
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		for k := range o.keys {
			c := compareSemKeys(keys[idx[i]][k], keys[idx[j]][k])
			if c == 0 {
				continue
			}
			if o.keys[k].Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	out := idtable.New(t.NumColumns(), o.env.Q.Alloc)
	if err := out.Reserve(n); err != nil {
		return nil, err
	}
	for _, r := range idx {
		if err := out.AppendRow(t.Row(r)); err != nil {
			return nil, err
		}
	}
	return result.NewMaterialized(out, v), nil
}
