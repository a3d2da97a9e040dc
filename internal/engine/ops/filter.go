package ops

import (
	"context"
	"fmt"
	"sort"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// Filter keeps the rows for which its expression evaluates to True;
// False, Undefined, and evaluation errors all drop the row.
type Filter struct {
	env   *Env
	child result.Operation
	expr  Expr
	est estimates
}

func NewFilter(env *Env, child result.Operation, expr Expr) *Filter {
	return &Filter{env: env, child: child, expr: expr}
}

func (f *Filter) Variables() result.VariableColumns { return f.child.Variables() }
func (f *Filter) NumColumns() int                   { return f.child.NumColumns() }
func (f *Filter) Children() []result.Operation      { return []result.Operation{f.child} }
func (f *Filter) Expression() Expr                  { return f.expr }

func (f *Filter) Estimates() result.Estimates {
	return f.est.getOrCompute(func() result.Estimates {
		e := f.child.Estimates()
		if e.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		return result.Estimates{
			// Standard selectivity guess absent value statistics.
			SizeEstimate: maxf(1, e.SizeEstimate/2),
			CostEstimate: e.CostEstimate + e.SizeEstimate,
		}
	})
}

func (f *Filter) Multiplicity() result.Multiplicity    { return f.child.Multiplicity() }
func (f *Filter) ResultSortedOn() result.SortedColumns { return f.child.ResultSortedOn() }
func (f *Filter) SupportsLazy() bool                   { return false }
func (f *Filter) AlwaysDefined(col int) bool           { return alwaysDefined(f.child, col) }

func (f *Filter) CacheKey() string {
	return fmt.Sprintf("Filter{expr=%s,child=%s}", f.expr.Key(), f.child.CacheKey())
}

// binarySearchPlan describes the fast path of §4.3: a relational
// comparison of a variable against a constant, where that variable's
// column is the leading sorted column of the child. Evaluation reduces to
// binary search producing row intervals.
type binarySearchPlan struct {
	col int
	op    CompareOp
	value ids.Id
}

func (f *Filter) binarySearchable() *binarySearchPlan {
	cmp, ok := f.expr.(*CompareExpr)
	if !ok {
		return nil
	}
	v, okL := cmp.Left.(*VarExpr)
	c, okR := cmp.Right.(*ConstExpr)
	op := cmp.Op
	if !okL || !okR {
		// Try the mirrored form (const op var).
		c2, okL2 := cmp.Left.(*ConstExpr)
		v2, okR2 := cmp.Right.(*VarExpr)
		if !okL2 || !okR2 {
			return nil
		}
		v, c = v2, c2
		switch op {
		case CmpLt:
			op = CmpGt
		case CmpLe:
			op = CmpGe
		case CmpGt:
			op = CmpLt
		case CmpGe:
			op = CmpLe
		}
	}
	col, bound := f.child.Variables()[v.Name]
	if !bound {
		return nil
	}
	sorted := f.child.ResultSortedOn()
	if len(sorted) == 0 || sorted[0] != col {
		return nil
	}
	// The internal order only aligns with the relational comparison within
	// one tag (or across the numeric tags); restrict the fast path to
	// constants whose tag cannot straddle incomparable regions.
	if c.Id.IsUndefined() {
		return nil
	}
	return &binarySearchPlan{col: col, op: op, value: c.Id}
}

// intervals computes the [lo, hi) row ranges of t satisfying the plan.
func (p *binarySearchPlan) intervals(t *idtable.IdTable) [][2]int {
	data := t.Column(p.col)
	n := len(data)
	lower := sort.Search(n, func(i int) bool {
		return ids.Compare(data[i], p.value) != ids.Less
	})
	upper := sort.Search(n, func(i int) bool {
		c := ids.Compare(data[i], p.value)
		return c == ids.Greater
	})
	switch p.op {
	case CmpEq:
		return [][2]int{{lower, upper}}
	case CmpNe:
		return [][2]int{{0, lower}, {upper, n}}
	case CmpLt:
		return [][2]int{{0, lower}}
	case CmpLe:
		return [][2]int{{0, upper}}
	case CmpGt:
		return [][2]int{{upper, n}}
	default: // CmpGe
		return [][2]int{{lower, n}}
	}
}

func (f *Filter) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t, v, err := materialize(ctx, f.env, f.child)
	if err != nil {
		return nil, err
	}

	if plan := f.binarySearchable(); plan != nil {
		out := idtable.New(t.NumColumns(), f.env.Q.Alloc)
		for _, iv := range plan.intervals(t) {
			lo, hi := iv[0], iv[1]
			if hi <= lo {
				continue
			}
			// Rows inside the interval may still be UNDEF or incomparable
			// against the constant (e.g. differently-tagged values adjacent
			// in internal order); re-check those edge rows cheaply.
			for r := lo; r < hi; r++ {
				if evalCompare(plan.op, t.Column(plan.col)[r], plan.value) != ids.B3True {
					continue
				}
				if err := out.AppendRow(t.Row(r)); err != nil {
					return nil, err
				}
			}
		}
		return result.NewMaterialized(out, v), nil
	}

	vocab := v.Fork() // STR/LANG results may intern new strings
	ee := &EvalEnv{Vars: f.child.Variables(), Column: t.Column, Vocab: vocab, Env: f.env}
	out := idtable.New(t.NumColumns(), f.env.Q.Alloc)
	for r := 0; r < t.NumRows(); r++ {
		if err := checkEvery(ctx, f.env, r); err != nil {
			return nil, err
		}
		if ids.PassesFilter(EffectiveBool(f.expr.Eval(ee, r))) {
			if err := out.AppendRow(t.Row(r)); err != nil {
				return nil, err
			}
		}
	}
	return result.NewMaterialized(out, vocab), nil
}
