package ops

import (
	"context"
	"fmt"

	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// Distinct deduplicates its input, which must arrive sorted on all kept
// columns (the planner inserts a Sort as needed): the first row of each
// equal-key run survives.
type Distinct struct {
	env   *Env
	child result.Operation
	cols  []int // all output columns, the dedup key
	est estimates
}

func NewDistinct(env *Env, child result.Operation) *Distinct {
	cols := make([]int, child.NumColumns())
	for i := range cols {
		cols[i] = i
	}
	return &Distinct{env: env, child: child, cols: cols}
}

func (d *Distinct) Variables() result.VariableColumns { return d.child.Variables() }
func (d *Distinct) NumColumns() int                   { return d.child.NumColumns() }
func (d *Distinct) Children() []result.Operation      { return []result.Operation{d.child} }

func (d *Distinct) Estimates() result.Estimates {
	return d.est.getOrCompute(func() result.Estimates {
		e := d.child.Estimates()
		if e.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		return result.Estimates{
			// Halving is the standard guess absent distinct-count stats.
			SizeEstimate: maxf(1, e.SizeEstimate/2),
			CostEstimate: e.CostEstimate + e.SizeEstimate,
		}
	})
}

func (d *Distinct) Multiplicity() result.Multiplicity {
	return func(col int) float64 { return 1 }
}

func (d *Distinct) ResultSortedOn() result.SortedColumns { return d.child.ResultSortedOn() }
func (d *Distinct) SupportsLazy() bool                   { return false }
func (d *Distinct) AlwaysDefined(col int) bool           { return alwaysDefined(d.child, col) }

func (d *Distinct) CacheKey() string {
	return fmt.Sprintf("Distinct{child=%s}", d.child.CacheKey())
}

func (d *Distinct) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t, v, err := materialize(ctx, d.env, d.child)
	if err != nil {
		return nil, err
	}
	out := idtable.New(t.NumColumns(), d.env.Q.Alloc)
	for r := 0; r < t.NumRows(); r++ {
		if err := checkEvery(ctx, d.env, r); err != nil {
			return nil, err
		}
		if r > 0 && idtable.CompareRows(t, r-1, d.cols, t, r, d.cols) == 0 {
			continue
		}
		if err := out.AppendRow(t.Row(r)); err != nil {
			return nil, err
		}
	}
	return result.NewMaterialized(out, v), nil
}
