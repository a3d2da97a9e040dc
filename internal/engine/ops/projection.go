package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// Projection restricts and reorders the output columns to the SELECT
// clause's variables, as a zero-copy column-subset view.
type Projection struct {
	env      *Env
	child result.Operation
	varNames []string
	cols     []int
	vars result.VariableColumns
	est estimates
}

func NewProjection(env *Env, child result.Operation, varNames []string) (*Projection, error) {
	p := &Projection{env: env, child: child, varNames: varNames}
	p.vars = make(result.VariableColumns, len(varNames))
	cv := child.Variables()
	for i, name := range varNames {
		col, ok := cv[name]
		if !ok {
			return nil, contractf("projected variable ?%s not bound in child", name)
		}
		p.cols = append(p.cols, col)
		p.vars[name] = i
	}
	return p, nil
}

func (p *Projection) Variables() result.VariableColumns { return p.vars }
func (p *Projection) NumColumns() int                   { return len(p.cols) }
func (p *Projection) Children() []result.Operation      { return []result.Operation{p.child} }

func (p *Projection) Estimates() result.Estimates {
	return p.est.getOrCompute(func() result.Estimates {
		e := p.child.Estimates()
		if e.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		return result.Estimates{SizeEstimate: e.SizeEstimate, CostEstimate: e.CostEstimate}
	})
}

func (p *Projection) Multiplicity() result.Multiplicity {
	cm := p.child.Multiplicity()
	return func(col int) float64 { return cm(p.cols[col]) }
}

// ResultSortedOn maps the child's sorted columns through the projection:
// the prefix that survives (every column still present) is preserved.
func (p *Projection) ResultSortedOn() result.SortedColumns {
	var out result.SortedColumns
	for _, sc := range p.child.ResultSortedOn() {
		found := -1
		for i, c := range p.cols {
			if c == sc {
				found = i
				break
			}
		}
		if found < 0 {
			break
		}
		out = append(out, found)
	}
	return out
}

func (p *Projection) SupportsLazy() bool          { return false }
func (p *Projection) AlwaysDefined(col int) bool  { return alwaysDefined(p.child, p.cols[col]) }

func (p *Projection) CacheKey() string {
	return fmt.Sprintf("Projection{vars=%s,child=%s}", strings.Join(p.varNames, ","), p.child.CacheKey())
}

func (p *Projection) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t, v, err := materialize(ctx, p.env, p.child)
	if err != nil {
		return nil, err
	}
	return result.NewMaterialized(t.View(p.cols...), v), nil
}
