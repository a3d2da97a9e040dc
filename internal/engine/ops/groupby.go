package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// AggregateKind enumerates the supported aggregate functions.
type AggregateKind int

const (
	AggCount AggregateKind = iota
	AggSum
	AggAvg
	AggMin
	AggMax
	AggSample
	AggGroupConcat
)

func (k AggregateKind) String() string {
	return [...]string{"COUNT", "SUM", "AVG", "MIN", "MAX", "SAMPLE", "GROUP_CONCAT"}[k]
}

// Aggregate is one aggregate output of a GROUP BY: kind, the aggregated
// expression (nil means COUNT(*)), and the output variable.
type Aggregate struct {
	Kind      AggregateKind
	Expr      Expr // nil for COUNT(*)
	Distinct bool
	Separator string // GROUP_CONCAT only; empty means " "
	OutVar string
}

// GroupBy accumulates aggregates over equal-key runs of its input, which
// must be sorted on the group columns. Output layout: the
// group columns in order, then one column per aggregate. With no group
// variables, the whole input forms a single group and exactly one row is
// emitted even for empty input.
type GroupBy struct {
	env       *Env
	child result.Operation
	groupCols []int
	groupVars []string
	aggs      []Aggregate
	vars result.VariableColumns
	est estimates
}

func NewGroupBy(env *Env, child result.Operation, groupVars []string, aggs []Aggregate) (*GroupBy, error) {
	g := &GroupBy{env: env, child: child, groupVars: groupVars, aggs: aggs}
	g.vars = make(result.VariableColumns, len(groupVars)+len(aggs))
	cv := child.Variables()
	for i, name := range groupVars {
		col, ok := cv[name]
		if !ok {
			return nil, contractf("GROUP BY variable ?%s not bound in child", name)
		}
		g.groupCols = append(g.groupCols, col)
		g.vars[name] = i
	}
	for i, a := range aggs {
		g.vars[a.OutVar] = len(groupVars) + i
	}
	return g, nil
}

func (g *GroupBy) Variables() result.VariableColumns { return g.vars }
func (g *GroupBy) NumColumns() int                   { return len(g.groupVars) + len(g.aggs) }
func (g *GroupBy) Children() []result.Operation      { return []result.Operation{g.child} }
func (g *GroupBy) GroupColumns() []int               { return g.groupCols }

func (g *GroupBy) Estimates() result.Estimates {
	return g.est.getOrCompute(func() result.Estimates {
		e := g.child.Estimates()
		if len(g.groupCols) == 0 {
			return result.Estimates{SizeEstimate: 1, CostEstimate: e.CostEstimate + e.SizeEstimate}
		}
		if e.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		m := g.child.Multiplicity()(g.groupCols[0])
		size := maxf(1, e.SizeEstimate/maxf(1, m))
		return result.Estimates{SizeEstimate: size, CostEstimate: e.CostEstimate + e.SizeEstimate + size}
	})
}

func (g *GroupBy) Multiplicity() result.Multiplicity {
	return func(col int) float64 { return 1 }
}

func (g *GroupBy) ResultSortedOn() result.SortedColumns {
	// Group keys occupy the leading output columns in sorted order.
	cols := make(result.SortedColumns, len(g.groupCols))
	for i := range cols {
		cols[i] = i
	}
	return cols
}

func (g *GroupBy) SupportsLazy() bool { return false }

func (g *GroupBy) AlwaysDefined(col int) bool {
	if col < len(g.groupCols) {
		return alwaysDefined(g.child, g.groupCols[col])
	}
	a := g.aggs[col-len(g.groupCols)]
	// COUNT always yields an integer; MIN, MAX and SAMPLE are Undefined
	// over empty or all-Undefined groups, and the other aggregates are not
	// reported as always defined either.
	return a.Kind == AggCount
}

func (g *GroupBy) CacheKey() string {
	var b strings.Builder
	b.WriteString("GroupBy{keys=")
	b.WriteString(strings.Join(g.groupVars, ","))
	b.WriteString(";aggs=")
	for i, a := range g.aggs {
		if i > 0 {
			b.WriteByte(';')
		}
		exprKey := "*"
		if a.Expr != nil {
			exprKey = a.Expr.Key()
		}
		fmt.Fprintf(&b, "%s(d=%t,%s)->%s", a.Kind, a.Distinct, exprKey, a.OutVar)
		if a.Kind == AggGroupConcat {
			fmt.Fprintf(&b, "[sep=%q]", a.Separator)
		}
	}
	fmt.Fprintf(&b, ",child=%s}", g.child.CacheKey())
	return b.String()
}

// aggState accumulates one aggregate over one group.
type aggState struct {
	count int64
	sum float64
	sumInt int64
	intOnly bool
	min ids.Id
	max ids.Id
	sample ids.Id
	concat  []string
	seen map[ids.Id]bool // DISTINCT dedup
}

func newAggState(distinct bool) *aggState {
	s := &aggState{intOnly: true, min: ids.UndefinedId, max: ids.UndefinedId, sample: ids.UndefinedId}
	if distinct {
		s.seen = make(map[ids.Id]bool)
	}
	return s
}

func (s *aggState) add(g *GroupBy, a Aggregate, ee *EvalEnv, row int) {
	var v ids.Id
	if a.Expr == nil {
		// COUNT(*): every row counts.
		s.count++
		return
	}
	v = a.Expr.Eval(ee, row)
	if v.IsUndefined() {
		return
	}
	if s.seen != nil {
		if s.seen[v] {
			return
		}
		s.seen[v] = true
	}
	s.count++
	switch a.Kind {
	case AggSum, AggAvg:
		if v.Tag() == ids.Int {
			s.sumInt += v.ToInt()
		} else {
			s.intOnly = false
		}
		s.sum += v.AsDouble()
	case AggMin:
		if s.min.IsUndefined() || ids.Compare(v, s.min) == ids.Less {
			s.min = v
		}
	case AggMax:
		if s.max.IsUndefined() || ids.Compare(v, s.max) == ids.Greater {
			s.max = v
		}
	case AggSample:
		if s.sample.IsUndefined() {
			s.sample = v
		}
	case AggGroupConcat:
		if term, ok := resolveWithVocab(g.env, ee.Vocab, v); ok {
			if lit, isLit := term.(*rdf.Literal); isLit {
				s.concat = append(s.concat, lit.Value)
			} else if nn, isIRI := term.(*rdf.NamedNode); isIRI {
				s.concat = append(s.concat, nn.IRI)
			}
		} else if v.IsNumeric() {
			s.concat = append(s.concat, trimFloat(v.AsDouble()))
		}
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func (s *aggState) finish(a Aggregate, vocab *ids.LocalVocab) ids.Id {
	switch a.Kind {
	case AggCount:
		return ids.FromInt(s.count)
	case AggSum:
		if s.count == 0 {
			return ids.FromInt(0)
		}
		if s.intOnly {
			return ids.FromInt(s.sumInt)
		}
		return ids.FromDouble(s.sum)
	case AggAvg:
		if s.count == 0 {
			return ids.FromInt(0)
		}
		return ids.FromDouble(s.sum / float64(s.count))
	case AggMin:
		return s.min
	case AggMax:
		return s.max
	case AggSample:
		return s.sample
	default: // AggGroupConcat
		sep := a.Separator
		if sep == "" {
			sep = " "
		}
		return vocab.GetOrAdd(`"` + strings.Join(s.concat, sep) + `"`)
	}
}

func (g *GroupBy) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t, v, err := materialize(ctx, g.env, g.child)
	if err != nil {
		return nil, err
	}
	vocab := v.Fork()
	ee := &EvalEnv{Vars: g.child.Variables(), Column: t.Column, Vocab: vocab, Env: g.env}
	out := idtable.New(g.NumColumns(), g.env.Q.Alloc)
	rowBuf := make([]ids.Id, g.NumColumns())

	emit := func(groupStart int, states []*aggState) error {
		for i, gc := range g.groupCols {
			rowBuf[i] = t.Column(gc)[groupStart]
		}
		for i, a := range g.aggs {
			rowBuf[len(g.groupCols)+i] = states[i].finish(a, vocab)
		}
		return out.AppendRow(rowBuf)
	}
	freshStates := func() []*aggState {
		states := make([]*aggState, len(g.aggs))
		for i, a := range g.aggs {
			states[i] = newAggState(a.Distinct)
		}
		return states
	}

	n := t.NumRows()
	if n == 0 {
		if len(g.groupCols) == 0 {
			// Aggregates over an empty, ungrouped input still emit one row.
			states := freshStates()
			for i, a := range g.aggs {
				rowBuf[i] = states[i].finish(a, vocab)
			}
			if err := out.AppendRow(rowBuf); err != nil {
				return nil, err
			}
		}
		return result.NewMaterialized(out, vocab), nil
	}

	states := freshStates()
	groupStart := 0
	for r := 0; r < n; r++ {
		if err := checkEvery(ctx, g.env, r); err != nil {
			return nil, err
		}
		if r > groupStart && idtable.CompareRows(t, groupStart, g.groupCols, t, r, g.groupCols) != 0 {
			if err := emit(groupStart, states); err != nil {
				return nil, err
			}
			states = freshStates()
			groupStart = r
		}
		for i, a := range g.aggs {
			states[i].add(g, a, ee, r)
		}
	}
	if err := emit(groupStart, states); err != nil {
		return nil, err
	}
	return result.NewMaterialized(out, vocab), nil
}
