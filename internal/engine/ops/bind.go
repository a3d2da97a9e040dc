package ops

import (
	"context"
	"fmt"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// Bind appends one computed column (BIND (expr AS ?var)). The new
// variable must not already be bound in the child.
type Bind struct {
	env     *Env
	child result.Operation
	expr    Expr
	varName string
	vars result.VariableColumns
	est estimates
}

func NewBind(env *Env, child result.Operation, expr Expr, varName string) (*Bind, error) {
	if _, exists := child.Variables()[varName]; exists {
		return nil, contractf("BIND target ?%s already bound", varName)
	}
	vars := make(result.VariableColumns, len(child.Variables())+1)
	for n, c := range child.Variables() {
		vars[n] = c
	}
	vars[varName] = child.NumColumns()
	return &Bind{env: env, child: child, expr: expr, varName: varName, vars: vars}, nil
}

func (b *Bind) Variables() result.VariableColumns { return b.vars }
func (b *Bind) NumColumns() int                   { return b.child.NumColumns() + 1 }
func (b *Bind) Children() []result.Operation      { return []result.Operation{b.child} }

func (b *Bind) Estimates() result.Estimates {
	return b.est.getOrCompute(func() result.Estimates {
		e := b.child.Estimates()
		if e.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		return result.Estimates{
			SizeEstimate: e.SizeEstimate,
			CostEstimate: e.CostEstimate + e.SizeEstimate,
		}
	})
}

func (b *Bind) Multiplicity() result.Multiplicity {
	cm := b.child.Multiplicity()
	newCol := b.child.NumColumns()
	return func(col int) float64 {
		if col == newCol {
			return 1
		}
		return cm(col)
	}
}

func (b *Bind) ResultSortedOn() result.SortedColumns { return b.child.ResultSortedOn() }
func (b *Bind) SupportsLazy() bool                   { return false }

func (b *Bind) AlwaysDefined(col int) bool {
	if col == b.child.NumColumns() {
		return false // the expression may evaluate to Undefined
	}
	return alwaysDefined(b.child, col)
}

func (b *Bind) CacheKey() string {
	return fmt.Sprintf("Bind{var=%s,expr=%s,child=%s}", b.varName, b.expr.Key(), b.child.CacheKey())
}

func (b *Bind) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t, v, err := materialize(ctx, b.env, b.child)
	if err != nil {
		return nil, err
	}
	vocab := v.Fork()
	ee := &EvalEnv{Vars: b.child.Variables(), Column: t.Column, Vocab: vocab, Env: b.env}
	n := t.NumRows()
	newCol := make([]ids.Id, n)
	for r := 0; r < n; r++ {
		if err := checkEvery(ctx, b.env, r); err != nil {
			return nil, err
		}
		newCol[r] = b.expr.Eval(ee, r)
	}
	out := idtable.New(b.NumColumns(), b.env.Q.Alloc)
	rowBuf := make([]ids.Id, b.NumColumns())
	if err := out.Reserve(n); err != nil {
		return nil, err
	}
	for r := 0; r < n; r++ {
		for c := 0; c < t.NumColumns(); c++ {
			rowBuf[c] = t.Column(c)[r]
		}
		rowBuf[t.NumColumns()] = newCol[r]
		if err := out.AppendRow(rowBuf); err != nil {
			return nil, err
		}
	}
	return result.NewMaterialized(out, vocab), nil
}

// Values is the inline VALUES block: a fixed table of rows over the given
// variables, with UNDEF entries allowed. Terms not present in the
// persistent vocabulary live in the operator's own LocalVocab.
type Values struct {
	env   *Env
	names []string
	rows  [][]ids.Id
	vocab *ids.LocalVocab
	vars result.VariableColumns
}

func NewValues(env *Env, names []string, rows [][]ids.Id, vocab *ids.LocalVocab) *Values {
	vars := make(result.VariableColumns, len(names))
	for i, n := range names {
		vars[n] = i
	}
	if vocab == nil {
		vocab = ids.NewLocalVocab()
	}
	return &Values{env: env, names: names, rows: rows, vocab: vocab, vars: vars}
}

func (v *Values) Variables() result.VariableColumns { return v.vars }
func (v *Values) NumColumns() int                   { return len(v.names) }

func (v *Values) Estimates() result.Estimates {
	if len(v.rows) == 0 {
		return result.Estimates{KnownEmpty: true}
	}
	n := float64(len(v.rows))
	return result.Estimates{SizeEstimate: n, CostEstimate: n}
}

func (v *Values) Multiplicity() result.Multiplicity {
	return func(col int) float64 { return 1 }
}

func (v *Values) ResultSortedOn() result.SortedColumns { return result.SortedColumns{} }
func (v *Values) SupportsLazy() bool                   { return false }

func (v *Values) AlwaysDefined(col int) bool {
	for _, row := range v.rows {
		if row[col].IsUndefined() {
			return false
		}
	}
	return true
}

func (v *Values) CacheKey() string {
	key := "Values{vars="
	for i, n := range v.names {
		if i > 0 {
			key += ","
		}
		key += n
	}
	key += ";rows="
	for i, row := range v.rows {
		if i > 0 {
			key += ";"
		}
		for j, id := range row {
			if j > 0 {
				key += ","
			}
			key += fmt.Sprintf("%d", uint64(id))
		}
	}
	return key + "}"
}

func (v *Values) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	out := idtable.New(len(v.names), v.env.Q.Alloc)
	for _, row := range v.rows {
		if err := out.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return result.NewMaterialized(out, v.vocab.Clone()), nil
}
