package ops

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// WordScan returns the text records matching a (possibly prefixed) word,
// with an optional matched-word output column.
type WordScan struct {
	env       *Env
	word string
	recordVar string
	wordVar string // "" = no matched-word column
	vars result.VariableColumns
	est estimates
}

func NewWordScan(env *Env, word, recordVar, wordVar string) *WordScan {
	ws := &WordScan{env: env, word: word, recordVar: recordVar, wordVar: wordVar}
	ws.vars = result.VariableColumns{recordVar: 0}
	if wordVar != "" {
		ws.vars[wordVar] = 1
	}
	return ws
}

func (w *WordScan) Variables() result.VariableColumns { return w.vars }
func (w *WordScan) NumColumns() int                   { return len(w.vars) }

func (w *WordScan) Estimates() result.Estimates {
	return w.est.getOrCompute(func() result.Estimates {
		if w.env.Text == nil {
			return result.Estimates{KnownEmpty: true}
		}
		// No per-word statistics on the minimal text interface; a flat
		// guess keeps word scans attractive as seeds without dominating.
		return result.Estimates{SizeEstimate: 100, CostEstimate: 100}
	})
}

func (w *WordScan) Multiplicity() result.Multiplicity {
	return func(col int) float64 { return 1 }
}

func (w *WordScan) ResultSortedOn() result.SortedColumns { return result.SortedColumns{0} }
func (w *WordScan) SupportsLazy() bool                   { return false }
func (w *WordScan) AlwaysDefined(col int) bool           { return true }

func (w *WordScan) CacheKey() string {
	return fmt.Sprintf("WordScan{word=%q,record=%s,word_var=%s}", w.word, w.recordVar, w.wordVar)
}

func (w *WordScan) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	out := idtable.New(w.NumColumns(), w.env.Q.Alloc)
	if w.env.Text == nil {
		return result.NewMaterialized(out, ids.NewLocalVocab()), nil
	}
	hits, err := w.env.Text.WordScan(ctx, w.word)
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].TextRecord < hits[j].TextRecord })
	for _, h := range hits {
		row := []ids.Id{h.TextRecord}
		if w.wordVar != "" {
			row = append(row, h.Word)
		}
		if err := out.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return result.NewMaterialized(out, ids.NewLocalVocab()), nil
}

// EntityScan returns (text record, entity, score) triples for a fixed
// entity or an entity variable.
type EntityScan struct {
	env       *Env
	recordVar string
	entity ids.Id // fixed entity when entityVar == ""
	entityVar string
	scoreVar string
	vars result.VariableColumns
	est estimates
}

func NewEntityScan(env *Env, recordVar, entityVar, scoreVar string, entity ids.Id) *EntityScan {
	es := &EntityScan{env: env, recordVar: recordVar, entityVar: entityVar, scoreVar: scoreVar, entity: entity}
	es.vars = result.VariableColumns{recordVar: 0}
	col := 1
	if entityVar != "" {
		es.vars[entityVar] = col
		col++
	}
	if scoreVar != "" {
		es.vars[scoreVar] = col
	}
	return es
}

func (e *EntityScan) Variables() result.VariableColumns { return e.vars }
func (e *EntityScan) NumColumns() int                   { return len(e.vars) }

func (e *EntityScan) Estimates() result.Estimates {
	return e.est.getOrCompute(func() result.Estimates {
		if e.env.Text == nil {
			return result.Estimates{KnownEmpty: true}
		}
		size := 1000.0
		if e.entityVar == "" {
			size = 100
		}
		return result.Estimates{SizeEstimate: size, CostEstimate: size}
	})
}

func (e *EntityScan) Multiplicity() result.Multiplicity {
	return func(col int) float64 { return 1 }
}

func (e *EntityScan) ResultSortedOn() result.SortedColumns { return result.SortedColumns{0} }
func (e *EntityScan) SupportsLazy() bool                   { return false }
func (e *EntityScan) AlwaysDefined(col int) bool           { return true }

func (e *EntityScan) CacheKey() string {
	return fmt.Sprintf("EntityScan{record=%s,entity=%s/%d,score=%s}", e.recordVar, e.entityVar, uint64(e.entity), e.scoreVar)
}

func (e *EntityScan) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	out := idtable.New(e.NumColumns(), e.env.Q.Alloc)
	if e.env.Text == nil {
		return result.NewMaterialized(out, ids.NewLocalVocab()), nil
	}
	want := ids.UndefinedId
	if e.entityVar == "" {
		want = e.entity
	}
	hits, err := e.env.Text.EntityScan(ctx, want)
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].TextRecord < hits[j].TextRecord })
	for _, h := range hits {
		row := []ids.Id{h.TextRecord}
		if e.entityVar != "" {
			row = append(row, h.Entity)
		}
		if e.scoreVar != "" {
			row = append(row, ids.FromDouble(h.Score))
		}
		if err := out.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return result.NewMaterialized(out, ids.NewLocalVocab()), nil
}

// TextLimit keeps, for each distinct combination of entity-column values,
// the top-n text records by summed score, ties broken by descending text
// record id. Input is re-sorted by (entities asc, score
// desc, record desc), then a single pass keeps a running count per entity
// key.
type TextLimit struct {
	env        *Env
	child result.Operation
	n int64
	recordCol int
	entityCols []int
	scoreCols  []int
	est estimates
}

func NewTextLimit(env *Env, child result.Operation, n int64, recordCol int, entityCols, scoreCols []int) *TextLimit {
	return &TextLimit{env: env, child: child, n: n, recordCol: recordCol, entityCols: entityCols, scoreCols: scoreCols}
}

func (tl *TextLimit) Variables() result.VariableColumns { return tl.child.Variables() }
func (tl *TextLimit) NumColumns() int                   { return tl.child.NumColumns() }
func (tl *TextLimit) Children() []result.Operation      { return []result.Operation{tl.child} }

func (tl *TextLimit) Estimates() result.Estimates {
	return tl.est.getOrCompute(func() result.Estimates {
		e := tl.child.Estimates()
		if e.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		size := e.SizeEstimate
		if m := tl.child.Multiplicity()(tl.recordCol); m > 0 {
			groups := e.SizeEstimate / maxf(1, m)
			if capped := groups * float64(tl.n); capped < size {
				size = capped
			}
		}
		return result.Estimates{SizeEstimate: size, CostEstimate: e.CostEstimate + SortCostEstimate(e.SizeEstimate) + size}
	})
}

func (tl *TextLimit) Multiplicity() result.Multiplicity    { return tl.child.Multiplicity() }
func (tl *TextLimit) ResultSortedOn() result.SortedColumns { return result.SortedColumns{} }
func (tl *TextLimit) SupportsLazy() bool                   { return false }
func (tl *TextLimit) AlwaysDefined(col int) bool           { return alwaysDefined(tl.child, col) }

func (tl *TextLimit) CacheKey() string {
	return fmt.Sprintf("TextLimit{n=%d,record=%d,entities=%v,scores=%v,child=%s}",
		tl.n, tl.recordCol, tl.entityCols, tl.scoreCols, tl.child.CacheKey())
}

func (tl *TextLimit) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t, v, err := materialize(ctx, tl.env, tl.child)
	if err != nil {
		return nil, err
	}
	n := t.NumRows()

	scoreOf := func(r int) float64 {
		s := 0.0
		for _, c := range tl.scoreCols {
			s += t.Column(c)[r].AsDouble()
		}
		return s
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := idx[a], idx[b]
		c := idtable.CompareRows(t, ra, tl.entityCols, t, rb, tl.entityCols)
		if c != 0 {
			return c < 0
		}
		sa, sb := scoreOf(ra), scoreOf(rb)
		if sa != sb {
			return sa > sb
		}
		return t.Column(tl.recordCol)[ra] > t.Column(tl.recordCol)[rb]
	})

	out := idtable.New(t.NumColumns(), tl.env.Q.Alloc)
	kept := int64(0)
	for i, r := range idx {
		if err := checkEvery(ctx, tl.env, i); err != nil {
			return nil, err
		}
		if i > 0 && idtable.CompareRows(t, idx[i-1], tl.entityCols, t, r, tl.entityCols) != 0 {
			kept = 0
		}
		if kept >= tl.n {
			continue
		}
		kept++
		if err := out.AppendRow(t.Row(r)); err != nil {
			return nil, err
		}
	}
	return result.NewMaterialized(out, v), nil
}

// Service is the operator-level stub for SERVICE clauses: federation
// internals are an external collaborator, so executing one either fails
// with a RemoteEndpointError or, under SILENT, yields an empty result.
type Service struct {
	env      *Env
	endpoint string
	silent bool
	varNames []string
	vars result.VariableColumns
}

func NewService(env *Env, endpoint string, silent bool, varNames []string) *Service {
	vars := make(result.VariableColumns, len(varNames))
	for i, n := range varNames {
		vars[n] = i
	}
	return &Service{env: env, endpoint: endpoint, silent: silent, varNames: varNames, vars: vars}
}

func (s *Service) Variables() result.VariableColumns    { return s.vars }
func (s *Service) NumColumns() int                      { return len(s.varNames) }
func (s *Service) Estimates() result.Estimates          { return result.Estimates{SizeEstimate: 1, CostEstimate: 1} }
func (s *Service) Multiplicity() result.Multiplicity    { return func(int) float64 { return 1 } }
func (s *Service) ResultSortedOn() result.SortedColumns { return result.SortedColumns{} }
func (s *Service) SupportsLazy() bool                   { return false }

func (s *Service) CacheKey() string {
	return fmt.Sprintf("Service{endpoint=%s,silent=%t,vars=%s}", s.endpoint, s.silent, strings.Join(s.varNames, ","))
}

func (s *Service) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	if s.silent {
		out := idtable.New(s.NumColumns(), s.env.Q.Alloc)
		return result.NewMaterialized(out, ids.NewLocalVocab()), nil
	}
	return nil, &errs.RemoteEndpointError{
		Endpoint: s.endpoint,
		Silent:   false,
		Cause:    fmt.Errorf("federated execution is not available"),
	}
}
