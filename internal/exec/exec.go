// Package exec is the top-level execution boundary: it plans a parsed
// query, executes the operator tree with cancellation/timeout/memory
// limits, consults and fills the shared result cache, and converts the
// engine's Id-level results into exportable RDF terms.
package exec

import (
	"context"
	"sort"
	"time"

	"github.com/aleksaelezovic/trigo/internal/engine/cache"
	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/internal/engine/qctx"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/internal/planner"
	"github.com/aleksaelezovic/trigo/internal/query"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
	"github.com/aleksaelezovic/trigo/pkg/server/results"
)

// Engine executes queries against one index, sharing a result cache
// across queries. The index is read-only and shared; each query gets its
// own memory allocator and cancellation state.
type Engine struct {
	Idx index.Index
	Text index.TextIndex
	Terms ops.TermResolver
	Cache  *cache.Cache
	Params qctx.Params

	// MemLimitBytes caps each query's IdTable allocations; 0 = unbounded.
	MemLimitBytes int64
	// Timeout per query; 0 = none.
	Timeout time.Duration
}

// NewEngine wires an engine with the default runtime parameters.
func NewEngine(idx index.Index, terms ops.TermResolver) (*Engine, error) {
	params := qctx.DefaultParams()
	c, err := cache.New(cache.Config{
		MaxEntries:       params.CacheMaxNumEntries,
		MaxBytes:         params.CacheMaxSize,
		MaxBytesPerEntry: params.CacheMaxSizeSingleEntry,
	})
	if err != nil {
		return nil, err
	}
	return &Engine{Idx: idx, Terms: terms, Cache: c, Params: params}, nil
}

// Outcome is one query's exportable result plus execution metadata.
type Outcome struct {
	Kind query.QueryKind
	Select    *results.SelectResult
	Ask       *results.AskResult
	Construct *results.ConstructResult

	// Raw access for the binary export format.
	Table    *idtable.IdTable
	Vocab    *ids.LocalVocab
	VarCols result.VariableColumns
	Runtime  *results.RuntimeInfo
	TotalMs int64
	ComputeMs int64
}

// Run plans and executes pq.
func (e *Engine) Run(ctx context.Context, pq *query.ParsedQuery) (*Outcome, error) {
	started := time.Now()
	q := qctx.New(e.MemLimitBytes, e.Params)
	if e.Timeout > 0 {
		q.Deadline = started.Add(e.Timeout)
	}

	p := planner.New(q, e.Idx, e.Text, e.Terms)
	root, err := p.Plan(pq)
	if err != nil {
		return nil, err
	}

	computeStart := time.Now()
	table, vocab, cached, err := e.computeWithCache(ctx, q, p.Env(), root)
	if err != nil {
		return nil, err
	}
	computeMs := time.Since(computeStart).Milliseconds()

	out := &Outcome{
		Kind:      pq.Kind,
		Table:     table,
		Vocab:     vocab,
		VarCols:   root.Variables(),
		Runtime:   e.runtimeInfo(root, table, cached),
		ComputeMs: computeMs,
	}
	switch pq.Kind {
	case query.KindAsk:
		out.Ask = &results.AskResult{Result: table.NumRows() > 0}
	case query.KindConstruct:
		out.Construct, err = e.instantiateTemplate(pq, table, vocab, root.Variables())
		if err != nil {
			return nil, err
		}
	case query.KindDescribe:
		out.Construct, err = e.describe(ctx, pq)
		if err != nil {
			return nil, err
		}
	default:
		out.Select = e.selectResult(pq, table, vocab, root.Variables())
	}
	out.TotalMs = time.Since(started).Milliseconds()
	return out, nil
}

// computeWithCache returns the root's materialized result, serving it from
// the shared cache when the cache key matches and mirroring fresh results
// into the cache. A failed cache insert never fails the query; a
// cancellation removes any in-progress entry.
func (e *Engine) computeWithCache(ctx context.Context, q *qctx.Query, env *ops.Env, root result.Operation) (*idtable.IdTable, *ids.LocalVocab, bool, error) {
	key := root.CacheKey()
	if e.Cache != nil {
		if entry, ok := e.Cache.Get(key); ok {
			return entry.Table, entry.Vocab, true, nil
		}
	}

	var table *idtable.IdTable
	var vocab *ids.LocalVocab
	var err error
	if root.SupportsLazy() {
		table, vocab, err = e.consumeLazy(ctx, q, root)
	} else {
		res, cerr := root.Compute(ctx, false)
		if cerr != nil {
			err = cerr
		} else {
			table, vocab, err = result.Materialize(ctx, res, root.NumColumns(), func() *idtable.IdTable {
				return idtable.New(root.NumColumns(), q.Alloc)
			})
		}
	}
	if err != nil {
		if _, isCancel := err.(*errs.CancellationError); isCancel && e.Cache != nil {
			e.Cache.Remove(key)
		}
		return nil, nil, false, err
	}
	if e.Cache != nil {
		e.Cache.Put(key, &cache.Entry{
			Table:    table,
			Vocab:    vocab,
			SortedOn: root.ResultSortedOn(),
		}, false)
	}
	return table, vocab, false, nil
}

// consumeLazy drains a lazy root into a materialized aggregate, the
// caching adapter of §4.9: blocks are mirrored into the aggregate while
// being consumed; if the memory limit trips mid-aggregation the error
// propagates (the root's own computation already streamed through).
func (e *Engine) consumeLazy(ctx context.Context, q *qctx.Query, root result.Operation) (*idtable.IdTable, *ids.LocalVocab, error) {
	res, err := root.Compute(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	defer res.Close()
	return result.Materialize(ctx, res, root.NumColumns(), func() *idtable.IdTable {
		return idtable.New(root.NumColumns(), q.Alloc)
	})
}

// ResolveId maps an Id to its term, consulting the inline encodings, the
// persistent vocabulary, and the result's local vocabulary.
func (e *Engine) ResolveId(id ids.Id, vocab *ids.LocalVocab) (rdf.Term, bool) {
	if id.IsUndefined() {
		return nil, false
	}
	if t, ok := index.InlineTerm(id); ok {
		return t, true
	}
	if id.Tag() == ids.LocalVocabIndex && vocab != nil {
		if s, ok := vocab.Lookup(id); ok {
			return ops.ParseLexicalForm(s), true
		}
		return nil, false
	}
	if e.Terms != nil {
		return e.Terms.ResolveTerm(id)
	}
	return nil, false
}

func (e *Engine) selectResult(pq *query.ParsedQuery, table *idtable.IdTable, vocab *ids.LocalVocab, vars result.VariableColumns) *results.SelectResult {
	names := pq.SelectVars
	if names == nil {
		names = make([]string, 0, len(vars))
		for name := range vars {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	out := &results.SelectResult{Variables: names}
	for r := 0; r < table.NumRows(); r++ {
		binding := results.Binding{}
		for _, name := range names {
			col, ok := vars[name]
			if !ok {
				continue
			}
			if term, ok := e.ResolveId(table.Column(col)[r], vocab); ok {
				binding[name] = term
			}
		}
		out.Bindings = append(out.Bindings, binding)
	}
	return out
}

// instantiateTemplate expands a CONSTRUCT template once per solution row,
// skipping any instantiation with an unbound or non-constructible
// position.
func (e *Engine) instantiateTemplate(pq *query.ParsedQuery, table *idtable.IdTable, vocab *ids.LocalVocab, vars result.VariableColumns) (*results.ConstructResult, error) {
	out := &results.ConstructResult{}
	resolvePos := func(t query.Term, row int) (rdf.Term, bool) {
		if !t.IsVar() {
			return t.Value, t.Value != nil
		}
		col, ok := vars[t.Var]
		if !ok {
			return nil, false
		}
		return e.ResolveId(table.Column(col)[row], vocab)
	}
	for r := 0; r < table.NumRows(); r++ {
		for _, tmpl := range pq.ConstructTemplate {
			s, okS := resolvePos(tmpl.Subject, r)
			p, okP := resolvePos(tmpl.Predicate, r)
			o, okO := resolvePos(tmpl.Object, r)
			if !okS || !okP || !okO {
				continue
			}
			out.Triples = append(out.Triples, &rdf.Triple{Subject: s, Predicate: p, Object: o})
		}
	}
	return out, nil
}

// describe emits every triple whose subject is one of the DESCRIBE
// resources, straight off the SPO permutation.
func (e *Engine) describe(ctx context.Context, pq *query.ParsedQuery) (*results.ConstructResult, error) {
	out := &results.ConstructResult{}
	for _, res := range pq.DescribeResources {
		id, ok := e.Idx.Vocab().GetId(ops.LexicalForm(res))
		if !ok {
			continue
		}
		it, err := e.Idx.Scan(ctx, index.SPO, id, ids.UndefinedId, nil)
		if err != nil {
			return nil, err
		}
		for {
			blk, more, err := it.Next(ctx)
			if err != nil {
				it.Close()
				return nil, err
			}
			if !more {
				break
			}
			for _, row := range blk.Rows {
				p, okP := e.ResolveId(row[0], nil)
				o, okO := e.ResolveId(row[1], nil)
				if okP && okO {
					out.Triples = append(out.Triples, &rdf.Triple{Subject: res, Predicate: p, Object: o})
				}
			}
		}
		it.Close()
	}
	return out, nil
}

// runtimeInfo builds the per-operator execution report from the planned
// tree; children are discovered through the optional Children interface.
func (e *Engine) runtimeInfo(op result.Operation, table *idtable.IdTable, cached bool) *results.RuntimeInfo {
	info := &results.RuntimeInfo{
		Description:  op.CacheKey(),
		SizeEstimate: op.Estimates().SizeEstimate,
		CostEstimate: op.Estimates().CostEstimate,
		WasCached:    cached,
	}
	if table != nil {
		info.ActualRows = int64(table.NumRows())
	}
	type childLister interface{ Children() []result.Operation }
	if cl, ok := op.(childLister); ok {
		for _, ch := range cl.Children() {
			info.Children = append(info.Children, e.runtimeInfo(ch, nil, false))
		}
	}
	return info
}
