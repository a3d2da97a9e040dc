package planner

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/internal/engine/qctx"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/internal/query"
	"github.com/aleksaelezovic/trigo/internal/sparql/parser"
	"github.com/aleksaelezovic/trigo/internal/storeidx/memindex"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

func iri(local string) *rdf.NamedNode {
	return rdf.NewNamedNode("http://example.org/" + local)
}

// testIndex builds the four-triple knowledge graph used throughout:
// <s> <p> <c>. <s> <p> <c2>. <s> <p2> <c>. <s2> <p2> <c2>.
func testIndex() *memindex.MemIndex {
	return memindex.New([]*rdf.Triple{
		rdf.NewTriple(iri("s"), iri("p"), iri("c")),
		rdf.NewTriple(iri("s"), iri("p"), iri("c2")),
		rdf.NewTriple(iri("s"), iri("p2"), iri("c")),
		rdf.NewTriple(iri("s2"), iri("p2"), iri("c2")),
	})
}

func newTestPlanner(idx *memindex.MemIndex) *Planner {
	q := qctx.New(0, qctx.DefaultParams())
	return New(q, idx, nil, idx)
}

func varTerm(name string) query.Term        { return query.Term{Var: name} }
func iriTerm(local string) query.Term       { return query.Term{Value: iri(local)} }
func bgp(ts ...query.TriplePattern) *query.GraphPattern {
	return &query.GraphPattern{Kind: query.PatternBasic, Triples: ts}
}

// run plans and executes pq, returning the result rows as resolved
// lexical forms per selected variable ("" for UNDEF).
func run(t *testing.T, idx *memindex.MemIndex, pq *query.ParsedQuery) [][]string {
	t.Helper()
	p := newTestPlanner(idx)
	root, err := p.Plan(pq)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	res, err := root.Compute(context.Background(), false)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	table, vocab := res.Table, res.Vocab
	if res.Lazy {
		table, vocab, err = result.Materialize(context.Background(), res, root.NumColumns(), func() *idtable.IdTable {
			return idtable.New(root.NumColumns(), nil)
		})
		if err != nil {
			t.Fatalf("Materialize: %v", err)
		}
	}

	names := pq.SelectVars
	if names == nil {
		for name := range root.Variables() {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	var out [][]string
	for r := 0; r < table.NumRows(); r++ {
		row := make([]string, len(names))
		for i, name := range names {
			col, bound := root.Variables()[name]
			if !bound {
				continue
			}
			id := table.Column(col)[r]
			if id.IsUndefined() {
				continue
			}
			if s, ok := idx.Vocab().LookupString(id); ok {
				row[i] = s
			} else if vocab != nil {
				if s, ok := vocab.Lookup(id); ok {
					row[i] = s
				}
			}
		}
		out = append(out, row)
	}
	return out
}

func TestSingleVariableScan(t *testing.T) {
	idx := testIndex()
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"x"},
		Root:       bgp(query.TriplePattern{Subject: varTerm("x"), Predicate: iriTerm("p"), Object: iriTerm("c")}),
	}
	rows := run(t, idx, pq)
	if len(rows) != 1 || rows[0][0] != "<http://example.org/s>" {
		t.Fatalf("expected exactly {<s>}, got %v", rows)
	}
}

func TestTwoJoinStarIsEmpty(t *testing.T) {
	idx := testIndex()
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"x", "y", "z"},
		Root: bgp(
			query.TriplePattern{Subject: varTerm("x"), Predicate: iriTerm("p"), Object: varTerm("y")},
			query.TriplePattern{Subject: varTerm("y"), Predicate: iriTerm("p2"), Object: varTerm("z")},
		),
	}
	rows := run(t, idx, pq)
	if len(rows) != 0 {
		t.Fatalf("expected empty result (no bridging term), got %v", rows)
	}
}

func TestCartesianProductAcrossComponents(t *testing.T) {
	idx := testIndex()
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"a", "b"},
		Root: bgp(
			query.TriplePattern{Subject: varTerm("a"), Predicate: iriTerm("p"), Object: iriTerm("c")},
			query.TriplePattern{Subject: varTerm("b"), Predicate: iriTerm("p2"), Object: iriTerm("c2")},
		),
	}
	rows := run(t, idx, pq)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row ({s} x {s2}), got %v", rows)
	}
	// ?a <p> <c> binds only <s>; ?b <p2> <c2> binds only <s2>.
	for _, row := range rows {
		if row[0] != "<http://example.org/s>" {
			t.Errorf("unexpected ?a binding %q", row[0])
		}
	}
}

func TestOptionalWithUnbound(t *testing.T) {
	idx := testIndex()
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"x", "y"},
		Root: &query.GraphPattern{
			Kind: query.PatternGroup,
			Children: []*query.GraphPattern{
				bgp(query.TriplePattern{Subject: varTerm("x"), Predicate: iriTerm("p"), Object: iriTerm("c")}),
				{
					Kind: query.PatternOptional,
					Triples: []query.TriplePattern{
						{Subject: varTerm("x"), Predicate: iriTerm("absent"), Object: varTerm("y")},
					},
				},
			},
		},
	}
	rows := run(t, idx, pq)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %v", rows)
	}
	if rows[0][0] != "<http://example.org/s>" || rows[0][1] != "" {
		t.Fatalf("expected (<s>, UNDEF), got %v", rows[0])
	}
}

func TestMinusRemovesMatchingSubjects(t *testing.T) {
	idx := testIndex()
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"x"},
		Root: &query.GraphPattern{
			Kind: query.PatternGroup,
			Children: []*query.GraphPattern{
				bgp(query.TriplePattern{Subject: varTerm("x"), Predicate: iriTerm("p"), Object: varTerm("y")}),
				{
					Kind: query.PatternMinus,
					Triples: []query.TriplePattern{
						{Subject: varTerm("x"), Predicate: iriTerm("p"), Object: iriTerm("c2")},
					},
				},
			},
		},
	}
	rows := run(t, idx, pq)
	if len(rows) != 0 {
		t.Fatalf("expected MINUS to remove every <s> row, got %v", rows)
	}
}

func TestOrderByLimitOffset(t *testing.T) {
	idx := testIndex()
	limit, offset := int64(1), int64(1)
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"x"},
		Distinct:   true,
		Root: bgp(query.TriplePattern{
			Subject: varTerm("x"), Predicate: varTerm("p"), Object: varTerm("o"),
		}),
		OrderBy: []query.OrderKey{{Var: "x", Ascending: true}},
		Limit:   &limit,
		Offset:  &offset,
	}
	rows := run(t, idx, pq)
	if len(rows) != 1 || rows[0][0] != "<http://example.org/s2>" {
		t.Fatalf("expected {<s2>}, got %v", rows)
	}
}

func TestFilterAppliedExactlyOnce(t *testing.T) {
	idx := testIndex()
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"x", "y"},
		Root: &query.GraphPattern{
			Kind: query.PatternBasic,
			Triples: []query.TriplePattern{
				{Subject: varTerm("x"), Predicate: iriTerm("p"), Object: varTerm("y")},
				{Subject: varTerm("x"), Predicate: iriTerm("p2"), Object: varTerm("z")},
			},
			Filters: []parser.Expression{
				&parser.BinaryExpression{
					Left:     &parser.VariableExpression{Variable: &parser.Variable{Name: "y"}},
					Operator: parser.OpEqual,
					Right:    &parser.LiteralExpression{Literal: iri("c2")},
				},
			},
		},
	}
	p := newTestPlanner(idx)
	root, err := p.Plan(pq)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := countFilters(root); got != 1 {
		t.Fatalf("expected the filter to appear exactly once in the plan, found %d", got)
	}
}

func countFilters(op result.Operation) int {
	n := 0
	if _, ok := op.(*ops.Filter); ok {
		n = 1
	}
	type childLister interface{ Children() []result.Operation }
	if cl, ok := op.(childLister); ok {
		for _, ch := range cl.Children() {
			n += countFilters(ch)
		}
	}
	return n
}

func TestCacheKeyDeterminism(t *testing.T) {
	idx := testIndex()
	build := func() string {
		pq := &query.ParsedQuery{
			Kind:       query.KindSelect,
			SelectVars: []string{"x", "y"},
			Root: bgp(
				query.TriplePattern{Subject: varTerm("x"), Predicate: iriTerm("p"), Object: varTerm("y")},
				query.TriplePattern{Subject: varTerm("x"), Predicate: iriTerm("p2"), Object: varTerm("z")},
			),
		}
		root, err := newTestPlanner(idx).Plan(pq)
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		return root.CacheKey()
	}
	a, b := build(), build()
	if a != b {
		t.Fatalf("cache keys differ across plans of the same query:\n%s\n%s", a, b)
	}
}

func TestDPNotWorseThanGreedy(t *testing.T) {
	idx := testIndex()
	pq := func() *query.ParsedQuery {
		return &query.ParsedQuery{
			Kind:       query.KindSelect,
			SelectVars: []string{"x"},
			Root: bgp(
				query.TriplePattern{Subject: varTerm("x"), Predicate: iriTerm("p"), Object: varTerm("y")},
				query.TriplePattern{Subject: varTerm("x"), Predicate: iriTerm("p2"), Object: varTerm("z")},
				query.TriplePattern{Subject: varTerm("z"), Predicate: varTerm("q"), Object: varTerm("w")},
			),
		}
	}

	params := qctx.DefaultParams()
	dpPlanner := New(qctx.New(0, params), idx, nil, idx)
	dpRoot, err := dpPlanner.Plan(pq())
	if err != nil {
		t.Fatalf("DP plan: %v", err)
	}

	params.QueryPlanningBudget = 0 // forces the greedy fallback
	greedyPlanner := New(qctx.New(0, params), idx, nil, idx)
	greedyRoot, err := greedyPlanner.Plan(pq())
	if err != nil {
		t.Fatalf("greedy plan: %v", err)
	}

	if dpRoot.Estimates().CostEstimate > greedyRoot.Estimates().CostEstimate {
		t.Fatalf("DP cost %v exceeds greedy cost %v",
			dpRoot.Estimates().CostEstimate, greedyRoot.Estimates().CostEstimate)
	}
}

func TestPatternTrickActivation(t *testing.T) {
	idx := testIndex()
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"p", "cnt"},
		GroupBy:    []string{"p"},
		Aggregates: []query.AggregateSpec{{Func: "COUNT", Var: "s", OutVar: "cnt"}},
		Root: bgp(query.TriplePattern{
			Subject:   varTerm("s"),
			Predicate: query.Term{Value: rdf.NewNamedNode("ql:has-predicate")},
			Object:    varTerm("p"),
		}),
	}
	root, err := newTestPlanner(idx).Plan(pq)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	key := root.CacheKey()
	if !strings.Contains(key, "Distinct{") || !strings.Contains(key, "perm=SPO") {
		t.Fatalf("expected the pattern-trick plan (distinct subject-predicate pairs off SPO), got %s", key)
	}

	// The trick must NOT activate when the group variable occurs elsewhere.
	pq2 := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"p", "cnt"},
		GroupBy:    []string{"p"},
		Aggregates: []query.AggregateSpec{{Func: "COUNT", Var: "s", OutVar: "cnt"}},
		Root: bgp(
			query.TriplePattern{
				Subject:   varTerm("s"),
				Predicate: query.Term{Value: rdf.NewNamedNode("ql:has-predicate")},
				Object:    varTerm("p"),
			},
			query.TriplePattern{Subject: varTerm("s2"), Predicate: varTerm("p"), Object: varTerm("o")},
		),
	}
	root2, err := newTestPlanner(idx).Plan(pq2)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if strings.Contains(root2.CacheKey(), "Distinct{Projection") {
		t.Fatalf("pattern trick must not activate when the group variable occurs elsewhere")
	}
}

func TestTransitivePathClosure(t *testing.T) {
	// chain: a -> b -> c via <p>.
	idx := memindex.New([]*rdf.Triple{
		rdf.NewTriple(iri("a"), iri("p"), iri("b")),
		rdf.NewTriple(iri("b"), iri("p"), iri("c")),
	})
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"y"},
		Root: bgp(query.TriplePattern{
			Subject: iriTerm("a"),
			Path: &query.Path{
				Kind: query.PathOneOrMore,
				Sub:  []*query.Path{{Kind: query.PathDirect, Pred: iri("p")}},
			},
			Object: varTerm("y"),
		}),
	}
	rows := run(t, idx, pq)
	got := map[string]bool{}
	for _, r := range rows {
		got[r[0]] = true
	}
	if len(got) != 2 || !got["<http://example.org/b>"] || !got["<http://example.org/c>"] {
		t.Fatalf("expected {<b>, <c>}, got %v", rows)
	}
}

func TestGroupByAggregates(t *testing.T) {
	idx := testIndex()
	pq := &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"x", "n"},
		GroupBy:    []string{"x"},
		Aggregates: []query.AggregateSpec{{Func: "COUNT", Var: "o", OutVar: "n"}},
		Root: bgp(query.TriplePattern{
			Subject: varTerm("x"), Predicate: varTerm("p"), Object: varTerm("o"),
		}),
	}
	rows := run(t, idx, pq)
	counts := map[string]string{}
	for _, r := range rows {
		counts[r[0]] = r[1]
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 groups, got %v", rows)
	}
}
