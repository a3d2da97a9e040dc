package exec

import (
	"context"
	"testing"

	"github.com/aleksaelezovic/trigo/internal/query"
	"github.com/aleksaelezovic/trigo/internal/storeidx/memindex"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	s := rdf.NewNamedNode("http://example.org/s")
	s2 := rdf.NewNamedNode("http://example.org/s2")
	p := rdf.NewNamedNode("http://example.org/p")
	p2 := rdf.NewNamedNode("http://example.org/p2")
	c := rdf.NewNamedNode("http://example.org/c")
	c2 := rdf.NewNamedNode("http://example.org/c2")
	idx := memindex.New([]*rdf.Triple{
		rdf.NewTriple(s, p, c),
		rdf.NewTriple(s, p, c2),
		rdf.NewTriple(s, p2, c),
		rdf.NewTriple(s2, p2, c2),
	})
	e, err := NewEngine(idx, idx)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func selectXwithP(obj string) *query.ParsedQuery {
	return &query.ParsedQuery{
		Kind:       query.KindSelect,
		SelectVars: []string{"x"},
		Root: &query.GraphPattern{
			Kind: query.PatternBasic,
			Triples: []query.TriplePattern{{
				Subject:   query.Term{Var: "x"},
				Predicate: query.Term{Value: rdf.NewNamedNode("http://example.org/p")},
				Object:    query.Term{Value: rdf.NewNamedNode("http://example.org/" + obj)},
			}},
		},
	}
}

func TestRunSelect(t *testing.T) {
	e := testEngine(t)
	out, err := e.Run(context.Background(), selectXwithP("c"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Select == nil || len(out.Select.Bindings) != 1 {
		t.Fatalf("expected one binding, got %+v", out.Select)
	}
	term := out.Select.Bindings[0]["x"]
	nn, ok := term.(*rdf.NamedNode)
	if !ok || nn.IRI != "http://example.org/s" {
		t.Fatalf("expected <s>, got %v", term)
	}
	if out.Runtime == nil || out.Runtime.Description == "" {
		t.Fatal("expected runtime information")
	}
}

func TestRunServesSecondExecutionFromCache(t *testing.T) {
	e := testEngine(t)
	out1, err := e.Run(context.Background(), selectXwithP("c"))
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if out1.Runtime.WasCached {
		t.Fatal("first execution cannot be cached")
	}
	out2, err := e.Run(context.Background(), selectXwithP("c"))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !out2.Runtime.WasCached {
		t.Fatal("second execution of the same query must hit the cache")
	}
	if len(out1.Select.Bindings) != len(out2.Select.Bindings) {
		t.Fatal("cached result must equal the computed one")
	}
}

func TestRunAsk(t *testing.T) {
	e := testEngine(t)
	pq := selectXwithP("c")
	pq.Kind = query.KindAsk
	pq.SelectVars = nil
	out, err := e.Run(context.Background(), pq)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Ask == nil || !out.Ask.Result {
		t.Fatalf("expected ASK true, got %+v", out.Ask)
	}

	pq2 := selectXwithP("nope")
	pq2.Kind = query.KindAsk
	pq2.SelectVars = nil
	out2, err := e.Run(context.Background(), pq2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out2.Ask.Result {
		t.Fatal("expected ASK false for an absent term")
	}
}

func TestRunConstruct(t *testing.T) {
	e := testEngine(t)
	pq := &query.ParsedQuery{
		Kind: query.KindConstruct,
		ConstructTemplate: []query.TriplePattern{{
			Subject:   query.Term{Var: "x"},
			Predicate: query.Term{Value: rdf.NewNamedNode("http://example.org/derived")},
			Object:    query.Term{Value: rdf.NewNamedNode("http://example.org/c")},
		}},
		Root: selectXwithP("c").Root,
	}
	out, err := e.Run(context.Background(), pq)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Construct == nil || len(out.Construct.Triples) != 1 {
		t.Fatalf("expected one constructed triple, got %+v", out.Construct)
	}
	if nn, ok := out.Construct.Triples[0].Predicate.(*rdf.NamedNode); !ok || nn.IRI != "http://example.org/derived" {
		t.Fatalf("unexpected predicate %v", out.Construct.Triples[0].Predicate)
	}
}

func TestRoundTripIdTerm(t *testing.T) {
	// For every term in the index, resolve(vocabId(term)) == term.
	e := testEngine(t)
	for _, local := range []string{"s", "s2", "p", "p2", "c", "c2"} {
		form := "<http://example.org/" + local + ">"
		id, ok := e.Idx.Vocab().GetId(form)
		if !ok {
			t.Fatalf("missing %s", form)
		}
		term, ok := e.ResolveId(id, nil)
		if !ok {
			t.Fatalf("ResolveId missed for %s", form)
		}
		if nn, isIRI := term.(*rdf.NamedNode); !isIRI || "<"+nn.IRI+">" != form {
			t.Fatalf("round trip of %s gave %v", form, term)
		}
	}
}
