package query

import (
	"testing"

	"github.com/aleksaelezovic/trigo/internal/sparql/parser"
)

func parse(t *testing.T, q string) *ParsedQuery {
	t.Helper()
	p := parser.NewParser(q)
	ast, err := p.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pq, err := FromAST(ast)
	if err != nil {
		t.Fatalf("FromAST: %v", err)
	}
	return pq
}

func TestFromASTSelect(t *testing.T) {
	pq := parse(t, `SELECT ?x ?y WHERE { ?x <http://example.org/p> ?y . } LIMIT 5 OFFSET 2`)
	if pq.Kind != KindSelect {
		t.Fatalf("kind = %v", pq.Kind)
	}
	if len(pq.SelectVars) != 2 || pq.SelectVars[0] != "x" || pq.SelectVars[1] != "y" {
		t.Fatalf("SelectVars = %v", pq.SelectVars)
	}
	if pq.Limit == nil || *pq.Limit != 5 || pq.Offset == nil || *pq.Offset != 2 {
		t.Fatalf("limit/offset = %v/%v", pq.Limit, pq.Offset)
	}
	if len(pq.Root.Triples) != 1 {
		t.Fatalf("expected one triple, got %+v", pq.Root)
	}
	tr := pq.Root.Triples[0]
	if !tr.Subject.IsVar() || tr.Subject.Var != "x" || tr.Predicate.IsVar() || !tr.Object.IsVar() {
		t.Fatalf("triple shape wrong: %+v", tr)
	}
}

func TestFromASTOptionalBecomesChild(t *testing.T) {
	pq := parse(t, `SELECT ?x ?y WHERE { ?x <http://example.org/p> <http://example.org/c> . OPTIONAL { ?x <http://example.org/q> ?y . } }`)
	root := pq.Root
	if root.Kind != PatternGroup {
		t.Fatalf("expected a group root, got %v", root.Kind)
	}
	foundOptional := false
	for _, c := range root.Children {
		if c.Kind == PatternOptional {
			foundOptional = true
		}
	}
	if !foundOptional {
		t.Fatalf("expected an OPTIONAL child, got %+v", root.Children)
	}
}

func TestFromASTAsk(t *testing.T) {
	pq := parse(t, `ASK { ?x <http://example.org/p> ?y . }`)
	if pq.Kind != KindAsk {
		t.Fatalf("kind = %v", pq.Kind)
	}
	if len(pq.Root.Triples) != 1 {
		t.Fatalf("expected one triple, got %+v", pq.Root)
	}
}

func TestFromASTOrderByDescending(t *testing.T) {
	pq := parse(t, `SELECT ?x WHERE { ?x <http://example.org/p> ?y . } ORDER BY DESC ?x`)
	if len(pq.OrderBy) != 1 || pq.OrderBy[0].Var != "x" || pq.OrderBy[0].Ascending {
		t.Fatalf("order = %+v", pq.OrderBy)
	}
}

func TestFromASTDropsUnparsedFilterExpressions(t *testing.T) {
	// The surface parser consumes FILTER bodies without building an
	// expression tree; the converted query must not carry nil filters.
	pq := parse(t, `SELECT ?x WHERE { ?x <http://example.org/p> ?y . FILTER(?y > 3) }`)
	for _, f := range pq.Root.Filters {
		if f == nil {
			t.Fatal("nil filter expression leaked through FromAST")
		}
	}
}
