package memindex

import (
	"context"
	"testing"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

func fixture() *MemIndex {
	s := rdf.NewNamedNode("http://example.org/s")
	s2 := rdf.NewNamedNode("http://example.org/s2")
	p := rdf.NewNamedNode("http://example.org/p")
	p2 := rdf.NewNamedNode("http://example.org/p2")
	c := rdf.NewNamedNode("http://example.org/c")
	c2 := rdf.NewNamedNode("http://example.org/c2")
	return New([]*rdf.Triple{
		rdf.NewTriple(s, p, c),
		rdf.NewTriple(s, p, c2),
		rdf.NewTriple(s, p2, c),
		rdf.NewTriple(s2, p2, c2),
	})
}

func TestVocabRoundTrip(t *testing.T) {
	m := fixture()
	for _, term := range []rdf.Term{
		rdf.NewNamedNode("http://example.org/s"),
		rdf.NewNamedNode("http://example.org/p2"),
	} {
		form := ops.LexicalForm(term)
		id, ok := m.Vocab().GetId(form)
		if !ok {
			t.Fatalf("GetId(%q) missed", form)
		}
		back, ok := m.Vocab().LookupString(id)
		if !ok || back != form {
			t.Fatalf("LookupString(GetId(%q)) = %q", form, back)
		}
	}
	if _, ok := m.Vocab().GetId("<http://example.org/nope>"); ok {
		t.Fatal("unexpected hit for an absent term")
	}
}

func TestScansAreSortedInEveryPermutation(t *testing.T) {
	m := fixture()
	for _, perm := range index.All {
		it, err := m.Scan(context.Background(), perm, ids.UndefinedId, ids.UndefinedId, nil)
		if err != nil {
			t.Fatalf("%s: Scan: %v", perm, err)
		}
		blk, ok, err := it.Next(context.Background())
		if err != nil || !ok {
			t.Fatalf("%s: expected one block, ok=%v err=%v", perm, ok, err)
		}
		if len(blk.Rows) != 4 {
			t.Fatalf("%s: expected 4 rows, got %d", perm, len(blk.Rows))
		}
		for i := 1; i < len(blk.Rows); i++ {
			if rowGreater(blk.Rows[i-1], blk.Rows[i]) {
				t.Fatalf("%s: rows out of order at %d", perm, i)
			}
		}
		it.Close()
	}
}

func rowGreater(a, b []ids.Id) bool {
	for i := range a {
		switch ids.Compare(a[i], b[i]) {
		case ids.Less:
			return false
		case ids.Greater:
			return true
		}
	}
	return false
}

func TestBoundPrefixScan(t *testing.T) {
	m := fixture()
	sId, _ := m.Vocab().GetId("<http://example.org/s>")
	pId, _ := m.Vocab().GetId("<http://example.org/p>")

	it, err := m.Scan(context.Background(), index.SPO, sId, pId, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	blk, ok, _ := it.Next(context.Background())
	if !ok || len(blk.Rows) != 2 {
		t.Fatalf("expected the two <s> <p> objects, got ok=%v rows=%v", ok, blk.Rows)
	}
	if len(blk.Rows[0]) != 1 {
		t.Fatalf("two bound columns leave one output column, got %d", len(blk.Rows[0]))
	}
}

func TestMetadata(t *testing.T) {
	m := fixture()
	sId, _ := m.Vocab().GetId("<http://example.org/s>")
	md := m.Metadata(index.SPO)
	if !md.Col0IdExists(sId) {
		t.Fatal("<s> leads three SPO rows")
	}
	got := md.Get(sId)
	if got.NumRows != 3 {
		t.Fatalf("expected 3 rows under <s>, got %d", got.NumRows)
	}
	absent := ids.FromVocabIndex(999)
	if md.Col0IdExists(absent) {
		t.Fatal("absent id must not exist")
	}
	total := md.Get(ids.UndefinedId)
	if total.NumRows != 4 {
		t.Fatalf("whole-permutation stats must cover 4 rows, got %d", total.NumRows)
	}
}

func TestDistinctCounts(t *testing.T) {
	m := fixture()
	if m.NumDistinctSubjects() != 2 || m.NumDistinctPredicates() != 2 || m.NumDistinctObjects() != 2 {
		t.Fatalf("distinct counts: s=%d p=%d o=%d",
			m.NumDistinctSubjects(), m.NumDistinctPredicates(), m.NumDistinctObjects())
	}
}

func TestInlineNumericObjects(t *testing.T) {
	s := rdf.NewNamedNode("http://example.org/s")
	age := rdf.NewNamedNode("http://example.org/age")
	m := New([]*rdf.Triple{rdf.NewTriple(s, age, rdf.NewIntegerLiteral(30))})

	ageId, ok := m.Vocab().GetId("<http://example.org/age>")
	if !ok {
		t.Fatal("predicate missing from vocab")
	}
	it, err := m.Scan(context.Background(), index.PSO, ageId, ids.UndefinedId, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	blk, ok, _ := it.Next(context.Background())
	if !ok || len(blk.Rows) != 1 {
		t.Fatalf("expected one row, got %v", blk.Rows)
	}
	obj := blk.Rows[0][1]
	if obj.Tag() != ids.Int || obj.ToInt() != 30 {
		t.Fatalf("numeric object must be inline-encoded, got tag %v", obj.Tag())
	}
	term, ok := m.ResolveTerm(obj)
	if !ok {
		t.Fatal("inline id must resolve back to a term")
	}
	lit, isLit := term.(*rdf.Literal)
	if !isLit || lit.Value != "30" {
		t.Fatalf("expected the integer literal back, got %v", term)
	}
}
