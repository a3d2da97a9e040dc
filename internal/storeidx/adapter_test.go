package storeidx

import (
	"context"
	"testing"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/storage"
	"github.com/aleksaelezovic/trigo/internal/store"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

func loadedAdapter(t *testing.T) *Adapter {
	t.Helper()
	tmpDir := t.TempDir()
	s, err := storage.NewBadgerStorage(tmpDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ts := store.NewTripleStore(s)
	alice := rdf.NewNamedNode("http://example.org/alice")
	bob := rdf.NewNamedNode("http://example.org/bob")
	knows := rdf.NewNamedNode("http://example.org/knows")
	age := rdf.NewNamedNode("http://example.org/age")
	for _, tr := range []*rdf.Triple{
		rdf.NewTriple(alice, knows, bob),
		rdf.NewTriple(alice, age, rdf.NewIntegerLiteral(30)),
		rdf.NewTriple(bob, age, rdf.NewIntegerLiteral(25)),
	} {
		if err := ts.InsertTriple(tr); err != nil {
			t.Fatalf("failed to insert triple: %v", err)
		}
	}

	a, err := New(s)
	if err != nil {
		t.Fatalf("failed to build adapter: %v", err)
	}
	return a
}

func TestAdapterVocabRoundTrip(t *testing.T) {
	a := loadedAdapter(t)
	id, ok := a.Vocab().GetId("<http://example.org/alice>")
	if !ok {
		t.Fatal("alice missing from vocabulary")
	}
	back, ok := a.Vocab().LookupString(id)
	if !ok || back != "<http://example.org/alice>" {
		t.Fatalf("round trip gave %q", back)
	}
}

func TestAdapterScanBoundPrefix(t *testing.T) {
	a := loadedAdapter(t)
	aliceId, _ := a.Vocab().GetId("<http://example.org/alice>")

	it, err := a.Scan(context.Background(), index.SPO, aliceId, ids.UndefinedId, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer it.Close()
	blk, ok, err := it.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a block: ok=%v err=%v", ok, err)
	}
	if len(blk.Rows) != 2 {
		t.Fatalf("alice has 2 triples, got %d rows", len(blk.Rows))
	}
	for i := 1; i < len(blk.Rows); i++ {
		if ids.Compare(blk.Rows[i-1][0], blk.Rows[i][0]) == ids.Greater {
			t.Fatal("scan rows must come out sorted by runtime id")
		}
	}
}

func TestAdapterEmulatedPermutation(t *testing.T) {
	a := loadedAdapter(t)
	ageId, _ := a.Vocab().GetId("<http://example.org/age>")

	// PSO has no physical table; it is served from POS with a re-sort.
	it, err := a.Scan(context.Background(), index.PSO, ageId, ids.UndefinedId, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer it.Close()
	blk, ok, _ := it.Next(context.Background())
	if !ok || len(blk.Rows) != 2 {
		t.Fatalf("expected both age triples, got %v", blk.Rows)
	}
	// Remaining columns are (s, o) in PSO order; objects are inline ints.
	for _, row := range blk.Rows {
		if row[1].Tag() != ids.Int {
			t.Fatalf("expected inline integer object, got tag %v", row[1].Tag())
		}
	}
}

func TestAdapterMetadata(t *testing.T) {
	a := loadedAdapter(t)
	aliceId, _ := a.Vocab().GetId("<http://example.org/alice>")
	md := a.Metadata(index.SPO)
	if !md.Col0IdExists(aliceId) {
		t.Fatal("alice leads SPO rows")
	}
	if got := md.Get(aliceId); got.NumRows != 2 {
		t.Fatalf("expected 2 rows under alice, got %d", got.NumRows)
	}
	if got := md.Get(ids.UndefinedId); got.NumRows != 3 {
		t.Fatalf("expected 3 total rows, got %d", got.NumRows)
	}
	if a.NumDistinctSubjects() != 2 || a.NumDistinctPredicates() != 2 {
		t.Fatalf("distinct counts: s=%d p=%d", a.NumDistinctSubjects(), a.NumDistinctPredicates())
	}
}
