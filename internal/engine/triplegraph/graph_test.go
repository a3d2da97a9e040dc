package triplegraph

import "testing"

func TestBuildRejectsOversizedPatterns(t *testing.T) {
	patterns := make([]TriplePattern, MaxNodes+1)
	for i := range patterns {
		patterns[i] = TriplePattern{SubjectVar: "x", ObjectVar: "y"}
	}
	if _, err := Build(patterns); err == nil {
		t.Fatal("expected the 64-node cap to be enforced")
	}
	if _, err := Build(patterns[:MaxNodes]); err != nil {
		t.Fatalf("exactly 64 nodes must be accepted: %v", err)
	}
}

func TestNodeSetOps(t *testing.T) {
	a := Single(0).Union(Single(3))
	b := Single(1).Union(Single(3))
	if a.Disjoint(b) {
		t.Fatal("sets sharing node 3 are not disjoint")
	}
	if !Single(0).Disjoint(Single(1)) {
		t.Fatal("distinct singletons are disjoint")
	}
	if a.PopCount() != 2 {
		t.Fatalf("PopCount = %d, want 2", a.PopCount())
	}
	members := a.Members()
	if len(members) != 2 || members[0] != 0 || members[1] != 3 {
		t.Fatalf("Members = %v", members)
	}
}

func TestConnectedComponents(t *testing.T) {
	g, err := Build([]TriplePattern{
		{SubjectVar: "x", ObjectVar: "y"}, // 0
		{SubjectVar: "y", ObjectVar: "z"}, // 1: shares y with 0
		{SubjectVar: "a", ObjectVar: "b"}, // 2: disjoint
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	comps := g.ConnectedComponents()
	if len(comps) != 2 {
		t.Fatalf("expected 2 components, got %v", comps)
	}
	total := 0
	for _, c := range comps {
		total += c.PopCount()
	}
	if total != 3 {
		t.Fatalf("components must partition all nodes, got %v", comps)
	}
}

func TestSharesVariable(t *testing.T) {
	g, err := Build([]TriplePattern{
		{SubjectVar: "x", ObjectVar: "y"},
		{SubjectVar: "y", ObjectVar: "z"},
		{SubjectVar: "a"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !g.SharesVariable(Single(0), Single(1)) {
		t.Fatal("nodes 0 and 1 share y")
	}
	if g.SharesVariable(Single(0), Single(2)) {
		t.Fatal("nodes 0 and 2 share nothing")
	}
}

func TestCountConnectedSubgraphsCapsAtBudget(t *testing.T) {
	// A clique through a single shared variable: subgraph count explodes,
	// but counting stops just past the budget.
	patterns := make([]TriplePattern, 20)
	for i := range patterns {
		patterns[i] = TriplePattern{SubjectVar: "x"}
	}
	g, err := Build(patterns)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	all := NodeSet(0)
	for i := range patterns {
		all = all.Union(Single(i))
	}
	budget := 100
	count := g.CountConnectedSubgraphs(all, budget)
	if count <= budget {
		t.Fatalf("expected the count to exceed the budget, got %d", count)
	}
	// A small chain stays under any generous budget.
	g2, _ := Build([]TriplePattern{
		{SubjectVar: "a", ObjectVar: "b"},
		{SubjectVar: "b", ObjectVar: "c"},
	})
	if got := g2.CountConnectedSubgraphs(Single(0).Union(Single(1)), 1000); got != 3 {
		t.Fatalf("chain of 2 has 3 connected subgraphs, got %d", got)
	}
}
