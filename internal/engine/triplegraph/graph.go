// Package triplegraph translates a basic graph pattern into a bitset-
// indexed node graph: nodes are triples, edges connect nodes sharing at
// least one variable, and every node set is representable as a single
// uint64 mask. The hard 64-node cap is what
// lets the planner's DP/greedy enumerator use O(1) bitmask set operations
// throughout.
package triplegraph

import "github.com/aleksaelezovic/trigo/internal/engine/errs"

// MaxNodes is the hard cap on triples per group graph pattern: a NodeSet
// is a uint64 bitmask, so node indices must fit in [0, 64).
const MaxNodes = 64

// NodeSet is a 64-bit bitmask over triple-graph node indices.
type NodeSet uint64

// Single returns the NodeSet containing only node i.
func Single(i int) NodeSet { return NodeSet(1) << uint(i) }

// Contains reports whether i is a member of s.
func (s NodeSet) Contains(i int) bool { return s&Single(i) != 0 }

// Disjoint reports whether s and o share no members — the bitmask
// disjointness precondition the planner checks before combining two plans
//.
func (s NodeSet) Disjoint(o NodeSet) bool { return s&o == 0 }

// Union returns the member-wise union of s and o.
func (s NodeSet) Union(o NodeSet) NodeSet { return s | o }

// PopCount returns the number of member nodes.
func (s NodeSet) PopCount() int {
	count := 0
	for s != 0 {
		s &= s - 1
		count++
	}
	return count
}

// IsEmpty reports whether s has no members.
func (s NodeSet) IsEmpty() bool { return s == 0 }

// Members returns the sorted list of member node indices.
func (s NodeSet) Members() []int {
	out := make([]int, 0, s.PopCount())
	for i := 0; i < MaxNodes; i++ {
		if s.Contains(i) {
			out = append(out, i)
		}
	}
	return out
}

// TriplePattern is the minimal shape triplegraph needs from a parsed
// triple: each of S/P/O is either a bound term (Var == "") or a variable
// name.
type TriplePattern struct {
	SubjectVar, PredicateVar, ObjectVar string
}

func (p TriplePattern) variables() []string {
	vars := make([]string, 0, 3)
	seen := map[string]bool{}
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	add(p.SubjectVar)
	add(p.PredicateVar)
	add(p.ObjectVar)
	return vars
}

// Node is one triple-graph node: the original triple pattern plus the set
// of variables it mentions.
type Node struct {
	Pattern TriplePattern
	Vars map[string]bool
}

// Graph is a TripleGraph: nodes 0..N-1 (N <= MaxNodes) with edges implied
// by shared variables (adjacency is derived on demand from Vars, not
// stored explicitly, since the planner only ever needs "do these two node
// sets share a variable", answered by VarsOf intersection).
type Graph struct {
	Nodes []Node
}

// Build constructs a Graph from a basic graph pattern's triple list,
// rejecting more than MaxNodes triples, a hard invariant.
func Build(patterns []TriplePattern) (*Graph, error) {
	if len(patterns) > MaxNodes {
		return nil, errs.NewUnsupportedQueryFeature(
			"group graph pattern has %d triples, exceeding the %d-node limit", len(patterns), MaxNodes)
	}
	g := &Graph{Nodes: make([]Node, len(patterns))}
	for i, p := range patterns {
		vars := map[string]bool{}
		for _, v := range p.variables() {
			vars[v] = true
		}
		g.Nodes[i] = Node{Pattern: p, Vars: vars}
	}
	return g, nil
}

// SharesVariable reports whether the nodes in a and the nodes in b share
// at least one variable — the edge test the DP/greedy combiner uses to
// decide whether two disjoint node sets may be joined at all (as opposed
// to requiring a Cartesian product).
func (g *Graph) SharesVariable(a, b NodeSet) bool {
	av := g.VarsOf(a)
	for v := range g.VarsOf(b) {
		if av[v] {
			return true
		}
	}
	return false
}

// VarsOf returns the union of variables mentioned by every node in s.
func (g *Graph) VarsOf(s NodeSet) map[string]bool {
	out := map[string]bool{}
	for _, i := range s.Members() {
		for v := range g.Nodes[i].Vars {
			out[v] = true
		}
	}
	return out
}

// ConnectedComponents partitions all nodes into maximal connected
// components via union-find over shared variables.
// Each component is planned independently by the DP/greedy enumerator.
func (g *Graph) ConnectedComponents() []NodeSet {
	n := len(g.Nodes)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	// Two triples are connected if they share a variable.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			shared := false
			for v := range g.Nodes[i].Vars {
				if g.Nodes[j].Vars[v] {
					shared = true
					break
				}
			}
			if shared {
				union(i, j)
			}
		}
	}

	byRoot := map[int]NodeSet{}
	order := []int{}
	for i := 0; i < n; i++ {
		r := find(i)
		if _, ok := byRoot[r]; !ok {
			order = append(order, r)
		}
		byRoot[r] = byRoot[r].Union(Single(i))
	}
	out := make([]NodeSet, 0, len(order))
	for _, r := range order {
		out = append(out, byRoot[r])
	}
	return out
}

// CountConnectedSubgraphs estimates the number of connected subgraphs of
// the component's join graph, used by the planner to decide DP vs. greedy
//. It enumerates subsets by size via a bounded
// branch-and-bound count rather than a closed-form formula, capped at the
// budget itself: once the running count exceeds budget, counting stops
// early and the (possibly partial) count is returned, which is sufficient
// to trigger the greedy fallback.
func (g *Graph) CountConnectedSubgraphs(within NodeSet, budget int) int {
	members := within.Members()
	count := 0
	var rec func(included NodeSet, remaining []int)
	rec = func(included NodeSet, remaining []int) {
		if !included.IsEmpty() {
			count++
		}
		if count > budget {
			return
		}
		for i, node := range remaining {
			cand := included.Union(Single(node))
			if !included.IsEmpty() && !g.SharesVariable(included, Single(node)) {
				continue
			}
			rec(cand, remaining[i+1:])
			if count > budget {
				return
			}
		}
	}
	rec(0, members)
	return count
}
