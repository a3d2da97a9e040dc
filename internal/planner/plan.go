// Package planner translates a ParsedQuery into a tree of physical
// operators: triple-graph construction and permutation selection, DP or
// greedy join ordering under the 64-node bitmask cap, filter and
// text-limit placement, and the top-level modifiers.
package planner

import (
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/internal/engine/triplegraph"
)

// planType distinguishes how a subtree joins into its parent group.
type planType int

const (
	planBasic planType = iota
	planOptional
	planMinus
)

// subtreePlan is one candidate physical tree, annotated with the three
// bitmasks the enumerator prunes on: included triple nodes, included
// filters, and included text limits. Immutable once built.
type subtreePlan struct {
	op result.Operation
	typ planType
	nodes triplegraph.NodeSet
	filters uint64
	textLimits uint64
}

func (p subtreePlan) cost() float64 { return p.op.Estimates().CostEstimate }

// pruneKey is the enumerator's deduplication fingerprint: plans agreeing
// on it are interchangeable except for cost, so only the cheapest is kept.
type pruneKey struct {
	sorted string
	nodes triplegraph.NodeSet
	filters uint64
	textLimits uint64
	typ planType
}

// sortedKey renders a plan's sort order as the sequence of VARIABLES the
// sorted columns carry, not raw column indices: two plans over the same
// node set with the same variable sort order are interchangeable even
// when their physical column layouts differ, while two permutations of
// one index scan (different variable orders) must stay distinct.
func sortedKey(op result.Operation) string {
	varAt := make(map[int]string, len(op.Variables()))
	for name, col := range op.Variables() {
		varAt[col] = name
	}
	key := ""
	for _, c := range op.ResultSortedOn() {
		key += varAt[c] + ";"
	}
	return key
}

func keyOf(p subtreePlan) pruneKey {
	return pruneKey{
		sorted:     sortedKey(p.op),
		nodes:      p.nodes,
		filters:    p.filters,
		textLimits: p.textLimits,
		typ:        p.typ,
	}
}

// prune keeps, per prune key, only the cheapest plan. Cost ties are broken
// by cache-key string comparison so plans are deterministic run to run.
func prune(plans []subtreePlan) []subtreePlan {
	best := make(map[pruneKey]subtreePlan, len(plans))
	order := make([]pruneKey, 0, len(plans))
	for _, p := range plans {
		k := keyOf(p)
		cur, ok := best[k]
		if !ok {
			best[k] = p
			order = append(order, k)
			continue
		}
		pc, cc := p.cost(), cur.cost()
		if pc < cc || (pc == cc && p.op.CacheKey() < cur.op.CacheKey()) {
			best[k] = p
		}
	}
	out := make([]subtreePlan, 0, len(best))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// cheapest returns the minimum-cost plan of a non-empty slice, ties broken
// by cache key.
func cheapest(plans []subtreePlan) subtreePlan {
	best := plans[0]
	for _, p := range plans[1:] {
		pc, bc := p.cost(), best.cost()
		if pc < bc || (pc == bc && p.op.CacheKey() < best.op.CacheKey()) {
			best = p
		}
	}
	return best
}
