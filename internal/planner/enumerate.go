package planner

import (
	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/internal/engine/triplegraph"
)

// textLimitState is one pending text-limit placement: the request plus the
// mask of graph nodes mentioning its text-record variable. The operator is
// inserted as soon as a plan covers all of them.
type textLimitState struct {
	spec  TextLimitSpec
	nodes triplegraph.NodeSet
}

func (s *session) textLimitStates(g *triplegraph.Graph, units []unit) []textLimitState {
	var out []textLimitState
	for _, spec := range s.p.textLimits {
		out = append(out, textLimitState{spec: spec, nodes: nodesMentioning(g, spec.RecordVar)})
	}
	return out
}

// applyStages wraps a plan with every filter whose variables are all bound
// and every text limit whose feeding nodes are all included, tracking both
// in the plan's bitmasks so nothing is applied twice.
func (s *session) applyStages(p subtreePlan, filters []filterSpec, tls []textLimitState) subtreePlan {
	for {
		progressed := false
		vars := p.op.Variables()
		for i, f := range filters {
			if p.filters&(1<<uint(i)) != 0 {
				continue
			}
			allBound := true
			for v := range f.vars {
				if _, ok := vars[v]; !ok {
					allBound = false
					break
				}
			}
			if !allBound {
				continue
			}
			p = subtreePlan{
				op:         ops.NewFilter(s.p.env, p.op, f.expr),
				typ:        p.typ,
				nodes:      p.nodes,
				filters:    p.filters | 1<<uint(i),
				textLimits: p.textLimits,
			}
			vars = p.op.Variables()
			progressed = true
		}
		for i, tl := range tls {
			if p.textLimits&(1<<uint(i)) != 0 {
				continue
			}
			if tl.nodes.IsEmpty() || tl.nodes&p.nodes != tl.nodes {
				continue
			}
			cols, ok := textLimitColumns(p.op, tl.spec)
			if !ok {
				continue
			}
			p = subtreePlan{
				op:         ops.NewTextLimit(s.p.env, p.op, tl.spec.N, cols.record, cols.entities, cols.scores),
				typ:        p.typ,
				nodes:      p.nodes,
				filters:    p.filters,
				textLimits: p.textLimits | 1<<uint(i),
			}
			progressed = true
		}
		if !progressed {
			return p
		}
	}
}

type textLimitCols struct {
	record int
	entities []int
	scores   []int
}

func textLimitColumns(op result.Operation, spec TextLimitSpec) (textLimitCols, bool) {
	vars := op.Variables()
	rec, ok := vars[spec.RecordVar]
	if !ok {
		return textLimitCols{}, false
	}
	out := textLimitCols{record: rec}
	for _, v := range spec.EntityVars {
		c, ok := vars[v]
		if !ok {
			return textLimitCols{}, false
		}
		out.entities = append(out.entities, c)
	}
	for _, v := range spec.ScoreVars {
		c, ok := vars[v]
		if !ok {
			return textLimitCols{}, false
		}
		out.scores = append(out.scores, c)
	}
	return out, true
}

// enumerateComponent plans one connected component: the basic nodes are
// join-ordered by DP (when the estimated number of connected subgraphs
// fits the query-planning budget) or greedily, then the component's
// OPTIONAL/MINUS subtrees are folded in — they compose against the
// completed basic part, never against a fragment of it.
func (s *session) enumerateComponent(g *triplegraph.Graph, comp triplegraph.NodeSet, seeds map[int][]subtreePlan, filters []filterSpec, tls []textLimitState) (subtreePlan, error) {
	var basic triplegraph.NodeSet
	var nonBasic []int
	for _, i := range comp.Members() {
		plans := seeds[i]
		if len(plans) == 0 {
			return subtreePlan{}, errs.NewContractError("no seed plans for node %d", i)
		}
		if plans[0].typ == planBasic {
			basic = basic.Union(triplegraph.Single(i))
		} else {
			nonBasic = append(nonBasic, i)
		}
	}

	var root subtreePlan
	switch basic.PopCount() {
	case 0:
		// A group that is nothing but OPTIONAL/MINUS composes against the
		// join identity.
		root = s.applyStages(subtreePlan{op: ops.NeutralElement{}}, filters, tls)
	case 1:
		root = cheapest(seeds[basic.Members()[0]])
	default:
		budget := s.p.env.Q.Params.QueryPlanningBudget
		planned := false
		if g.CountConnectedSubgraphs(basic, budget) <= budget {
			if plan, ok, err := s.enumerateDP(g, basic, seeds, filters, tls); err != nil {
				return subtreePlan{}, err
			} else if ok {
				root, planned = plan, true
			}
		}
		if !planned {
			var err error
			root, err = s.enumerateGreedy(g, basic, seeds, filters, tls)
			if err != nil {
				return subtreePlan{}, err
			}
		}
	}

	for _, i := range nonBasic {
		candidates := s.combine(g, root, cheapest(seeds[i]))
		if len(candidates) == 0 {
			return subtreePlan{}, errs.NewContractError("cannot compose node %d into its component", i)
		}
		best := candidates[0]
		for _, c := range candidates[1:] {
			staged := s.applyStages(c, filters, tls)
			if staged.cost() < best.cost() {
				best = staged
			}
		}
		root = s.applyStages(best, filters, tls)
	}
	return root, nil
}

// enumerateDP runs the exact dynamic program: dp[mask] holds the pruned
// candidate plans using exactly the nodes in mask, built by combining
// disjoint sub-masks connected through at least one shared variable.
func (s *session) enumerateDP(g *triplegraph.Graph, comp triplegraph.NodeSet, seeds map[int][]subtreePlan, filters []filterSpec, tls []textLimitState) (subtreePlan, bool, error) {
	members := comp.Members()
	n := len(members)

	dp := map[triplegraph.NodeSet][]subtreePlan{}
	bySize := make([][]triplegraph.NodeSet, n+1)
	for _, i := range members {
		mask := triplegraph.Single(i)
		dp[mask] = seeds[i]
		bySize[1] = append(bySize[1], mask)
	}

	for k := 2; k <= n; k++ {
		fresh := map[triplegraph.NodeSet][]subtreePlan{}
		for sz := 1; sz <= k/2; sz++ {
			for _, a := range bySize[sz] {
				for _, b := range bySize[k-sz] {
					if !a.Disjoint(b) {
						continue
					}
					if sz == k-sz && b <= a {
						continue // unordered pair, visit once
					}
					for _, pa := range dp[a] {
						for _, pb := range dp[b] {
							for _, cand := range s.combine(g, pa, pb) {
								staged := s.applyStages(cand, filters, tls)
								union := a.Union(b)
								fresh[union] = append(fresh[union], staged)
							}
						}
					}
				}
			}
		}
		for mask, plans := range fresh {
			dp[mask] = prune(append(dp[mask], plans...))
			bySize[k] = append(bySize[k], mask)
		}
	}

	plans, ok := dp[comp]
	if !ok || len(plans) == 0 {
		return subtreePlan{}, false, nil
	}
	return cheapest(plans), true, nil
}

// enumerateGreedy starts from the cheapest seed per node and repeatedly
// combines the globally cheapest combinable pair until one plan remains.
func (s *session) enumerateGreedy(g *triplegraph.Graph, comp triplegraph.NodeSet, seeds map[int][]subtreePlan, filters []filterSpec, tls []textLimitState) (subtreePlan, error) {
	var current []subtreePlan
	for _, i := range comp.Members() {
		plans := seeds[i]
		if len(plans) == 0 {
			return subtreePlan{}, errs.NewContractError("no seed plans for node %d", i)
		}
		current = append(current, cheapest(plans))
	}
	for len(current) > 1 {
		bestI, bestJ := -1, -1
		var best subtreePlan
		found := false
		for i := 0; i < len(current); i++ {
			for j := i + 1; j < len(current); j++ {
				for _, cand := range s.combine(g, current[i], current[j]) {
					staged := s.applyStages(cand, filters, tls)
					if !found || staged.cost() < best.cost() ||
						(staged.cost() == best.cost() && staged.op.CacheKey() < best.op.CacheKey()) {
						best, bestI, bestJ, found = staged, i, j, true
					}
				}
			}
		}
		if !found {
			// Disconnected remainder inside a component should not happen;
			// fall back to an explicit product so planning always succeeds.
			cp, err := ops.NewCartesianProduct(s.p.env, []result.Operation{current[0].op, current[1].op})
			if err != nil {
				return subtreePlan{}, err
			}
			best = subtreePlan{
				op:      cp,
				nodes:   current[0].nodes.Union(current[1].nodes),
				filters: current[0].filters | current[1].filters,
				textLimits: current[0].textLimits | current[1].textLimits,
			}
			bestI, bestJ = 0, 1
		}
		next := current[:0]
		for k, p := range current {
			if k != bestI && k != bestJ {
				next = append(next, p)
			}
		}
		current = append(next, best)
	}
	return current[0], nil
}

// combine generates the candidate plans for joining two disjoint subtrees:
// sort-merge (with inserted Sorts), index-nested-loop, and the
// OPTIONAL/MINUS composition rules. Returns nil when the pair cannot be
// combined.
func (s *session) combine(g *triplegraph.Graph, a, b subtreePlan) []subtreePlan {
	if !a.nodes.Disjoint(b.nodes) {
		return nil
	}
	// Normalize: non-basic plan goes to the right.
	if a.typ != planBasic && b.typ == planBasic {
		a, b = b, a
	}
	if a.typ != planBasic {
		return nil // two OPTIONAL/MINUS subtrees never combine directly
	}

	union := a.nodes.Union(b.nodes)
	fmask := a.filters | b.filters
	tmask := a.textLimits | b.textLimits
	jl, jr := joinColumnsOf(a.op, b.op)

	switch b.typ {
	case planOptional:
		op := ops.NewOptionalJoin(s.p.env, s.ensureSorted(a.op, jl), s.ensureSorted(b.op, jr))
		return []subtreePlan{{op: op, nodes: union, filters: fmask, textLimits: tmask}}
	case planMinus:
		left, right := a.op, b.op
		if len(jl) == 1 {
			left = s.ensureSorted(left, jl)
			right = s.ensureSorted(right, jr)
		}
		op := ops.NewMinus(s.p.env, left, right)
		return []subtreePlan{{op: op, nodes: union, filters: fmask, textLimits: tmask}}
	}

	if len(jl) == 0 {
		return nil // no shared variable: left for the Cartesian stage
	}

	var out []subtreePlan
	add := func(op result.Operation) {
		out = append(out, subtreePlan{op: op, nodes: union, filters: fmask, textLimits: tmask})
	}

	// Sort-merge candidates in both argument orders (the output column
	// layouts differ, so both may be useful to parents).
	if la, ok := s.sortedFor(a.op, jl); ok {
		if rb, ok := s.sortedFor(b.op, jr); ok {
			add(ops.NewJoin(s.p.env, la, rb, ops.JoinZipper))
		}
	}
	jl2, jr2 := joinColumnsOf(b.op, a.op)
	if lb, ok := s.sortedFor(b.op, jl2); ok {
		if ra, ok := s.sortedFor(a.op, jr2); ok {
			add(ops.NewJoin(s.p.env, lb, ra, ops.JoinZipper))
		}
	}

	// Index-nested-loop: right side an IndexScan probed per left row; no
	// sorting required, output keeps the left order. Only sound when no
	// UNDEF can appear in the join columns.
	undefFree := true
	for k := range jl {
		if !opAlwaysDefined(a.op, jl[k]) || !opAlwaysDefined(b.op, jr[k]) {
			undefFree = false
			break
		}
	}
	if undefFree {
		if _, isScan := b.op.(*ops.IndexScan); isScan {
			add(ops.NewJoin(s.p.env, a.op, b.op, ops.JoinIndexNestedLoop))
		}
		if _, isScan := a.op.(*ops.IndexScan); isScan {
			add(ops.NewJoin(s.p.env, b.op, a.op, ops.JoinIndexNestedLoop))
		}
	}

	if len(out) == 0 {
		// Sort was prohibitive in every arrangement; allow it anyway so a
		// plan always exists.
		add(ops.NewJoin(s.p.env, s.ensureSorted(a.op, jl), s.ensureSorted(b.op, jr), ops.JoinZipper))
	}
	return out
}

func joinColumnsOf(a, b result.Operation) ([]int, []int) {
	av, bv := a.Variables(), b.Variables()
	var jl, jr []int
	// Deterministic order: by left column index.
	type pair struct{ l, r int }
	var pairs []pair
	for name, lc := range av {
		if rc, ok := bv[name]; ok {
			pairs = append(pairs, pair{lc, rc})
		}
	}
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			if pairs[j].l < pairs[i].l {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
	}
	for _, p := range pairs {
		jl = append(jl, p.l)
		jr = append(jr, p.r)
	}
	return jl, jr
}

func isSortedOnPrefix(have result.SortedColumns, want []int) bool {
	if len(have) < len(want) {
		return false
	}
	for i, c := range want {
		if have[i] != c {
			return false
		}
	}
	return true
}

// ensureSorted wraps op with a Sort unless it is already sorted on cols.
func (s *session) ensureSorted(op result.Operation, cols []int) result.Operation {
	if len(cols) == 0 || isSortedOnPrefix(op.ResultSortedOn(), cols) {
		return op
	}
	return ops.NewSort(s.p.env, op, cols)
}

// sortedFor is ensureSorted plus the sort-estimate cancellation rule: a
// required Sort whose input exceeds 2^factor rows is treated as
// prohibitive and the candidate is skipped.
func (s *session) sortedFor(op result.Operation, cols []int) (result.Operation, bool) {
	if len(cols) == 0 || isSortedOnPrefix(op.ResultSortedOn(), cols) {
		return op, true
	}
	factor := s.p.env.Q.Params.SortEstimateCancellationFactor
	size := op.Estimates().SizeEstimate
	if factor > 0 && ops.SortCostEstimate(size) > factor*maxFloat(1, size) {
		return nil, false
	}
	return ops.NewSort(s.p.env, op, cols), true
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func opAlwaysDefined(op result.Operation, col int) bool {
	type definedness interface{ AlwaysDefined(col int) bool }
	if d, ok := op.(definedness); ok {
		return d.AlwaysDefined(col)
	}
	return false
}
