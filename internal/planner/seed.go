package planner

import (
	"fmt"
	"sort"

	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/internal/engine/triplegraph"
	"github.com/aleksaelezovic/trigo/internal/query"
	"github.com/aleksaelezovic/trigo/internal/sparql/parser"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// Magic predicates connecting a triple to the text index rather than the
// RDF permutations.
const (
	predContainsWord   = "ql:contains-word"
	predContainsEntity = "ql:contains-entity"
)

// filterSpec is one FILTER pending placement, with its variable set.
type filterSpec struct {
	expr ops.Expr
	vars map[string]bool
}

// unit is one node of the triple graph: either a plain triple or an
// already-planned child subtree (OPTIONAL, MINUS, UNION, VALUES, subquery,
// SERVICE, nested group, rewritten transitive path).
type unit struct {
	triple *query.TriplePattern
	plans  []subtreePlan // pre-planned seeds for child units
	vars map[string]bool
}

func (s *session) fresh(tag string) string {
	s.freshID++
	return fmt.Sprintf("_%s%d", tag, s.freshID)
}

// planGroup plans one graph pattern node into a single operator tree.
func (s *session) planGroup(gp *query.GraphPattern) (result.Operation, error) {
	switch gp.Kind {
	case query.PatternUnion:
		if len(gp.Children) != 2 {
			return nil, errs.NewContractError("UNION pattern must have exactly 2 children, got %d", len(gp.Children))
		}
		left, err := s.planGroup(gp.Children[0])
		if err != nil {
			return nil, err
		}
		right, err := s.planGroup(gp.Children[1])
		if err != nil {
			return nil, err
		}
		return ops.NewUnion(s.p.env, left, right), nil
	case query.PatternValues:
		return s.valuesOp(gp.Values)
	case query.PatternSubquery:
		return s.p.planQuery(gp.Subquery)
	case query.PatternService:
		return ops.NewService(s.p.env, gp.Service.Endpoint, gp.Service.Silent, gp.Service.Vars), nil
	case query.PatternGraph:
		return s.planGraphRestricted(gp)
	default:
		return s.planConjunction(gp)
	}
}

func (s *session) planGraphRestricted(gp *query.GraphPattern) (result.Operation, error) {
	if gp.Graph == nil || len(gp.Children) != 1 {
		return nil, errs.NewContractError("GRAPH pattern without graph term or single child")
	}
	if gp.Graph.IsVar() {
		return nil, errs.NewUnsupportedQueryFeature("GRAPH with a variable graph name")
	}
	gid, ok := s.termToId(gp.Graph.Value)
	if !ok {
		// Unknown graph: nothing can match.
		return ops.NewValues(s.p.env, nil, nil, nil), nil
	}
	saved := s.graphs
	s.graphs = []ids.Id{gid}
	defer func() { s.graphs = saved }()
	return s.planGroup(gp.Children[0])
}

func (s *session) valuesOp(vc *query.ValuesClause) (result.Operation, error) {
	vocab := ids.NewLocalVocab()
	rows := make([][]ids.Id, 0, len(vc.Rows))
	for _, row := range vc.Rows {
		out := make([]ids.Id, len(vc.Vars))
		for i, t := range row {
			switch {
			case t == nil:
				out[i] = ids.UndefinedId
			default:
				if id, ok := s.termToId(t); ok {
					out[i] = id
				} else {
					out[i] = vocab.GetOrAdd(ops.LexicalForm(t))
				}
			}
		}
		rows = append(rows, out)
	}
	return ops.NewValues(s.p.env, vc.Vars, rows, vocab), nil
}

// planConjunction runs the full pipeline for one group: path rewriting,
// self-join rewriting, triple-graph construction, seeding, component
// detection, DP/greedy enumeration, cross-component Cartesian merge, and
// trailing BIND/FILTER application.
func (s *session) planConjunction(gp *query.GraphPattern) (result.Operation, error) {
	triples, filterExprs, binds, childPatterns := collectConjunction(gp)

	triples, pathUnits, err := s.expandPaths(triples)
	if err != nil {
		return nil, err
	}
	triples, eqFilters := s.rewriteSelfJoins(triples)

	// Convert filters; equality filters from self-join rewrites are already
	// ops.Expr values.
	var filters []filterSpec
	for _, fe := range filterExprs {
		conv, err := s.convertExpr(fe)
		if err != nil {
			return nil, err
		}
		filters = append(filters, filterSpec{expr: conv, vars: exprVars(conv)})
	}
	for _, eq := range eqFilters {
		filters = append(filters, filterSpec{expr: eq, vars: exprVars(eq)})
	}
	if len(filters) > triplegraph.MaxNodes {
		return nil, errs.NewUnsupportedQueryFeature(
			"group graph pattern has %d filters, exceeding the %d-filter limit", len(filters), triplegraph.MaxNodes)
	}

	// Assemble the units: triples first, then pre-planned children.
	var units []unit
	for i := range triples {
		tr := triples[i]
		units = append(units, unit{triple: &tr, vars: tripleVars(tr)})
	}
	units = append(units, pathUnits...)
	for _, child := range childPatterns {
		u, err := s.planChildUnit(child)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}

	if len(units) == 0 {
		var root result.Operation = ops.NeutralElement{}
		return s.applyTrailing(root, binds, filters, nil)
	}
	if len(units) > triplegraph.MaxNodes {
		return nil, errs.NewUnsupportedQueryFeature(
			"group graph pattern has %d nodes, exceeding the %d-node limit", len(units), triplegraph.MaxNodes)
	}

	// Triple graph over the units.
	g := &triplegraph.Graph{Nodes: make([]triplegraph.Node, len(units))}
	for i, u := range units {
		g.Nodes[i] = triplegraph.Node{Vars: u.vars}
	}

	// Seeds per unit, with filters and text limits applied as soon as
	// their variables are covered.
	tls := s.textLimitStates(g, units)
	seeds := make(map[int][]subtreePlan, len(units))
	for i, u := range units {
		var plans []subtreePlan
		if u.triple != nil {
			plans, err = s.seedTriple(*u.triple, i)
			if err != nil {
				return nil, err
			}
		} else {
			plans = make([]subtreePlan, len(u.plans))
			copy(plans, u.plans)
			for k := range plans {
				plans[k].nodes = triplegraph.Single(i)
			}
		}
		for k := range plans {
			plans[k] = s.applyStages(plans[k], filters, tls)
		}
		seeds[i] = prune(plans)
	}

	// Connected components; non-basic units with no shared variables are
	// folded into the first component so OPTIONAL/MINUS still apply.
	comps := s.components(g, units)

	roots := make([]subtreePlan, 0, len(comps))
	for _, comp := range comps {
		root, err := s.enumerateComponent(g, comp, seeds, filters, tls)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}

	final := roots[0]
	if len(roots) > 1 {
		children := make([]result.Operation, len(roots))
		mask := triplegraph.NodeSet(0)
		fmask, tmask := uint64(0), uint64(0)
		for i, r := range roots {
			children[i] = r.op
			mask = mask.Union(r.nodes)
			fmask |= r.filters
			tmask |= r.textLimits
		}
		cp, err := ops.NewCartesianProduct(s.p.env, children)
		if err != nil {
			return nil, err
		}
		final = subtreePlan{op: cp, nodes: mask, filters: fmask, textLimits: tmask}
		final = s.applyStages(final, filters, tls)
	}

	return s.applyTrailing(final.op, binds, filters, &final)
}

// applyTrailing applies BIND clauses in order, then any filters that could
// not be placed during enumeration (e.g. those over BIND outputs).
func (s *session) applyTrailing(root result.Operation, binds []query.BindClause, filters []filterSpec, plan *subtreePlan) (result.Operation, error) {
	applied := uint64(0)
	if plan != nil {
		applied = plan.filters
	}
	for _, b := range binds {
		expr, err := s.convertExpr(b.Expr)
		if err != nil {
			return nil, err
		}
		bound, err := ops.NewBind(s.p.env, root, expr, b.Var)
		if err != nil {
			return nil, err
		}
		root = bound
	}
	for i := range filters {
		if applied&(1<<uint(i)) != 0 {
			continue
		}
		root = ops.NewFilter(s.p.env, root, filters[i].expr)
	}
	return root, nil
}

// collectConjunction flattens a group node: its own triples/filters/binds
// plus those of basic children, with non-basic children returned as
// subtree patterns.
func collectConjunction(gp *query.GraphPattern) (triples []query.TriplePattern, filters []parser.Expression, binds []query.BindClause, children []*query.GraphPattern) {
	triples = append(triples, gp.Triples...)
	filters = append(filters, gp.Filters...)
	binds = append(binds, gp.Binds...)
	for _, c := range gp.Children {
		if c.Kind == query.PatternBasic && len(c.Children) == 0 {
			triples = append(triples, c.Triples...)
			filters = append(filters, c.Filters...)
			binds = append(binds, c.Binds...)
			continue
		}
		children = append(children, c)
	}
	return
}

func tripleVars(tr query.TriplePattern) map[string]bool {
	vars := map[string]bool{}
	for _, t := range []query.Term{tr.Subject, tr.Predicate, tr.Object} {
		if t.IsVar() {
			vars[t.Var] = true
		}
	}
	return vars
}

// rewriteSelfJoins replaces repeated variables within one triple by a
// fresh variable plus an equality filter, so every index scan sees
// distinct columns. The original position keeps the
// original variable.
func (s *session) rewriteSelfJoins(triples []query.TriplePattern) ([]query.TriplePattern, []ops.Expr) {
	var eqs []ops.Expr
	for i := range triples {
		tr := &triples[i]
		seen := map[string]bool{}
		rewrite := func(t *query.Term) {
			if !t.IsVar() {
				return
			}
			if !seen[t.Var] {
				seen[t.Var] = true
				return
			}
			fresh := s.fresh("eq")
			eqs = append(eqs, &ops.CompareExpr{
				Op:    ops.CmpEq,
				Left:  &ops.VarExpr{Name: t.Var},
				Right: &ops.VarExpr{Name: fresh},
			})
			t.Var = fresh
		}
		rewrite(&tr.Subject)
		rewrite(&tr.Predicate)
		rewrite(&tr.Object)
	}
	return triples, eqs
}

// planChildUnit plans a non-basic child pattern into a single-seeded unit.
func (s *session) planChildUnit(child *query.GraphPattern) (unit, error) {
	typ := planBasic
	switch child.Kind {
	case query.PatternOptional:
		typ = planOptional
	case query.PatternMinus:
		typ = planMinus
	}
	op, err := s.planGroup(child)
	if err != nil {
		return unit{}, err
	}
	vars := map[string]bool{}
	for name := range op.Variables() {
		vars[name] = true
	}
	return unit{
		plans: []subtreePlan{{op: op, typ: typ}},
		vars:  vars,
	}, nil
}

// seedTriple produces one candidate index scan per usable permutation: a
// permutation is usable when the triple's bound positions form a prefix of
// its position order (plus the fully-bound existence case). Text-index
// magic predicates seed WordScan/EntityScan instead.
func (s *session) seedTriple(tr query.TriplePattern, node int) ([]subtreePlan, error) {
	if !tr.Predicate.IsVar() {
		if nn, ok := tr.Predicate.Value.(*rdf.NamedNode); ok {
			switch nn.IRI {
			case predContainsWord:
				return s.seedWordScan(tr, node)
			case predContainsEntity:
				return s.seedEntityScan(tr, node)
			}
		}
	}

	type position struct {
		varName string
		id ids.Id
		known bool
	}
	resolve := func(t query.Term) position {
		if t.IsVar() {
			return position{varName: t.Var, known: true}
		}
		id, ok := s.termToId(t.Value)
		return position{id: id, known: ok}
	}
	pos := map[byte]position{
		's': resolve(tr.Subject),
		'p': resolve(tr.Predicate),
		'o': resolve(tr.Object),
	}
	for _, p := range pos {
		if !p.known {
			// A term absent from the vocabulary matches nothing.
			empty := ops.NewValues(s.p.env, varNamesOf(tr), nil, nil)
			return []subtreePlan{{op: empty, nodes: triplegraph.Single(node)}}, nil
		}
	}

	var plans []subtreePlan
	for _, perm := range index.All {
		cols := perm.Columns()
		var bound [3]ids.Id
		var varNames [3]string
		usable := true
		seenVar := false
		for i, c := range cols {
			p := pos[c]
			if p.varName != "" {
				varNames[i] = p.varName
				seenVar = true
				bound[i] = ids.UndefinedId
				continue
			}
			if seenVar {
				// A bound term after an unbound position: the permutation
				// cannot serve it as a scan key.
				usable = false
				break
			}
			bound[i] = p.id
		}
		if !usable {
			continue
		}
		scan := ops.NewIndexScan(s.p.env, perm, bound, varNames, s.graphs)
		plans = append(plans, subtreePlan{op: scan, nodes: triplegraph.Single(node)})
	}
	return prune(plans), nil
}

func varNamesOf(tr query.TriplePattern) []string {
	var names []string
	for v := range tripleVars(tr) {
		names = append(names, v)
	}
	sort.Strings(names)
	return names
}

func (s *session) seedWordScan(tr query.TriplePattern, node int) ([]subtreePlan, error) {
	if !tr.Subject.IsVar() {
		return nil, errs.NewUnsupportedQueryFeature("%s requires a text-record variable subject", predContainsWord)
	}
	lit, ok := tr.Object.Value.(*rdf.Literal)
	if tr.Object.IsVar() || !ok {
		return nil, errs.NewUnsupportedQueryFeature("%s requires a literal word object", predContainsWord)
	}
	ws := ops.NewWordScan(s.p.env, lit.Value, tr.Subject.Var, "")
	return []subtreePlan{{op: ws, nodes: triplegraph.Single(node)}}, nil
}

func (s *session) seedEntityScan(tr query.TriplePattern, node int) ([]subtreePlan, error) {
	if !tr.Subject.IsVar() {
		return nil, errs.NewUnsupportedQueryFeature("%s requires a text-record variable subject", predContainsEntity)
	}
	scoreVar := s.fresh("score")
	if tr.Object.IsVar() {
		es := ops.NewEntityScan(s.p.env, tr.Subject.Var, tr.Object.Var, scoreVar, ids.UndefinedId)
		return []subtreePlan{{op: es, nodes: triplegraph.Single(node)}}, nil
	}
	id, ok := s.termToId(tr.Object.Value)
	if !ok {
		empty := ops.NewValues(s.p.env, []string{tr.Subject.Var}, nil, nil)
		return []subtreePlan{{op: empty, nodes: triplegraph.Single(node)}}, nil
	}
	es := ops.NewEntityScan(s.p.env, tr.Subject.Var, "", scoreVar, id)
	return []subtreePlan{{op: es, nodes: triplegraph.Single(node)}}, nil
}

// components partitions units into connected components, folding
// variable-disjoint OPTIONAL/MINUS units into the first component so they
// still combine with it.
func (s *session) components(g *triplegraph.Graph, units []unit) []triplegraph.NodeSet {
	comps := g.ConnectedComponents()
	if len(comps) <= 1 {
		return comps
	}
	nonBasic := func(set triplegraph.NodeSet) bool {
		for _, i := range set.Members() {
			u := units[i]
			if u.triple != nil {
				return false
			}
			for _, p := range u.plans {
				if p.typ == planBasic {
					return false
				}
			}
		}
		return true
	}
	out := comps[:1]
	for _, c := range comps[1:] {
		if nonBasic(c) {
			out[0] = out[0].Union(c)
		} else {
			out = append(out, c)
		}
	}
	return out
}
