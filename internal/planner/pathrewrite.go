package planner

import (
	"sort"

	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/internal/engine/triplegraph"
	"github.com/aleksaelezovic/trigo/internal/query"
)

// expandPaths rewrites property-path triples into equivalent plain
// structures: sequences introduce fresh
// intermediate variables, alternatives become UNION units, and the closure
// operators (*, +, ?) become TransitivePath units.
func (s *session) expandPaths(triples []query.TriplePattern) ([]query.TriplePattern, []unit, error) {
	var plain []query.TriplePattern
	var extra []unit
	for _, tr := range triples {
		if tr.Path == nil {
			plain = append(plain, tr)
			continue
		}
		p, u, err := s.expandPathTriple(tr.Subject, tr.Path, tr.Object)
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, p...)
		extra = append(extra, u...)
	}
	return plain, extra, nil
}

func (s *session) expandPathTriple(subj query.Term, path *query.Path, obj query.Term) ([]query.TriplePattern, []unit, error) {
	switch path.Kind {
	case query.PathDirect:
		return []query.TriplePattern{{Subject: subj, Predicate: query.Term{Value: path.Pred}, Object: obj}}, nil, nil

	case query.PathInverse:
		if len(path.Sub) != 1 {
			return nil, nil, errs.NewContractError("inverse path must have exactly one sub-path")
		}
		return s.expandPathTriple(obj, path.Sub[0], subj)

	case query.PathSequence:
		if len(path.Sub) == 0 {
			return nil, nil, errs.NewContractError("empty path sequence")
		}
		var plain []query.TriplePattern
		var extra []unit
		cur := subj
		for i, part := range path.Sub {
			next := obj
			if i < len(path.Sub)-1 {
				next = query.Term{Var: s.fresh("seq")}
			}
			p, u, err := s.expandPathTriple(cur, part, next)
			if err != nil {
				return nil, nil, err
			}
			plain = append(plain, p...)
			extra = append(extra, u...)
			cur = next
		}
		return plain, extra, nil

	case query.PathAlternative:
		if len(path.Sub) < 2 {
			return nil, nil, errs.NewContractError("path alternative needs at least two branches")
		}
		// alt(a, b, c) becomes a left-nested UNION unit planned like any
		// other child subtree.
		branch := func(p *query.Path) *query.GraphPattern {
			return &query.GraphPattern{
				Kind:    query.PatternBasic,
				Triples: []query.TriplePattern{{Subject: subj, Path: p, Object: obj}},
			}
		}
		node := &query.GraphPattern{
			Kind:     query.PatternUnion,
			Children: []*query.GraphPattern{branch(path.Sub[0]), branch(path.Sub[1])},
		}
		for _, p := range path.Sub[2:] {
			node = &query.GraphPattern{
				Kind:     query.PatternUnion,
				Children: []*query.GraphPattern{node, branch(p)},
			}
		}
		u, err := s.planChildUnit(node)
		if err != nil {
			return nil, nil, err
		}
		return nil, []unit{u}, nil

	case query.PathZeroOrMore, query.PathOneOrMore, query.PathZeroOrOne:
		min, max := 0, 0
		switch path.Kind {
		case query.PathOneOrMore:
			min = 1
		case query.PathZeroOrOne:
			max = 1
		}
		u, err := s.transitiveUnit(subj, path, obj, min, max)
		if err != nil {
			return nil, nil, err
		}
		return nil, []unit{u}, nil

	default:
		return nil, nil, errs.NewUnsupportedQueryFeature("unsupported property path kind %d", path.Kind)
	}
}

// transitiveUnit builds a TransitivePath unit over a single (possibly
// inverse) predicate edge: the edge relation is a PSO scan of the
// predicate, and an inverse inner path just swaps the endpoints.
func (s *session) transitiveUnit(subj query.Term, path *query.Path, obj query.Term, min, max int) (unit, error) {
	inner := path.Sub[0]
	for inner.Kind == query.PathInverse {
		if len(inner.Sub) != 1 {
			return unit{}, errs.NewContractError("inverse path must have exactly one sub-path")
		}
		subj, obj = obj, subj
		inner = inner.Sub[0]
	}
	if inner.Kind != query.PathDirect {
		return unit{}, errs.NewUnsupportedQueryFeature("transitive closure over a composite path")
	}
	predId, ok := s.termToId(inner.Pred)
	if !ok && min > 0 {
		// Unknown predicate: no edges, and with min >= 1 no results.
		op := ops.NewValues(s.p.env, pathVarNames(subj, obj), nil, nil)
		return unit{plans: []subtreePlan{{op: op}}, vars: pathVars(subj, obj)}, nil
	}

	// Edge relation: ?edgeS <pred> ?edgeO served by the PSO permutation,
	// giving (source, target) columns in that order. An unknown predicate
	// (reachable only when min == 0) yields an empty edge relation.
	var edge result.Operation
	if ok {
		edge = ops.NewIndexScan(s.p.env, index.PSO,
			[3]ids.Id{predId, ids.UndefinedId, ids.UndefinedId},
			[3]string{"", s.fresh("tps"), s.fresh("tpo")}, s.graphs)
	} else {
		edge = ops.NewValues(s.p.env, []string{s.fresh("tps"), s.fresh("tpo")}, nil, nil)
	}

	side := func(t query.Term) (ops.PathSide, bool) {
		if t.IsVar() {
			return ops.PathSide{Var: t.Var}, true
		}
		id, ok := s.termToId(t.Value)
		return ops.PathSide{Value: id}, ok
	}
	lhs, okL := side(subj)
	rhs, okR := side(obj)
	if !okL || !okR {
		op := ops.NewValues(s.p.env, pathVarNames(subj, obj), nil, nil)
		return unit{plans: []subtreePlan{{op: op}}, vars: pathVars(subj, obj)}, nil
	}
	tp, err := ops.NewTransitivePath(s.p.env, edge, lhs, rhs, min, max)
	if err != nil {
		return unit{}, err
	}
	return unit{plans: []subtreePlan{{op: tp}}, vars: pathVars(subj, obj)}, nil
}

func pathVars(subj, obj query.Term) map[string]bool {
	vars := map[string]bool{}
	if subj.IsVar() {
		vars[subj.Var] = true
	}
	if obj.IsVar() {
		vars[obj.Var] = true
	}
	return vars
}

func pathVarNames(subj, obj query.Term) []string {
	var names []string
	for v := range pathVars(subj, obj) {
		names = append(names, v)
	}
	sort.Strings(names)
	return names
}

// nodesMentioning returns the mask of graph nodes whose variables include
// name, used by text-limit placement.
func nodesMentioning(g *triplegraph.Graph, name string) triplegraph.NodeSet {
	var mask triplegraph.NodeSet
	for i, n := range g.Nodes {
		if n.Vars[name] {
			mask = mask.Union(triplegraph.Single(i))
		}
	}
	return mask
}
