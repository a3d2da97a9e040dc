package planner

import (
	"math"
	"sort"

	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/internal/query"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// qlHasPredicate is the magic predicate the pattern-trick rewrite
// recognizes: `?s ql:has-predicate ?p` + GROUP BY ?p counts, per
// predicate, the subjects carrying it.
const qlHasPredicate = "ql:has-predicate"

// applyModifiers wraps the planned group root with stage 6: GROUP BY
// (inserting Sort on the group keys), HAVING, projection, DISTINCT, ORDER
// BY, and LIMIT/OFFSET with pushdown into capable roots.
func (s *session) applyModifiers(pq *query.ParsedQuery, root result.Operation) (result.Operation, error) {
	var err error

	if len(pq.GroupBy) > 0 || len(pq.Aggregates) > 0 {
		root, err = s.applyGroupBy(pq, root)
		if err != nil {
			return nil, err
		}
		for _, h := range pq.Having {
			expr, err := s.convertExpr(h)
			if err != nil {
				return nil, err
			}
			root = ops.NewFilter(s.p.env, root, expr)
		}
	}

	if pq.Kind == query.KindAsk {
		return ops.NewLimitOffset(s.p.env, root, 1, 0), nil
	}

	if pq.Kind == query.KindSelect {
		selectVars := pq.SelectVars
		if selectVars == nil {
			for name := range root.Variables() {
				selectVars = append(selectVars, name)
			}
			sort.Strings(selectVars)
		}
		root, err = ops.NewProjection(s.p.env, root, selectVars)
		if err != nil {
			return nil, err
		}
		if pq.Distinct {
			allCols := make([]int, root.NumColumns())
			for i := range allCols {
				allCols[i] = i
			}
			root = ops.NewDistinct(s.p.env, s.ensureSorted(root, allCols))
		}
	}

	if len(pq.OrderBy) > 0 {
		keys := make([]ops.OrderKey, 0, len(pq.OrderBy))
		vars := root.Variables()
		for _, ok := range pq.OrderBy {
			col, bound := vars[ok.Var]
			if !bound {
				return nil, errs.NewUnsupportedQueryFeature("ORDER BY over unselected variable ?%s", ok.Var)
			}
			keys = append(keys, ops.OrderKey{Col: col, Ascending: ok.Ascending})
		}
		root = ops.NewOrderBy(s.p.env, root, keys)
	}

	return s.applyLimitOffset(pq, root), nil
}

func (s *session) applyLimitOffset(pq *query.ParsedQuery, root result.Operation) result.Operation {
	if pq.Limit == nil && pq.Offset == nil {
		return root
	}
	limit := int64(-1)
	if pq.Limit != nil {
		limit = *pq.Limit
	}
	offset := int64(0)
	if pq.Offset != nil {
		offset = *pq.Offset
	}

	if cp, isCP := root.(*ops.CartesianProduct); isCP && offset == 0 && limit >= 0 {
		s.propagateCartesianLimit(cp, limit)
	}
	if lp, ok := root.(ops.LimitPushdown); ok && lp.SetLimit(limit, offset) {
		return root
	}
	return ops.NewLimitOffset(s.p.env, root, limit, offset)
}

// propagateCartesianLimit pushes ceil(limit / product-of-other-children)
// into each child that supports a native zero-offset limit. Extending the pushdown to non-zero offsets is deliberately not
// attempted.
func (s *session) propagateCartesianLimit(cp *ops.CartesianProduct, limit int64) {
	children := cp.Children()
	sizes := make([]float64, len(children))
	for i, ch := range children {
		sizes[i] = maxFloat(1, ch.Estimates().SizeEstimate)
	}
	for i, ch := range children {
		others := 1.0
		for j, sz := range sizes {
			if j != i {
				others *= sz
			}
		}
		childLimit := int64(math.Ceil(float64(limit) / others))
		if childLimit < 1 {
			childLimit = 1
		}
		if lp, ok := ch.(ops.LimitPushdown); ok {
			lp.SetLimit(childLimit, 0)
		}
	}
}

func (s *session) applyGroupBy(pq *query.ParsedQuery, root result.Operation) (result.Operation, error) {
	aggs := make([]ops.Aggregate, 0, len(pq.Aggregates))
	for _, spec := range pq.Aggregates {
		kind, ok := aggregateKind(spec.Func)
		if !ok {
			return nil, errs.NewUnsupportedQueryFeature("aggregate function %s", spec.Func)
		}
		var expr ops.Expr
		if spec.Var != "" {
			expr = &ops.VarExpr{Name: spec.Var}
		} else if kind != ops.AggCount {
			return nil, errs.NewUnsupportedQueryFeature("%s requires an aggregated variable", spec.Func)
		} else {
			// COUNT(*) counts rows; give it a harmless expression-free form.
			expr = nil
		}
		aggs = append(aggs, ops.Aggregate{
			Kind:      kind,
			Expr:      expr,
			Distinct:  spec.Distinct,
			Separator: spec.Sep,
			OutVar:    spec.OutVar,
		})
	}

	groupCols := make([]int, 0, len(pq.GroupBy))
	vars := root.Variables()
	for _, name := range pq.GroupBy {
		col, ok := vars[name]
		if !ok {
			return nil, errs.NewUnsupportedQueryFeature("GROUP BY over unbound variable ?%s", name)
		}
		groupCols = append(groupCols, col)
	}
	root = s.ensureSorted(root, groupCols)
	return ops.NewGroupBy(s.p.env, root, pq.GroupBy, aggs)
}

func aggregateKind(name string) (ops.AggregateKind, bool) {
	switch name {
	case "COUNT":
		return ops.AggCount, true
	case "SUM":
		return ops.AggSum, true
	case "AVG":
		return ops.AggAvg, true
	case "MIN":
		return ops.AggMin, true
	case "MAX":
		return ops.AggMax, true
	case "SAMPLE":
		return ops.AggSample, true
	case "GROUP_CONCAT":
		return ops.AggGroupConcat, true
	default:
		return 0, false
	}
}

// tryPatternTrick recognizes the has-predicate counting idiom: exactly one
// GROUP BY variable that is the object of a single `?s ql:has-predicate
// ?p` triple and occurs nowhere else. The triple is answered from the full
// subject-predicate projection of the SPO permutation instead of
// materializing every (subject, predicate) join.
func (s *session) tryPatternTrick(pq *query.ParsedQuery) (result.Operation, bool, error) {
	if pq.Kind != query.KindSelect || len(pq.GroupBy) != 1 || pq.Root == nil {
		return nil, false, nil
	}
	pVar := pq.GroupBy[0]

	triples, filterExprs, binds, children := collectConjunction(pq.Root)
	if len(children) > 0 || len(binds) > 0 {
		return nil, false, nil
	}
	trickIdx := -1
	for i, tr := range triples {
		nn, isIRI := tr.Predicate.Value.(*rdf.NamedNode)
		if tr.Predicate.IsVar() || !isIRI || nn.IRI != qlHasPredicate {
			continue
		}
		if !tr.Object.IsVar() || tr.Object.Var != pVar || !tr.Subject.IsVar() {
			continue
		}
		if trickIdx >= 0 {
			return nil, false, nil // more than one candidate triple
		}
		trickIdx = i
	}
	if trickIdx < 0 {
		return nil, false, nil
	}
	// The group-by variable must not occur anywhere else.
	for i, tr := range triples {
		if i == trickIdx {
			continue
		}
		if tripleVars(tr)[pVar] {
			return nil, false, nil
		}
	}
	for _, fe := range filterExprs {
		conv, err := s.convertExpr(fe)
		if err != nil {
			return nil, false, err
		}
		if exprVars(conv)[pVar] {
			return nil, false, nil
		}
	}

	trick := triples[trickIdx]
	sVar := trick.Subject.Var

	// Distinct (subject, predicate) pairs straight off the SPO permutation:
	// the scan is sorted on (s, p, o), so the two-column projection is
	// sorted on (s, p) and Distinct needs no extra Sort.
	scan := ops.NewIndexScan(s.p.env, index.SPO,
		[3]ids.Id{ids.UndefinedId, ids.UndefinedId, ids.UndefinedId},
		[3]string{sVar, pVar, s.fresh("po")}, s.graphs)
	proj, err := ops.NewProjection(s.p.env, scan, []string{sVar, pVar})
	if err != nil {
		return nil, false, err
	}
	var root result.Operation = ops.NewDistinct(s.p.env, proj)

	// Join with the rest of the pattern, if any, on the subject.
	rest := append(append([]query.TriplePattern{}, triples[:trickIdx]...), triples[trickIdx+1:]...)
	if len(rest) > 0 || len(filterExprs) > 0 {
		restPattern := &query.GraphPattern{Kind: query.PatternBasic, Triples: rest, Filters: filterExprs}
		restRoot, err := s.planGroup(restPattern)
		if err != nil {
			return nil, false, err
		}
		jl, jr := joinColumnsOf(restRoot, root)
		root = ops.NewJoin(s.p.env, s.ensureSorted(restRoot, jl), s.ensureSorted(root, jr), ops.JoinZipper)
	}

	outVar := s.fresh("count")
	if len(pq.Aggregates) == 1 && pq.Aggregates[0].Func == "COUNT" {
		outVar = pq.Aggregates[0].OutVar
	} else if len(pq.Aggregates) > 0 {
		return nil, false, nil
	}

	pCol := root.Variables()[pVar]
	gb, err := ops.NewGroupBy(s.p.env, s.ensureSorted(root, []int{pCol}), []string{pVar},
		[]ops.Aggregate{{Kind: ops.AggCount, Expr: &ops.VarExpr{Name: sVar}, Distinct: true, OutVar: outVar}})
	if err != nil {
		return nil, false, err
	}

	trimmed := *pq
	trimmed.GroupBy = nil
	trimmed.Aggregates = nil
	trimmed.Having = nil
	op, err := s.applyModifiers(&trimmed, gb)
	if err != nil {
		return nil, false, err
	}
	return op, true, nil
}
