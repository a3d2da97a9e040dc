// Package query defines the ParsedQuery shape the planner consumes: a
// tree of graph patterns plus top-level modifiers, decoupled from the
// concrete SPARQL parser. FromAST adapts the parser's AST; richer pattern
// kinds the surface parser does not yet produce (VALUES, property paths,
// subqueries, SERVICE) are part of the shape so the planner and tests can
// construct them directly.
package query

import (
	"github.com/aleksaelezovic/trigo/internal/sparql/parser"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// QueryKind selects the top-level query form.
type QueryKind int

const (
	KindSelect QueryKind = iota
	KindConstruct
	KindAsk
	KindDescribe
)

// Term is one position of a triple pattern: either a concrete RDF term or
// a variable name.
type Term struct {
	Value rdf.Term // nil when Var != ""
	Var string
}

// IsVar reports whether the position is a variable.
func (t Term) IsVar() bool { return t.Var != "" }

// PathKind enumerates property path constructors.
type PathKind int

const (
	PathDirect PathKind = iota // a plain predicate IRI
	PathInverse
	PathSequence
	PathAlternative
	PathZeroOrMore
	PathOneOrMore
	PathZeroOrOne
)

// Path is a property path expression. Direct paths carry the predicate
// term; composite paths carry sub-paths.
type Path struct {
	Kind PathKind
	Pred rdf.Term // PathDirect only
	Sub  []*Path  // composite kinds
}

// TriplePattern is one triple of a basic graph pattern. Predicate is
// either a Term (plain predicate or variable) or, when Path != nil, a
// property path that the planner rewrites before seeding.
type TriplePattern struct {
	Subject   Term
	Predicate Term
	Object    Term
	Path      *Path
}

// PatternKind enumerates graph pattern node types.
type PatternKind int

const (
	PatternBasic PatternKind = iota
	PatternGroup
	PatternUnion
	PatternOptional
	PatternMinus
	PatternValues
	PatternSubquery
	PatternService
	PatternGraph
)

// BindClause is BIND(expr AS ?var).
type BindClause struct {
	Expr parser.Expression
	Var string
}

// ValuesClause is an inline data block.
type ValuesClause struct {
	Vars []string
	// Rows[i][j] is the j-th variable's term in row i; nil means UNDEF.
	Rows [][]rdf.Term
}

// ServiceClause names a remote endpoint; federation internals are an
// external collaborator, so only the operator-level contract exists.
type ServiceClause struct {
	Endpoint string
	Silent bool
	Vars     []string
	Pattern  *GraphPattern
}

// GraphPattern is one node of the pattern tree. Which fields are
// meaningful depends on Kind:
//   - PatternBasic: Triples, Filters, Binds
//   - PatternGroup: Children (conjunction), Filters, Binds
//   - PatternUnion: exactly two Children
//   - PatternOptional/PatternMinus: one child, joined non-basically into
//     its parent group
//   - PatternValues: Values
//   - PatternSubquery: Subquery
//   - PatternService: Service
//   - PatternGraph: one child restricted to Graph
type GraphPattern struct {
	Kind     PatternKind
	Triples  []TriplePattern
	Filters  []parser.Expression
	Binds    []BindClause
	Children []*GraphPattern
	Values   *ValuesClause
	Subquery *ParsedQuery
	Service  *ServiceClause
	Graph    *Term
}

// OrderKey is one ORDER BY criterion over a variable.
type OrderKey struct {
	Var string
	Ascending bool
}

// AggregateSpec is one aggregate in the SELECT clause of a grouped query.
type AggregateSpec struct {
	Func string // COUNT, SUM, AVG, MIN, MAX, SAMPLE, GROUP_CONCAT
	Var string // aggregated variable; "" for COUNT(*)
	Distinct bool
	Sep string // GROUP_CONCAT separator
	OutVar string
}

// DatasetClause is one FROM / FROM NAMED graph selection.
type DatasetClause struct {
	Graph rdf.Term
	Named bool
}

// ParsedQuery is the planner's input: the root graph pattern plus the
// top-level modifiers.
type ParsedQuery struct {
	Kind QueryKind
	Root *GraphPattern

	// SELECT
	SelectVars []string // nil means SELECT *
	Distinct bool
	Aggregates []AggregateSpec

	// CONSTRUCT
	ConstructTemplate []TriplePattern

	// DESCRIBE
	DescribeResources []rdf.Term

	GroupBy []string
	Having  []parser.Expression
	OrderBy []OrderKey
	Limit   *int64
	Offset  *int64

	Datasets []DatasetClause
}

// FromAST adapts the SPARQL parser's query AST into a ParsedQuery.
func FromAST(q *parser.Query) (*ParsedQuery, error) {
	pq := &ParsedQuery{}
	switch q.QueryType {
	case parser.QueryTypeSelect:
		pq.Kind = KindSelect
		s := q.Select
		pq.Distinct = s.Distinct
		if s.Variables != nil {
			for _, v := range s.Variables {
				pq.SelectVars = append(pq.SelectVars, v.Name)
			}
		}
		for _, g := range s.GroupBy {
			if g.Variable != nil {
				pq.GroupBy = append(pq.GroupBy, g.Variable.Name)
			}
		}
		for _, h := range s.Having {
			if h.Expression != nil {
				pq.Having = append(pq.Having, h.Expression)
			}
		}
		for _, o := range s.OrderBy {
			if ve, ok := o.Expression.(*parser.VariableExpression); ok {
				pq.OrderBy = append(pq.OrderBy, OrderKey{Var: ve.Variable.Name, Ascending: o.Ascending})
			}
		}
		pq.Limit = intPtr(s.Limit)
		pq.Offset = intPtr(s.Offset)
		pq.Root = convertPattern(s.Where)
	case parser.QueryTypeAsk:
		pq.Kind = KindAsk
		pq.Root = convertPattern(q.Ask.Where)
	case parser.QueryTypeConstruct:
		pq.Kind = KindConstruct
		for _, t := range q.Construct.Template {
			pq.ConstructTemplate = append(pq.ConstructTemplate, convertTriple(t))
		}
		pq.Root = convertPattern(q.Construct.Where)
	case parser.QueryTypeDescribe:
		pq.Kind = KindDescribe
		for _, r := range q.Describe.Resources {
			pq.DescribeResources = append(pq.DescribeResources, r)
		}
		if q.Describe.Where != nil {
			pq.Root = convertPattern(q.Describe.Where)
		}
	}
	if pq.Root == nil {
		pq.Root = &GraphPattern{Kind: PatternBasic}
	}
	return pq, nil
}

func intPtr(p *int) *int64 {
	if p == nil {
		return nil
	}
	v := int64(*p)
	return &v
}

func convertTerm(t parser.TermOrVariable) Term {
	if t.IsVariable() {
		return Term{Var: t.Variable.Name}
	}
	return Term{Value: t.Term}
}

func convertTriple(t *parser.TriplePattern) TriplePattern {
	return TriplePattern{
		Subject:   convertTerm(t.Subject),
		Predicate: convertTerm(t.Predicate),
		Object:    convertTerm(t.Object),
	}
}

// convertPattern maps the parser's graph pattern tree. The parser nests
// OPTIONAL/MINUS/UNION children inside a basic pattern node; here they
// become explicit non-basic children of a group.
func convertPattern(gp *parser.GraphPattern) *GraphPattern {
	if gp == nil {
		return &GraphPattern{Kind: PatternBasic}
	}
	out := &GraphPattern{}
	switch gp.Type {
	case parser.GraphPatternTypeUnion:
		out.Kind = PatternUnion
	case parser.GraphPatternTypeOptional:
		out.Kind = PatternOptional
	case parser.GraphPatternTypeMinus:
		out.Kind = PatternMinus
	case parser.GraphPatternTypeGraph:
		out.Kind = PatternGraph
		if gp.Graph != nil {
			if gp.Graph.Variable != nil {
				out.Graph = &Term{Var: gp.Graph.Variable.Name}
			} else if gp.Graph.IRI != nil {
				out.Graph = &Term{Value: gp.Graph.IRI}
			}
		}
	default:
		out.Kind = PatternBasic
	}
	for _, t := range gp.Patterns {
		out.Triples = append(out.Triples, convertTriple(t))
	}
	for _, f := range gp.Filters {
		// The surface parser recognizes FILTER clauses but does not build
		// expression trees for every form; clauses without a parsed
		// expression are dropped rather than handed to the planner as nil.
		if f.Expression != nil {
			out.Filters = append(out.Filters, f.Expression)
		}
	}
	for _, b := range gp.Binds {
		if b.Expression != nil && b.Variable != nil {
			out.Binds = append(out.Binds, BindClause{Expr: b.Expression, Var: b.Variable.Name})
		}
	}
	for _, c := range gp.Children {
		out.Children = append(out.Children, convertPattern(c))
	}
	// A basic pattern with children is really a group.
	if out.Kind == PatternBasic && len(out.Children) > 0 {
		out.Kind = PatternGroup
		if len(out.Triples) > 0 {
			// Hoist the node's own triples into a leading basic child so a
			// group's children fully describe its conjunction.
			head := &GraphPattern{Kind: PatternBasic, Triples: out.Triples}
			out.Triples = nil
			out.Children = append([]*GraphPattern{head}, out.Children...)
		}
	}
	return out
}
