package index

import (
	"strconv"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// InlineId maps terms with an inline runtime representation (numeric,
// boolean, and dateTime literals, numeric blank nodes) directly to a
// payload-carrying Id, mirroring the persisted encoder's inline trick.
// Every Index implementation and the planner must agree on this mapping so
// scans and constant lookups meet on the same Ids.
func InlineId(t rdf.Term) (ids.Id, bool) {
	switch v := t.(type) {
	case *rdf.Literal:
		if v.Datatype == nil {
			return ids.UndefinedId, false
		}
		switch v.Datatype.IRI {
		case rdf.XSDInteger.IRI:
			if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil && ids.FitsInt(n) {
				return ids.FromInt(n), true
			}
		case rdf.XSDDouble.IRI, rdf.XSDDecimal.IRI:
			if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
				return ids.FromDouble(f), true
			}
		case rdf.XSDBoolean.IRI:
			if b, err := strconv.ParseBool(v.Value); err == nil {
				return ids.FromBool(b), true
			}
		case rdf.XSDDateTime.IRI, rdf.XSDDate.IRI:
			if ts, err := parseDateTime(v.Value); err == nil {
				return ids.FromDate(ts), true
			}
		}
	case *rdf.BlankNode:
		if n, err := strconv.ParseUint(v.ID, 10, 64); err == nil && n < 1<<59 {
			return ids.FromBlankNodeIndex(n), true
		}
	}
	return ids.UndefinedId, false
}

// InlineTerm is the inverse of InlineId for the tags it covers.
func InlineTerm(id ids.Id) (rdf.Term, bool) {
	switch id.Tag() {
	case ids.Int:
		return rdf.NewIntegerLiteral(id.ToInt()), true
	case ids.Double:
		return rdf.NewDoubleLiteral(id.ToDouble()), true
	case ids.Bool:
		return rdf.NewBooleanLiteral(id.ToBool()), true
	case ids.Date:
		return rdf.NewLiteralWithDatatype(formatDateTime(id.ToDate()), rdf.XSDDateTime), true
	case ids.BlankNodeIndex:
		return rdf.NewBlankNode(strconv.FormatUint(id.Payload(), 10)), true
	default:
		return nil, false
	}
}
