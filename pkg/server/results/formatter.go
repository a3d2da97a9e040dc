package results

import (
	"fmt"
	"strings"

	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// N-Triples Results Format
// https://www.w3.org/TR/n-triples/

// FormatConstructResultNTriples converts a CONSTRUCT result to N-Triples format
func FormatConstructResultNTriples(result *ConstructResult) ([]byte, error) {
	var builder strings.Builder

	for _, triple := range result.Triples {
		if err := formatNTriplesTerm(&builder, triple.Subject); err != nil {
			return nil, err
		}
		builder.WriteString(" ")

		if err := formatNTriplesTerm(&builder, triple.Predicate); err != nil {
			return nil, err
		}
		builder.WriteString(" ")

		if err := formatNTriplesTerm(&builder, triple.Object); err != nil {
			return nil, err
		}
		builder.WriteString(" .\n")
	}

	return []byte(builder.String()), nil
}

// formatNTriplesTerm formats a term in N-Triples format
func formatNTriplesTerm(builder *strings.Builder, term rdf.Term) error {
	switch t := term.(type) {
	case *rdf.NamedNode:
		builder.WriteString("<")
		builder.WriteString(t.IRI)
		builder.WriteString(">")
	case *rdf.BlankNode:
		builder.WriteString("_:")
		builder.WriteString(t.ID)
	case *rdf.Literal:
		builder.WriteString("\"")
		builder.WriteString(escapeNTriplesString(t.Value))
		builder.WriteString("\"")
		if t.Language != "" {
			builder.WriteString("@")
			builder.WriteString(t.Language)
		} else if t.Datatype != nil && t.Datatype.IRI != rdf.XSDString.IRI {
			builder.WriteString("^^<")
			builder.WriteString(t.Datatype.IRI)
			builder.WriteString(">")
		}
	default:
		return fmt.Errorf("unknown term type: %T", term)
	}
	return nil
}

// escapeNTriplesString escapes special characters in N-Triples string literals
func escapeNTriplesString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}
