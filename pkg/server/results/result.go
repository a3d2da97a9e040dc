// Package results serializes query results into the SPARQL result
// formats the endpoint serves: TSV, CSV, SPARQL-Results JSON and XML,
// N-Triples for CONSTRUCT, and the engine-specific JSON-with-runtime-info
// format. The raw binary id-tuple export is produced by the server package.
package results

import (
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// Binding maps variable names to their bound terms for one solution; a
// missing entry means the variable is unbound in that row.
type Binding map[string]rdf.Term

// SelectResult is the boundary shape of a SELECT query's solutions.
// Variables preserves the query's projection order.
type SelectResult struct {
	Variables []string
	Bindings  []Binding
}

// AskResult is the boundary shape of an ASK query.
type AskResult struct {
	Result bool
}

// ConstructResult is the boundary shape of a CONSTRUCT query.
type ConstructResult struct {
	Triples []*rdf.Triple
}
