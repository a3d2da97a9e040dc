package results

import (
	"encoding/json"

	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// RuntimeInfo is the per-operator execution report included in the
// engine-specific JSON format: the operator's identity, its planning
// estimates, what actually happened, and the same for its children.
type RuntimeInfo struct {
	Description string         `json:"description"`
	SizeEstimate float64        `json:"size_estimate"`
	CostEstimate float64        `json:"cost_estimate"`
	ActualRows int64          `json:"actual_rows"`
	WasCached bool           `json:"was_cached"`
	Children     []*RuntimeInfo `json:"children,omitempty"`
}

// EngineJSON is the engine-specific JSON result format: bindings rendered
// as lexical forms plus query metadata and the runtime-information tree.
type EngineJSON struct {
	Query string       `json:"query"`
	Status string       `json:"status"`
	Selected           []string     `json:"selected"`
	Res                [][]string   `json:"res"`
	ResultSize int          `json:"resultsize"`
	TimeTotalMs int64        `json:"time_total_ms,omitempty"`
	TimeComputeMs int64        `json:"time_computation_ms,omitempty"`
	RuntimeInformation *RuntimeInfo `json:"runtime_information,omitempty"`
}

// FormatSelectResultsEngineJSON renders a SELECT result in the
// engine-specific JSON format. Timings are included only when withTime is
// set (the sparql-results-json-with-time runtime parameter).
func FormatSelectResultsEngineJSON(result *SelectResult, queryString string, info *RuntimeInfo, totalMs, computeMs int64, withTime bool) ([]byte, error) {
	out := EngineJSON{
		Query:              queryString,
		Status:             "OK",
		Selected:           result.Variables,
		ResultSize:         len(result.Bindings),
		RuntimeInformation: info,
	}
	if withTime {
		out.TimeTotalMs = totalMs
		out.TimeComputeMs = computeMs
	}
	out.Res = make([][]string, 0, len(result.Bindings))
	for _, binding := range result.Bindings {
		row := make([]string, len(result.Variables))
		for i, name := range result.Variables {
			if term, ok := binding[name]; ok {
				row[i] = lexical(term)
			}
		}
		out.Res = append(out.Res, row)
	}
	return json.MarshalIndent(out, "", "  ")
}

func lexical(t rdf.Term) string {
	switch v := t.(type) {
	case *rdf.NamedNode:
		return "<" + v.IRI + ">"
	case *rdf.BlankNode:
		return "_:" + v.ID
	case *rdf.Literal:
		switch {
		case v.Language != "":
			return `"` + v.Value + `"@` + v.Language
		case v.Datatype != nil && v.Datatype.IRI != rdf.XSDString.IRI:
			return `"` + v.Value + `"^^<` + v.Datatype.IRI + ">"
		default:
			return `"` + v.Value + `"`
		}
	default:
		return t.String()
	}
}
