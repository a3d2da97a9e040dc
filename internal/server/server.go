package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/exec"
	"github.com/aleksaelezovic/trigo/internal/query"
	"github.com/aleksaelezovic/trigo/internal/rdfio"
	"github.com/aleksaelezovic/trigo/internal/sparql/parser"
	"github.com/aleksaelezovic/trigo/internal/store"
	"github.com/aleksaelezovic/trigo/internal/storeidx"
	"github.com/aleksaelezovic/trigo/pkg/server/results"
	kv "github.com/aleksaelezovic/trigo/pkg/store"
)

// Server represents the HTTP SPARQL server
type Server struct {
	store   *store.TripleStore
	storage kv.Storage
	engine  *exec.Engine
	addr string
}

// NewServer creates a new SPARQL HTTP server over the given storage. The
// index adapter is rebuilt whenever data is uploaded, since the engine's
// facade is read-only.
func NewServer(tripleStore *store.TripleStore, storage kv.Storage, addr string) (*Server, error) {
	s := &Server{store: tripleStore, storage: storage, addr: addr}
	if err := s.reloadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) reloadIndex() error {
	adapter, err := storeidx.New(s.storage)
	if err != nil {
		return err
	}
	engine, err := exec.NewEngine(adapter, adapter)
	if err != nil {
		return err
	}
	engine.Timeout = 30 * time.Second
	s.engine = engine
	return nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/sparql", s.handleSPARQL)
	mux.HandleFunc("/data", s.handleDataUpload)
	mux.HandleFunc("/", s.handleRoot)

	server := &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting SPARQL endpoint at http://%s/sparql", s.addr)
	return server.ListenAndServe()
}

// handleRoot provides information about the endpoint
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	endpointURL := fmt.Sprintf("%s://%s/sparql", scheme, r.Host)

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Trigo SPARQL Endpoint</title>
    <link href="https://unpkg.com/@zazuko/yasgui@4.5.0/build/yasgui.min.css" rel="stylesheet" type="text/css" />
    <script src="https://unpkg.com/@zazuko/yasgui@4.5.0/build/yasgui.min.js"></script>
    <style>
        body {
            margin: 0;
            padding: 0;
            font-family: Arial, sans-serif;
            display: flex;
            flex-direction: column;
            height: 100vh;
        }
        .header {
            background: #2c3e50;
            color: white;
            padding: 15px 20px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        .header h1 {
            margin: 0;
            font-size: 24px;
            font-weight: 500;
        }
        .header .info {
            margin-top: 5px;
            font-size: 14px;
            opacity: 0.9;
        }
        .header .info code {
            background: rgba(255,255,255,0.2);
            padding: 2px 6px;
            border-radius: 3px;
            font-family: monospace;
        }
        #yasgui {
            flex: 1;
            overflow: hidden;
        }
    </style>
</head>
<body>
    <div class="header">
        <h1>🎯 Trigo SPARQL Endpoint</h1>
        <div class="info">
            Endpoint: <code>` + endpointURL + `</code> |
            Distinct subjects: <strong>` + fmt.Sprintf("%d", s.engine.Idx.NumDistinctSubjects()) + `</strong>
        </div>
    </div>
    <div id="yasgui"></div>
    <script>
        const yasgui = new Yasgui(document.getElementById("yasgui"), {
            requestConfig: {
                endpoint: "` + endpointURL + `",
                method: "POST"
            },
            copyEndpointOnNewTab: false,
            endpointCatalogueOptions: {
                getData: function() {
                    return [
                        {
                            endpoint: "` + endpointURL + `",
                            label: "Trigo Local"
                        }
                    ];
                }
            }
        });
    </script>
</body>
</html>`

	_, _ = w.Write([]byte(html)) // #nosec G104 - error writing response is logged elsewhere if needed
}

// handleSPARQL handles SPARQL query requests according to SPARQL 1.1 Protocol
// https://www.w3.org/TR/sparql11-protocol/
func (s *Server) handleSPARQL(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var queryString string

	switch r.Method {
	case "GET":
		queryString = r.URL.Query().Get("query")
		if queryString == "" {
			s.writeError(w, http.StatusBadRequest, "ParseError", "Missing 'query' parameter", "", "Request")
			return
		}

	case "POST":
		contentType := r.Header.Get("Content-Type")

		if strings.Contains(contentType, "application/sparql-query") {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "ParseError", "Failed to read request body", "", "Request")
				return
			}
			queryString = string(body)

		} else if strings.Contains(contentType, "application/x-www-form-urlencoded") {
			if err := r.ParseForm(); err != nil {
				s.writeError(w, http.StatusBadRequest, "ParseError", "Failed to parse form", "", "Request")
				return
			}
			queryString = r.FormValue("query")
			if queryString == "" {
				s.writeError(w, http.StatusBadRequest, "ParseError", "Missing 'query' parameter", "", "Request")
				return
			}

		} else {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "ParseError", "Failed to read request body", "", "Request")
				return
			}
			queryString = string(body)
		}

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "ParseError", "Method not allowed. Use GET or POST", "", "Request")
		return
	}

	if queryString == "" {
		s.writeError(w, http.StatusBadRequest, "ParseError", "Empty query", "", "Request")
		return
	}

	// Parse
	p := parser.NewParser(queryString)
	parsed, err := p.Parse()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "ParseError", err.Error(), queryString, "Query parsing")
		return
	}
	pq, err := query.FromAST(parsed)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "ParseError", err.Error(), queryString, "Query parsing")
		return
	}

	// Plan and execute
	outcome, err := s.engine.Run(r.Context(), pq)
	if err != nil {
		status := http.StatusInternalServerError
		phase := "Query execution"
		switch kindErr := err.(type) {
		case *errs.UnsupportedQueryFeature:
			status = http.StatusBadRequest
		case *errs.CancellationError:
			status = http.StatusRequestTimeout
			if kindErr.Phase != "" {
				phase = kindErr.Phase
			}
		case *errs.MemoryLimitExceeded:
			status = http.StatusInsufficientStorage
		}
		s.writeError(w, status, errs.Kind(err), err.Error(), queryString, phase)
		return
	}

	format := s.negotiateFormat(r.Header.Get("Accept"), r.URL.Query().Get("action"))
	s.writeResult(w, queryString, outcome, format)
}

// negotiateFormat determines the response format based on the Accept
// header and the optional action parameter.
func (s *Server) negotiateFormat(acceptHeader, action string) string {
	switch action {
	case "tsv_export":
		return "tsv"
	case "csv_export":
		return "csv"
	case "binary_export":
		return "binary"
	case "qlever_json_export":
		return "qlever-json"
	}
	accept := strings.ToLower(acceptHeader)
	switch {
	case strings.Contains(accept, "text/tab-separated-values"):
		return "tsv"
	case strings.Contains(accept, "text/csv"):
		return "csv"
	case strings.Contains(accept, "text/turtle"):
		return "turtle"
	case strings.Contains(accept, "application/sparql-results+xml"),
		strings.Contains(accept, "text/xml"),
		strings.Contains(accept, "application/xml"):
		return "xml"
	case strings.Contains(accept, "application/octet-stream"):
		return "binary"
	case strings.Contains(accept, "application/qlever-results+json"):
		return "qlever-json"
	default:
		return "json"
	}
}

// writeResult writes the query result in the negotiated format.
func (s *Server) writeResult(w http.ResponseWriter, queryString string, outcome *exec.Outcome, format string) {
	var data []byte
	var err error
	var contentType string

	// CONSTRUCT/DESCRIBE return RDF, not solution sequences.
	if outcome.Construct != nil {
		switch format {
		case "turtle":
			contentType = "text/turtle; charset=utf-8"
			data, err = formatConstructTurtle(outcome.Construct)
		case "xml":
			s.writeError(w, http.StatusNotAcceptable, "ParseError", "CONSTRUCT results cannot be serialized as SPARQL XML", queryString, "Export")
			return
		default:
			contentType = "application/n-triples; charset=utf-8"
			data, err = results.FormatConstructResultNTriples(outcome.Construct)
		}
		s.finish(w, contentType, data, err)
		return
	}

	switch format {
	case "tsv":
		contentType = "text/tab-separated-values; charset=utf-8"
		if outcome.Ask != nil {
			data, err = results.FormatAskResultTSV(outcome.Ask)
		} else {
			data, err = results.FormatSelectResultsTSV(outcome.Select)
		}
	case "csv":
		contentType = "text/csv; charset=utf-8"
		if outcome.Ask != nil {
			data, err = results.FormatAskResultCSV(outcome.Ask)
		} else {
			data, err = results.FormatSelectResultsCSV(outcome.Select)
		}
	case "xml":
		contentType = "application/sparql-results+xml; charset=utf-8"
		if outcome.Ask != nil {
			data, err = results.FormatAskResultXML(outcome.Ask)
		} else {
			data, err = results.FormatSelectResultsXML(outcome.Select)
		}
	case "binary":
		if outcome.Select == nil {
			s.writeError(w, http.StatusNotAcceptable, "ParseError", "binary export supports SELECT only", queryString, "Export")
			return
		}
		contentType = "application/octet-stream"
		data, err = formatBinary(outcome)
	case "qlever-json":
		contentType = "application/qlever-results+json; charset=utf-8"
		data, err = results.FormatSelectResultsEngineJSON(outcome.Select, queryString, outcome.Runtime,
			outcome.TotalMs, outcome.ComputeMs, s.engine.Params.SparqlResultsJSONWithTime)
	default:
		contentType = "application/sparql-results+json; charset=utf-8"
		if outcome.Ask != nil {
			data, err = results.FormatAskResultJSON(outcome.Ask)
		} else {
			data, err = results.FormatSelectResultsJSON(outcome.Select)
		}
	}
	s.finish(w, contentType, data, err)
}

func (s *Server) finish(w http.ResponseWriter, contentType string, data []byte, err error) {
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Error", fmt.Sprintf("Formatting error: %v", err), "", "Export")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data) // #nosec G104 - error writing response is logged elsewhere if needed
}

// handleDataUpload handles bulk data uploads in various RDF formats
func (s *Server) handleDataUpload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != "POST" {
		s.writeError(w, http.StatusMethodNotAllowed, "ParseError", "Method not allowed. Use POST", "", "Upload")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		s.writeError(w, http.StatusBadRequest, "ParseError", "Missing Content-Type header", "", "Upload")
		return
	}

	rdfParser, err := rdfio.NewParser(contentType)
	if err != nil {
		supportedTypes := rdfio.GetSupportedContentTypes()
		s.writeError(w, http.StatusUnsupportedMediaType, "ParseError",
			fmt.Sprintf("Unsupported content type: %s. Supported types: %v", contentType, supportedTypes), "", "Upload")
		return
	}

	startTime := time.Now()
	quads, err := rdfParser.Parse(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "ParseError", fmt.Sprintf("Parse error: %v", err), "", "Upload")
		return
	}

	if err := s.store.InsertQuadsBatch(quads); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Error", fmt.Sprintf("Insert error: %v", err), "", "Upload")
		return
	}

	// The read-only index facade has no incremental update path; rebuild.
	if err := s.reloadIndex(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "IndexFormatError", fmt.Sprintf("Index reload error: %v", err), "", "Upload")
		return
	}

	duration := time.Since(startTime)

	response := map[string]interface{}{
		"success": true,
		"statistics": map[string]interface{}{
			"quadsInserted":  len(quads),
			"durationMs":     duration.Milliseconds(),
			"quadsPerSecond": float64(len(quads)) / duration.Seconds(),
		},
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response) // #nosec G104 - error writing response is logged elsewhere if needed
}

// writeError writes the {kind, message, query, phase} error body.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, kind, message, queryString, phase string) {
	log.Printf("Error (%s during %s): %s", kind, phase, message)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	body := map[string]string{
		"kind":    kind,
		"message": message,
		"query":   queryString,
		"phase":   phase,
	}
	_ = json.NewEncoder(w).Encode(body) // #nosec G104 - error writing response is logged elsewhere if needed
}
