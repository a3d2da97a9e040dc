package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aleksaelezovic/trigo/internal/exec"
	"github.com/aleksaelezovic/trigo/internal/query"
	"github.com/aleksaelezovic/trigo/internal/rdfio"
	"github.com/aleksaelezovic/trigo/internal/server"
	"github.com/aleksaelezovic/trigo/internal/sparql/parser"
	"github.com/aleksaelezovic/trigo/internal/storage"
	"github.com/aleksaelezovic/trigo/internal/store"
	"github.com/aleksaelezovic/trigo/internal/storeidx"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: trigo <command> [args]")
		fmt.Println("Commands:")
		fmt.Println("  demo          - Run a demo with sample data")
		fmt.Println("  query <q>     - Execute a SPARQL query")
		fmt.Println("  load <file>   - Load an RDF file into the store")
		fmt.Println("  serve [addr]  - Start HTTP SPARQL endpoint (default: localhost:8080)")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "demo":
		runDemo()
	case "query":
		if len(os.Args) < 3 {
			fmt.Println("Usage: trigo query <sparql-query>")
			os.Exit(1)
		}
		runQuery(os.Args[2])
	case "load":
		if len(os.Args) < 3 {
			fmt.Println("Usage: trigo load <file>")
			os.Exit(1)
		}
		runLoad(os.Args[2])
	case "serve":
		addr := "localhost:8080"
		if len(os.Args) >= 3 {
			addr = os.Args[2]
		}
		runServer(addr)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

const dbPath = "./trigo_data"

func openStore() (*storage.BadgerStorage, *store.TripleStore) {
	badgerStorage, err := storage.NewBadgerStorage(dbPath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	return badgerStorage, store.NewTripleStore(badgerStorage)
}

func newEngine(badgerStorage *storage.BadgerStorage) *exec.Engine {
	adapter, err := storeidx.New(badgerStorage)
	if err != nil {
		log.Fatalf("Failed to build index: %v", err)
	}
	engine, err := exec.NewEngine(adapter, adapter)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	return engine
}

func runDemo() {
	fmt.Println("=== Trigo RDF Triplestore Demo ===")
	fmt.Println()

	fmt.Printf("Opening database at: %s\n", dbPath)
	badgerStorage, tripleStore := openStore()
	defer badgerStorage.Close()

	fmt.Println("Triplestore initialized")
	fmt.Println()

	fmt.Println("Inserting sample data...")

	alice := rdf.NewNamedNode("http://example.org/alice")
	bob := rdf.NewNamedNode("http://example.org/bob")
	carol := rdf.NewNamedNode("http://example.org/carol")

	knows := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/knows")
	name := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/name")
	age := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/age")

	triples := []*rdf.Triple{
		rdf.NewTriple(alice, name, rdf.NewLiteral("Alice")),
		rdf.NewTriple(alice, age, rdf.NewIntegerLiteral(30)),
		rdf.NewTriple(alice, knows, bob),

		rdf.NewTriple(bob, name, rdf.NewLiteral("Bob")),
		rdf.NewTriple(bob, age, rdf.NewIntegerLiteral(25)),
		rdf.NewTriple(bob, knows, carol),

		rdf.NewTriple(carol, name, rdf.NewLiteral("Carol")),
		rdf.NewTriple(carol, age, rdf.NewIntegerLiteral(28)),
	}

	for _, triple := range triples {
		if err := tripleStore.InsertTriple(triple); err != nil {
			log.Fatalf("Failed to insert triple: %v", err)
		}
		fmt.Printf("  ✓ %s %s %s\n", formatTerm(triple.Subject), formatTerm(triple.Predicate), formatTerm(triple.Object))
	}

	count, err := tripleStore.Count()
	if err != nil {
		log.Fatalf("Failed to count triples: %v", err)
	}
	fmt.Printf("\nTotal triples stored: %d\n", count)

	fmt.Println()
	fmt.Println("=== Querying Data ===")
	fmt.Println()

	sparqlQuery := `
		SELECT ?person ?name ?age
		WHERE {
			?person <http://xmlns.com/foaf/0.1/name> ?name .
			?person <http://xmlns.com/foaf/0.1/age> ?age .
		}
	`

	fmt.Printf("Query:\n%s\n", sparqlQuery)
	printQueryResults(badgerStorage, sparqlQuery)

	fmt.Println("\n=== Demo Complete ===")
}

func printQueryResults(badgerStorage *storage.BadgerStorage, sparqlQuery string) {
	p := parser.NewParser(sparqlQuery)
	parsed, err := p.Parse()
	if err != nil {
		log.Fatalf("Failed to parse query: %v", err)
	}
	fmt.Println("✓ Query parsed successfully")

	pq, err := query.FromAST(parsed)
	if err != nil {
		log.Fatalf("Failed to translate query: %v", err)
	}

	engine := newEngine(badgerStorage)
	outcome, err := engine.Run(context.Background(), pq)
	if err != nil {
		log.Fatalf("Failed to execute query: %v", err)
	}
	fmt.Println("✓ Query executed successfully")
	fmt.Println()

	switch {
	case outcome.Select != nil:
		fmt.Println("Results:")
		fmt.Print("| ")
		for _, v := range outcome.Select.Variables {
			fmt.Printf("%-20s | ", v)
		}
		fmt.Println()
		for _, binding := range outcome.Select.Bindings {
			fmt.Print("| ")
			for _, v := range outcome.Select.Variables {
				if term, exists := binding[v]; exists {
					fmt.Printf("%-20s | ", formatTerm(term))
				} else {
					fmt.Printf("%-20s | ", "")
				}
			}
			fmt.Println()
		}
		fmt.Printf("\nFound %d results\n", len(outcome.Select.Bindings))
	case outcome.Ask != nil:
		fmt.Printf("Result: %t\n", outcome.Ask.Result)
	case outcome.Construct != nil:
		fmt.Printf("Constructed %d triples:\n", len(outcome.Construct.Triples))
		for _, triple := range outcome.Construct.Triples {
			fmt.Printf("%s %s %s .\n", formatTerm(triple.Subject), formatTerm(triple.Predicate), formatTerm(triple.Object))
		}
	}
}

func runQuery(sparqlQuery string) {
	badgerStorage, _ := openStore()
	defer badgerStorage.Close()
	printQueryResults(badgerStorage, sparqlQuery)
}

func runLoad(path string) {
	badgerStorage, tripleStore := openStore()
	defer badgerStorage.Close()

	f, err := os.Open(path) // #nosec G304 - path is an operator-supplied CLI argument
	if err != nil {
		log.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	rdfParser, err := rdfio.NewParserForFile(path)
	if err != nil {
		log.Fatalf("Unsupported file format: %v", err)
	}
	quads, err := rdfParser.Parse(f)
	if err != nil {
		log.Fatalf("Failed to parse %s: %v", path, err)
	}
	if err := tripleStore.InsertQuadsBatch(quads); err != nil {
		log.Fatalf("Failed to insert: %v", err)
	}
	fmt.Printf("Loaded %d quads from %s\n", len(quads), path)
}

func runServer(addr string) {
	fmt.Printf("Opening database at: %s\n", dbPath)
	badgerStorage, tripleStore := openStore()
	defer badgerStorage.Close()

	count, _ := tripleStore.Count()
	fmt.Printf("Database loaded with %d triples\n", count)

	srv, err := server.NewServer(tripleStore, badgerStorage, addr)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}
	fmt.Printf("\n🚀 Trigo SPARQL endpoint starting...\n")
	fmt.Printf("   Endpoint: http://%s/sparql\n", addr)
	fmt.Printf("   Web UI:   http://%s/\n\n", addr)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func formatTerm(term rdf.Term) string {
	switch t := term.(type) {
	case *rdf.NamedNode:
		iri := t.IRI
		for i := len(iri) - 1; i >= 0; i-- {
			if iri[i] == '/' || iri[i] == '#' {
				return iri[i+1:]
			}
		}
		return iri
	case *rdf.Literal:
		return t.Value
	default:
		return term.String()
	}
}
