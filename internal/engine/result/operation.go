package result

import "context"

// VariableColumns maps a SPARQL variable name to the column it occupies in
// an operator's output.
type VariableColumns map[string]int

// Estimates is the size/cost/multiplicity/sortedness contract every
// physical operator exposes to the planner.
type Estimates struct {
	// SizeEstimate is the expected number of output rows.
	SizeEstimate float64
	// CostEstimate is roughly rows read plus rows written, recursively
	// summed over the operator's children, plus additive penalties for
	// sorting (the planner's cost model).
	CostEstimate float64
	// KnownEmpty, if true, short-circuits the planner/executor: the
	// operator is statically known to produce zero rows (e.g. an index
	// scan whose leading key is absent from the permutation's metadata).
	KnownEmpty bool
}

// Multiplicity estimates the expected number of rows per distinct value in
// column col, used by the planner's join selectivity estimates.
type Multiplicity func(col int) float64

// Operation is the common contract every physical operator satisfies. The
// planner works over Operation values; Compute executes the operator,
// returning a materialized or lazy Result depending on wantLazy and the
// operator's SupportsLazy().
type Operation interface {
	// Variables returns the output's variable-to-column mapping.
	Variables() VariableColumns
	// NumColumns returns the fixed output column count.
	NumColumns() int
	// Estimates returns this operator's size/cost/empty estimates. The
	// planner calls this repeatedly during DP/greedy enumeration, so
	// implementations should cache after the first computation.
	Estimates() Estimates
	// Multiplicity returns the per-column multiplicity estimator.
	Multiplicity() Multiplicity
	// ResultSortedOn returns the columns (in order) the operator
	// guarantees its output is lex-sorted by. An empty, non-nil slice
	// means "sorted on the empty list" (no guarantee).
	ResultSortedOn() SortedColumns
	// SupportsLazy reports whether Compute can honor wantLazy=true.
	SupportsLazy() bool
	// CacheKey returns a deterministic string capturing this operator's
	// identity, every parameter affecting its output, and the cache keys
	// of its children. Equal cache keys imply logically equal results
	// given the same Index.
	CacheKey() string
	// Compute executes the operator. If wantLazy is true and
	// SupportsLazy() is true, the returned Result is lazy; otherwise it is
	// materialized.
	Compute(ctx context.Context, wantLazy bool) (*Result, error)
}

// Context carries cross-cutting execution state threaded through Compute
// calls: cancellation/timeout state, the per-query memory allocator, and
// checkpointing cadence. It intentionally does not carry a context.Context
// itself — callers pass that separately to Compute — but composes with one
// via CheckCancellation.
type Context interface {
	// CheckCancellation is called every N rows (row-level loops) or every
	// block (block-level loops) per the concurrency model's suspension
	// points. It returns a non-nil *errs.CancellationError if the query's
	// atomic state is no longer Running.
	CheckCancellation(ctx context.Context) error
}
