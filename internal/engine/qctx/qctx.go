// Package qctx implements the per-query execution context: the atomic
// cancellation state every operator polls at fixed call-count boundaries,
// the per-query memory allocator, and the runtime parameters that tune
// planning and execution.
package qctx

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
)

// RunState is the three-valued atomic state polled by checkCancellation
// hooks: Running, Timeout, Manual.
type RunState int32

const (
	Running RunState = iota
	TimedOut
	ManuallyCancelled
)

// RowCheckInterval is how often a row-level loop polls CheckCancellation
//.
const RowCheckInterval = 1_000_000

// Params holds the recognized runtime parameters.
type Params struct {
	QueryPlanningBudget int
	CacheMaxNumEntries int
	CacheMaxSize int64
	CacheMaxSizeSingleEntry int64
	LazyIndexScanQueueSize int
	LazyIndexScanNumThreads int
	SortEstimateCancellationFactor float64
	SparqlResultsJSONWithTime bool
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		QueryPlanningBudget:            1500,
		CacheMaxNumEntries:             1000,
		CacheMaxSize:                   1 << 30, // 1 GiB
		CacheMaxSizeSingleEntry:        1 << 27, // 128 MiB
		LazyIndexScanQueueSize:         5,
		LazyIndexScanNumThreads:        4,
		SortEstimateCancellationFactor: 20,
		SparqlResultsJSONWithTime:      false,
	}
}

// Query is the per-query execution context shared by every operator in one
// query's tree. It is never shared across queries (shared-resource policy,
// each query constructs its own via New.
type Query struct {
	state atomic.Int32
	Alloc   *idtable.Allocator
	Params  Params
	Started time.Time
	Deadline time.Time // zero means no deadline
}

// New creates a fresh per-query context with the given memory limit in
// bytes (0 means unbounded) and runtime parameters.
func New(memLimitBytes int64, params Params) *Query {
	return &Query{
		Alloc:   idtable.NewAllocator(memLimitBytes),
		Params:  params,
		Started: time.Now(),
	}
}

// Cancel transitions the query to ManuallyCancelled. Idempotent.
func (q *Query) Cancel() { q.state.CompareAndSwap(int32(Running), int32(ManuallyCancelled)) }

// TimeOut transitions the query to TimedOut. Idempotent.
func (q *Query) TimeOut() { q.state.CompareAndSwap(int32(Running), int32(TimedOut)) }

// State reports the current run state.
func (q *Query) State() RunState { return RunState(q.state.Load()) }

// CheckCancellation is the suspension-point hook every operator's row/block
// loop calls. It also honors the caller-supplied context.Context's
// cancellation (ctx.Done()), mapped to Manual, so operators compose
// correctly with Go's standard cancellation idiom without the planner
// having to know about context.Context explicitly.
func (q *Query) CheckCancellation(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		q.Cancel()
	}
	switch q.State() {
	case TimedOut:
		return &errs.CancellationError{Kind: errs.CancelTimeout}
	case ManuallyCancelled:
		return &errs.CancellationError{Kind: errs.CancelManual}
	default:
		if !q.Deadline.IsZero() && time.Now().After(q.Deadline) {
			q.TimeOut()
			return &errs.CancellationError{Kind: errs.CancelTimeout}
		}
		return nil
	}
}
