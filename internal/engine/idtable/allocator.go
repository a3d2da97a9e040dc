// Package idtable implements the columnar IdTable used to hold every
// intermediate and final result row in the engine, plus the limit-tracking
// allocator that all IdTable growth goes through.
package idtable

import (
	"sync/atomic"

	"github.com/aleksaelezovic/trigo/internal/engine/errs"
)

// idSize is the size in bytes of one ids.Id (a uint64).
const idSize = 8

// Allocator tracks bytes allocated for IdTable columns against a per-query
// ceiling, carved from a global budget. Each query owns its own Allocator
// instance; state is never shared between queries (per the concurrency
// model's shared-resource policy).
type Allocator struct {
	limit int64
	allocated int64
}

// NewAllocator creates an allocator with the given byte ceiling. A limit of
// 0 or less means unbounded (used by tests and by the top-level CLI when no
// memory limit was configured).
func NewAllocator(limit int64) *Allocator {
	return &Allocator{limit: limit}
}

// Reserve accounts for n additional Id-sized slots, returning
// MemoryLimitExceeded if doing so would exceed the limit. It is safe to
// call from multiple goroutines (the parallel multiway merge reserves
// concurrently from several workers sharing one query's allocator).
func (a *Allocator) Reserve(nIds int) error {
	if a == nil || a.limit <= 0 {
		if a != nil {
			atomic.AddInt64(&a.allocated, int64(nIds)*idSize)
		}
		return nil
	}
	want := int64(nIds) * idSize
	for {
		cur := atomic.LoadInt64(&a.allocated)
		next := cur + want
		if next > a.limit {
			return &errs.MemoryLimitExceeded{Limit: a.limit, Requested: want}
		}
		if atomic.CompareAndSwapInt64(&a.allocated, cur, next) {
			return nil
		}
	}
}

// Release gives back n Id-sized slots previously reserved, e.g. when a
// lazy block is dropped after being consumed.
func (a *Allocator) Release(nIds int) {
	if a == nil {
		return
	}
	atomic.AddInt64(&a.allocated, -int64(nIds)*idSize)
}

// Allocated reports current accounted bytes, for diagnostics/tests.
func (a *Allocator) Allocated() int64 {
	if a == nil {
		return 0
	}
	return atomic.LoadInt64(&a.allocated)
}

// Limit reports the configured ceiling (0 means unbounded).
func (a *Allocator) Limit() int64 {
	if a == nil {
		return 0
	}
	return a.limit
}
