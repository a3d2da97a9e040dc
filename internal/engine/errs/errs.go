// Package errs defines the typed error kinds that cross the planner and
// execution boundary, per the error-handling design: every operator is free
// of try/catch and lets these propagate to the top-level execution boundary.
package errs

import "fmt"

// ContractError reports a violated invariant, e.g. a join combined over
// overlapping node masks, or a disjoint-variable requirement broken by a
// Cartesian product. It always indicates a planner bug, never user input.
type ContractError struct {
	Msg string
}

func (e *ContractError) Error() string { return "contract violated: " + e.Msg }

func NewContractError(format string, args ...any) *ContractError {
	return &ContractError{Msg: fmt.Sprintf(format, args...)}
}

// CancelKind distinguishes why an operator was cancelled.
type CancelKind int

const (
	CancelManual CancelKind = iota
	CancelTimeout
)

func (k CancelKind) String() string {
	if k == CancelTimeout {
		return "Timeout"
	}
	return "Manual"
}

// CancellationError is raised by the checkCancellation hook when a query's
// atomic state is no longer Running. Phase is filled in by the planner
// boundary ("Query planning") or left empty for execution-time cancellation.
type CancellationError struct {
	Kind  CancelKind
	Phase string
}

func (e *CancellationError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s cancellation during %s", e.Kind, e.Phase)
	}
	return fmt.Sprintf("%s cancellation", e.Kind)
}

// WithPhase returns a copy of the error tagged with the given phase name,
// used at the planner boundary to distinguish planning-time cancellation
// from execution-time cancellation without losing the original kind.
func (e *CancellationError) WithPhase(phase string) *CancellationError {
	return &CancellationError{Kind: e.Kind, Phase: phase}
}

// MemoryLimitExceeded is raised synchronously by the limit-tracking
// allocator when an allocation would exceed the per-query cap.
type MemoryLimitExceeded struct {
	Limit int64
	Requested int64
}

func (e *MemoryLimitExceeded) Error() string {
	return fmt.Sprintf("memory limit exceeded: requested %d bytes, limit is %d bytes", e.Requested, e.Limit)
}

// UnsupportedQueryFeature is fatal to the query and user-facing, e.g. a
// basic graph pattern with more than 64 nodes.
type UnsupportedQueryFeature struct {
	Msg string
}

func (e *UnsupportedQueryFeature) Error() string { return "unsupported query feature: " + e.Msg }

func NewUnsupportedQueryFeature(format string, args ...any) *UnsupportedQueryFeature {
	return &UnsupportedQueryFeature{Msg: fmt.Sprintf(format, args...)}
}

// IndexFormatError indicates a corrupt or incompatible on-disk index.
type IndexFormatError struct {
	Msg string
}

func (e *IndexFormatError) Error() string { return "index format error: " + e.Msg }

// RemoteEndpointError reports a SERVICE clause failure. Silent controls
// whether the planner boundary should swallow it to an empty result
// (SILENT modifier) or propagate it as fatal.
type RemoteEndpointError struct {
	Endpoint string
	Silent bool
	Cause error
}

func (e *RemoteEndpointError) Error() string {
	return fmt.Sprintf("remote endpoint %q failed: %v", e.Endpoint, e.Cause)
}

func (e *RemoteEndpointError) Unwrap() error { return e.Cause }

// Kind returns a short machine-readable tag for the error, used by the
// top-level HTTP boundary to build the {kind, message, query, phase} body.
func Kind(err error) string {
	switch err.(type) {
	case *ContractError:
		return "ContractError"
	case *CancellationError:
		return "CancellationError"
	case *MemoryLimitExceeded:
		return "MemoryLimitExceeded"
	case *UnsupportedQueryFeature:
		return "UnsupportedQueryFeature"
	case *IndexFormatError:
		return "IndexFormatError"
	case *RemoteEndpointError:
		return "RemoteEndpointError"
	default:
		return "Error"
	}
}
