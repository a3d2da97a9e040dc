// Package index defines the read-only facade the planner and operators
// consume to reach the persisted, permutation-indexed RDF store. Per the
// scope boundary, the on-disk format itself (permutation files, vocabulary,
// block metadata) is an external collaborator; this package specifies only
// the interface. internal/storeidx provides the concrete implementation on
// top of the BadgerDB-backed triplestore, and
// internal/storeidx/memindex provides an in-memory fixture for tests.
package index

import (
	"context"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

// Permutation is one of the six orderings of (subject, predicate, object),
// used as the primary key for sorted on-disk storage.
type Permutation uint8

const (
	SPO Permutation = iota
	SOP
	PSO
	POS
	OSP
	OPS
)

func (p Permutation) String() string {
	return [...]string{"SPO", "SOP", "PSO", "POS", "OSP", "OPS"}[p]
}

// Columns returns the three positions (as names s/p/o) a permutation
// visits in order, used by the planner to map leading-bound terms and
// trailing free columns back to subject/predicate/object.
func (p Permutation) Columns() [3]byte {
	switch p {
	case SPO:
		return [3]byte{'s', 'p', 'o'}
	case SOP:
		return [3]byte{'s', 'o', 'p'}
	case PSO:
		return [3]byte{'p', 's', 'o'}
	case POS:
		return [3]byte{'p', 'o', 's'}
	case OSP:
		return [3]byte{'o', 's', 'p'}
	case OPS:
		return [3]byte{'o', 'p', 's'}
	}
	panic("unreachable")
}

// All enumerates the six permutations in a fixed order used whenever the
// planner needs to iterate "every permutation that might be useful".
var All = [6]Permutation{SPO, SOP, PSO, POS, OSP, OPS}

// Metadata summarizes one permutation's block-level statistics, exposed
// through the Index interface.
type Metadata struct {
	NumRows int64
	IsFunctional bool // at most one distinct col2 per (col0, col1)
	MultiplicityCol1 float64
	MultiplicityCol2 float64
}

// PermutationMetadata is the per-permutation metadata accessor.
type PermutationMetadata interface {
	// Col0IdExists reports whether id ever appears as the leading column
	// of this permutation. Index scans use this for knownEmptyResult.
	Col0IdExists(id ids.Id) bool
	// Get returns aggregate statistics for the block(s) keyed by the
	// leading id, or the whole permutation's statistics if id is
	// ids.UndefinedId (meaning "no leading term bound").
	Get(id ids.Id) Metadata
}

// Block is one contiguous, sorted chunk of a permutation scan's remaining
// columns (plus any requested extra columns such as the graph id).
// Row-major here intentionally: blocks come straight off storage and are
// converted to an idtable.IdTable (column-major) by the index scan
// operator, which is the layer that needs column-subset views.
type Block struct {
	Rows [][]ids.Id
}

// BlockIterator streams Blocks from a permutation scan. Implementations
// may read ahead from storage; Close must always be called.
type BlockIterator interface {
	Next(ctx context.Context) (Block, bool, error)
	Close() error
}

// Vocab is the string-to-id and id-to-string lookup for the persisted
// vocabulary (distinct from ids.LocalVocab, which is per-query).
type Vocab interface {
	// GetId looks up the dense VocabIndex id for the full lexical form of
	// a term, if it is present in the persisted vocabulary.
	GetId(term string) (ids.Id, bool)
	// LookupString is the inverse of GetId, used at export time.
	LookupString(id ids.Id) (string, bool)
}

// Index is the read-only facade the query core consumes. It never
// performs writes — updates, if any, happen entirely outside the core per
// the SPARQL Update non-goal.
type Index interface {
	// Scan returns an iterator over the permutation's rows with the given
	// leading columns bound (col1 may be ids.UndefinedId to mean "only
	// col0 is bound", and col0 may also be ids.UndefinedId to mean a full
	// unbound scan). graphs, if non-nil, restricts rows to one of the
	// listed graph ids.
	Scan(ctx context.Context, perm Permutation, col0, col1 ids.Id, graphs []ids.Id) (BlockIterator, error)

	// Metadata returns the per-permutation metadata accessor.
	Metadata(perm Permutation) PermutationMetadata

	// Vocab returns the persisted vocabulary.
	Vocab() Vocab

	NumDistinctSubjects() int64
	NumDistinctPredicates() int64
	NumDistinctObjects() int64
}

// TextIndex is the minimal contract WordScan/EntityScan/TextLimit need
// from a full-text index. A real inverted-index-backed implementation is
// out of scope; internal/storeidx/texttest
// provides a trivial substring-matching implementation sufficient to
// exercise the operator and planner contracts.
type TextIndex interface {
	// WordScan returns (text-record id, matching-word id) pairs for a
	// (possibly prefixed, i.e. trailing '*') word.
	WordScan(ctx context.Context, word string) ([]WordHit, error)
	// EntityScan returns (text-record, entity, score) triples for a fixed
	// entity id, or for every entity co-occurring in a text record if
	// entity is ids.UndefinedId.
	EntityScan(ctx context.Context, entity ids.Id) ([]EntityHit, error)
}

// WordHit is one result row of a WordScan.
type WordHit struct {
	TextRecord ids.Id
	Word ids.Id
}

// EntityHit is one result row of an EntityScan.
type EntityHit struct {
	TextRecord ids.Id
	Entity ids.Id
	Score float64
}
