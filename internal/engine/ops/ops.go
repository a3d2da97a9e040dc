// Package ops implements the physical operator tree: the leaves and
// combinators the planner assembles into an executable plan.
// Every operator satisfies result.Operation; Compute either materializes its
// output directly or, where SupportsLazy reports true, streams it through a
// result.Producer.
//
package ops

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/qctx"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// TermResolver turns an Id from the persisted vocabulary back into the
// rdf.Term it denotes. Operators that must look at the lexical form of a
// value (OrderBy's semantic collation, LANG()/STR() in filter expressions,
// GROUP_CONCAT) go through this; everything else computes on Ids alone.
type TermResolver interface {
	ResolveTerm(id ids.Id) (rdf.Term, bool)
}

// Env carries the cross-cutting state every operator needs at Compute time:
// the per-query context (cancellation, allocator, params), the read-only
// index, the optional text index, and the term resolver for operators that
// need lexical forms.
type Env struct {
	Q     *qctx.Query
	Idx index.Index
	Text index.TextIndex
	Terms TermResolver
}

// CHUNK_SIZE mirrors the block-size ceiling for lazy producers: blocks are
// at most this many rows unless a single logical group straddles the
// boundary.
const ChunkSize = 1 << 20

// resolveWithVocab combines the persisted-vocabulary resolver with a
// result's LocalVocab, returning the full lexical form of any Id that has
// one.
func resolveWithVocab(env *Env, vocab *ids.LocalVocab, id ids.Id) (rdf.Term, bool) {
	if id.Tag() == ids.LocalVocabIndex && vocab != nil {
		if s, ok := vocab.Lookup(id); ok {
			return ParseLexicalForm(s), true
		}
		return nil, false
	}
	if env.Terms == nil {
		return nil, false
	}
	return env.Terms.ResolveTerm(id)
}

// ParseLexicalForm parses the N-Triples-style lexical form a LocalVocab
// entry stores ("<iri>", "_:b0", `"lit"@en`, `"lit"^^<dt>`) back into an
// rdf.Term. Anything unrecognized is treated as a plain literal.
func ParseLexicalForm(s string) rdf.Term {
	switch {
	case len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>':
		return rdf.NewNamedNode(s[1 : len(s)-1])
	case strings.HasPrefix(s, "_:"):
		return rdf.NewBlankNode(s[2:])
	case len(s) >= 2 && s[0] == '"':
		end := strings.LastIndexByte(s, '"')
		if end <= 0 {
			return rdf.NewLiteral(s)
		}
		val := s[1:end]
		rest := s[end+1:]
		switch {
		case strings.HasPrefix(rest, "@"):
			return rdf.NewLiteralWithLanguage(val, rest[1:])
		case strings.HasPrefix(rest, "^^<") && strings.HasSuffix(rest, ">"):
			return rdf.NewLiteralWithDatatype(val, rdf.NewNamedNode(rest[3:len(rest)-1]))
		default:
			return rdf.NewLiteral(val)
		}
	default:
		return rdf.NewLiteral(s)
	}
}

// LexicalForm renders an rdf.Term in the same N-Triples-style form
// ParseLexicalForm consumes, the canonical key for LocalVocab interning.
func LexicalForm(t rdf.Term) string {
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

// materialize runs child.Compute(ctx, false) and returns its table+vocab,
// the common "I only have a materialized implementation" path most combinator
// operators use for their inputs.
func materialize(ctx context.Context, env *Env, op result.Operation) (*idtable.IdTable, *ids.LocalVocab, error) {
	res, err := op.Compute(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	if !res.Lazy {
		return res.Table, res.Vocab, nil
	}
	return result.Materialize(ctx, res, op.NumColumns(), func() *idtable.IdTable {
		return idtable.New(op.NumColumns(), env.Q.Alloc)
	})
}

// checkEvery polls CheckCancellation every qctx.RowCheckInterval rows,
// matching the concurrency model's suspension-point cadence.
func checkEvery(ctx context.Context, env *Env, row int) error {
	if row%qctx.RowCheckInterval != 0 {
		return nil
	}
	return env.Q.CheckCancellation(ctx)
}

// estimates is the common cached-estimate holder embedded by every operator.
type estimates struct {
	computed bool
	val result.Estimates
}

func (e *estimates) getOrCompute(compute func() result.Estimates) result.Estimates {
	if !e.computed {
		e.val = compute()
		e.computed = true
	}
	return e.val
}

// sortedVarNames returns the sorted variable names of vc, used to build
// deterministic cache keys independent of map iteration order.
func sortedVarNames(vc result.VariableColumns) []string {
	names := make([]string, 0, len(vc))
	for n := range vc {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// variableCacheKey renders vc deterministically for CacheKey implementations.
func variableCacheKey(vc result.VariableColumns) string {
	var b strings.Builder
	for i, n := range sortedVarNames(vc) {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%d", n, vc[n])
	}
	return b.String()
}

// mergeVariables builds the combined variable map for a join-like operator:
// left's columns keep their position, right's unshared variables are
// appended starting at leftCols. shared, for each left variable also
// present on the right, gives the right column it's bound to (so join code
// can build leftCols/rightCols pairs).
func mergeVariables(left, right result.VariableColumns, leftCols int) (out result.VariableColumns, rightExtra []string, shared map[string]int) {
	out = make(result.VariableColumns, len(left)+len(right))
	shared = make(map[string]int)
	for v, c := range left {
		out[v] = c
	}
	next := leftCols
	for _, v := range sortedVarNames(right) {
		if _, ok := left[v]; ok {
			shared[v] = right[v]
			continue
		}
		out[v] = next
		rightExtra = append(rightExtra, v)
		next++
	}
	return out, rightExtra, shared
}

func contractf(format string, args ...any) error {
	return errs.NewContractError(format, args...)
}
