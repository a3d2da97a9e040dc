// Package storeidx implements the engine's read-only Index facade on top
// of the BadgerDB-backed triplestore: the store layout's three
// default-graph tables (SPO, POS, OSP) plus the named-graph tables serve
// all six logical permutations, with block-level metadata computed up
// front and held in memory.
package storeidx

import (
	"context"
	"fmt"
	"sort"

	"github.com/aleksaelezovic/trigo/internal/encoding"
	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
	store "github.com/aleksaelezovic/trigo/pkg/store"
)

type encodedTerm = [encoding.EncodedTermSize]byte

// statEntry is one leading-id's precomputed block metadata.
type statEntry struct {
	numRows int64
	distinct1  int64
	distinct2  int64
	functional bool
}

// Adapter is the concrete Index over a storage instance. It is built once
// at startup (one pass over the SPO table to assign dense vocabulary ids
// and compute permutation statistics) and is safe for concurrent readers.
type Adapter struct {
	storage store.Storage
	encoder *encoding.TermEncoder
	decoder *encoding.TermDecoder

	terms     []rdf.Term            // vocab payload -> term
	byForm map[string]ids.Id     // lexical form -> id
	byEncoded map[encodedTerm]ids.Id
	encodedOf map[ids.Id]encodedTerm

	triples [][3]ids.Id // default-graph triples in SPO order
	stats   [6]map[ids.Id]statEntry
	totals  [6]statEntry

	distinctS, distinctP, distinctO int64
}

// New builds the adapter, reading the whole default-graph SPO table once
// to intern terms and precompute metadata. The triple data itself stays in
// storage; only ids and statistics are held in memory.
func New(st store.Storage) (*Adapter, error) {
	a := &Adapter{
		storage:   st,
		encoder:   encoding.NewTermEncoder(),
		decoder:   encoding.NewTermDecoder(),
		byForm:    make(map[string]ids.Id),
		byEncoded: make(map[encodedTerm]ids.Id),
		encodedOf: make(map[ids.Id]encodedTerm),
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) load() error {
	txn, err := a.storage.Begin(false)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	it, err := txn.Scan(store.TableSPO, nil, nil)
	if err != nil {
		return err
	}
	defer it.Close()

	var raw [][3]encodedTerm
	distinct := map[encodedTerm]bool{}
	for it.Next() {
		key := it.Key()
		if len(key) < 3*encoding.EncodedTermSize {
			return &errs.IndexFormatError{Msg: fmt.Sprintf("spo key has %d bytes", len(key))}
		}
		var row [3]encodedTerm
		for i := 0; i < 3; i++ {
			copy(row[i][:], key[i*encoding.EncodedTermSize:])
			distinct[row[i]] = true
		}
		raw = append(raw, row)
	}

	// Dense vocabulary ids in encoded-byte order; inline-encodable terms
	// keep their payload-carrying ids instead.
	sorted := make([]encodedTerm, 0, len(distinct))
	for e := range distinct {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return lessBytes(sorted[i], sorted[j]) })
	for _, e := range sorted {
		term, err := a.decodeTerm(txn, e)
		if err != nil {
			return err
		}
		var id ids.Id
		if inline, ok := index.InlineId(term); ok {
			id = inline
		} else {
			id = ids.FromVocabIndex(uint64(len(a.terms)))
			a.terms = append(a.terms, term)
			a.byForm[ops.LexicalForm(term)] = id
		}
		a.byEncoded[e] = id
		a.encodedOf[id] = e
	}

	ds, dp, do := map[ids.Id]bool{}, map[ids.Id]bool{}, map[ids.Id]bool{}
	for _, row := range raw {
		t := [3]ids.Id{a.byEncoded[row[0]], a.byEncoded[row[1]], a.byEncoded[row[2]]}
		a.triples = append(a.triples, t)
		ds[t[0]], dp[t[1]], do[t[2]] = true, true, true
	}
	a.distinctS, a.distinctP, a.distinctO = int64(len(ds)), int64(len(dp)), int64(len(do))

	a.computeStats()
	return nil
}

func lessBytes(a, b encodedTerm) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (a *Adapter) decodeTerm(txn store.Transaction, e encodedTerm) (rdf.Term, error) {
	var stringValue *string
	switch rdf.TermType(e[0]) {
	case rdf.TermTypeNamedNode, rdf.TermTypeBlankNode, rdf.TermTypeStringLiteral,
		rdf.TermTypeLangStringLiteral, rdf.TermTypeTypedLiteral:
		if raw, err := txn.Get(store.TableID2Str, e[1:]); err == nil {
			s := string(raw)
			stringValue = &s
		}
	}
	var et store.EncodedTerm
	copy(et[:], e[:])
	return a.decoder.DecodeTerm(et, stringValue)
}

// computeStats fills the per-permutation leading-id metadata from the
// default-graph triples.
func (a *Adapter) computeStats() {
	for p, perm := range index.All {
		entries := map[ids.Id]*statAcc{}
		total := &statAcc{}
		for _, t := range a.triples {
			row := permuteTriple(t, perm)
			acc, ok := entries[row[0]]
			if !ok {
				acc = newStatAcc()
				entries[row[0]] = acc
			}
			acc.add(row)
			total.add(row)
		}
		a.stats[p] = make(map[ids.Id]statEntry, len(entries))
		for id, acc := range entries {
			a.stats[p][id] = acc.entry()
		}
		a.totals[p] = total.entry()
	}
}

type statAcc struct {
	n int64
	d1    map[ids.Id]bool
	d2    map[ids.Id]bool
	pairs map[[2]ids.Id]bool
	fn bool
}

func newStatAcc() *statAcc { return &statAcc{} }

func (s *statAcc) add(row [3]ids.Id) {
	if s.d1 == nil {
		s.d1 = map[ids.Id]bool{}
		s.d2 = map[ids.Id]bool{}
		s.pairs = map[[2]ids.Id]bool{}
		s.fn = true
	}
	s.n++
	s.d1[row[1]] = true
	s.d2[row[2]] = true
	key := [2]ids.Id{row[0], row[1]}
	if s.pairs[key] {
		s.fn = false
	}
	s.pairs[key] = true
}

func (s *statAcc) entry() statEntry {
	e := statEntry{numRows: s.n, functional: s.fn}
	if len(s.d1) > 0 {
		e.distinct1 = int64(len(s.d1))
	}
	if len(s.d2) > 0 {
		e.distinct2 = int64(len(s.d2))
	}
	return e
}

func permuteTriple(spo [3]ids.Id, perm index.Permutation) [3]ids.Id {
	cols := perm.Columns()
	var out [3]ids.Id
	for i, c := range cols {
		switch c {
		case 's':
			out[i] = spo[0]
		case 'p':
			out[i] = spo[1]
		case 'o':
			out[i] = spo[2]
		}
	}
	return out
}

// tableFor maps a permutation's leading position to the physical table
// that is sorted by it: the store layout carries SPO, POS, and OSP for
// the default graph, so the other three logical permutations are served by
// the table sharing their leading column, with the second bound term
// applied as a filter and the rows re-sorted into runtime-id order.
func tableFor(perm index.Permutation) (store.Table, [3]byte) {
	switch perm.Columns()[0] {
	case 's':
		return store.TableSPO, [3]byte{'s', 'p', 'o'}
	case 'p':
		return store.TablePOS, [3]byte{'p', 'o', 's'}
	default:
		return store.TableOSP, [3]byte{'o', 's', 'p'}
	}
}

type adapterIterator struct {
	rows [][]ids.Id
	done bool
}

func (it *adapterIterator) Next(ctx context.Context) (index.Block, bool, error) {
	if it.done || len(it.rows) == 0 {
		return index.Block{}, false, nil
	}
	it.done = true
	return index.Block{Rows: it.rows}, true, nil
}

func (it *adapterIterator) Close() error { return nil }

// Scan implements index.Index. Graph restrictions are applied by scanning
// the GSPO table per requested graph instead of the default-graph tables.
func (a *Adapter) Scan(ctx context.Context, perm index.Permutation, col0, col1 ids.Id, graphs []ids.Id) (index.BlockIterator, error) {
	if len(graphs) > 0 {
		return a.scanGraphs(ctx, perm, col0, col1, graphs)
	}
	table, physOrder := tableFor(perm)
	txn, err := a.storage.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	var prefix []byte
	if !col0.IsUndefined() {
		e, ok := a.encodedOf[col0]
		if !ok {
			return &adapterIterator{}, nil
		}
		prefix = append(prefix, e[:]...)
		// Extend the physical prefix when the logical and physical second
		// columns coincide.
		if !col1.IsUndefined() && physOrder[1] == perm.Columns()[1] {
			if e1, ok := a.encodedOf[col1]; ok {
				prefix = append(prefix, e1[:]...)
			} else {
				return &adapterIterator{}, nil
			}
		}
	}

	it, err := txn.Scan(table, prefix, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	logical := perm.Columns()
	nb := 0
	if !col0.IsUndefined() {
		nb = 1
		if !col1.IsUndefined() {
			nb = 2
		}
	}

	var rows [][]ids.Id
	for it.Next() {
		key := it.Key()
		if len(key) < 3*encoding.EncodedTermSize {
			return nil, &errs.IndexFormatError{Msg: fmt.Sprintf("scan key has %d bytes", len(key))}
		}
		byPos := map[byte]ids.Id{}
		okRow := true
		for i := 0; i < 3; i++ {
			var e encodedTerm
			copy(e[:], key[i*encoding.EncodedTermSize:])
			id, ok := a.byEncoded[e]
			if !ok {
				okRow = false
				break
			}
			byPos[physOrder[i]] = id
		}
		if !okRow {
			continue
		}
		if !col1.IsUndefined() && byPos[logical[1]] != col1 {
			continue
		}
		out := make([]ids.Id, 0, 3-nb)
		for i := nb; i < 3; i++ {
			out = append(out, byPos[logical[i]])
		}
		rows = append(rows, out)
	}
	sortRows(rows)
	return &adapterIterator{rows: rows}, nil
}

func (a *Adapter) scanGraphs(ctx context.Context, perm index.Permutation, col0, col1 ids.Id, graphs []ids.Id) (index.BlockIterator, error) {
	txn, err := a.storage.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	logical := perm.Columns()
	nb := 0
	if !col0.IsUndefined() {
		nb = 1
		if !col1.IsUndefined() {
			nb = 2
		}
	}

	var rows [][]ids.Id
	for _, g := range graphs {
		ge, ok := a.encodedOf[g]
		if !ok {
			continue
		}
		it, err := txn.Scan(store.TableGSPO, ge[:], nil)
		if err != nil {
			return nil, err
		}
		for it.Next() {
			key := it.Key()
			if len(key) < 4*encoding.EncodedTermSize {
				it.Close()
				return nil, &errs.IndexFormatError{Msg: fmt.Sprintf("gspo key has %d bytes", len(key))}
			}
			byPos := map[byte]ids.Id{}
			okRow := true
			for i, pos := range []byte{'s', 'p', 'o'} {
				var e encodedTerm
				copy(e[:], key[(i+1)*encoding.EncodedTermSize:])
				id, found := a.byEncoded[e]
				if !found {
					okRow = false
					break
				}
				byPos[pos] = id
			}
			if !okRow {
				continue
			}
			if !col0.IsUndefined() && byPos[logical[0]] != col0 {
				continue
			}
			if !col1.IsUndefined() && byPos[logical[1]] != col1 {
				continue
			}
			out := make([]ids.Id, 0, 3-nb)
			for i := nb; i < 3; i++ {
				out = append(out, byPos[logical[i]])
			}
			rows = append(rows, out)
		}
		it.Close()
	}
	sortRows(rows)
	return &adapterIterator{rows: rows}, nil
}

func sortRows(rows [][]ids.Id) {
	sort.Slice(rows, func(i, j int) bool {
		for k := range rows[i] {
			switch ids.Compare(rows[i][k], rows[j][k]) {
			case ids.Less:
				return true
			case ids.Greater:
				return false
			}
		}
		return false
	})
}

type adapterMetadata struct {
	a    *Adapter
	perm index.Permutation
}

func (m adapterMetadata) Col0IdExists(id ids.Id) bool {
	_, ok := m.a.stats[m.perm][id]
	return ok
}

func (m adapterMetadata) Get(id ids.Id) index.Metadata {
	var e statEntry
	if id.IsUndefined() {
		e = m.a.totals[m.perm]
	} else {
		e = m.a.stats[m.perm][id]
	}
	out := index.Metadata{NumRows: e.numRows, IsFunctional: e.functional}
	if e.distinct1 > 0 {
		out.MultiplicityCol1 = float64(e.numRows) / float64(e.distinct1)
	}
	if e.distinct2 > 0 {
		out.MultiplicityCol2 = float64(e.numRows) / float64(e.distinct2)
	}
	return out
}

// Metadata implements index.Index.
func (a *Adapter) Metadata(perm index.Permutation) index.PermutationMetadata {
	return adapterMetadata{a: a, perm: perm}
}

type adapterVocab struct{ a *Adapter }

func (v adapterVocab) GetId(term string) (ids.Id, bool) {
	id, ok := v.a.byForm[term]
	return id, ok
}

func (v adapterVocab) LookupString(id ids.Id) (string, bool) {
	t, ok := v.a.term(id)
	if !ok {
		return "", false
	}
	return ops.LexicalForm(t), true
}

// Vocab implements index.Index.
func (a *Adapter) Vocab() index.Vocab { return adapterVocab{a} }

func (a *Adapter) term(id ids.Id) (rdf.Term, bool) {
	if t, ok := index.InlineTerm(id); ok {
		return t, true
	}
	if id.Tag() != ids.VocabIndex {
		return nil, false
	}
	i := id.Payload()
	if i >= uint64(len(a.terms)) {
		return nil, false
	}
	return a.terms[i], true
}

// ResolveTerm implements ops.TermResolver.
func (a *Adapter) ResolveTerm(id ids.Id) (rdf.Term, bool) { return a.term(id) }

func (a *Adapter) NumDistinctSubjects() int64   { return a.distinctS }
func (a *Adapter) NumDistinctPredicates() int64 { return a.distinctP }
func (a *Adapter) NumDistinctObjects() int64    { return a.distinctO }
