// Package memindex provides an in-memory implementation of the engine's
// Index facade, used by tests and small datasets: the six permutations are
// plain sorted slices, the vocabulary is two maps. Like the BadgerDB-backed
// adapter it assigns dense vocabulary ids and returns scans sorted by
// runtime Id, but it orders vocabulary ids by lexical form, where the
// adapter orders them by encoded term bytes.
package memindex

import (
	"context"
	"sort"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// MemIndex is a frozen, read-only in-memory index over a set of triples.
type MemIndex struct {
	terms  []rdf.Term        // dense id payload -> term
	byForm map[string]ids.Id // lexical form -> id
	perms  [6][][3]ids.Id    // rows sorted per permutation

	distinctS, distinctP, distinctO int64
}

// New builds a MemIndex from triples. Vocabulary ids are assigned densely
// in lexical-form order so scans come out sorted by runtime Id.
func New(triples []*rdf.Triple) *MemIndex {
	m := &MemIndex{byForm: make(map[string]ids.Id)}

	// Collect the distinct non-inline terms, sorted by lexical form.
	formSet := map[string]rdf.Term{}
	for _, tr := range triples {
		for _, t := range []rdf.Term{tr.Subject, tr.Predicate, tr.Object} {
			if _, inline := index.InlineId(t); inline {
				continue
			}
			formSet[ops.LexicalForm(t)] = t
		}
	}
	forms := make([]string, 0, len(formSet))
	for f := range formSet {
		forms = append(forms, f)
	}
	sort.Strings(forms)
	for i, f := range forms {
		m.terms = append(m.terms, formSet[f])
		m.byForm[f] = ids.FromVocabIndex(uint64(i))
	}

	resolve := func(t rdf.Term) ids.Id {
		if id, ok := index.InlineId(t); ok {
			return id
		}
		return m.byForm[ops.LexicalForm(t)]
	}

	rows := make([][3]ids.Id, 0, len(triples))
	seen := map[[3]ids.Id]bool{}
	ds, dp, do := map[ids.Id]bool{}, map[ids.Id]bool{}, map[ids.Id]bool{}
	for _, tr := range triples {
		row := [3]ids.Id{resolve(tr.Subject), resolve(tr.Predicate), resolve(tr.Object)}
		if seen[row] {
			continue
		}
		seen[row] = true
		rows = append(rows, row)
		ds[row[0]], dp[row[1]], do[row[2]] = true, true, true
	}
	m.distinctS, m.distinctP, m.distinctO = int64(len(ds)), int64(len(dp)), int64(len(do))

	for p, perm := range index.All {
		permRows := make([][3]ids.Id, len(rows))
		for i, row := range rows {
			permRows[i] = permute(row, perm)
		}
		sort.Slice(permRows, func(i, j int) bool {
			return rowLess(permRows[i], permRows[j])
		})
		m.perms[p] = permRows
	}
	return m
}

func permute(spo [3]ids.Id, perm index.Permutation) [3]ids.Id {
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

func rowLess(a, b [3]ids.Id) bool {
	for i := 0; i < 3; i++ {
		switch ids.Compare(a[i], b[i]) {
		case ids.Less:
			return true
		case ids.Greater:
			return false
		}
	}
	return false
}

// bounds returns the half-open row range of perm whose leading columns
// equal the given bound prefix.
func (m *MemIndex) bounds(perm index.Permutation, col0, col1 ids.Id) (int, int) {
	rows := m.perms[perm]
	if col0.IsUndefined() {
		return 0, len(rows)
	}
	lo := sort.Search(len(rows), func(i int) bool {
		return ids.Compare(rows[i][0], col0) != ids.Less
	})
	hi := sort.Search(len(rows), func(i int) bool {
		return ids.Compare(rows[i][0], col0) == ids.Greater
	})
	if col1.IsUndefined() {
		return lo, hi
	}
	sub := rows[lo:hi]
	lo2 := sort.Search(len(sub), func(i int) bool {
		return ids.Compare(sub[i][1], col1) != ids.Less
	})
	hi2 := sort.Search(len(sub), func(i int) bool {
		return ids.Compare(sub[i][1], col1) == ids.Greater
	})
	return lo + lo2, lo + hi2
}

type memIterator struct {
	rows [][]ids.Id
	done bool
}

func (it *memIterator) Next(ctx context.Context) (index.Block, bool, error) {
	if it.done || len(it.rows) == 0 {
		return index.Block{}, false, nil
	}
	it.done = true
	return index.Block{Rows: it.rows}, true, nil
}

func (it *memIterator) Close() error { return nil }

// Scan implements index.Index. Graphs are ignored: the fixture holds
// default-graph triples only.
func (m *MemIndex) Scan(ctx context.Context, perm index.Permutation, col0, col1 ids.Id, graphs []ids.Id) (index.BlockIterator, error) {
	nb := 0
	if !col0.IsUndefined() {
		nb = 1
		if !col1.IsUndefined() {
			nb = 2
		}
	}
	lo, hi := m.bounds(perm, col0, col1)
	rows := make([][]ids.Id, 0, hi-lo)
	for _, row := range m.perms[perm][lo:hi] {
		out := make([]ids.Id, 3-nb)
		copy(out, row[nb:])
		rows = append(rows, out)
	}
	return &memIterator{rows: rows}, nil
}

type memMetadata struct {
	m    *MemIndex
	perm index.Permutation
}

func (md memMetadata) Col0IdExists(id ids.Id) bool {
	lo, hi := md.m.bounds(md.perm, id, ids.UndefinedId)
	return hi > lo
}

func (md memMetadata) Get(id ids.Id) index.Metadata {
	lo, hi := md.m.bounds(md.perm, id, ids.UndefinedId)
	rows := md.m.perms[md.perm][lo:hi]
	if id.IsUndefined() {
		rows = md.m.perms[md.perm]
	}
	d1, d2 := map[ids.Id]bool{}, map[ids.Id]bool{}
	functional := true
	pairCounts := map[[2]ids.Id]int{}
	for _, r := range rows {
		d1[r[1]] = true
		d2[r[2]] = true
		key := [2]ids.Id{r[0], r[1]}
		pairCounts[key]++
		if pairCounts[key] > 1 {
			functional = false
		}
	}
	n := int64(len(rows))
	md1, md2 := 1.0, 1.0
	if len(d1) > 0 {
		md1 = float64(n) / float64(len(d1))
	}
	if len(d2) > 0 {
		md2 = float64(n) / float64(len(d2))
	}
	return index.Metadata{
		NumRows:          n,
		IsFunctional:     functional,
		MultiplicityCol1: md1,
		MultiplicityCol2: md2,
	}
}

// Metadata implements index.Index.
func (m *MemIndex) Metadata(perm index.Permutation) index.PermutationMetadata {
	return memMetadata{m: m, perm: perm}
}

type memVocab struct{ m *MemIndex }

func (v memVocab) GetId(term string) (ids.Id, bool) {
	id, ok := v.m.byForm[term]
	return id, ok
}

func (v memVocab) LookupString(id ids.Id) (string, bool) {
	t, ok := v.m.term(id)
	if !ok {
		return "", false
	}
	return ops.LexicalForm(t), true
}

// Vocab implements index.Index.
func (m *MemIndex) Vocab() index.Vocab { return memVocab{m} }

func (m *MemIndex) term(id ids.Id) (rdf.Term, bool) {
	if t, ok := index.InlineTerm(id); ok {
		return t, true
	}
	if id.Tag() != ids.VocabIndex {
		return nil, false
	}
	i := id.Payload()
	if i >= uint64(len(m.terms)) {
		return nil, false
	}
	return m.terms[i], true
}

// ResolveTerm implements ops.TermResolver.
func (m *MemIndex) ResolveTerm(id ids.Id) (rdf.Term, bool) { return m.term(id) }

func (m *MemIndex) NumDistinctSubjects() int64   { return m.distinctS }
func (m *MemIndex) NumDistinctPredicates() int64 { return m.distinctP }
func (m *MemIndex) NumDistinctObjects() int64    { return m.distinctO }
