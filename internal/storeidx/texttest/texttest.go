// Package texttest provides a trivial substring-matching TextIndex
// sufficient to exercise the text operators and the planner's text-limit
// placement in tests. A real inverted-index-backed implementation is out
// of scope for the query core.
package texttest

import (
	"context"
	"strings"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
)

// Occurrence links an entity to a text record with a relevance score.
type Occurrence struct {
	Record ids.Id
	Entity ids.Id
	Score float64
}

// Index is the fixture: record id -> text, plus entity occurrences.
type Index struct {
	records map[ids.Id]string
	occurrences []Occurrence
	words map[string]ids.Id // word -> word id, assigned on first use
}

func New(records map[ids.Id]string, occurrences []Occurrence) *Index {
	return &Index{records: records, occurrences: occurrences, words: map[string]ids.Id{}}
}

func (ix *Index) wordId(w string) ids.Id {
	if id, ok := ix.words[w]; ok {
		return id
	}
	id := ids.FromTextRecordIndex(uint64(len(ix.words)) | 1<<32)
	ix.words[w] = id
	return id
}

// WordScan matches word against each record's text by word containment; a
// trailing '*' makes it a prefix match per word.
func (ix *Index) WordScan(ctx context.Context, word string) ([]index.WordHit, error) {
	prefix := strings.HasSuffix(word, "*")
	needle := strings.ToLower(strings.TrimSuffix(word, "*"))
	var hits []index.WordHit
	for rec, text := range ix.records {
		for _, w := range strings.Fields(strings.ToLower(text)) {
			match := w == needle
			if prefix {
				match = strings.HasPrefix(w, needle)
			}
			if match {
				hits = append(hits, index.WordHit{TextRecord: rec, Word: ix.wordId(w)})
				break
			}
		}
	}
	return hits, nil
}

// EntityScan returns occurrences for one entity, or all occurrences when
// entity is ids.UndefinedId.
func (ix *Index) EntityScan(ctx context.Context, entity ids.Id) ([]index.EntityHit, error) {
	var hits []index.EntityHit
	for _, occ := range ix.occurrences {
		if !entity.IsUndefined() && occ.Entity != entity {
			continue
		}
		hits = append(hits, index.EntityHit{TextRecord: occ.Record, Entity: occ.Entity, Score: occ.Score})
	}
	return hits, nil
}
