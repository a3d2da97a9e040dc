package cache

import (
	"fmt"
	"testing"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
)

func entryOfRows(t *testing.T, rows int) *Entry {
	t.Helper()
	tbl := idtable.New(1, nil)
	for i := 0; i < rows; i++ {
		if err := tbl.AppendRow([]ids.Id{ids.FromInt(int64(i))}); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	return &Entry{Table: tbl, Vocab: ids.NewLocalVocab()}
}

func TestGetPut(t *testing.T) {
	c, err := New(Config{MaxEntries: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if !c.Put("k", entryOfRows(t, 3), false) {
		t.Fatal("Put rejected a small entry")
	}
	e, ok := c.Get("k")
	if !ok || e.Table.NumRows() != 3 {
		t.Fatal("expected the stored entry back")
	}
}

func TestLRUEviction(t *testing.T) {
	c, err := New(Config{MaxEntries: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("a", entryOfRows(t, 1), false)
	c.Put("b", entryOfRows(t, 1), false)
	c.Put("c", entryOfRows(t, 1), false)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected the oldest entry to be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestPinnedNeverEvicted(t *testing.T) {
	c, err := New(Config{MaxEntries: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("pinned", entryOfRows(t, 1), true)
	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("k%d", i), entryOfRows(t, 1), false)
	}
	if _, ok := c.Get("pinned"); !ok {
		t.Fatal("pinned entry must survive any number of unpinned inserts")
	}
}

func TestSingleEntryCap(t *testing.T) {
	c, err := New(Config{MaxEntries: 4, MaxBytesPerEntry: 16})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Put("big", entryOfRows(t, 100), false) {
		t.Fatal("an oversized entry must be rejected")
	}
	if _, ok := c.Get("big"); ok {
		t.Fatal("rejected entry must not be stored")
	}
	// Rejection is silent: the caller proceeds normally.
	if !c.Put("small", entryOfRows(t, 1), false) {
		t.Fatal("a small entry must still be accepted")
	}
}

func TestByteAccounting(t *testing.T) {
	c, err := New(Config{MaxEntries: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("a", entryOfRows(t, 4), false) // 32 bytes
	if got := c.Bytes(); got != 32 {
		t.Fatalf("expected 32 accounted bytes, got %d", got)
	}
	// Overwriting the same key must not double-count.
	c.Put("a", entryOfRows(t, 2), false) // 16 bytes
	if got := c.Bytes(); got != 16 {
		t.Fatalf("expected 16 accounted bytes after overwrite, got %d", got)
	}
	c.Remove("a")
	if got := c.Bytes(); got != 0 {
		t.Fatalf("expected 0 accounted bytes after removal, got %d", got)
	}
}

func TestByteCapSheds(t *testing.T) {
	c, err := New(Config{MaxEntries: 100, MaxBytes: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("k%d", i), entryOfRows(t, 4), false) // 32 bytes each
	}
	if c.Bytes() > 64 {
		t.Fatalf("byte cap exceeded: %d", c.Bytes())
	}
}

func TestPinPromotion(t *testing.T) {
	c, err := New(Config{MaxEntries: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("a", entryOfRows(t, 1), false)
	if !c.Pin("a") {
		t.Fatal("expected Pin to promote an existing entry")
	}
	c.Put("b", entryOfRows(t, 1), false)
	c.Put("c", entryOfRows(t, 1), false)
	c.Put("d", entryOfRows(t, 1), false)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("promoted entry must not be evicted")
	}
}
