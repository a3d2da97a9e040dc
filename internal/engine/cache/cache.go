// Package cache implements the shared query result cache: an LRU of
// materialized results keyed by operator cache keys, with pinned entries
// that are never evicted and byte-size caps for the whole cache and for a
// single entry. One mutex guards the LRU list and the
// pinned map together, per the shared-resource policy.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
)

// Entry is one cached materialized result. Lazy results are never cached
// directly; the caching adapter in the executor mirrors their blocks into
// a materialized aggregate first.
type Entry struct {
	Table    *idtable.IdTable
	Vocab    *ids.LocalVocab
	SortedOn []int
	bytes int64
}

// sizeOf approximates an entry's footprint: its id cells.
func sizeOf(t *idtable.IdTable) int64 {
	return int64(t.NumRows()) * int64(t.NumColumns()) * 8
}

// Config caps the cache, mirroring the runtime parameters
// cache-max-num-entries, cache-max-size, and cache-max-size-single-entry.
type Config struct {
	MaxEntries int
	MaxBytes int64
	MaxBytesPerEntry int64
}

// Cache is the shared pinned/unpinned result cache. Safe for concurrent
// use by multiple queries.
type Cache struct {
	mu sync.Mutex
	unpinned *lru.Cache[string, *Entry]
	pinned map[string]*Entry
	bytes int64
	cfg      Config
}

// New creates a cache with the given caps.
func New(cfg Config) (*Cache, error) {
	c := &Cache{pinned: make(map[string]*Entry), cfg: cfg}
	var err error
	c.unpinned, err = lru.NewWithEvict(cfg.MaxEntries, func(key string, e *Entry) {
		// Called with c.mu held: every mutation of c.unpinned happens
		// inside a locked section.
		c.bytes -= e.bytes
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the cached entry for key, consulting pinned entries first.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.pinned[key]; ok {
		return e, true
	}
	return c.unpinned.Get(key)
}

// Put inserts an entry unless it exceeds the single-entry cap. Oversized
// entries are rejected silently: a failed cache insert never fails the
// query itself. Returns whether the entry was stored.
func (c *Cache) Put(key string, e *Entry, pin bool) bool {
	e.bytes = sizeOf(e.Table)
	if c.cfg.MaxBytesPerEntry > 0 && e.bytes > c.cfg.MaxBytesPerEntry {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pinned[key]; exists {
		return true
	}
	if pin {
		c.unpinned.Remove(key)
		c.pinned[key] = e
		c.bytes += e.bytes
		return true
	}
	// Remove goes through the eviction callback, which keeps the byte
	// accounting; no manual adjustment here.
	c.unpinned.Remove(key)
	c.unpinned.Add(key, e)
	c.bytes += e.bytes
	c.shedLocked()
	return true
}

// shedLocked evicts LRU unpinned entries until the byte cap is met.
// Pinned entries never count as evictable.
func (c *Cache) shedLocked() {
	for c.cfg.MaxBytes > 0 && c.bytes > c.cfg.MaxBytes && c.unpinned.Len() > 0 {
		c.unpinned.RemoveOldest()
	}
}

// Remove drops an entry (used when a query producing it is cancelled
// mid-computation).
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.pinned[key]; ok {
		c.bytes -= e.bytes
		delete(c.pinned, key)
		return
	}
	c.unpinned.Remove(key)
}

// Pin promotes an existing unpinned entry to pinned.
func (c *Cache) Pin(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pinned[key]; ok {
		return true
	}
	e, ok := c.unpinned.Peek(key)
	if !ok {
		return false
	}
	// Removing from the LRU triggers the eviction callback, which already
	// subtracts the bytes; add them back for the pinned side.
	c.unpinned.Remove(key)
	c.pinned[key] = e
	c.bytes += e.bytes
	return true
}

// Len reports the number of entries (pinned + unpinned), for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pinned) + c.unpinned.Len()
}

// Bytes reports the current accounted size, for tests.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}
