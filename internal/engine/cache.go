package engine

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
)

type resultEntry struct {
	result   *Result
	storedAt time.Time
}

type rowsEntry struct {
	rows     []region.Row
	storedAt time.Time
}

// ResultCache keeps the output of done requests, keyed by request key, and
// the materialized rows of Cache nodes, keyed by node key.
//
// Entries are immutable once written. Both tables are LRU-bounded and are
// also dropped by the eviction sweep once older than the request age
// threshold.
//
// Thread-safety: the underlying LRU caches are safe for concurrent use.
type ResultCache struct {
	clock   WallClock
	metrics *Metrics
	results *lru.Cache[string, resultEntry]
	rows    *lru.Cache[string, rowsEntry]
}

// NewResultCache creates a cache holding up to size entries per table.
func NewResultCache(size int, clock WallClock, metrics *Metrics) (*ResultCache, error) {
	results, err := lru.New[string, resultEntry](size)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}
	rows, err := lru.New[string, rowsEntry](size)
	if err != nil {
		return nil, fmt.Errorf("row cache: %w", err)
	}
	return &ResultCache{clock: clock, metrics: metrics, results: results, rows: rows}, nil
}

// Result returns the cached output of the request with the given key.
func (c *ResultCache) Result(key string) (*Result, bool) {
	e, ok := c.results.Get(key)
	c.metrics.cacheLookup("result", ok)
	if !ok {
		return nil, false
	}
	return e.result, true
}

// PutResult stores the output of a done request. An existing entry is
// kept: the first result for a key wins.
func (c *ResultCache) PutResult(key string, r *Result) {
	c.results.ContainsOrAdd(key, resultEntry{result: r, storedAt: c.clock.Now()})
}

// CachedRows implements eval.RowCache.
func (c *ResultCache) CachedRows(nodeKey string) ([]region.Row, bool) {
	e, ok := c.rows.Get(nodeKey)
	c.metrics.cacheLookup("rows", ok)
	if !ok {
		return nil, false
	}
	return e.rows, true
}

// StoreRows implements eval.RowCache.
func (c *ResultCache) StoreRows(nodeKey string, rows []region.Row) {
	c.rows.ContainsOrAdd(nodeKey, rowsEntry{rows: rows, storedAt: c.clock.Now()})
}

// Sweep removes entries stored before cutoff and returns how many were
// removed.
func (c *ResultCache) Sweep(cutoff time.Time) int {
	removed := 0
	for _, k := range c.results.Keys() {
		if e, ok := c.results.Peek(k); ok && e.storedAt.Before(cutoff) {
			c.results.Remove(k)
			removed++
		}
	}
	for _, k := range c.rows.Keys() {
		if e, ok := c.rows.Peek(k); ok && e.storedAt.Before(cutoff) {
			c.rows.Remove(k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached results and cached row sets.
func (c *ResultCache) Len() (results, rows int) {
	return c.results.Len(), c.rows.Len()
}
