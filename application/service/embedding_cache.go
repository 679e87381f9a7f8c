package service

import (
	"sync"
	"sync/atomic"
)

// EmbeddingCache maps a value to its embedding across the batches of an
// ingestion. Entries are never evicted. It is safe for concurrent use.
//
// A cache must only serve one dataset kind: values are looked up in the
// table they were written to.
type EmbeddingCache struct {
	mu      sync.RWMutex
	entries map[string][]float32
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewEmbeddingCache creates an empty cache.
func NewEmbeddingCache() *EmbeddingCache {
	return &EmbeddingCache{entries: make(map[string][]float32)}
}

// Get returns the cached embedding for value.
func (c *EmbeddingCache) Get(value string) ([]float32, bool) {
	c.mu.RLock()
	vec, ok := c.entries[value]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return vec, ok
}

// Put stores the embedding for value, replacing any previous entry.
func (c *EmbeddingCache) Put(value string, embedding []float32) {
	c.mu.Lock()
	c.entries[value] = embedding
	c.mu.Unlock()
}

// Resolve splits values into those already cached and the distinct values
// that are not, in first-seen order. Each distinct value counts once as a
// hit or a miss.
func (c *EmbeddingCache) Resolve(values []string) (found map[string][]float32, missing []string) {
	found = make(map[string][]float32, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		if vec, ok := c.Get(v); ok {
			found[v] = vec
			continue
		}
		missing = append(missing, v)
	}
	return found, missing
}

// Len returns the number of cached values.
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Hits returns the number of successful lookups.
func (c *EmbeddingCache) Hits() int64 { return c.hits.Load() }

// Misses returns the number of failed lookups.
func (c *EmbeddingCache) Misses() int64 { return c.misses.Load() }
