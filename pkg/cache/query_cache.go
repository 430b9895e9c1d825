// Package cache provides traversal result caching for NeuroNet.
//
// Traversals over a hub node can visit a large share of the graph, and the
// same (start, depth) pair tends to be asked for repeatedly by the CLI and
// by batch callers. Results are immutable for a given store, so they can be
// cached until the store is replaced.
//
// Features:
// - LRU eviction for bounded memory
// - TTL expiration
// - Thread-safe operations
// - Cache hit/miss statistics
//
// Keys carry the generation of the store that produced the result. After a
// reload the engine bumps its generation, so stale entries can never be
// returned even before Clear runs.
//
// Usage:
//
//	c := cache.NewQueryCache(1000, 5*time.Minute)
//
//	key := cache.Key{Generation: gen, Kind: cache.KindBFS, Start: start, Depth: depth}
//	if ids, ok := c.GetNodes(key); ok {
//		return ids, nil // Cache hit
//	}
//
//	ids, err := traversal.BFS(store, start, depth)
//	c.PutNodes(key, ids)
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/neuronet/pkg/graph"
)

// Kind identifies which traversal produced a cached result.
type Kind uint8

const (
	KindBFS Kind = iota + 1
	KindLevels
	KindAtHop
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBFS:
		return "bfs"
	case KindLevels:
		return "levels"
	case KindAtHop:
		return "at_hop"
	default:
		return "unknown"
	}
}

// Key identifies a cached traversal result.
type Key struct {
	Generation uint64
	Kind       Kind
	Start      graph.NodeID
	Depth      int
}

// QueryCache is a thread-safe LRU cache for traversal results.
//
// The cache uses:
// - Hash map for O(1) lookups
// - Doubly-linked list for LRU ordering
// - TTL for automatic expiration
//
// Slices are copied on the way in and on the way out, so neither the
// producer nor any consumer can alias a cached result.
type QueryCache struct {
	mu sync.Mutex

	// Configuration
	maxSize int
	ttl     time.Duration
	enabled bool

	// LRU list and map
	list  *list.List
	items map[Key]*list.Element

	// Statistics
	hits   atomic.Uint64
	misses atomic.Uint64
}

// cacheEntry holds a cached item with metadata.
type cacheEntry struct {
	key       Key
	nodes     []graph.NodeID
	levels    [][]graph.NodeID
	expiresAt time.Time
}

// NewQueryCache creates a new result cache.
//
// Parameters:
//   - maxSize: Maximum number of cached results (LRU eviction when exceeded)
//   - ttl: Time-to-live for cached entries (0 = no expiration)
func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &QueryCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[Key]*list.Element, maxSize),
	}
}

// GetNodes retrieves a cached flat result (BFS, AtHop).
//
// Returns (copy, true) on cache hit, (nil, false) on miss.
func (c *QueryCache) GetNodes(key Key) ([]graph.NodeID, bool) {
	entry, ok := c.get(key)
	if !ok || entry.levels != nil {
		return nil, false
	}
	return cloneNodes(entry.nodes), true
}

// GetLevels retrieves a cached per-depth result.
func (c *QueryCache) GetLevels(key Key) ([][]graph.NodeID, bool) {
	entry, ok := c.get(key)
	if !ok || entry.levels == nil {
		return nil, false
	}
	out := make([][]graph.NodeID, len(entry.levels))
	for i, level := range entry.levels {
		out[i] = cloneNodes(level)
	}
	return out, true
}

// PutNodes caches a flat result.
func (c *QueryCache) PutNodes(key Key, nodes []graph.NodeID) {
	c.put(&cacheEntry{key: key, nodes: cloneNodes(nodes)})
}

// PutLevels caches a per-depth result.
func (c *QueryCache) PutLevels(key Key, levels [][]graph.NodeID) {
	copied := make([][]graph.NodeID, len(levels))
	for i, level := range levels {
		copied[i] = cloneNodes(level)
	}
	c.put(&cacheEntry{key: key, levels: copied})
}

// get looks up key and moves it to the front of the LRU list.
func (c *QueryCache) get(key Key) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		c.misses.Add(1)
		return nil, false
	}

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return nil, false
	}

	c.list.MoveToFront(elem)
	c.hits.Add(1)
	return entry, true
}

// put adds an entry, replacing any previous value for its key.
// If the cache is full, the least recently used entry is evicted.
func (c *QueryCache) put(entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}

	if elem, ok := c.items[entry.key]; ok {
		elem.Value = entry
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.items[entry.key] = c.list.PushFront(entry)
}

// Remove removes an entry from the cache.
func (c *QueryCache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[Key]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *QueryCache) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	size := c.Len()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// CacheStats holds cache performance statistics.
type CacheStats struct {
	Size    int     `json:"size"`     // Current number of entries
	MaxSize int     `json:"max_size"` // Maximum capacity
	Hits    uint64  `json:"hits"`     // Number of cache hits
	Misses  uint64  `json:"misses"`   // Number of cache misses
	HitRate float64 `json:"hit_rate"` // Hit rate percentage (0-100)
}

// SetEnabled enables or disables the cache. Disabling drops every entry.
func (c *QueryCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled

	if !enabled {
		c.list.Init()
		c.items = make(map[Key]*list.Element, c.maxSize)
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *QueryCache) evictOldest() {
	elem := c.list.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *QueryCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func cloneNodes(in []graph.NodeID) []graph.NodeID {
	if in == nil {
		return nil
	}
	out := make([]graph.NodeID, len(in))
	copy(out, in)
	return out
}
