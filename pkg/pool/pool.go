// Package pool provides object pooling for traversal scratch space.
//
// A breadth-first search needs a visited marker per node and a FIFO of
// node indices. Allocating both per call costs O(V) even when the search
// only touches a handful of nodes, so they are drawn from sync.Pool and
// handed back once the search is done.
//
// Pooled objects:
// - Visited bitsets (must be returned clean)
// - Index slices (BFS queues, frontier buffers)
// - Byte buffers (snapshot encoding)
//
// Usage:
//
//	visited := pool.GetBitset(store.NumNodes())
//	queue := pool.GetIndexSlice()
//	defer pool.PutIndexSlice(queue)
//
//	// ... search, then clear exactly the bits that were set
//	for _, idx := range queue {
//		visited.Clear(idx)
//	}
//	pool.PutBitset(visited)
package pool

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the capacity (in elements, or bits for bitsets) of
	// objects kept in each pool. Larger objects are left to the GC.
	MaxSize int
}

// DefaultMaxSize keeps bitsets for graphs of up to 16M nodes.
const DefaultMaxSize = 1 << 24

var globalConfig atomic.Pointer[PoolConfig]

func init() {
	globalConfig.Store(&PoolConfig{
		Enabled: true,
		MaxSize: DefaultMaxSize,
	})
}

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	globalConfig.Store(&config)
}

// Config returns the active configuration.
func Config() PoolConfig {
	return *globalConfig.Load()
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return globalConfig.Load().Enabled
}

// =============================================================================
// Bitset Pool (BFS visited markers)
// =============================================================================

// Bitset is a fixed-capacity set of uint32 indices.
type Bitset struct {
	words []uint64
}

// NewBitset returns a clean bitset able to hold indices in [0, n).
func NewBitset(n int) *Bitset {
	return &Bitset{words: make([]uint64, wordsFor(n))}
}

func wordsFor(n int) int {
	return (n + 63) >> 6
}

// Cap returns the number of indices the bitset can hold.
func (b *Bitset) Cap() int { return len(b.words) << 6 }

// Set marks i and reports whether it was previously clear.
func (b *Bitset) Set(i uint32) bool {
	w, m := i>>6, uint64(1)<<(i&63)
	if b.words[w]&m != 0 {
		return false
	}
	b.words[w] |= m
	return true
}

// Test reports whether i is marked.
func (b *Bitset) Test(i uint32) bool {
	return b.words[i>>6]&(uint64(1)<<(i&63)) != 0
}

// Clear unmarks i.
func (b *Bitset) Clear(i uint32) {
	b.words[i>>6] &^= uint64(1) << (i & 63)
}

// Count returns the number of marked indices. O(capacity).
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Reset clears every bit. O(capacity); prefer clearing set bits individually.
func (b *Bitset) Reset() {
	clear(b.words)
}

var bitsetPool = sync.Pool{
	New: func() any {
		return &Bitset{}
	},
}

// GetBitset returns a clean bitset with room for at least n indices.
// Call PutBitset when done.
func GetBitset(n int) *Bitset {
	if !IsEnabled() {
		return NewBitset(n)
	}
	b := bitsetPool.Get().(*Bitset)
	if need := wordsFor(n); len(b.words) < need {
		b.words = make([]uint64, need)
	}
	return b
}

// PutBitset returns a bitset to the pool.
//
// The bitset MUST be clean: every bit set since GetBitset has to be cleared
// by the caller. Clearing only the touched bits keeps reuse proportional to
// the work actually done.
func PutBitset(b *Bitset) {
	cfg := globalConfig.Load()
	if !cfg.Enabled || b == nil {
		return
	}
	if b.Cap() > cfg.MaxSize {
		return
	}
	bitsetPool.Put(b)
}

// =============================================================================
// Index Slice Pool (BFS queues)
// =============================================================================

var indexSlicePool = sync.Pool{
	New: func() any {
		s := make([]uint32, 0, 256)
		return &s
	},
}

// GetIndexSlice returns an index slice from the pool.
// The returned slice has length 0 but may have capacity.
// Call PutIndexSlice when done.
func GetIndexSlice() []uint32 {
	if !IsEnabled() {
		return make([]uint32, 0, 256)
	}
	return (*indexSlicePool.Get().(*[]uint32))[:0]
}

// PutIndexSlice returns an index slice to the pool.
func PutIndexSlice(s []uint32) {
	cfg := globalConfig.Load()
	if !cfg.Enabled || s == nil {
		return
	}
	// Don't pool very large slices (memory leak prevention)
	if cap(s) > cfg.MaxSize {
		return
	}
	s = s[:0]
	indexSlicePool.Put(&s)
}

// =============================================================================
// Byte Buffer Pool
// =============================================================================

var byteBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 1024)
		return &b
	},
}

// GetByteBuffer returns a byte buffer from the pool.
func GetByteBuffer() []byte {
	if !IsEnabled() {
		return make([]byte, 0, 1024)
	}
	return (*byteBufferPool.Get().(*[]byte))[:0]
}

// PutByteBuffer returns a byte buffer to the pool.
func PutByteBuffer(buf []byte) {
	if !IsEnabled() || buf == nil {
		return
	}
	if cap(buf) > 16*1024*1024 { // Don't pool huge buffers (>16MB)
		return
	}
	buf = buf[:0]
	byteBufferPool.Put(&buf)
}
