package graph

import (
	"fmt"
	"runtime"
	"strings"
)

// EdgeSource is a lazy sequence of undirected edges, shaped like bufio.Scanner.
// *edgelist.Reader satisfies it.
type EdgeSource interface {
	Next() bool
	Edge() (u, v uint64)
	Err() error
}

// BuildOptions configures store construction.
type BuildOptions struct {
	// KeepDuplicates stores every input line, so repeated pairs inflate
	// degree and edge counts. By default repeated undirected pairs are
	// dropped and each distinct pair is stored once per endpoint.
	KeepDuplicates bool

	// MemoryLimit caps the estimated bytes used by construction.
	// 0 means unlimited.
	MemoryLimit int64
}

// memoryCheckInterval is how many edges pass between memory-limit checks
// while streaming. Must be a power of two.
const memoryCheckInterval = 1 << 16

// builder holds the state of pass 1.
type builder struct {
	opts BuildOptions

	index  map[NodeID]uint32
	ids    []NodeID
	degree []uint64 // becomes the offsets array in pass 2

	pairs     []uint32 // internal index pairs in input order
	entries   uint64   // total adjacency entries to allocate
	loopLines int64
	edges     int64
}

// Build constructs a Store from an edge stream.
//
// Pass 1 streams src once, assigning dense indices in order of first
// appearance and counting degrees. Pass 2 allocates the CSR arrays sized by
// degree and fills them in input order, appending every edge to both
// endpoints (a self-loop is appended once). Unless KeepDuplicates is set a
// final pass removes repeated neighbors per row, keeping first occurrences.
//
// Errors from src are returned unchanged. Exceeding MemoryLimit, the
// MaxNodes capacity, or a failed array allocation yields ErrOutOfMemory.
func Build(src EdgeSource, opts BuildOptions) (store *Store, err error) {
	defer func() {
		if r := recover(); r != nil {
			if !isAllocPanic(r) {
				panic(r)
			}
			store = nil
			err = fmt.Errorf("%w: %v", ErrOutOfMemory, r)
		}
	}()

	b := &builder{
		opts:  opts,
		index: make(map[NodeID]uint32),
	}
	for src.Next() {
		u, v := src.Edge()
		if err := b.add(NodeID(u), NodeID(v)); err != nil {
			return nil, err
		}
	}
	if err := src.Err(); err != nil {
		return nil, err
	}
	return b.finish()
}

// FromEdges builds a Store from an in-memory edge slice.
func FromEdges(edges []Edge, opts BuildOptions) (*Store, error) {
	return Build(&sliceSource{edges: edges, pos: -1}, opts)
}

func (b *builder) intern(id NodeID) (uint32, error) {
	if idx, ok := b.index[id]; ok {
		return idx, nil
	}
	if uint64(len(b.ids)) >= MaxNodes {
		return 0, fmt.Errorf("%w: more than %d distinct nodes", ErrOutOfMemory, uint64(MaxNodes))
	}
	idx := uint32(len(b.ids))
	b.index[id] = idx
	b.ids = append(b.ids, id)
	b.degree = append(b.degree, 0)
	return idx, nil
}

func (b *builder) add(u, v NodeID) error {
	iu, err := b.intern(u)
	if err != nil {
		return err
	}
	iv, err := b.intern(v)
	if err != nil {
		return err
	}

	b.pairs = append(b.pairs, iu, iv)
	b.degree[iu]++
	if iu == iv {
		b.entries++
		b.loopLines++
	} else {
		b.degree[iv]++
		b.entries += 2
	}
	b.edges++

	if b.opts.MemoryLimit > 0 && b.edges&(memoryCheckInterval-1) == 0 {
		return b.checkMemory()
	}
	return nil
}

// checkMemory compares the projected peak (final arrays plus the pending
// pair list) against the configured limit.
func (b *builder) checkMemory() error {
	if b.opts.MemoryLimit <= 0 {
		return nil
	}
	peak := footprint(int64(len(b.ids)), int64(b.entries)) + int64(len(b.pairs))*4
	if peak > b.opts.MemoryLimit {
		return fmt.Errorf("%w: %d nodes and %d adjacency entries need ~%d bytes, limit is %d",
			ErrOutOfMemory, len(b.ids), b.entries, peak, b.opts.MemoryLimit)
	}
	return nil
}

// finish runs pass 2 and the optional dedup pass.
func (b *builder) finish() (*Store, error) {
	if err := b.checkMemory(); err != nil {
		return nil, err
	}

	n := len(b.ids)
	if n == 0 {
		s := Empty()
		s.meta.KeepDuplicates = b.opts.KeepDuplicates
		return s, nil
	}

	// Degrees become start offsets in place.
	offsets := append(b.degree, 0)
	b.degree = nil
	var sum uint64
	for i := range offsets {
		d := offsets[i]
		offsets[i] = sum
		sum += d
	}

	targets := make([]uint32, sum)

	// offsets[u] is used as the write cursor of row u; afterwards it holds
	// the end of row u, which is shifted back into place below.
	pairs := b.pairs
	b.pairs = nil
	for k := 0; k < len(pairs); k += 2 {
		u, v := pairs[k], pairs[k+1]
		targets[offsets[u]] = v
		offsets[u]++
		if u != v {
			targets[offsets[v]] = u
			offsets[v]++
		}
	}
	for i := n; i > 0; i-- {
		offsets[i] = offsets[i-1]
	}
	offsets[0] = 0

	s := &Store{
		ids:     b.ids,
		index:   b.index,
		offsets: offsets,
		targets: targets,
		meta:    Meta{KeepDuplicates: b.opts.KeepDuplicates},
	}

	if b.opts.KeepDuplicates {
		s.meta.SelfLoops = b.loopLines
	} else {
		var removed, loops int64
		s.targets, removed, loops = dedupe(offsets, targets)
		s.meta.SelfLoops = loops
		s.meta.DuplicatesDropped = (removed + (b.loopLines - loops)) / 2
	}

	s.numEdges = (int64(len(s.targets)) + s.meta.SelfLoops) / 2
	s.maxDegree = findMaxDegree(s.offsets)
	return s, nil
}

// dedupe removes repeated neighbors from every row, keeping the first
// occurrence, and recompacts offsets in place. It returns the compacted
// targets, the number of entries removed and the number of self-loops kept.
func dedupe(offsets []uint64, targets []uint32) ([]uint32, int64, int64) {
	n := len(offsets) - 1

	// stamp[v] == u+1 means v was already seen in row u.
	stamp := make([]uint32, n)

	var w uint64
	var loops int64
	start := offsets[0]
	for u := 0; u < n; u++ {
		end := offsets[u+1]
		mark := uint32(u) + 1
		rowStart := w
		for k := start; k < end; k++ {
			v := targets[k]
			if stamp[v] == mark {
				continue
			}
			stamp[v] = mark
			targets[w] = v
			w++
			if v == uint32(u) {
				loops++
			}
		}
		offsets[u] = rowStart
		start = end
	}
	offsets[n] = w

	removed := int64(len(targets)) - int64(w)
	kept := targets[:w]
	if removed > int64(len(targets))/8 {
		// release the tail when a meaningful share was dropped
		kept = append(make([]uint32, 0, w), kept...)
	}
	return kept, removed, loops
}

// FromCSR reassembles a Store from previously built arrays.
//
// The arrays are taken over by the store and must not be modified by the
// caller afterwards. Shape, index bounds, id uniqueness and symmetry are
// validated; any violation returns ErrInvalidCSR.
func FromCSR(ids []NodeID, offsets []uint64, targets []uint32, meta Meta) (*Store, error) {
	n := len(ids)
	if n == 0 {
		if len(targets) != 0 {
			return nil, fmt.Errorf("%w: %d targets without nodes", ErrInvalidCSR, len(targets))
		}
		s := Empty()
		s.meta = meta
		return s, nil
	}
	if uint64(n) > MaxNodes {
		return nil, fmt.Errorf("%w: %d nodes exceeds capacity", ErrOutOfMemory, n)
	}
	if len(offsets) != n+1 {
		return nil, fmt.Errorf("%w: %d offsets for %d nodes", ErrInvalidCSR, len(offsets), n)
	}
	if offsets[0] != 0 || offsets[n] != uint64(len(targets)) {
		return nil, fmt.Errorf("%w: offsets do not span targets", ErrInvalidCSR)
	}

	for u := 0; u < n; u++ {
		if offsets[u] > offsets[u+1] {
			return nil, fmt.Errorf("%w: offsets decrease at %d", ErrInvalidCSR, u)
		}
	}

	index := make(map[NodeID]uint32, n)
	for i, id := range ids {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %d", ErrInvalidCSR, id)
		}
		index[id] = uint32(i)
	}

	// forward and backward are order-independent sums of pair hashes;
	// for a symmetric structure each (u,v) entry has a matching (v,u).
	var loops int64
	var forward, backward uint64
	for u := 0; u < n; u++ {
		for _, v := range targets[offsets[u]:offsets[u+1]] {
			if int(v) >= n {
				return nil, fmt.Errorf("%w: target %d out of range", ErrInvalidCSR, v)
			}
			if int(v) == u {
				loops++
				continue
			}
			forward += mixPair(uint32(u), v)
			backward += mixPair(v, uint32(u))
		}
	}
	if forward != backward {
		return nil, fmt.Errorf("%w: adjacency is not symmetric", ErrInvalidCSR)
	}

	meta.SelfLoops = loops
	return &Store{
		ids:       ids,
		index:     index,
		offsets:   offsets,
		targets:   targets,
		numEdges:  (int64(len(targets)) + loops) / 2,
		maxDegree: findMaxDegree(offsets),
		meta:      meta,
	}, nil
}

// mixPair is splitmix64 over an ordered pair.
func mixPair(u, v uint32) uint64 {
	z := uint64(u)<<32 | uint64(v)
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// isAllocPanic reports whether a recovered value is a recoverable slice
// allocation failure (len/cap out of range).
func isAllocPanic(r any) bool {
	rerr, ok := r.(runtime.Error)
	if !ok {
		return false
	}
	msg := rerr.Error()
	return strings.Contains(msg, "makeslice") || strings.Contains(msg, "growslice")
}

type sliceSource struct {
	edges []Edge
	pos   int
}

func (s *sliceSource) Next() bool {
	s.pos++
	return s.pos < len(s.edges)
}

func (s *sliceSource) Edge() (uint64, uint64) {
	e := s.edges[s.pos]
	return uint64(e.U), uint64(e.V)
}

func (s *sliceSource) Err() error { return nil }
