// Package graph provides the immutable adjacency store behind NeuroNet.
//
// A Store is a compressed sparse row (CSR) view of an undirected graph:
//   - ids maps a dense internal index in [0, N) back to the external NodeID
//   - index maps an external NodeID to its internal index
//   - offsets[i]..offsets[i+1] delimits the neighbors of index i in targets
//
// External ids may be arbitrary 64-bit values; only the distinct ids that
// appear in the input occupy space. Internal indices are assigned in order of
// first appearance in the edge stream, so the mapping is reproducible for a
// given input file.
//
// Lifecycle:
//
//  1. Build (or FromCSR) allocates every array exactly once.
//  2. The returned *Store is never mutated again.
//  3. Any number of goroutines may read it concurrently.
//
// Example:
//
//	r, err := edgelist.Open("web-Google.txt")
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	store, err := graph.Build(r, graph.BuildOptions{})
//	if err != nil {
//		return err
//	}
//	fmt.Println(store.NumNodes(), store.NumEdges())
package graph

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrUnknownNode is returned when a query references a node id that is
	// not part of the loaded graph.
	ErrUnknownNode = errors.New("unknown node")

	// ErrEmptyGraph is returned by extremal queries on a graph with no nodes.
	ErrEmptyGraph = errors.New("graph is empty")

	// ErrInvalidArgument is returned for malformed query parameters such as a
	// negative traversal depth.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfMemory is returned when the adjacency arrays cannot be allocated
	// within the configured memory limit or the platform's capacity.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidCSR is returned by FromCSR when persisted arrays are not a
	// well-formed symmetric adjacency structure.
	ErrInvalidCSR = errors.New("invalid csr arrays")
)

// NodeID is the external identifier of a node as it appears in the input.
type NodeID uint64

// MaxNodes is the largest number of distinct nodes a Store can index.
// Internal indices are uint32 to halve the size of the targets array.
const MaxNodes = 1<<32 - 1

// Edge is an unordered pair of external node ids.
type Edge struct {
	U NodeID `json:"u"`
	V NodeID `json:"v"`
}

// String renders the edge as it would appear in an edge-list file.
func (e Edge) String() string {
	return fmt.Sprintf("%d %d", e.U, e.V)
}

// UnknownNodeError wraps ErrUnknownNode with the offending id.
func UnknownNodeError(id NodeID) error {
	return fmt.Errorf("%w: %d", ErrUnknownNode, id)
}

// Meta carries construction statistics that are not needed to answer
// queries but are useful to report and to persist alongside the arrays.
type Meta struct {
	// SelfLoops is the number of (u, u) edges kept in the store.
	SelfLoops int64 `json:"self_loops"`

	// DuplicatesDropped is the number of repeated undirected pairs removed
	// by the deduplication pass. Always 0 when KeepDuplicates is set.
	DuplicatesDropped int64 `json:"duplicates_dropped"`

	// KeepDuplicates records the duplicate policy the store was built with.
	KeepDuplicates bool `json:"keep_duplicates"`
}

// Store is the immutable CSR adjacency structure.
//
// Thread Safety:
//
//	Safe for concurrent reads. There are no mutating methods.
type Store struct {
	ids     []NodeID
	index   map[NodeID]uint32
	offsets []uint64
	targets []uint32

	numEdges  int64
	maxDegree int64 // index of the max-degree node, -1 when empty
	meta      Meta
}

// Empty returns a store with no nodes and no edges.
func Empty() *Store {
	return &Store{
		index:     map[NodeID]uint32{},
		offsets:   []uint64{0},
		maxDegree: -1,
	}
}

// NumNodes returns the number of distinct nodes. O(1).
func (s *Store) NumNodes() int { return len(s.ids) }

// NumEdges returns the number of undirected edges, each counted once. O(1).
func (s *Store) NumEdges() int64 { return s.numEdges }

// IndexOf returns the internal index of id.
func (s *Store) IndexOf(id NodeID) (uint32, bool) {
	idx, ok := s.index[id]
	return idx, ok
}

// IDOf returns the external id for an internal index.
// idx must be in [0, NumNodes()).
func (s *Store) IDOf(idx uint32) NodeID { return s.ids[idx] }

// DegreeAt returns the neighbor count of an internal index. O(1).
func (s *Store) DegreeAt(idx uint32) int {
	return int(s.offsets[idx+1] - s.offsets[idx])
}

// Adjacent returns the neighbor indices of idx in stored order.
//
// The returned slice aliases the store's internal array and MUST NOT be
// modified. Use traversal.Neighbors for a caller-owned copy of external ids.
func (s *Store) Adjacent(idx uint32) []uint32 {
	return s.targets[s.offsets[idx]:s.offsets[idx+1]:s.offsets[idx+1]]
}

// MaxDegreeIndex returns the index of the node with the greatest degree,
// ties broken by the smallest index. ok is false for an empty store.
func (s *Store) MaxDegreeIndex() (idx uint32, ok bool) {
	if s.maxDegree < 0 {
		return 0, false
	}
	return uint32(s.maxDegree), true
}

// Meta returns construction statistics.
func (s *Store) Meta() Meta { return s.meta }

// IDs returns the index → id table. The slice MUST NOT be modified.
func (s *Store) IDs() []NodeID { return s.ids }

// Offsets returns the CSR row offsets (length NumNodes()+1).
// The slice MUST NOT be modified.
func (s *Store) Offsets() []uint64 { return s.offsets }

// Targets returns the CSR neighbor array. The slice MUST NOT be modified.
func (s *Store) Targets() []uint32 { return s.targets }

// MemoryFootprint estimates the bytes held by the store's arrays and map.
func (s *Store) MemoryFootprint() int64 {
	return footprint(int64(len(s.ids)), int64(len(s.targets)))
}

// CheckBudget reports ErrOutOfMemory when a store of the given shape would
// not fit in limit bytes. A limit of zero or less means unlimited.
func CheckBudget(nodes, entries, limit int64) error {
	if limit <= 0 {
		return nil
	}
	if need := footprint(nodes, entries); need > limit {
		return fmt.Errorf("%w: %d nodes and %d adjacency entries need ~%d bytes, limit is %d",
			ErrOutOfMemory, nodes, entries, need, limit)
	}
	return nil
}

// footprint is the deterministic size model shared by the builder's
// memory-limit checks and MemoryFootprint.
func footprint(nodes, entries int64) int64 {
	const mapEntryBytes = 24 // key + value + amortized bucket overhead
	return nodes*8 + // ids
		nodes*mapEntryBytes + // index
		(nodes+1)*8 + // offsets
		entries*4 // targets
}

// findMaxDegree scans the offsets once; ties keep the earliest index.
func findMaxDegree(offsets []uint64) int64 {
	best := int64(-1)
	var bestDeg uint64
	for i := 0; i+1 < len(offsets); i++ {
		deg := offsets[i+1] - offsets[i]
		if best < 0 || deg > bestDeg {
			best = int64(i)
			bestDeg = deg
		}
	}
	return best
}
