// Package traversal answers read-only queries against a graph.Store.
//
// Every function takes the store explicitly and never mutates it, so any
// number of goroutines may call into this package concurrently for the same
// store. Node ids in and out are external ids; internal indices never leak.
//
// Query costs:
//   - NumNodes, NumEdges, Degree, MaxDegreeNode: O(1)
//   - Neighbors: O(degree)
//   - BFS, Levels, AtHop: O(V' + E') over the visited subgraph
//   - InducedEdges: O(sum of degrees of the given nodes)
package traversal

import (
	"github.com/orneryd/neuronet/pkg/graph"
)

// NumNodes returns the number of distinct nodes in s.
func NumNodes(s *graph.Store) int {
	return s.NumNodes()
}

// NumEdges returns the number of undirected edges in s, each counted once.
func NumEdges(s *graph.Store) int64 {
	return s.NumEdges()
}

// Degree returns the number of neighbor entries stored for id.
// A self-loop contributes 1.
func Degree(s *graph.Store, id graph.NodeID) (int, error) {
	idx, ok := s.IndexOf(id)
	if !ok {
		return 0, graph.UnknownNodeError(id)
	}
	return s.DegreeAt(idx), nil
}

// Neighbors returns the neighbors of id in stored order.
//
// Order is stable across calls and follows the order edges appeared in the
// input. The slice is freshly allocated; callers may modify it.
func Neighbors(s *graph.Store, id graph.NodeID) ([]graph.NodeID, error) {
	idx, ok := s.IndexOf(id)
	if !ok {
		return nil, graph.UnknownNodeError(id)
	}
	adj := s.Adjacent(idx)
	out := make([]graph.NodeID, len(adj))
	for i, v := range adj {
		out[i] = s.IDOf(v)
	}
	return out, nil
}

// MaxDegreeNode returns the node with the greatest degree. Ties go to the
// node that appeared first in the input.
func MaxDegreeNode(s *graph.Store) (graph.NodeID, error) {
	idx, ok := s.MaxDegreeIndex()
	if !ok {
		return 0, graph.ErrEmptyGraph
	}
	return s.IDOf(idx), nil
}
