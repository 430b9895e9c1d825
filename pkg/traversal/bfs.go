package traversal

import (
	"fmt"

	"github.com/orneryd/neuronet/pkg/graph"
	"github.com/orneryd/neuronet/pkg/pool"
)

// BFS returns every node within maxDepth hops of start, in discovery order.
//
// start is always first, followed by its neighbors in stored order, then
// the nodes at distance 2, and so on. Each node appears once. A node is
// marked when it is enqueued, so it can never be queued twice.
//
// maxDepth == 0 yields [start]. A negative maxDepth returns
// ErrInvalidArgument; an absent start returns ErrUnknownNode.
func BFS(s *graph.Store, start graph.NodeID, maxDepth int) ([]graph.NodeID, error) {
	src, err := resolve(s, start, maxDepth)
	if err != nil {
		return nil, err
	}

	var out []graph.NodeID
	walk(s, src, maxDepth, func(depth int, level []uint32) {
		if out == nil {
			out = make([]graph.NodeID, 0, len(level))
		}
		for _, idx := range level {
			out = append(out, s.IDOf(idx))
		}
	})
	return out, nil
}

// Levels is BFS split by distance: Levels(...)[d] holds the nodes exactly
// d hops from start, in discovery order. Trailing empty levels are omitted.
func Levels(s *graph.Store, start graph.NodeID, maxDepth int) ([][]graph.NodeID, error) {
	src, err := resolve(s, start, maxDepth)
	if err != nil {
		return nil, err
	}

	var out [][]graph.NodeID
	walk(s, src, maxDepth, func(depth int, level []uint32) {
		ids := make([]graph.NodeID, len(level))
		for i, idx := range level {
			ids[i] = s.IDOf(idx)
		}
		out = append(out, ids)
	})
	return out, nil
}

// AtHop returns the nodes whose shortest distance from start is exactly
// hops, in discovery order. The result is empty (not nil) when the search
// runs out of nodes before reaching that distance.
func AtHop(s *graph.Store, start graph.NodeID, hops int) ([]graph.NodeID, error) {
	src, err := resolve(s, start, hops)
	if err != nil {
		return nil, err
	}

	out := []graph.NodeID{}
	walk(s, src, hops, func(depth int, level []uint32) {
		if depth != hops {
			return
		}
		for _, idx := range level {
			out = append(out, s.IDOf(idx))
		}
	})
	return out, nil
}

// InducedEdges returns the edges of s whose endpoints are both in nodes.
//
// Each undirected edge is reported once, oriented from the endpoint that
// comes first in nodes; self-loops are reported once. Edges are ordered by
// the position of that endpoint in nodes and then by stored neighbor order.
// Repeated ids in nodes are ignored.
func InducedEdges(s *graph.Store, nodes []graph.NodeID) ([]graph.Edge, error) {
	order := pool.GetIndexSlice()
	member := pool.GetBitset(s.NumNodes())
	defer func() {
		for _, idx := range order {
			member.Clear(idx)
		}
		pool.PutBitset(member)
		pool.PutIndexSlice(order)
	}()

	for _, id := range nodes {
		idx, ok := s.IndexOf(id)
		if !ok {
			return nil, graph.UnknownNodeError(id)
		}
		if member.Set(idx) {
			order = append(order, idx)
		}
	}

	// position[idx] is where idx sits in order; an edge u-v is emitted while
	// scanning u iff v is not earlier than u.
	position := make(map[uint32]int, len(order))
	for i, idx := range order {
		position[idx] = i
	}

	var seen map[[2]uint32]struct{}
	if s.Meta().KeepDuplicates {
		seen = make(map[[2]uint32]struct{})
	}

	out := []graph.Edge{}
	for i, u := range order {
		for _, v := range s.Adjacent(u) {
			if !member.Test(v) || position[v] < i {
				continue
			}
			if seen != nil {
				key := [2]uint32{u, v}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			out = append(out, graph.Edge{U: s.IDOf(u), V: s.IDOf(v)})
		}
	}
	return out, nil
}

func resolve(s *graph.Store, start graph.NodeID, depth int) (uint32, error) {
	if depth < 0 {
		return 0, fmt.Errorf("%w: depth must be >= 0, got %d", graph.ErrInvalidArgument, depth)
	}
	src, ok := s.IndexOf(start)
	if !ok {
		return 0, graph.UnknownNodeError(start)
	}
	return src, nil
}

// walk runs a level-synchronous BFS from src and calls emit once per depth
// with that depth's frontier. The frontier slice aliases pooled scratch
// space and is only valid for the duration of the call.
//
// Node states: UNVISITED (bit clear), QUEUED (bit set, position >= head),
// VISITED (position < head). The queue doubles as the record of every bit
// that was set, so clearing it afterwards costs O(V') rather than O(V).
func walk(s *graph.Store, src uint32, maxDepth int, emit func(depth int, level []uint32)) {
	visited := pool.GetBitset(s.NumNodes())
	queue := pool.GetIndexSlice()
	defer func() {
		for _, idx := range queue {
			visited.Clear(idx)
		}
		pool.PutBitset(visited)
		pool.PutIndexSlice(queue)
	}()

	visited.Set(src)
	queue = append(queue, src)

	head := 0
	for depth := 0; ; depth++ {
		end := len(queue)
		emit(depth, queue[head:end])
		if depth == maxDepth {
			return
		}
		for ; head < end; head++ {
			for _, v := range s.Adjacent(queue[head]) {
				if visited.Set(v) {
					queue = append(queue, v)
				}
			}
		}
		if len(queue) == end {
			return
		}
	}
}
