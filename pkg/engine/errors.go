package engine

import (
	"errors"

	"github.com/orneryd/neuronet/pkg/edgelist"
	"github.com/orneryd/neuronet/pkg/graph"
)

// Errors returned by Engine operations. Match them with errors.Is; the
// engine wraps them with the path or node involved.
var (
	// ErrIO reports a dataset path that is missing or unreadable.
	ErrIO = edgelist.ErrIO
	// ErrDatasetFormat reports a dataset that produced no usable edges
	// although it had malformed lines.
	ErrDatasetFormat = edgelist.ErrDatasetFormat
	// ErrUnknownNode reports a query on a node id absent from the graph.
	ErrUnknownNode = graph.ErrUnknownNode
	// ErrEmptyGraph reports an extremal query on a graph with no nodes.
	ErrEmptyGraph = graph.ErrEmptyGraph
	// ErrInvalidArgument reports a negative depth, an empty path or an
	// empty batch.
	ErrInvalidArgument = graph.ErrInvalidArgument
	// ErrOutOfMemory reports that building the adjacency arrays exceeded
	// the memory budget or the node capacity.
	ErrOutOfMemory = graph.ErrOutOfMemory

	ErrLoadInProgress = errors.New("another load is in progress")
	ErrClosed         = errors.New("engine is closed")
)
