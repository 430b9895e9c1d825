package main

import (
	"context"
	"errors"
	"io/fs"

	"github.com/orneryd/neuronet/pkg/engine"
)

// Exit codes by failure kind.
const (
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
	exitData     = 4
	exitMemory   = 5
)

// describe turns an error into a message that says what the user can do
// about it. The wrapped detail is kept after the summary.
func describe(err error) string {
	var summary string
	switch {
	case errors.Is(err, fs.ErrNotExist):
		summary = "file not found"
	case errors.Is(err, fs.ErrPermission):
		summary = "permission denied reading the dataset"
	case errors.Is(err, engine.ErrIO):
		summary = "could not read the dataset"
	case errors.Is(err, engine.ErrDatasetFormat):
		summary = `no usable edges: expected lines of two non-negative integers "u v"`
	case errors.Is(err, engine.ErrUnknownNode):
		summary = "node does not exist in the loaded graph"
	case errors.Is(err, engine.ErrEmptyGraph):
		summary = "the graph has no nodes"
	case errors.Is(err, engine.ErrInvalidArgument):
		summary = "invalid argument"
	case errors.Is(err, engine.ErrOutOfMemory):
		summary = "not enough memory for this dataset (raise engine.memory_limit or NEURONET_MEMORY_LIMIT)"
	case errors.Is(err, context.Canceled):
		summary = "interrupted"
	default:
		return err.Error()
	}
	return summary + ": " + err.Error()
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return exitUsage
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, engine.ErrUnknownNode):
		return exitNotFound
	case errors.Is(err, engine.ErrDatasetFormat), errors.Is(err, engine.ErrEmptyGraph):
		return exitData
	case errors.Is(err, engine.ErrOutOfMemory):
		return exitMemory
	default:
		return exitFailure
	}
}
