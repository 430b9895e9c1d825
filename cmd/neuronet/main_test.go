package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/neuronet/pkg/config"
	"github.com/orneryd/neuronet/pkg/engine"
)

const sampleData = "# tiny\n0 1\n0 2\n1 3\n2 4\n"

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NEURONET_LOG_LEVEL", "error")

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("NeuroNet v%s (%s)\n", version, commit), out)
}

func TestStats(t *testing.T) {
	path := writeDataset(t, sampleData+"bad\n")

	out, err := run(t, "stats", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Nodes:       5")
	assert.Contains(t, out, "Edges:       4")
	assert.Contains(t, out, "1 skipped, 1 comments")
	assert.Contains(t, out, "(parsed)")
}

func TestStats_JSON(t *testing.T) {
	out, err := run(t, "stats", "--json", writeDataset(t, sampleData))
	require.NoError(t, err)
	assert.Contains(t, out, `"nodes": 5`)
	assert.Contains(t, out, `"edges": 4`)
}

func TestStats_Snapshot(t *testing.T) {
	path := writeDataset(t, sampleData)
	cacheDir := t.TempDir()

	out, err := run(t, "--cache-dir", cacheDir, "stats", path)
	require.NoError(t, err)
	assert.Contains(t, out, "(parsed)")

	out, err = run(t, "--cache-dir", cacheDir, "stats", path)
	require.NoError(t, err)
	assert.Contains(t, out, "(snapshot)")
}

func TestQueries(t *testing.T) {
	path := writeDataset(t, sampleData)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"degree", []string{"degree", path, "0"}, "2\n"},
		{"neighbors", []string{"neighbors", path, "1"}, "0\n3\n"},
		{"max degree", []string{"max-degree", path}, "node 0 (degree 2)\n"},
		{"bfs", []string{"bfs", path, "--start", "0", "--depth", "1"}, "0\n1\n2\n"},
		{"bfs depth zero", []string{"bfs", path, "--start", "3", "--depth", "0"}, "3\n"},
		{"bfs levels", []string{"bfs", path, "--start", "0", "--depth", "2", "--levels"}, "0: 0\n1: 1 2\n2: 3 4\n"},
		{"at hop", []string{"at-hop", path, "--start", "0", "--hops", "2"}, "3\n4\n"},
		{"subgraph", []string{"subgraph", path, "--start", "1", "--depth", "1"}, "# 3 nodes, 2 edges around 1\n1 0\n1 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestSubgraph_Limit(t *testing.T) {
	path := writeDataset(t, sampleData)

	out, err := run(t, "subgraph", path, "--start", "0", "--depth", "2", "--limit", "2")
	require.NoError(t, err)
	assert.Equal(t, "# 2 nodes, 1 edges around 0\n0 1\n", out)

	_, err = run(t, "subgraph", path, "--limit", "0")
	assert.True(t, errors.Is(err, engine.ErrInvalidArgument))
}

func TestErrors(t *testing.T) {
	path := writeDataset(t, sampleData)
	missing := filepath.Join(t.TempDir(), "missing.txt")
	empty := writeDataset(t, "")
	junk := writeDataset(t, "a b\n")

	tests := []struct {
		name    string
		args    []string
		target  error
		summary string
		code    int
	}{
		{"missing file", []string{"stats", missing}, os.ErrNotExist, "file not found", exitNotFound},
		{"unknown node", []string{"degree", path, "99"}, engine.ErrUnknownNode, "node does not exist", exitNotFound},
		{"bad node id", []string{"degree", path, "abc"}, engine.ErrInvalidArgument, "invalid argument", exitUsage},
		{"negative depth", []string{"bfs", path, "--depth=-1"}, engine.ErrInvalidArgument, "invalid argument", exitUsage},
		{"empty graph", []string{"max-degree", empty}, engine.ErrEmptyGraph, "the graph has no nodes", exitData},
		{"unparsable", []string{"stats", junk}, engine.ErrDatasetFormat, "no usable edges", exitData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			assert.True(t, strings.HasPrefix(describe(err), tt.summary), describe(err))
			assert.Equal(t, tt.code, exitCode(err))
		})
	}
}

func TestMemoryLimitFromEnv(t *testing.T) {
	t.Setenv("NEURONET_MEMORY_LIMIT", "64")
	_, err := run(t, "stats", writeDataset(t, sampleData))
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrOutOfMemory))
	assert.Equal(t, exitMemory, exitCode(err))
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")

	out, err := run(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Config written")

	path := filepath.Join(dir, config.DefaultFileName)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.Default().Cache, cfg.Cache)

	_, err = run(t, "init", dir)
	assert.Error(t, err, "existing config is not overwritten")

	_, err = run(t, "init", dir, "--force")
	assert.NoError(t, err)
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("engine:\n  keep_duplicates: true\n"), 0644))
	path := writeDataset(t, "0 1\n1 0\n")

	out, err := run(t, "--config", cfgPath, "degree", path, "0")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = run(t, "degree", path, "0")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = run(t, "--config", filepath.Join(dir, "nope.yaml"), "version")
	assert.Error(t, err)
}
