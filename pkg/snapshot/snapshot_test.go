package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/neuronet/pkg/graph"
)

func openTest(t *testing.T, chunkBytes int) *Store {
	t.Helper()
	st, err := Open(Options{InMemory: true, ChunkBytes: chunkBytes})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleGraph(t *testing.T) *graph.Store {
	t.Helper()
	g, err := graph.FromEdges([]graph.Edge{
		{U: 0, V: 1}, {U: 0, V: 2}, {U: 1, V: 3}, {U: 2, V: 4}, {U: 4, V: 4},
		{U: 1 << 40, V: 0}, {U: 0, V: 1},
	}, graph.BuildOptions{})
	require.NoError(t, err)
	return g
}

func requireSameGraph(t *testing.T, want, got *graph.Store) {
	t.Helper()
	require.Equal(t, want.NumNodes(), got.NumNodes())
	assert.Equal(t, want.NumEdges(), got.NumEdges())
	assert.Equal(t, want.IDs(), got.IDs())
	assert.Equal(t, want.Offsets(), got.Offsets())
	assert.Equal(t, want.Targets(), got.Targets())
	assert.Equal(t, want.Meta(), got.Meta())

	wi, wok := want.MaxDegreeIndex()
	gi, gok := got.MaxDegreeIndex()
	assert.Equal(t, wok, gok)
	assert.Equal(t, wi, gi)
}

// =============================================================================
// Save/Load Tests
// =============================================================================

func TestSaveLoad_RoundTrip(t *testing.T) {
	// tiny chunks force several values per section
	for _, chunk := range []int{0, 8, 24} {
		st := openTest(t, chunk)
		g := sampleGraph(t)
		extra := Extra{Source: "sample.txt", Lines: 9, Skipped: 1, Comments: 1, Bytes: 64}

		require.NoError(t, st.Save("k1", g, extra))

		got, gotExtra, err := st.Load("k1")
		require.NoError(t, err)
		requireSameGraph(t, g, got)
		assert.Equal(t, extra, gotExtra)
	}
}

func TestSaveLoad_EmptyGraph(t *testing.T) {
	st := openTest(t, 0)

	require.NoError(t, st.Save("empty", graph.Empty(), Extra{Comments: 3}))

	got, extra, err := st.Load("empty")
	require.NoError(t, err)
	assert.Equal(t, 0, got.NumNodes())
	assert.Equal(t, int64(0), got.NumEdges())
	assert.Equal(t, int64(3), extra.Comments)
}

func TestSave_Overwrite(t *testing.T) {
	st := openTest(t, 16)

	big := sampleGraph(t)
	small, err := graph.FromEdges([]graph.Edge{{U: 7, V: 8}}, graph.BuildOptions{KeepDuplicates: true})
	require.NoError(t, err)

	require.NoError(t, st.Save("k", big, Extra{}))
	require.NoError(t, st.Save("k", small, Extra{}))

	got, _, err := st.Load("k")
	require.NoError(t, err)
	requireSameGraph(t, small, got)
}

func TestLoad_NotFound(t *testing.T) {
	st := openTest(t, 0)

	_, _, err := st.Load("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoad_Corrupt(t *testing.T) {
	t.Run("flipped byte", func(t *testing.T) {
		st := openTest(t, 0)
		require.NoError(t, st.Save("k", sampleGraph(t), Extra{}))

		key := chunkKey("k", sectionTargets, 0)
		require.NoError(t, st.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			val[0] ^= 0xff
			return txn.Set(key, val)
		}))

		_, _, err := st.Load("k")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
	})

	t.Run("missing chunk", func(t *testing.T) {
		st := openTest(t, 8)
		require.NoError(t, st.Save("k", sampleGraph(t), Extra{}))

		require.NoError(t, st.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(chunkKey("k", sectionIDs, 1))
		}))

		_, _, err := st.Load("k")
		assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
	})

	t.Run("garbage manifest", func(t *testing.T) {
		st := openTest(t, 0)
		require.NoError(t, st.db.Update(func(txn *badger.Txn) error {
			return txn.Set(manifestKey("k"), []byte("{not json"))
		}))

		_, _, err := st.Load("k")
		assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
	})

	t.Run("oversized manifest", func(t *testing.T) {
		manifests := []string{
			`{"version":1,"nodes":1,"entries":4611686018427387904,"chunks":[0,0,0]}`,
			`{"version":1,"nodes":1,"entries":1125899906842624,"chunks":[0,0,0]}`,
			`{"version":1,"nodes":1,"entries":2,"chunks":[-1,0,0]}`,
		}
		for _, raw := range manifests {
			st := openTest(t, 0)
			require.NoError(t, st.db.Update(func(txn *badger.Txn) error {
				return txn.Set(manifestKey("k"), []byte(raw))
			}))

			var err error
			require.NotPanics(t, func() { _, _, err = st.Load("k") }, raw)
			assert.True(t, errors.Is(err, ErrCorrupt), "%s: got %v", raw, err)
		}
	})
}

func TestLoadWithin(t *testing.T) {
	st := openTest(t, 0)
	g := sampleGraph(t)
	require.NoError(t, st.Save("k", g, Extra{}))

	_, _, err := st.LoadWithin("k", 16)
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrOutOfMemory), "got %v", err)

	// the snapshot is still usable with a budget that fits
	got, _, err := st.LoadWithin("k", g.MemoryFootprint())
	require.NoError(t, err)
	assert.Equal(t, g.NumNodes(), got.NumNodes())
}

// =============================================================================
// Delete / Keys / Close Tests
// =============================================================================

func TestDeleteAndKeys(t *testing.T) {
	st := openTest(t, 8)
	g := sampleGraph(t)

	require.NoError(t, st.Save("a", g, Extra{}))
	require.NoError(t, st.Save("b", g, Extra{}))

	keys, err := st.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, st.Delete("a"))
	require.NoError(t, st.Delete("a"), "deleting a missing key is not an error")

	_, _, err = st.Load("a")
	assert.True(t, errors.Is(err, ErrNotFound))

	keys, err = st.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	// no chunk of "a" is left behind
	require.NoError(t, st.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = chunkPrefix("a")
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		assert.False(t, it.Valid())
		return nil
	}))
}

func TestClosedStore(t *testing.T) {
	st, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, _, err = st.Load("k")
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(st.Save("k", graph.Empty(), Extra{}), ErrClosed))
	assert.True(t, errors.Is(st.Delete("k"), ErrClosed))
	_, err = st.Keys()
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestOpen_OnDisk(t *testing.T) {
	dir := t.TempDir()
	g := sampleGraph(t)

	st, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, st.Save("k", g, Extra{Source: "x"}))
	require.NoError(t, st.Close())

	st, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer st.Close()

	got, extra, err := st.Load("k")
	require.NoError(t, err)
	requireSameGraph(t, g, got)
	assert.Equal(t, "x", extra.Source)
}

// =============================================================================
// Fingerprint Tests
// =============================================================================

func TestFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 1\n"), 0644))

	info, err := os.Stat(path)
	require.NoError(t, err)

	a := Fingerprint(path, info, false)
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint(path, info, false), "stable for the same file")
	assert.NotEqual(t, a, Fingerprint(path, info, true), "policy is part of the key")

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotEqual(t, a, Fingerprint(path, info2, false), "modification changes the key")
}
