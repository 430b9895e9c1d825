package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 1\n"), 0644))
	return path
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	path := newDataset(t)

	var calls atomic.Int32
	got := make(chan string, 4)
	w, err := New(path, func(_ context.Context, p string) {
		calls.Add(1)
		got <- p
	}, Options{Debounce: 100 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("0 1\n1 2\n"), 0644))
	}

	select {
	case p := <-got:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, abs, p)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	// the burst collapses into a single reload
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_ReplaceByRename(t *testing.T) {
	path := newDataset(t)

	var calls atomic.Int32
	w, err := New(path, func(context.Context, string) { calls.Add(1) }, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	tmp := filepath.Join(filepath.Dir(path), "graph.txt.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("3 4\n"), 0644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := newDataset(t)

	var calls atomic.Int32
	w, err := New(path, func(context.Context, string) { calls.Add(1) }, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	other := filepath.Join(filepath.Dir(path), "other.txt")
	require.NoError(t, os.WriteFile(other, []byte("5 6\n"), 0644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatcher_ContextCancelStops(t *testing.T) {
	path := newDataset(t)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	w, err := New(path, func(context.Context, string) { calls.Add(1) }, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))

	cancel()
	// Stop still has to release the fsnotify watcher
	w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("7 8\n"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatcher_Lifecycle(t *testing.T) {
	path := newDataset(t)

	w, err := New(path, func(context.Context, string) {}, Options{})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(w.Path()))

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()), "second Start is a no-op")

	w.Stop()
	w.Stop()
	assert.ErrorIs(t, w.Start(context.Background()), ErrStopped)
}

func TestNew_Errors(t *testing.T) {
	_, err := New("graph.txt", nil, Options{})
	assert.Error(t, err)

	dir := filepath.Join(t.TempDir(), "missing-dir")
	w, err := New(filepath.Join(dir, "graph.txt"), func(context.Context, string) {}, Options{})
	require.NoError(t, err)
	defer w.Stop()
	assert.Nil(t, w.fsw, "no watch is held before Start")

	assert.Error(t, w.Start(context.Background()))
	assert.Nil(t, w.fsw, "a failed Start releases its watch")

	// Start can be retried once the directory exists
	require.NoError(t, os.Mkdir(dir, 0755))
	require.NoError(t, w.Start(context.Background()))
	assert.NotNil(t, w.fsw)
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w, err := New(newDataset(t), func(context.Context, string) {}, Options{})
	require.NoError(t, err)
	w.Stop()
	assert.ErrorIs(t, w.Start(context.Background()), ErrStopped)
}
