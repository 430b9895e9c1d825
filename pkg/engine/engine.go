// Package engine is the entry point for loading and querying NeuroNet graphs.
//
// An Engine holds at most one loaded graph. LoadDataset builds a new
// adjacency store off to the side and swaps it in atomically, so concurrent
// queries see either the previous graph or the complete new one, never a
// partially built store. A failed load leaves the previous graph in place.
//
// Example:
//
//	eng, err := engine.New(engine.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	if _, err := eng.LoadDataset(ctx, "web-Google.txt.gz"); err != nil {
//		log.Fatal(err)
//	}
//	hub, _ := eng.MaxDegreeNode()
//	reach, _ := eng.BFS(ctx, hub, 2)
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Only one LoadDataset may run at
//	a time; a second concurrent call fails with ErrLoadInProgress.
//
// Cancellation:
//
//	Context arguments are checked on entry and carry tracing spans. Neither
//	loads nor traversals can be interrupted once started.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/neuronet/pkg/cache"
	"github.com/orneryd/neuronet/pkg/config"
	"github.com/orneryd/neuronet/pkg/edgelist"
	"github.com/orneryd/neuronet/pkg/graph"
	"github.com/orneryd/neuronet/pkg/snapshot"
	"github.com/orneryd/neuronet/pkg/traversal"
)

// NodeID is the external identifier of a node.
type NodeID = graph.NodeID

// Edge is an undirected pair of node ids.
type Edge = graph.Edge

// Config holds Engine settings.
type Config struct {
	// KeepDuplicates stores every edge line instead of deduplicating
	// repeated undirected pairs.
	KeepDuplicates bool
	// MemoryLimit caps the estimated bytes used while building the
	// adjacency arrays. 0 = unlimited.
	MemoryLimit int64
	// MaxLineBytes bounds a single dataset line. 0 = edgelist default.
	MaxLineBytes int
	// Workers bounds concurrent traversals in BFSBatch. 0 = one per start.
	Workers int

	// CacheSize enables the traversal result cache when > 0.
	CacheSize int
	// CacheTTL expires cached results. 0 = no expiration.
	CacheTTL time.Duration

	// SnapshotDir enables adjacency snapshots stored in a BadgerDB at this
	// directory. Empty disables snapshots.
	SnapshotDir string
	// SnapshotSyncWrites forces fsync for snapshot writes.
	SnapshotSyncWrites bool

	// Logger receives load and snapshot events. nil = no logging.
	Logger *zap.Logger
}

// DefaultConfig returns an Engine configuration with deduplication, a
// 1000-entry result cache and snapshots disabled.
func DefaultConfig() Config {
	return Config{
		CacheSize: 1000,
		CacheTTL:  5 * time.Minute,
	}
}

// ConfigFrom maps a resolved configuration onto Engine settings.
func ConfigFrom(cfg *config.Config, logger *zap.Logger) Config {
	ec := Config{
		KeepDuplicates: cfg.Engine.KeepDuplicates,
		MemoryLimit:    cfg.Engine.MemoryLimit,
		MaxLineBytes:   cfg.Engine.MaxLineBytes,
		Workers:        cfg.EffectiveWorkers(),
		Logger:         logger,
	}
	if cfg.Cache.Enabled {
		ec.CacheSize = cfg.Cache.Size
		ec.CacheTTL = cfg.Cache.TTL
	}
	if cfg.Snapshot.Enabled {
		ec.SnapshotDir = cfg.Snapshot.Dir
		ec.SnapshotSyncWrites = cfg.Snapshot.SyncWrites
	}
	return ec
}

// LoadStats describes a completed load.
type LoadStats struct {
	Path              string        `json:"path"`
	Nodes             int           `json:"nodes"`
	Edges             int64         `json:"edges"`
	Lines             int64         `json:"lines"`
	Skipped           int64         `json:"skipped"`
	Comments          int64         `json:"comments"`
	SelfLoops         int64         `json:"self_loops"`
	DuplicatesDropped int64         `json:"duplicates_dropped"`
	Bytes             int64         `json:"bytes"`
	Duration          time.Duration `json:"duration"`
	FromSnapshot      bool          `json:"from_snapshot"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Generation  uint64            `json:"generation"`
	Nodes       int               `json:"nodes"`
	Edges       int64             `json:"edges"`
	MemoryBytes int64             `json:"memory_bytes"`
	Load        *LoadStats        `json:"load,omitempty"`
	Cache       *cache.CacheStats `json:"cache,omitempty"`
}

// state is one loaded graph. It is never mutated after publication.
type state struct {
	store *graph.Store
	gen   uint64
	load  *LoadStats
}

// Engine loads edge-list datasets and answers queries against the most
// recently loaded graph.
type Engine struct {
	cfg Config
	log *zap.Logger

	current atomic.Pointer[state]
	gen     atomic.Uint64
	loading atomic.Bool

	results   *cache.QueryCache
	snapshots *snapshot.Store

	// lifecycle is held for reading by loads and for writing by Close.
	lifecycle sync.RWMutex
	closed    atomic.Bool
}

// New creates an Engine holding an empty graph.
func New(cfg Config) (*Engine, error) {
	if cfg.MemoryLimit < 0 {
		return nil, fmt.Errorf("%w: negative memory limit %d", ErrInvalidArgument, cfg.MemoryLimit)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("%w: negative worker count %d", ErrInvalidArgument, cfg.Workers)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg: cfg,
		log: logger.Named("engine"),
	}
	e.current.Store(&state{store: graph.Empty()})

	if cfg.CacheSize > 0 {
		e.results = cache.NewQueryCache(cfg.CacheSize, cfg.CacheTTL)
	}

	if cfg.SnapshotDir != "" {
		if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
		snaps, err := snapshot.Open(snapshot.Options{
			Dir:        cfg.SnapshotDir,
			SyncWrites: cfg.SnapshotSyncWrites,
			Logger:     logger.Named("snapshot"),
		})
		if err != nil {
			return nil, err
		}
		e.snapshots = snaps
	}

	return e, nil
}

// LoadDataset replaces the current graph with the edge list at path.
//
// Malformed lines are skipped and counted. The call fails with ErrIO when
// the path cannot be read, ErrDatasetFormat when only malformed lines were
// found, and ErrOutOfMemory when the adjacency arrays exceed the configured
// budget. On failure the previous graph stays loaded.
//
// With snapshots enabled an unchanged file is restored from its snapshot
// instead of being parsed again.
func (e *Engine) LoadDataset(ctx context.Context, path string) (*LoadStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty dataset path", ErrIO)
	}

	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if !e.loading.CompareAndSwap(false, true) {
		return nil, ErrLoadInProgress
	}
	defer e.loading.Store(false)

	ctx, span := startLoadSpan(ctx, path)
	defer span.End()

	started := time.Now()
	store, stats, err := e.load(path)
	stats.Duration = time.Since(started)
	recordLoad(ctx, stats.Duration, stats, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Warn("load failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	setLoadSpanResult(span, stats)

	e.publish(store, stats)

	e.log.Info("dataset loaded",
		zap.String("path", path),
		zap.Int("nodes", stats.Nodes),
		zap.Int64("edges", stats.Edges),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("self_loops", stats.SelfLoops),
		zap.Int64("duplicates_dropped", stats.DuplicatesDropped),
		zap.Bool("from_snapshot", stats.FromSnapshot),
		zap.Duration("duration", stats.Duration),
	)

	out := *stats
	return &out, nil
}

// load resolves path to a store, from a snapshot when possible. The
// returned stats are never nil.
func (e *Engine) load(path string) (*graph.Store, *LoadStats, error) {
	stats := &LoadStats{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if info.IsDir() {
		return nil, stats, fmt.Errorf("%w: %s is a directory", ErrIO, path)
	}

	var key string
	if e.snapshots != nil {
		key = snapshot.Fingerprint(path, info, e.cfg.KeepDuplicates)
		store, ok, err := e.restore(key, stats)
		if err != nil {
			return nil, stats, err
		}
		if ok {
			return store, stats, nil
		}
	}

	store, err := e.build(path, stats)
	if err != nil {
		return nil, stats, err
	}

	if e.snapshots != nil {
		extra := snapshot.Extra{
			Source:   path,
			Lines:    stats.Lines,
			Skipped:  stats.Skipped,
			Comments: stats.Comments,
			Bytes:    stats.Bytes,
		}
		if err := e.snapshots.Save(key, store, extra); err != nil {
			e.log.Warn("saving snapshot failed", zap.String("path", path), zap.Error(err))
		} else {
			e.log.Debug("snapshot saved", zap.String("path", path), zap.String("key", key))
		}
	}
	return store, stats, nil
}

// restore loads a snapshot within the memory budget. Corrupt snapshots are
// discarded so the next load rebuilds them; a snapshot over budget fails
// the load just as building it would.
func (e *Engine) restore(key string, stats *LoadStats) (*graph.Store, bool, error) {
	store, extra, err := e.snapshots.LoadWithin(key, e.cfg.MemoryLimit)
	switch {
	case err == nil:
	case errors.Is(err, snapshot.ErrNotFound):
		e.log.Debug("snapshot miss", zap.String("path", stats.Path), zap.String("key", key))
		return nil, false, nil
	case errors.Is(err, graph.ErrOutOfMemory):
		return nil, false, err
	default:
		e.log.Warn("discarding unreadable snapshot", zap.String("path", stats.Path), zap.Error(err))
		if err := e.snapshots.Delete(key); err != nil {
			e.log.Warn("deleting snapshot failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false, nil
	}

	e.log.Debug("snapshot hit", zap.String("path", stats.Path), zap.String("key", key))
	stats.Lines = extra.Lines
	stats.Skipped = extra.Skipped
	stats.Comments = extra.Comments
	stats.Bytes = extra.Bytes
	stats.FromSnapshot = true
	fill(stats, store)
	return store, true, nil
}

// build parses path and constructs a fresh store.
func (e *Engine) build(path string, stats *LoadStats) (*graph.Store, error) {
	r, err := edgelist.Open(path,
		edgelist.WithMaxLineBytes(e.cfg.MaxLineBytes),
		edgelist.WithOnSkip(func(line int, text string) {
			e.log.Debug("skipping malformed line",
				zap.String("path", path),
				zap.Int("line", line),
				zap.String("text", text),
			)
		}),
	)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	store, err := graph.Build(r, graph.BuildOptions{
		KeepDuplicates: e.cfg.KeepDuplicates,
		MemoryLimit:    e.cfg.MemoryLimit,
	})
	rs := r.Stats()
	stats.Lines = rs.Lines
	stats.Skipped = rs.Skipped
	stats.Comments = rs.Comments
	stats.Bytes = rs.Bytes
	if err != nil {
		return nil, err
	}

	fill(stats, store)
	return store, nil
}

func fill(stats *LoadStats, store *graph.Store) {
	meta := store.Meta()
	stats.Nodes = store.NumNodes()
	stats.Edges = store.NumEdges()
	stats.SelfLoops = meta.SelfLoops
	stats.DuplicatesDropped = meta.DuplicatesDropped
}

// publish swaps in a new graph under a fresh generation.
func (e *Engine) publish(store *graph.Store, stats *LoadStats) {
	gen := e.gen.Add(1)
	e.current.Store(&state{store: store, gen: gen, load: stats})
	if e.results != nil {
		// generation in the key already hides old entries; this frees them
		e.results.Clear()
	}
}

func (e *Engine) loaded() *state {
	return e.current.Load()
}

// NumNodes returns the number of distinct nodes in the loaded graph.
func (e *Engine) NumNodes() int {
	return traversal.NumNodes(e.loaded().store)
}

// NumEdges returns the number of undirected edges in the loaded graph.
func (e *Engine) NumEdges() int64 {
	return traversal.NumEdges(e.loaded().store)
}

// Degree returns the neighbor count of id.
func (e *Engine) Degree(id NodeID) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	return traversal.Degree(e.loaded().store, id)
}

// Neighbors returns the neighbors of id in stored order.
func (e *Engine) Neighbors(id NodeID) ([]NodeID, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return traversal.Neighbors(e.loaded().store, id)
}

// MaxDegreeNode returns the node with the greatest degree, ties going to
// the earliest-discovered node.
func (e *Engine) MaxDegreeNode() (NodeID, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	return traversal.MaxDegreeNode(e.loaded().store)
}

// BFS returns the nodes within maxDepth hops of start in discovery order.
func (e *Engine) BFS(ctx context.Context, start NodeID, maxDepth int) ([]NodeID, error) {
	if err := e.enter(ctx); err != nil {
		return nil, err
	}
	return e.flat(ctx, e.loaded(), cache.KindBFS, start, maxDepth)
}

// AtHop returns the nodes at exactly hops hops from start.
func (e *Engine) AtHop(ctx context.Context, start NodeID, hops int) ([]NodeID, error) {
	if err := e.enter(ctx); err != nil {
		return nil, err
	}
	return e.flat(ctx, e.loaded(), cache.KindAtHop, start, hops)
}

// Levels returns the BFS frontiers from start, one slice per depth.
func (e *Engine) Levels(ctx context.Context, start NodeID, maxDepth int) ([][]NodeID, error) {
	if err := e.enter(ctx); err != nil {
		return nil, err
	}

	st := e.loaded()
	ctx, span := startQuerySpan(ctx, "Levels", uint64(start), maxDepth)
	defer span.End()

	key := cache.Key{Generation: st.gen, Kind: cache.KindLevels, Start: start, Depth: maxDepth}
	started := time.Now()
	if e.results != nil {
		if levels, ok := e.results.GetLevels(key); ok {
			recordQuery(ctx, "levels", time.Since(started), countLevels(levels), true)
			return levels, nil
		}
	}

	levels, err := traversal.Levels(st.store, start, maxDepth)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if e.results != nil {
		e.results.PutLevels(key, levels)
	}
	recordQuery(ctx, "levels", time.Since(started), countLevels(levels), false)
	return levels, nil
}

// InducedEdges returns the edges of the loaded graph whose endpoints are
// both in nodes, each reported once.
func (e *Engine) InducedEdges(nodes []NodeID) ([]Edge, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return traversal.InducedEdges(e.loaded().store, nodes)
}

// BFSBatch runs BFS from every start concurrently against the same graph.
// Results are returned in the order of starts. The first failure cancels
// the traversals that have not started yet and is returned.
func (e *Engine) BFSBatch(ctx context.Context, starts []NodeID, maxDepth int) ([][]NodeID, error) {
	if err := e.enter(ctx); err != nil {
		return nil, err
	}
	if len(starts) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidArgument)
	}
	if maxDepth < 0 {
		return nil, fmt.Errorf("%w: negative depth %d", ErrInvalidArgument, maxDepth)
	}

	st := e.loaded()
	out := make([][]NodeID, len(starts))

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Workers > 0 {
		g.SetLimit(e.cfg.Workers)
	}
	for i, start := range starts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			nodes, err := e.flat(gctx, st, cache.KindBFS, start, maxDepth)
			if err != nil {
				return fmt.Errorf("start %d: %w", start, err)
			}
			out[i] = nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// flat runs a traversal with a flat result through the cache.
func (e *Engine) flat(ctx context.Context, st *state, kind cache.Kind, start NodeID, depth int) ([]NodeID, error) {
	ctx, span := startQuerySpan(ctx, kind.String(), uint64(start), depth)
	defer span.End()

	key := cache.Key{Generation: st.gen, Kind: kind, Start: start, Depth: depth}
	started := time.Now()
	if e.results != nil {
		if nodes, ok := e.results.GetNodes(key); ok {
			recordQuery(ctx, kind.String(), time.Since(started), len(nodes), true)
			return nodes, nil
		}
	}

	var (
		nodes []NodeID
		err   error
	)
	if kind == cache.KindAtHop {
		nodes, err = traversal.AtHop(st.store, start, depth)
	} else {
		nodes, err = traversal.BFS(st.store, start, depth)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if e.results != nil {
		e.results.PutNodes(key, nodes)
	}
	recordQuery(ctx, kind.String(), time.Since(started), len(nodes), false)
	return nodes, nil
}

// enter applies the abort-before-invoke checks shared by traversals.
func (e *Engine) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Stats returns a view of the loaded graph, its load and the result cache.
func (e *Engine) Stats() Stats {
	st := e.loaded()
	s := Stats{
		Generation:  st.gen,
		Nodes:       st.store.NumNodes(),
		Edges:       st.store.NumEdges(),
		MemoryBytes: st.store.MemoryFootprint(),
	}
	if st.load != nil {
		load := *st.load
		s.Load = &load
	}
	if e.results != nil {
		cs := e.results.Stats()
		s.Cache = &cs
	}
	return s
}

// Close releases the graph and the snapshot store. It waits for an
// in-flight load to finish. Calling Close twice is a no-op.
func (e *Engine) Close() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.current.Store(&state{store: graph.Empty(), gen: e.gen.Add(1)})
	if e.results != nil {
		e.results.Clear()
	}
	if e.snapshots != nil {
		if err := e.snapshots.Close(); err != nil {
			return fmt.Errorf("closing snapshots: %w", err)
		}
	}
	return nil
}

func countLevels(levels [][]NodeID) int {
	n := 0
	for _, l := range levels {
		n += len(l)
	}
	return n
}
