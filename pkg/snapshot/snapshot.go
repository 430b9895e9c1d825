// Package snapshot persists built graph stores in BadgerDB so a dataset
// that has not changed since the last run can be reopened without parsing.
//
// Each snapshot is stored under a caller-chosen key, normally the dataset
// Fingerprint. The CSR arrays are split into fixed-size chunks and guarded
// by a blake2b-256 checksum; a snapshot that fails verification is reported
// as ErrCorrupt and never half-loaded.
//
// Key Structure:
//   - Manifest: 0x01 + key -> JSON(manifest)
//   - Chunk:    0x02 + key + 0x00 + section + uint32(chunk) -> raw little-endian array bytes
//
// Example:
//
//	store, err := snapshot.Open(snapshot.Options{Dir: "/var/cache/neuronet"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	key := snapshot.Fingerprint(path, info, false)
//	g, extra, err := store.Load(key)
//	if errors.Is(err, snapshot.ErrNotFound) {
//		// build from the edge list, then
//		err = store.Save(key, g, extra)
//	}
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/orneryd/neuronet/pkg/graph"
)

// Common errors
var (
	ErrNotFound = errors.New("snapshot not found")
	ErrCorrupt  = errors.New("snapshot corrupt")
	ErrClosed   = errors.New("snapshot store closed")
)

// Key prefixes for BadgerDB storage organization
const (
	prefixManifest = byte(0x01)
	prefixChunk    = byte(0x02)
)

// Sections of a snapshot, in write order.
const (
	sectionIDs     = byte('i')
	sectionOffsets = byte('o')
	sectionTargets = byte('t')
)

// formatVersion is bumped whenever the chunk layout changes.
const formatVersion = 1

const (
	// maxEntries keeps the size model of any manifest inside int64.
	maxEntries = math.MaxInt64 / 16

	// maxPresize caps how many elements are reserved up front per array.
	maxPresize = 1 << 24
)

// Extra carries parse statistics that are restored alongside the store so a
// snapshot hit can report the same numbers as the original load.
type Extra struct {
	Source   string `json:"source"`
	Lines    int64  `json:"lines"`
	Skipped  int64  `json:"skipped"`
	Comments int64  `json:"comments"`
	Bytes    int64  `json:"bytes"`
}

// manifest describes one persisted store.
type manifest struct {
	Version   int        `json:"version"`
	Nodes     int        `json:"nodes"`
	Entries   int        `json:"entries"`
	Chunks    [3]int     `json:"chunks"` // ids, offsets, targets
	Checksum  string     `json:"checksum"`
	Meta      graph.Meta `json:"meta"`
	Extra     Extra      `json:"extra"`
	CreatedAt time.Time  `json:"created_at"`
}

// Options configures the snapshot store.
type Options struct {
	// Dir is the directory for storing data files.
	// Required unless InMemory is set.
	Dir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// ChunkBytes bounds the size of a single stored value.
	// 0 uses DefaultChunkBytes.
	ChunkBytes int

	// Logger receives BadgerDB's internal log output. nil keeps it quiet.
	Logger *zap.Logger
}

// DefaultChunkBytes is the default size of one stored array chunk.
const DefaultChunkBytes = 4 << 20

// Store persists graph snapshots.
//
// Thread Safety:
//
//	Safe for concurrent use. Save and Delete on the same key are not
//	coordinated with each other; last writer wins.
type Store struct {
	db         *badger.DB
	chunkBytes int

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) a snapshot store.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" && !opts.InMemory {
		return nil, fmt.Errorf("snapshot: directory required")
	}

	badgerOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{opts.Logger.Sugar()})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	// Snapshots are few and large: small memtables, everything in the vlog.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(256 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(16 << 20).
		WithIndexCacheSize(8 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	chunk := opts.ChunkBytes
	if chunk <= 0 {
		chunk = DefaultChunkBytes
	}
	// keep chunks aligned to the widest element
	chunk = (chunk + 7) &^ 7

	return &Store{db: db, chunkBytes: chunk}, nil
}

// Save writes s under key, replacing any previous snapshot with that key.
func (st *Store) Save(key string, s *graph.Store, extra Extra) error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return ErrClosed
	}

	if err := st.deleteLocked(key); err != nil {
		return err
	}

	wb := st.db.NewWriteBatch()
	defer wb.Cancel()

	sum := newChecksum()
	m := manifest{
		Version:   formatVersion,
		Nodes:     s.NumNodes(),
		Entries:   len(s.Targets()),
		Meta:      s.Meta(),
		Extra:     extra,
		CreatedAt: time.Now().UTC(),
	}

	var err error
	if m.Chunks[0], err = writeSection(wb, sum, key, sectionIDs, encodeIDs, s.IDs(), st.chunkBytes/8); err != nil {
		return err
	}
	if m.Chunks[1], err = writeSection(wb, sum, key, sectionOffsets, encodeOffsets, s.Offsets(), st.chunkBytes/8); err != nil {
		return err
	}
	if m.Chunks[2], err = writeSection(wb, sum, key, sectionTargets, encodeTargets, s.Targets(), st.chunkBytes/4); err != nil {
		return err
	}
	m.Checksum = sum.hex()

	// Manifest last, so a crash mid-save leaves no loadable snapshot.
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := wb.Set(manifestKey(key), data); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot stored under key and reassembles the store.
func (st *Store) Load(key string) (*graph.Store, Extra, error) {
	return st.LoadWithin(key, 0)
}

// LoadWithin is Load with a memory budget. The manifest is checked against
// limit before any array is allocated; a snapshot that does not fit is
// reported as graph.ErrOutOfMemory and left in place.
func (st *Store) LoadWithin(key string, limit int64) (*graph.Store, Extra, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return nil, Extra{}, ErrClosed
	}

	var (
		m       manifest
		ids     []graph.NodeID
		offsets []uint64
		targets []uint32
	)
	sum := newChecksum()

	err := st.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		}); err != nil {
			return fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
		}
		if m.Version != formatVersion {
			return fmt.Errorf("%w: format version %d, want %d", ErrCorrupt, m.Version, formatVersion)
		}
		if m.Nodes < 0 || m.Entries < 0 || uint64(m.Nodes) > graph.MaxNodes || m.Entries > maxEntries {
			return fmt.Errorf("%w: manifest sizes %d/%d", ErrCorrupt, m.Nodes, m.Entries)
		}
		for _, n := range m.Chunks {
			if n < 0 {
				return fmt.Errorf("%w: manifest chunk count %d", ErrCorrupt, n)
			}
		}
		if err := graph.CheckBudget(int64(m.Nodes), int64(m.Entries), limit); err != nil {
			return err
		}

		// The manifest is not covered by the checksum, so its sizes only
		// hint the initial capacity; the decoded lengths are verified below.
		ids = make([]graph.NodeID, 0, min(m.Nodes, maxPresize))
		offsets = make([]uint64, 0, min(m.Nodes+1, maxPresize))
		targets = make([]uint32, 0, min(m.Entries, maxPresize))

		if err := readSection(txn, sum, key, sectionIDs, m.Chunks[0], func(b []byte) error {
			ids, err = decodeIDs(ids, b)
			return err
		}); err != nil {
			return err
		}
		if err := readSection(txn, sum, key, sectionOffsets, m.Chunks[1], func(b []byte) error {
			offsets, err = decodeOffsets(offsets, b)
			return err
		}); err != nil {
			return err
		}
		return readSection(txn, sum, key, sectionTargets, m.Chunks[2], func(b []byte) error {
			targets, err = decodeTargets(targets, b)
			return err
		})
	})
	if err != nil {
		return nil, Extra{}, err
	}

	if got := sum.hex(); got != m.Checksum {
		return nil, Extra{}, fmt.Errorf("%w: checksum %s, want %s", ErrCorrupt, got, m.Checksum)
	}
	if len(ids) != m.Nodes || len(targets) != m.Entries {
		return nil, Extra{}, fmt.Errorf("%w: %d nodes and %d entries, manifest says %d and %d",
			ErrCorrupt, len(ids), len(targets), m.Nodes, m.Entries)
	}
	if m.Nodes == 0 {
		offsets = []uint64{0}
	}

	g, err := graph.FromCSR(ids, offsets, targets, m.Meta)
	if err != nil {
		return nil, Extra{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return g, m.Extra, nil
}

// Delete removes the snapshot stored under key. Deleting a missing key is
// not an error.
func (st *Store) Delete(key string) error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return ErrClosed
	}
	return st.deleteLocked(key)
}

func (st *Store) deleteLocked(key string) error {
	var keys [][]byte
	err := st.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(manifestKey(key)); err == nil {
			keys = append(keys, manifestKey(key))
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = chunkPrefix(key)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing snapshot %q: %w", key, err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := st.db.NewWriteBatch()
	defer wb.Cancel()
	// manifest first, so a partial delete is never loadable
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("deleting snapshot %q: %w", key, err)
		}
	}
	return wb.Flush()
}

// Keys lists the keys of every stored snapshot.
func (st *Store) Keys() ([]string, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return nil, ErrClosed
	}

	var out []string
	err := st.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixManifest}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().Key()[1:]))
		}
		return nil
	})
	return out, err
}

// Close closes the underlying database. It is safe to call more than once.
func (st *Store) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil
	}
	st.closed = true
	return st.db.Close()
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func manifestKey(key string) []byte {
	return append([]byte{prefixManifest}, key...)
}

func chunkPrefix(key string) []byte {
	b := make([]byte, 0, len(key)+2)
	b = append(b, prefixChunk)
	b = append(b, key...)
	return append(b, 0x00)
}

func chunkKey(key string, section byte, n int) []byte {
	b := chunkPrefix(key)
	return append(b, section, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

// writeSection splits arr into chunks of per elements and queues them on wb.
// It returns the number of chunks written.
func writeSection[T any](wb *badger.WriteBatch, sum *checksum, key string, section byte,
	encode func([]byte, []T) []byte, arr []T, per int) (int, error) {
	chunks := 0
	for start := 0; start < len(arr); start += per {
		end := min(start+per, len(arr))
		buf := encode(nil, arr[start:end])
		sum.write(buf)
		if err := wb.Set(chunkKey(key, section, chunks), buf); err != nil {
			return 0, fmt.Errorf("writing chunk %d of section %c: %w", chunks, section, err)
		}
		chunks++
	}
	return chunks, nil
}

// readSection feeds the chunks of one section to fn in order.
func readSection(txn *badger.Txn, sum *checksum, key string, section byte, chunks int, fn func([]byte) error) error {
	for n := 0; n < chunks; n++ {
		item, err := txn.Get(chunkKey(key, section, n))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: missing chunk %d of section %c", ErrCorrupt, n, section)
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			sum.write(val)
			return fn(val)
		}); err != nil {
			if errors.Is(err, ErrCorrupt) {
				return err
			}
			return fmt.Errorf("%w: chunk %d of section %c: %v", ErrCorrupt, n, section, err)
		}
	}
	return nil
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(trimNewline(f), v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(trimNewline(f), v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(trimNewline(f), v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(trimNewline(f), v...) }

func trimNewline(f string) string {
	return strings.TrimRight(f, "\n")
}
