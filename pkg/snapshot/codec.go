package snapshot

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io/fs"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/neuronet/pkg/graph"
	"github.com/orneryd/neuronet/pkg/pool"
)

// checksum is a running blake2b-256 over every chunk in write order.
type checksum struct {
	h hash.Hash
}

func newChecksum() *checksum {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
	return &checksum{h: h}
}

func (c *checksum) write(b []byte) { c.h.Write(b) }

func (c *checksum) hex() string { return hex.EncodeToString(c.h.Sum(nil)) }

// Fingerprint derives a snapshot key for a dataset file.
//
// The key covers the absolute path, size and modification time of the file
// together with the duplicate policy, so editing the file or switching the
// policy yields a different key. Contents are not hashed; touching a file
// without changing it still invalidates the snapshot.
func Fingerprint(path string, info fs.FileInfo, keepDuplicates bool) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	buf := pool.GetByteBuffer()
	defer func() { pool.PutByteBuffer(buf) }()

	buf = binary.LittleEndian.AppendUint32(buf, formatVersion)
	buf = append(buf, abs...)
	buf = append(buf, 0)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(info.Size()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(info.ModTime().UnixNano()))
	if keepDuplicates {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:16])
}

// ============================================================================
// Array codecs (little-endian, fixed width)
// ============================================================================

func encodeIDs(dst []byte, ids []graph.NodeID) []byte {
	dst = grow(dst, len(ids)*8)
	for _, id := range ids {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(id))
	}
	return dst
}

func encodeOffsets(dst []byte, offsets []uint64) []byte {
	dst = grow(dst, len(offsets)*8)
	for _, o := range offsets {
		dst = binary.LittleEndian.AppendUint64(dst, o)
	}
	return dst
}

func encodeTargets(dst []byte, targets []uint32) []byte {
	dst = grow(dst, len(targets)*4)
	for _, t := range targets {
		dst = binary.LittleEndian.AppendUint32(dst, t)
	}
	return dst
}

func decodeIDs(dst []graph.NodeID, b []byte) ([]graph.NodeID, error) {
	if len(b)%8 != 0 {
		return dst, fmt.Errorf("id chunk of %d bytes", len(b))
	}
	for i := 0; i < len(b); i += 8 {
		dst = append(dst, graph.NodeID(binary.LittleEndian.Uint64(b[i:])))
	}
	return dst, nil
}

func decodeOffsets(dst []uint64, b []byte) ([]uint64, error) {
	if len(b)%8 != 0 {
		return dst, fmt.Errorf("offset chunk of %d bytes", len(b))
	}
	for i := 0; i < len(b); i += 8 {
		dst = append(dst, binary.LittleEndian.Uint64(b[i:]))
	}
	return dst, nil
}

func decodeTargets(dst []uint32, b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return dst, fmt.Errorf("target chunk of %d bytes", len(b))
	}
	for i := 0; i < len(b); i += 4 {
		dst = append(dst, binary.LittleEndian.Uint32(b[i:]))
	}
	return dst, nil
}

func grow(b []byte, n int) []byte {
	if cap(b)-len(b) >= n {
		return b
	}
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return out
}
