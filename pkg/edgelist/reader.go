// Package edgelist reads undirected graphs stored as plain-text edge lists.
//
// The format is the one used by the SNAP collection (web-Google.txt and
// friends): one edge per line as two whitespace-separated base-10 node ids.
//
//	# Directed graph (each unordered pair of nodes is saved once)
//	# FromNodeId	ToNodeId
//	0	11342
//	0	824020
//
// Lines whose first non-space character is '#' or '%' are comments. Blank
// lines are ignored. Any other line that is not exactly two non-negative
// 64-bit integers is malformed: it is skipped, counted in Stats.Skipped and
// reported to the WithOnSkip hook. Parsing never stops on a malformed line.
//
// Gzip and zstd compressed inputs are detected from their magic bytes and
// decompressed on the fly.
//
// Example:
//
//	r, err := edgelist.Open("web-Google.txt.gz")
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	for r.Next() {
//		u, v := r.Edge()
//		fmt.Println(u, v)
//	}
//	if err := r.Err(); err != nil {
//		return err
//	}
package edgelist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Common errors
var (
	// ErrIO is returned when the input cannot be opened or read. The
	// underlying error is wrapped as well, so errors.Is(err, fs.ErrNotExist)
	// keeps working.
	ErrIO = errors.New("edge list i/o error")

	// ErrDatasetFormat is returned when the input contained malformed lines
	// and no usable edge at all.
	ErrDatasetFormat = errors.New("dataset format error")
)

const (
	// DefaultMaxLineBytes bounds the length of a single line.
	DefaultMaxLineBytes = 1 << 20

	// MaxSkipReports is how many malformed lines are passed to the OnSkip
	// hook per reader. Later ones are only counted.
	MaxSkipReports = 10

	// maxReportedText truncates the text handed to the OnSkip hook.
	maxReportedText = 120
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Stats counts what a Reader has consumed so far.
type Stats struct {
	Lines    int64 `json:"lines"`    // every line, including blanks and comments
	Edges    int64 `json:"edges"`    // usable data lines
	Skipped  int64 `json:"skipped"`  // malformed lines
	Comments int64 `json:"comments"` // '#' or '%' lines
	Bytes    int64 `json:"bytes"`    // decoded bytes read
}

// Option configures a Reader.
type Option func(*Reader)

// WithOnSkip registers a hook for malformed lines. It is called with the
// 1-based line number and the (possibly truncated) line text for the first
// MaxSkipReports malformed lines.
func WithOnSkip(fn func(line int, text string)) Option {
	return func(r *Reader) {
		r.onSkip = fn
	}
}

// WithMaxLineBytes overrides DefaultMaxLineBytes. Values <= 0 are ignored.
func WithMaxLineBytes(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

// Reader is a lazy, line-by-line edge sequence shaped like bufio.Scanner.
// It satisfies graph.EdgeSource.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	name    string
	sc      *bufio.Scanner
	counter *countingReader
	closers []io.Closer

	onSkip  func(line int, text string)
	maxLine int

	u, v  uint64
	stats Stats
	err   error
	done  bool
}

// Open opens path for reading. The file is closed by Reader.Close.
func Open(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	r := newReader(path, f, opts)
	r.closers = append(r.closers, f)
	if r.err != nil {
		_ = r.Close()
		return nil, r.err
	}
	return r, nil
}

// NewReader wraps an arbitrary stream. Closing the Reader releases any
// decompressor but never closes src.
//
// A decompressor that fails to initialise is reported by Err.
func NewReader(src io.Reader, opts ...Option) *Reader {
	return newReader("", src, opts)
}

func newReader(name string, src io.Reader, opts []Option) *Reader {
	r := &Reader{
		name:    name,
		maxLine: DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(r)
	}

	decoded, err := r.decompress(src)
	if err != nil {
		r.err = r.ioError(err)
		r.done = true
		return r
	}

	r.counter = &countingReader{r: decoded}
	r.sc = bufio.NewScanner(r.counter)
	initial := 64 * 1024
	if initial > r.maxLine {
		initial = r.maxLine
	}
	r.sc.Buffer(make([]byte, 0, initial), r.maxLine)
	return r
}

// decompress sniffs the first bytes of src and layers a gzip or zstd decoder
// on top when a magic number matches.
func (r *Reader) decompress(src io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(src, 64*1024)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, err
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		r.closers = append(r.closers, zr)
		return zr, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		rc := zr.IOReadCloser()
		r.closers = append(r.closers, rc)
		return rc, nil
	default:
		return br, nil
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Next advances to the next usable edge. It returns false at the end of the
// input or on a read error; check Err afterwards.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}
	for r.sc.Scan() {
		line := r.sc.Bytes()
		r.stats.Lines++
		if r.stats.Lines == 1 {
			line = bytes.TrimPrefix(line, utf8BOM)
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if trimmed[0] == '#' || trimmed[0] == '%' {
			r.stats.Comments++
			continue
		}

		u, v, ok := parseEdge(trimmed)
		if !ok {
			r.skip(trimmed)
			continue
		}
		r.u, r.v = u, v
		r.stats.Edges++
		return true
	}

	r.done = true
	r.stats.Bytes = r.counter.n
	if err := r.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			err = fmt.Errorf("line %d longer than %d bytes: %w", r.stats.Lines+1, r.maxLine, err)
		}
		r.err = r.ioError(err)
		return false
	}
	if r.stats.Edges == 0 && r.stats.Skipped > 0 {
		r.err = fmt.Errorf("%w: %s: no usable edges, %d malformed lines",
			ErrDatasetFormat, r.displayName(), r.stats.Skipped)
	}
	return false
}

// Edge returns the pair read by the last successful Next.
func (r *Reader) Edge() (u, v uint64) { return r.u, r.v }

// Err returns the first non-recoverable error. It is nil while the input is
// still being read and after a clean end.
func (r *Reader) Err() error { return r.err }

// Stats returns the counters accumulated so far.
func (r *Reader) Stats() Stats {
	s := r.stats
	if r.counter != nil {
		s.Bytes = r.counter.n
	}
	return s
}

// Close releases the decompressor and, for readers created by Open, the file.
// It is safe to call more than once.
func (r *Reader) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	r.done = true
	return first
}

func (r *Reader) skip(line []byte) {
	r.stats.Skipped++
	if r.onSkip == nil || r.stats.Skipped > MaxSkipReports {
		return
	}
	if len(line) > maxReportedText {
		line = line[:maxReportedText]
	}
	r.onSkip(int(r.stats.Lines), string(line))
}

func (r *Reader) ioError(err error) error {
	return fmt.Errorf("%w: read %s: %w", ErrIO, r.displayName(), err)
}

func (r *Reader) displayName() string {
	if r.name == "" {
		return "<stream>"
	}
	return r.name
}

// parseEdge accepts exactly two unsigned decimal tokens separated by
// whitespace. line must already be trimmed.
func parseEdge(line []byte) (u, v uint64, ok bool) {
	first, rest := nextToken(line)
	second, rest := nextToken(rest)
	if len(second) == 0 || len(bytes.TrimSpace(rest)) != 0 {
		return 0, 0, false
	}
	if u, ok = parseID(first); !ok {
		return 0, 0, false
	}
	if v, ok = parseID(second); !ok {
		return 0, 0, false
	}
	return u, v, true
}

func nextToken(b []byte) (tok, rest []byte) {
	i := 0
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	j := i
	for j < len(b) && !isSpace(b[j]) {
		j++
	}
	return b[i:j], b[j:]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\v' || c == '\f'
}

// parseID is strconv.ParseUint(base 10, 64 bits) without the string
// conversion per token.
func parseID(b []byte) (uint64, bool) {
	if len(b) == 0 || len(b) > 20 {
		return 0, false
	}
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := uint64(c - '0')
		if n > (1<<64-1-d)/10 {
			return 0, false
		}
		n = n*10 + d
	}
	return n, true
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
