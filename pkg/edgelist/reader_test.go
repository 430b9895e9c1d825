package edgelist

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct{ u, v uint64 }

func readAll(t *testing.T, r *Reader) []pair {
	t.Helper()
	var out []pair
	for r.Next() {
		u, v := r.Edge()
		out = append(out, pair{u, v})
	}
	return out
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestReader_Basic(t *testing.T) {
	r := NewReader(strings.NewReader("0 1\n0 2\n1 3\n2 4\n"))
	got := readAll(t, r)

	require.NoError(t, r.Err())
	assert.Equal(t, []pair{{0, 1}, {0, 2}, {1, 3}, {2, 4}}, got)

	st := r.Stats()
	assert.Equal(t, int64(4), st.Lines)
	assert.Equal(t, int64(4), st.Edges)
	assert.Equal(t, int64(0), st.Skipped)
	assert.Equal(t, int64(16), st.Bytes)
}

func TestReader_CommentsAndBlanks(t *testing.T) {
	input := "# Directed graph: web-Google.txt\n" +
		"% matrix market style\n" +
		"\n" +
		"   \t\n" +
		"  # indented comment\n" +
		"0\t11342\n" +
		"  5   7  \r\n" +
		"18446744073709551615 0\n"

	r := NewReader(strings.NewReader(input))
	got := readAll(t, r)

	require.NoError(t, r.Err())
	assert.Equal(t, []pair{{0, 11342}, {5, 7}, {18446744073709551615, 0}}, got)

	st := r.Stats()
	assert.Equal(t, int64(8), st.Lines)
	assert.Equal(t, int64(3), st.Comments)
	assert.Equal(t, int64(0), st.Skipped, "blank and comment lines are not malformed")
}

func TestReader_ByteOrderMark(t *testing.T) {
	r := NewReader(strings.NewReader("\xEF\xBB\xBF0 1\n2 3\n"))
	got := readAll(t, r)

	require.NoError(t, r.Err())
	assert.Equal(t, []pair{{0, 1}, {2, 3}}, got)
	assert.Equal(t, int64(0), r.Stats().Skipped)

	// only a leading mark is ignored
	r = NewReader(strings.NewReader("0 1\n\xEF\xBB\xBF2 3\n"))
	got = readAll(t, r)
	assert.Equal(t, []pair{{0, 1}}, got)
	assert.Equal(t, int64(1), r.Stats().Skipped)
}

func TestReader_MalformedLines(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"letters", "xx yy"},
		{"one token", "42"},
		{"three tokens", "1 2 3"},
		{"negative", "-1 2"},
		{"plus sign", "+1 2"},
		{"overflow", "18446744073709551616 1"},
		{"float", "1.5 2"},
		{"hex", "0x1 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader("0 1\n" + tt.line + "\n2 3\n"))
			got := readAll(t, r)

			require.NoError(t, r.Err())
			assert.Equal(t, []pair{{0, 1}, {2, 3}}, got)
			assert.Equal(t, int64(1), r.Stats().Skipped)
		})
	}
}

func TestReader_OnSkipHook(t *testing.T) {
	var b strings.Builder
	b.WriteString("0 1\n")
	for i := 0; i < MaxSkipReports+5; i++ {
		b.WriteString("bad line\n")
	}

	var lines []int
	var texts []string
	r := NewReader(strings.NewReader(b.String()), WithOnSkip(func(line int, text string) {
		lines = append(lines, line)
		texts = append(texts, text)
	}))
	readAll(t, r)

	require.NoError(t, r.Err())
	assert.Equal(t, int64(MaxSkipReports+5), r.Stats().Skipped)
	require.Len(t, lines, MaxSkipReports)
	assert.Equal(t, 2, lines[0])
	assert.Equal(t, "bad line", texts[0])
}

func TestReader_EmptyInput(t *testing.T) {
	for _, input := range []string{"", "\n\n", "# only a comment\n"} {
		r := NewReader(strings.NewReader(input))
		assert.False(t, r.Next())
		assert.NoError(t, r.Err(), "input %q", input)
		assert.Equal(t, int64(0), r.Stats().Edges)
	}
}

func TestReader_AllMalformed(t *testing.T) {
	r := NewReader(strings.NewReader("# header\nfoo bar\n1 2 3\n"))
	assert.False(t, r.Next())

	err := r.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDatasetFormat))
	assert.False(t, errors.Is(err, ErrIO))
	assert.Equal(t, int64(2), r.Stats().Skipped)
}

func TestReader_LineTooLong(t *testing.T) {
	input := "0 1\n" + strings.Repeat("9", 200) + "\n"
	r := NewReader(strings.NewReader(input), WithMaxLineBytes(64))
	got := readAll(t, r)

	assert.Equal(t, []pair{{0, 1}}, got)
	require.Error(t, r.Err())
	assert.True(t, errors.Is(r.Err(), ErrIO))
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestOpen_PlainFile(t *testing.T) {
	path := writeFile(t, "g.txt", []byte("0 1\nxx yy\n2 3\n"))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got := readAll(t, r)
	require.NoError(t, r.Err())
	assert.Equal(t, []pair{{0, 1}, {2, 3}}, got)
	assert.Equal(t, int64(1), r.Stats().Skipped)

	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close(), "close is idempotent")
}

func TestOpen_Compressed(t *testing.T) {
	const text = "# compressed\n0 1\n1 2\n2 0\n"

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var zs bytes.Buffer
	zw, err := zstd.NewWriter(&zs)
	require.NoError(t, err)
	_, err = zw.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tests := []struct {
		name string
		file string
		data []byte
	}{
		{"gzip", "g.txt.gz", gz.Bytes()},
		{"zstd", "g.txt.zst", zs.Bytes()},
		{"gzip without extension", "g.txt", gz.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Open(writeFile(t, tt.file, tt.data))
			require.NoError(t, err)
			defer r.Close()

			got := readAll(t, r)
			require.NoError(t, r.Err())
			assert.Equal(t, []pair{{0, 1}, {1, 2}, {2, 0}}, got)
			assert.Equal(t, int64(len(text)), r.Stats().Bytes)
		})
	}
}

func TestOpen_CorruptGzip(t *testing.T) {
	path := writeFile(t, "bad.gz", []byte{0x1f, 0x8b, 0x00, 0x01, 0x02})

	r, err := Open(path)
	if err == nil {
		// header parsed; the failure surfaces while reading
		defer r.Close()
		readAll(t, r)
		err = r.Err()
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"0", 0, true},
		{"007", 7, true},
		{"18446744073709551615", 1<<64 - 1, true},
		{"18446744073709551616", 0, false},
		{"99999999999999999999", 0, false},
		{"", 0, false},
		{"1a", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseID([]byte(tt.in))
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func BenchmarkReader(b *testing.B) {
	var buf bytes.Buffer
	for i := 0; i < 100_000; i++ {
		buf.WriteString("123456 7890123\n")
	}
	data := buf.Bytes()

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := NewReader(bytes.NewReader(data))
		for r.Next() {
		}
		if r.Err() != nil {
			b.Fatal(r.Err())
		}
	}
}
