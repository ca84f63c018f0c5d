package sasquatch

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sasquatch/internal/testimage"
)

// checkSource opens path and verifies it holds the sample tree.
func checkSource(t *testing.T, path string, offset int64) *Source {
	t.Helper()
	src, err := OpenSource(path, offset)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	img, err := Open(src, src.Size())
	require.NoError(t, err)
	got, err := img.ReadFile(lookup(t, img, "lib/libc.so.6"))
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte("libc"), 5000), got)
	return src
}

func TestOpenSourcePlain(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{}))
	p := writeImage(t, t.TempDir(), "fw.sqfs", data)
	src := checkSource(t, p, 0)
	require.Equal(t, int64(len(data)), src.Size())
	require.Equal(t, 1, src.Parts)
	require.Empty(t, src.Container)
}

func TestOpenSourceContainers(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{}))
	cases := []struct {
		kind, name string
	}{
		{testimage.WrapGzip, "fw.sqfs.gz"},
		{testimage.WrapXZ, "fw.sqfs.xz"},
		{testimage.WrapZstd, "fw.sqfs.zst"},
		{testimage.WrapLZ4, "fw.sqfs.lz4"},
		{testimage.WrapSnappy, "fw.sqfs.sz"},
		{testimage.WrapS2, "fw.sqfs.s2"},
		{testimage.WrapBrotli, "fw.sqfs.br"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			wrapped, err := testimage.Wrap(tc.kind, data)
			require.NoError(t, err)
			p := writeImage(t, t.TempDir(), tc.name, wrapped)
			src := checkSource(t, p, 0)
			require.Equal(t, []string{tc.kind}, src.Container)
			require.Equal(t, int64(len(data)), src.Size())
		})
	}
}

func TestOpenSourceNested(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{}))
	gz, err := testimage.Wrap(testimage.WrapGzip, data)
	require.NoError(t, err)
	fec, err := testimage.FEC(gz, 4, 2)
	require.NoError(t, err)
	src := checkSource(t, writeImage(t, t.TempDir(), "fw.fec", fec), 0)
	require.Equal(t, []string{"fec", "gzip"}, src.Container)
}

func TestOpenSourceCorruptContainer(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{}))
	gz, err := testimage.Wrap(testimage.WrapGzip, data)
	require.NoError(t, err)
	p := writeImage(t, t.TempDir(), "fw.gz", gz[:len(gz)/2])
	_, err = OpenSource(p, 0)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOpenSourceOffset(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{}))
	prefixed := append(bytes.Repeat([]byte{0xaa}, 512), data...)
	p := writeImage(t, t.TempDir(), "dump.bin", prefixed)
	src := checkSource(t, p, 512)
	require.Equal(t, int64(len(data)), src.Size())

	_, err := OpenSource(p, int64(len(prefixed)))
	require.ErrorIs(t, err, ErrTruncatedImage)
	_, err = OpenSource(p, -1)
	require.ErrorIs(t, err, ErrTruncatedImage)
}

func TestOpenSourceSpans(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{}))
	third := len(data) / 3
	parts := [][]byte{data[:third], data[third : 2*third], data[2*third:]}

	for _, named := range []func(i int) string{
		func(i int) string { return fmt.Sprintf("%d-3.fw.sqfs", i) },
		func(i int) string { return fmt.Sprintf("%d.fw.sqfs", i) },
	} {
		dir := t.TempDir()
		for i, part := range parts {
			writeImage(t, dir, named(i+1), part)
		}
		src := checkSource(t, filepath.Join(dir, "fw.sqfs"), 0)
		require.Equal(t, 3, src.Parts)
		require.Equal(t, int64(len(data)), src.Size())
	}
}

func TestOpenSourceMissing(t *testing.T) {
	_, err := OpenSource(filepath.Join(t.TempDir(), "nope.sqfs"), 0)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSpanReaderCrossesParts(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, s := range []string{"abc", "de", "fghij"} {
		paths = append(paths, writeImage(t, dir, fmt.Sprintf("%d.x", i+1), []byte(s)))
	}
	sr, err := newSpanReader(paths)
	require.NoError(t, err)
	defer sr.Close()
	require.Equal(t, int64(10), sr.Size())

	buf := make([]byte, 6)
	n, err := sr.ReadAt(buf, 2)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "cdefgh", string(buf))
}
