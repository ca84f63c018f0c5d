package sasquatch

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	gzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"sasquatch/internal/testimage"
)

type tarEntry struct {
	hdr  *tar.Header
	body []byte
}

// readTar decodes a tar stream, decompressing it by file name.
func readTar(t *testing.T, name string) map[string]tarEntry {
	t.Helper()
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	var r io.Reader = f
	switch filepath.Ext(name) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	case ".xz":
		r, err = xz.NewReader(f)
		require.NoError(t, err)
	}
	out := map[string]tarEntry{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = tarEntry{hdr: hdr, body: body}
	}
}

func tarTree() *testimage.Builder {
	b := sampleTree(testimage.Options{ModTime: 1700000000})
	b.File("etc/shadow", []byte("root:*:19000:0:99999:7:::\n")).Xattrs = []testimage.Xattr{
		{Name: "user.comment", Value: []byte("accounts")},
	}
	b.Hardlink("bin/sh", "bin/busybox")
	b.CharDev("dev/console", 5, 1)
	b.Fifo("dev/initctl")
	b.Socket("dev/log")
	return b
}

func TestTarBasic(t *testing.T) {
	for _, name := range []string{"out.tar", "out.tar.gz", "out.tar.xz"} {
		t.Run(name, func(t *testing.T) {
			img := openBytes(t, build(t, tarTree()))
			out := filepath.Join(t.TempDir(), name)
			sum, err := ExtractImage(t.Context(), img, Options{Tar: out})
			require.NoError(t, err)
			require.Equal(t, 1, sum.Skipped, "socket has no tar form")
			require.Zero(t, sum.Failed)

			entries := readTar(t, out)
			require.Equal(t, []byte("root:x:0:0:root:/root:/bin/sh\n"), entries["etc/passwd"].body)
			require.Equal(t, "accounts", entries["etc/shadow"].hdr.PAXRecords["SCHILY.xattr.user.comment"])
			require.Equal(t, pattern(200000), entries["bin/busybox"].body)
			require.Equal(t, int64(0o755), entries["bin/busybox"].hdr.Mode)

			link := entries["bin/sh"].hdr
			require.Equal(t, byte(tar.TypeLink), link.Typeflag)
			require.Equal(t, "bin/busybox", link.Linkname)

			sym := entries["lib/libc.so"].hdr
			require.Equal(t, byte(tar.TypeSymlink), sym.Typeflag)
			require.Equal(t, "../lib/libc.so.6", sym.Linkname)

			dev := entries["dev/console"].hdr
			require.Equal(t, byte(tar.TypeChar), dev.Typeflag)
			require.Equal(t, int64(5), dev.Devmajor)
			require.Equal(t, int64(1), dev.Devminor)
			require.Equal(t, byte(tar.TypeFifo), entries["dev/initctl"].hdr.Typeflag)

			require.Contains(t, entries, "var/empty/")
			require.NotContains(t, entries, "dev/log")
		})
	}
}

func TestTarModTime(t *testing.T) {
	img := openBytes(t, build(t, tarTree()))
	out := filepath.Join(t.TempDir(), "out.tar")
	_, err := ExtractImage(t.Context(), img, Options{Tar: out})
	require.NoError(t, err)
	want := time.Unix(1700000000, 0)
	for name, e := range readTar(t, out) {
		if !e.hdr.ModTime.Equal(want) {
			t.Errorf("%s: mtime %v, want %v", name, e.hdr.ModTime, want)
		}
	}
}

func TestTarNoXattrs(t *testing.T) {
	img := openBytes(t, build(t, tarTree()))
	out := filepath.Join(t.TempDir(), "out.tar")
	_, err := ExtractImage(t.Context(), img, Options{Tar: out, NoXattrs: true})
	require.NoError(t, err)
	require.Empty(t, readTar(t, out)["etc/shadow"].hdr.PAXRecords)
}

func TestTarPadsShortFiles(t *testing.T) {
	b := testimage.New(testimage.Options{BlockSize: 4096, NoFragments: true})
	b.File("data", bytes.Repeat([]byte("abcdefgh"), 3*512))
	lossy := DefaultRegistry().With(CompressionGzip, func(src []byte, maxSize int) ([]byte, error) {
		out, err := decompressZlib(src, maxSize)
		if err != nil || maxSize == metadataBlockSize {
			return out, err
		}
		return out[:len(out)/2], nil
	})
	img := openBytes(t, build(t, b), WithRegistry(lossy))
	out := filepath.Join(t.TempDir(), "out.tar")
	sum, err := ExtractImage(t.Context(), img, Options{Tar: out})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Warnings)

	e := readTar(t, out)["data"]
	require.Equal(t, int64(3*4096), e.hdr.Size)
	require.Len(t, e.body, 3*4096)
}
