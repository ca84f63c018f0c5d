package sasquatch

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sasquatch/internal/testimage"
)

func init() {
	SetLogOutput(io.Discard)
}

// build serialises b and fails the test on error.
func build(t *testing.T, b *testimage.Builder) []byte {
	t.Helper()
	data, err := b.Build()
	require.NoError(t, err)
	return data
}

func openBytes(t *testing.T, data []byte, opts ...OpenOption) *Image {
	t.Helper()
	img, err := Open(bytes.NewReader(data), int64(len(data)), opts...)
	require.NoError(t, err)
	return img
}

func writeImage(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// sampleTree is a small firmware-like tree used by several tests.
func sampleTree(opts testimage.Options) *testimage.Builder {
	b := testimage.New(opts)
	b.File("etc/passwd", []byte("root:x:0:0:root:/root:/bin/sh\n"))
	b.File("etc/hostname", []byte("router\n"))
	b.Symlink("lib/libc.so", "../lib/libc.so.6")
	b.File("lib/libc.so.6", bytes.Repeat([]byte("libc"), 5000))
	b.Dir("var/empty")
	b.File("bin/busybox", pattern(200000)).Mode = 0o755
	return b
}

// pattern returns n bytes that compress but are not trivially uniform.
func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + i/251)
	}
	return out
}

// lookup resolves a slash separated path from the root.
func lookup(t *testing.T, img *Image, p string) *Inode {
	t.Helper()
	var found *Inode
	err := img.Walk(t.Context(), func(e *Entry, err error) error {
		require.NoError(t, err)
		if e.Path == p {
			found = e.Inode
		}
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, found, "path %q not in image", p)
	return found
}
