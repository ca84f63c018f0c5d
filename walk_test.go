package sasquatch

import (
	"bytes"
	"context"
	"encoding/binary"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sasquatch/internal/testimage"
)

func walkPaths(t *testing.T, img *Image, fn func(e *Entry, err error) error) ([]string, error) {
	t.Helper()
	var paths []string
	err := img.Walk(t.Context(), func(e *Entry, err error) error {
		paths = append(paths, e.Path)
		if fn != nil {
			return fn(e, err)
		}
		return nil
	})
	return paths, err
}

func TestWalkOrder(t *testing.T) {
	img := openBytes(t, build(t, sampleTree(testimage.Options{})))
	paths, err := walkPaths(t, img, func(e *Entry, err error) error {
		require.NoError(t, err)
		require.Equal(t, strings.Count(e.Path, "/")+1, max(e.Depth, 1))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"",
		"bin", "bin/busybox",
		"etc", "etc/hostname", "etc/passwd",
		"lib", "lib/libc.so", "lib/libc.so.6",
		"var", "var/empty",
	}, paths)
}

func TestWalkSkip(t *testing.T) {
	img := openBytes(t, build(t, sampleTree(testimage.Options{})))
	paths, err := walkPaths(t, img, func(e *Entry, err error) error {
		if e.Path == "etc" || e.Path == "lib" {
			return fs.SkipDir
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"", "bin", "bin/busybox", "etc", "lib", "var", "var/empty"}, paths)

	paths, err = walkPaths(t, img, func(e *Entry, err error) error {
		if e.Path == "etc/hostname" {
			return fs.SkipAll
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "etc/hostname", paths[len(paths)-1])
}

func TestWalkCancelled(t *testing.T) {
	img := openBytes(t, build(t, sampleTree(testimage.Options{})))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := img.Walk(ctx, func(e *Entry, err error) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

// rawImage builds b with uncompressed metadata so listings can be patched
// in place.
func rawImage(t *testing.T, b *testimage.Builder) ([]byte, Superblock) {
	t.Helper()
	data := build(t, b)
	return data, openBytes(t, data).Superblock()
}

// entryName finds a name in the directory table and returns its offset.
func entryName(t *testing.T, data []byte, sb Superblock, name string) int {
	t.Helper()
	table := data[sb.DirectoryTable:]
	i := bytes.Index(table, []byte(name))
	require.GreaterOrEqual(t, i, 0, "%q not in directory table", name)
	return int(sb.DirectoryTable) + i
}

func TestWalkRejectsBadNames(t *testing.T) {
	for _, bad := range []string{"..", "a/", ".\x00"} {
		b := testimage.New(testimage.Options{RawMetadata: true})
		b.File("QQ", []byte("evil"))
		b.File("ok", []byte("fine"))
		data, sb := rawImage(t, b)
		copy(data[entryName(t, data, sb, "QQ"):], bad)

		img := openBytes(t, data)
		var problems []string
		paths, err := walkPaths(t, img, func(e *Entry, err error) error {
			if err != nil {
				require.ErrorIs(t, err, ErrMalformedTree)
				require.Nil(t, e.Inode)
				problems = append(problems, e.Path)
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{bad}, problems)
		require.Contains(t, paths, "ok")
	}
}

func TestWalkTypeMismatch(t *testing.T) {
	b := testimage.New(testimage.Options{RawMetadata: true})
	b.File("QQ", []byte("not a link"))
	b.File("zz", []byte("fine"))
	data, sb := rawImage(t, b)
	// Entry layout: offset, delta, type, name size, name.
	binary.LittleEndian.PutUint16(data[entryName(t, data, sb, "QQ")-4:], uint16(InodeSymlink))

	img := openBytes(t, data)
	var failed []string
	_, err := walkPaths(t, img, func(e *Entry, err error) error {
		if err != nil {
			require.ErrorIs(t, err, ErrInvalidInode)
			require.False(t, IsFatal(err))
			failed = append(failed, e.Path)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"QQ"}, failed)
}

func TestWalkDetectsCycle(t *testing.T) {
	b := testimage.New(testimage.Options{RawMetadata: true})
	b.Dir("loop")
	data, sb := rawImage(t, b)
	name := entryName(t, data, sb, "loop")
	// Point the only entry back at the root: root is inode 1, the entry's
	// header base is loop's own number 2.
	binary.LittleEndian.PutUint16(data[name-8:], sb.RootInode.Offset())
	binary.LittleEndian.PutUint16(data[name-6:], uint16(0xffff))

	img := openBytes(t, data)
	var problem error
	_, err := walkPaths(t, img, func(e *Entry, err error) error {
		if err != nil {
			problem = err
		}
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, problem, ErrMalformedTree)
}

func TestWalkDepthLimit(t *testing.T) {
	b := testimage.New(testimage.Options{})
	b.Dir(strings.Repeat("d/", MaxDepth+1))
	img := openBytes(t, build(t, b))
	var deepest int
	var problem error
	_, err := walkPaths(t, img, func(e *Entry, err error) error {
		if err != nil {
			problem = err
			return nil
		}
		deepest = max(deepest, e.Depth)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, MaxDepth, deepest)
	require.ErrorIs(t, problem, ErrMalformedTree)
}

func TestReadDirPartial(t *testing.T) {
	b := testimage.New(testimage.Options{RawMetadata: true})
	b.File("aa", []byte("1"))
	b.File("bb", []byte("2"))
	data, sb := rawImage(t, b)
	// Push the second entry's number out of range.
	binary.LittleEndian.PutUint16(data[entryName(t, data, sb, "bb")-6:], uint16(1000))

	img := openBytes(t, data)
	root, err := img.Root()
	require.NoError(t, err)
	entries, err := img.ReadDir(root)
	require.ErrorIs(t, err, ErrMalformedTree)
	require.Len(t, entries, 1)
	require.Equal(t, "aa", entries[0].Name)

	var reported bool
	paths, err := walkPaths(t, img, func(e *Entry, err error) error {
		if err != nil && e.Path == "" {
			reported = true
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, reported)
	require.Equal(t, []string{"", "", "aa"}, paths)
}
