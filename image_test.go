package sasquatch

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"sasquatch/internal/testimage"
)

func TestOpenHelloXZ(t *testing.T) {
	b := testimage.New(testimage.Options{Compression: testimage.XZ, BlockSize: 131072})
	b.File("hello.txt", []byte("hello world!\n"))
	img := openBytes(t, build(t, b))

	sb := img.Superblock()
	require.Equal(t, [4]byte{'h', 's', 'q', 's'}, sb.Magic)
	require.Equal(t, uint32(131072), sb.BlockSize)
	require.Equal(t, CompressionXZ, sb.Compression)
	require.Equal(t, "squashfs", img.Dialect().Name)

	root, err := img.Root()
	require.NoError(t, err)
	entries, err := img.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello.txt", entries[0].Name)
	require.Equal(t, InodeFile, entries[0].Type)

	ino, err := img.Inode(entries[0].Ref)
	require.NoError(t, err)
	require.Equal(t, int64(13), ino.Size())
	data, err := img.ReadFile(ino)
	require.NoError(t, err)
	require.Equal(t, "hello world!\n", string(data))
}

func TestCompressionMatrix(t *testing.T) {
	cases := []struct {
		name string
		opts testimage.Options
	}{
		{"gzip", testimage.Options{Compression: testimage.Gzip}},
		{"xz", testimage.Options{Compression: testimage.XZ}},
		{"lzma", testimage.Options{Compression: testimage.LZMA}},
		{"lz4", testimage.Options{Compression: testimage.LZ4}},
		{"zstd", testimage.Options{Compression: testimage.Zstd}},
		{"lzo raw blocks", testimage.Options{Compression: testimage.LZO}},
		{"uncompressed", testimage.Options{RawData: true, RawMetadata: true}},
		{"big endian", testimage.Options{Order: binary.BigEndian}},
		{"extended inodes", testimage.Options{Extended: true}},
		{"no fragments", testimage.Options{NoFragments: true}},
		{"small blocks", testimage.Options{BlockSize: 4096}},
		{"vendor shsq", testimage.Options{Magic: "shsq", Compression: testimage.LZMA, LZMA: testimage.LZMANoSize}},
		{"vendor qshs", testimage.Options{Magic: "qshs", Order: binary.BigEndian, Compression: testimage.LZMA, LZMA: testimage.LZMANoSize}},
		{"vendor hsqt", testimage.Options{Magic: "hsqt", Compression: testimage.LZMA, LZMA: testimage.LZMARaw}},
		{"vendor tqsh", testimage.Options{Magic: "tqsh", Order: binary.BigEndian, Compression: testimage.LZMA, LZMA: testimage.LZMARaw}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img := openBytes(t, build(t, sampleTree(tc.opts)))
			for p, want := range map[string][]byte{
				"etc/passwd":    []byte("root:x:0:0:root:/root:/bin/sh\n"),
				"lib/libc.so.6": bytes.Repeat([]byte("libc"), 5000),
				"bin/busybox":   pattern(200000),
			} {
				got, err := img.ReadFile(lookup(t, img, p))
				require.NoError(t, err, p)
				require.True(t, bytes.Equal(want, got), "%s content differs", p)
			}
			require.Equal(t, "../lib/libc.so.6", lookup(t, img, "lib/libc.so").Target)
		})
	}
}

func TestSharedFragment(t *testing.T) {
	b := testimage.New(testimage.Options{BlockSize: 4096})
	a := append(pattern(4096), []byte("tail of a")...)
	c := append(bytes.Repeat([]byte{'c'}, 8192), []byte("tail of c!")...)
	b.File("a", a)
	b.File("c", c)
	b.File("small", []byte("x"))
	img := openBytes(t, build(t, b))
	require.Equal(t, uint32(1), img.Superblock().Fragments)

	ia, ic, is := lookup(t, img, "a"), lookup(t, img, "c"), lookup(t, img, "small")
	require.Equal(t, ia.File.Fragment, ic.File.Fragment)
	require.Equal(t, ia.File.Fragment, is.File.Fragment)
	require.NotEqual(t, ia.File.FragOffset, ic.File.FragOffset)

	got, err := img.ReadFile(ia)
	require.NoError(t, err)
	require.Equal(t, a, got)
	got, err = img.ReadFile(ic)
	require.NoError(t, err)
	require.Equal(t, c, got)
	got, err = img.ReadFile(is)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)
}

func TestSparseFile(t *testing.T) {
	b := testimage.New(testimage.Options{BlockSize: 4096, Extended: true})
	data := make([]byte, 3*4096+100)
	copy(data[4096:], "middle block")
	b.File("sparse", data)
	img := openBytes(t, build(t, b))
	ino := lookup(t, img, "sparse")
	require.Equal(t, InodeLFile, ino.Type)
	require.Equal(t, uint32(0), ino.File.Blocks[0])
	require.Equal(t, uint32(0), ino.File.Blocks[2])
	require.Equal(t, uint64(2*4096), ino.File.Sparse)
	got, err := img.ReadFile(ino)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestInodeAttributes(t *testing.T) {
	b := testimage.New(testimage.Options{ModTime: 1700000000})
	f := b.File("owned", []byte("data"))
	f.UID, f.GID, f.Mode = 1000, 100, 0o4750
	b.CharDev("dev/console", 5, 1)
	b.BlockDev("dev/sda1", 8, 300)
	b.Fifo("run/fifo")
	b.Socket("run/sock")
	img := openBytes(t, build(t, b))

	ino := lookup(t, img, "owned")
	require.Equal(t, uint32(1000), ino.UID)
	require.Equal(t, uint32(100), ino.GID)
	require.Equal(t, int64(1700000000), ino.ModTime.Unix())
	require.Equal(t, "urwxr-x---", ino.Mode().String())

	con := lookup(t, img, "dev/console")
	require.Equal(t, InodeCharDev, con.Type)
	require.Equal(t, [2]uint32{5, 1}, [2]uint32{con.Major, con.Minor})
	sda := lookup(t, img, "dev/sda1")
	require.Equal(t, InodeBlockDev, sda.Type)
	require.Equal(t, [2]uint32{8, 300}, [2]uint32{sda.Major, sda.Minor})
	require.Equal(t, InodeFifo, lookup(t, img, "run/fifo").Type)
	require.Equal(t, InodeSocket, lookup(t, img, "run/sock").Type)
	require.Equal(t, uint32(2), lookup(t, img, "dev").Links)
}

func TestHardlinksShareInode(t *testing.T) {
	b := testimage.New(testimage.Options{})
	b.File("bin/busybox", []byte("#!busybox"))
	b.Hardlink("bin/sh", "bin/busybox")
	b.Hardlink("sbin/init", "bin/busybox")
	img := openBytes(t, build(t, b))

	bb := lookup(t, img, "bin/busybox")
	sh := lookup(t, img, "bin/sh")
	in := lookup(t, img, "sbin/init")
	require.Equal(t, bb.Number, sh.Number)
	require.Equal(t, bb.Number, in.Number)
	require.Equal(t, InodeLFile, bb.Type)
	require.Equal(t, uint32(3), bb.Links)
}

func TestXattrs(t *testing.T) {
	for _, outOfLine := range []bool{false, true} {
		b := testimage.New(testimage.Options{XattrOutOfLine: outOfLine})
		f := b.File("labelled", []byte("x"))
		f.Xattrs = []testimage.Xattr{
			{Name: "user.comment", Value: []byte("hi")},
			{Name: "security.selinux", Value: []byte("system_u:object_r:bin_t:s0\x00")},
			{Name: "weird.name", Value: []byte("dropped")},
		}
		b.File("plain", []byte("y"))
		img := openBytes(t, build(t, b))

		xs, err := img.Xattrs(lookup(t, img, "labelled"))
		require.NoError(t, err)
		require.Equal(t, []Xattr{
			{Name: "user.comment", Value: []byte("hi")},
			{Name: "security.selinux", Value: []byte("system_u:object_r:bin_t:s0\x00")},
		}, xs)

		xs, err = img.Xattrs(lookup(t, img, "plain"))
		require.NoError(t, err)
		require.Nil(t, xs)
	}
}

func TestLookupInode(t *testing.T) {
	b := sampleTree(testimage.Options{Export: true})
	data := build(t, b)
	img := openBytes(t, data)
	want := lookup(t, img, "etc/hostname")
	got, err := img.LookupInode(want.Number)
	require.NoError(t, err)
	require.Equal(t, want.Ref, got.Ref)

	img = openBytes(t, build(t, sampleTree(testimage.Options{})))
	_, err = img.LookupInode(1)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCompressorOptions(t *testing.T) {
	opts := make([]byte, 8)
	binary.LittleEndian.PutUint32(opts[0:4], 9)
	binary.LittleEndian.PutUint16(opts[4:6], 15)
	b := sampleTree(testimage.Options{CompressorOptions: opts})
	img := openBytes(t, build(t, b))
	co := img.CompressorOptions()
	require.NotNil(t, co)
	require.Equal(t, uint32(9), co.Level)
	require.Equal(t, uint16(15), co.WindowSize)
	require.True(t, img.Superblock().Flags.IsSet(fCompressorOptions))

	got, err := img.ReadFile(lookup(t, img, "etc/passwd"))
	require.NoError(t, err)
	require.Equal(t, "root:x:0:0:root:/root:/bin/sh\n", string(got))
}

func TestMetadataCacheMemoises(t *testing.T) {
	img := openBytes(t, build(t, sampleTree(testimage.Options{})))
	root, err := img.Root()
	require.NoError(t, err)
	entries, err := img.ReadDir(root)
	require.NoError(t, err)
	after := img.MetadataDecompressions()

	again, err := img.Root()
	require.NoError(t, err)
	require.Equal(t, root, again)
	entries2, err := img.ReadDir(again)
	require.NoError(t, err)
	require.Equal(t, entries, entries2)
	require.Equal(t, after, img.MetadataDecompressions())
}

func TestLargeDirectory(t *testing.T) {
	b := testimage.New(testimage.Options{})
	names := map[string]bool{}
	for i := 0; i < 700; i++ {
		name := "file-with-a-rather-long-name-" + string(rune('a'+i%26)) + "-" + strconv.Itoa(i)
		names[name] = true
		b.File("big/"+name, []byte(name))
	}
	img := openBytes(t, build(t, b))
	dir := lookup(t, img, "big")
	require.Greater(t, dir.Dir.Size, uint32(metadataBlockSize))

	entries, err := img.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 700)
	for i, e := range entries {
		require.True(t, names[e.Name], e.Name)
		if i > 0 {
			require.Less(t, entries[i-1].Name, e.Name)
		}
		ino, err := img.Inode(e.Ref)
		require.NoError(t, err)
		got, err := img.ReadFile(ino)
		require.NoError(t, err)
		require.Equal(t, e.Name, string(got))
	}
}

func TestTruncatedImage(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{}))
	sb := openBytes(t, data).Superblock()

	for _, cut := range []int{0, 50, superblockSize + 10, int(sb.InodeTable) + 3, len(data) - 1} {
		_, err := Open(bytes.NewReader(data[:cut]), int64(cut))
		require.ErrorIs(t, err, ErrTruncatedImage, "cut at %d", cut)
	}
}

func TestTruncatedReaderDuringWalk(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{}))
	sb := openBytes(t, data).Superblock()
	// The reader claims the full size but runs out mid inode table.
	r := &shortReader{data: data[:sb.InodeTable+4]}
	img, err := Open(r, int64(len(data)))
	if err != nil {
		require.ErrorIs(t, err, ErrTruncatedImage)
		return
	}
	err = img.Walk(t.Context(), func(e *Entry, err error) error { return nil })
	require.ErrorIs(t, err, ErrTruncatedImage)
}

type shortReader struct {
	data []byte
}

func (r *shortReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestOpenRejects(t *testing.T) {
	good := build(t, sampleTree(testimage.Options{}))
	patch := func(off int, v []byte) []byte {
		d := append([]byte(nil), good...)
		copy(d[off:], v)
		return d
	}
	u16 := func(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
	u32 := func(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
	u64 := func(v uint64) []byte { return binary.LittleEndian.AppendUint64(nil, v) }

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"unknown magic", patch(0, []byte("abcd")), ErrUnsupportedFormat},
		{"version 3", patch(28, u16(3)), ErrUnsupportedFormat},
		{"block size not power of two", patch(12, u32(100000)), ErrCorruptSuperblock},
		{"block log mismatch", patch(22, u16(12)), ErrCorruptSuperblock},
		{"bytes used beyond file", patch(40, u64(uint64(len(good))+1)), ErrTruncatedImage},
		{"no ids", patch(26, u16(0)), ErrCorruptSuperblock},
		{"inode table outside", patch(64, u64(uint64(len(good))+100)), ErrCorruptSuperblock},
		{"unknown compression", patch(20, u16(9)), ErrUnsupportedFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(bytes.NewReader(tc.data), int64(len(tc.data)))
			require.ErrorIs(t, err, tc.want)
			require.True(t, IsFatal(err))
		})
	}
}

func TestForcedDialect(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{Magic: "zzzz"}))
	_, err := Open(bytes.NewReader(data), int64(len(data)))
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	img := openBytes(t, data, WithByteOrder(binary.LittleEndian))
	require.Equal(t, "generic-le", img.Dialect().Name)
	got, err := img.ReadFile(lookup(t, img, "etc/hostname"))
	require.NoError(t, err)
	require.Equal(t, "router\n", string(got))

	d, err := DialectByName("squashfs")
	require.NoError(t, err)
	img = openBytes(t, data, WithDialect(d))
	require.Equal(t, "squashfs", img.Dialect().Name)
}

func TestCompressionOverride(t *testing.T) {
	data := build(t, sampleTree(testimage.Options{Compression: testimage.Zstd}))
	// Claim gzip in the superblock; the override restores zstd.
	binary.LittleEndian.PutUint16(data[20:22], uint16(CompressionGzip))
	img := openBytes(t, data, WithCompression(CompressionZstd))
	got, err := img.ReadFile(lookup(t, img, "etc/hostname"))
	require.NoError(t, err)
	require.Equal(t, "router\n", string(got))
}
