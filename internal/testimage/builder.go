// Package testimage builds small SquashFS 4 images in memory for tests.
//
// The layout follows mksquashfs: superblock, optional compressor options,
// data and fragment blocks, then the inode, directory, fragment, export,
// id and xattr tables. Inodes are written children first so every
// directory listing can point at inodes that already have a position.
package testimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"path"
	"sort"
	"strings"
)

// Compressor ids as stored in the superblock.
const (
	None uint16 = 0
	Gzip uint16 = 1
	LZMA uint16 = 2
	LZO  uint16 = 3
	XZ   uint16 = 4
	LZ4  uint16 = 5
	Zstd uint16 = 6
)

// LZMA framings.
const (
	LZMAStandard = iota
	LZMANoSize
	LZMARaw
)

// Superblock flags.
const (
	FlagUncompressedInodes uint16 = 1 << iota
	FlagUncompressedData
	FlagCheck
	FlagUncompressedFragments
	FlagNoFragments
	FlagAlwaysFragments
	FlagDuplicates
	FlagExportable
	FlagUncompressedXattrs
	FlagNoXattrs
	FlagCompressorOptions
	FlagUncompressedIDs
)

// Absent marks an optional table that is not written.
const Absent = 0xffffffffffffffff

const (
	metaBlockSize = 8192
	metaRaw       = 0x8000
	dataRaw       = 1 << 24
	noFragment    = 0xffffffff
	noXattr       = 0xffffffff
)

// Kind is the type of a node.
type Kind uint8

const (
	KindDir Kind = iota
	KindFile
	KindSymlink
	KindBlockDev
	KindCharDev
	KindFifo
	KindSocket
	KindHardlink
)

// basic on-disk inode type; extended types add 7
func (k Kind) inodeType() uint16 {
	switch k {
	case KindDir:
		return 1
	case KindFile:
		return 2
	case KindSymlink:
		return 3
	case KindBlockDev:
		return 4
	case KindCharDev:
		return 5
	case KindFifo:
		return 6
	case KindSocket:
		return 7
	}
	return 0
}

// Xattr is an attribute with its full name, e.g. "user.comment". Names
// without a known prefix are stored with prefix id 7.
type Xattr struct {
	Name  string
	Value []byte
}

// Options controls the image layout. The zero value gives a little endian
// gzip image with 128KiB blocks.
type Options struct {
	Order       binary.ByteOrder
	Magic       string
	Compression uint16
	LZMA        int
	BlockSize   uint32
	Major       uint16
	Minor       uint16
	ModTime     uint32

	// Extended writes every inode in its extended form.
	Extended    bool
	NoFragments bool
	Export      bool
	// RawMetadata and RawData store blocks uncompressed with the raw bit.
	RawMetadata bool
	RawData     bool
	// CompressorOptions is written after the superblock when set.
	CompressorOptions []byte
	// XattrOutOfLine stores every xattr value out of line.
	XattrOutOfLine bool
}

// Node is one entry of the tree. Fields may be changed until Build.
type Node struct {
	Name    string
	Kind    Kind
	Mode    uint16
	UID     uint32
	GID     uint32
	ModTime uint32

	Data         []byte
	Target       string
	Major, Minor uint32
	Xattrs       []Xattr
	Link         *Node

	children []*Node
	parent   *Node

	number   uint32
	ref      uint64
	written  bool
	links    uint32
	start    uint64
	blocks   []uint32
	sparse   uint64
	frag     uint32
	fragOff  uint32
	xattrIdx uint32
}

// Ref is the inode reference assigned by the last Build.
func (n *Node) Ref() uint64 { return n.ref }

// Number is the inode number assigned by the last Build.
func (n *Node) Number() uint32 { return n.number }

func (n *Node) target() *Node {
	if n.Kind == KindHardlink {
		return n.Link
	}
	return n
}

// Builder collects a tree and serialises it.
type Builder struct {
	opts Options
	root *Node

	nodes    []*Node
	ids      []uint32
	idIndex  map[uint32]uint16
	inodes   *metaWriter
	dirs     *metaWriter
	kv       *metaWriter
	xids     []byte
	xcount   uint32
	fragBuf  []byte
	frags    [][16]byte
	data     bytes.Buffer
	dataBase uint64
}

// New returns a builder holding only the root directory.
func New(opts Options) *Builder {
	if opts.Order == nil {
		opts.Order = binary.LittleEndian
	}
	if opts.Magic == "" {
		opts.Magic = "hsqs"
		if opts.Order == binary.BigEndian {
			opts.Magic = "sqsh"
		}
	}
	if opts.Compression == None {
		opts.Compression = Gzip
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = 128 * 1024
	}
	if opts.Major == 0 {
		opts.Major = 4
	}
	return &Builder{
		opts: opts,
		root: &Node{Kind: KindDir, Mode: 0o755, ModTime: opts.ModTime},
	}
}

// Root is the root directory.
func (b *Builder) Root() *Node { return b.root }

func (b *Builder) lookup(p string) *Node {
	n := b.root
	for _, name := range strings.Split(strings.Trim(p, "/"), "/") {
		if name == "" {
			continue
		}
		var next *Node
		for _, c := range n.children {
			if c.Name == name {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	return n
}

// add creates the parents of p as needed and appends a node named after
// the last element.
func (b *Builder) add(p string, n *Node) *Node {
	dir, name := path.Split(strings.Trim(p, "/"))
	parent := b.Dir(dir)
	n.Name = name
	n.parent = parent
	if n.ModTime == 0 {
		n.ModTime = b.opts.ModTime
	}
	parent.children = append(parent.children, n)
	return n
}

// Dir returns the directory at p, creating it and its parents.
func (b *Builder) Dir(p string) *Node {
	p = strings.Trim(p, "/")
	if p == "" {
		return b.root
	}
	if n := b.lookup(p); n != nil {
		return n
	}
	return b.add(p, &Node{Kind: KindDir, Mode: 0o755})
}

func (b *Builder) File(p string, data []byte) *Node {
	return b.add(p, &Node{Kind: KindFile, Mode: 0o644, Data: data})
}

func (b *Builder) Symlink(p, target string) *Node {
	return b.add(p, &Node{Kind: KindSymlink, Mode: 0o777, Target: target})
}

func (b *Builder) BlockDev(p string, major, minor uint32) *Node {
	return b.add(p, &Node{Kind: KindBlockDev, Mode: 0o660, Major: major, Minor: minor})
}

func (b *Builder) CharDev(p string, major, minor uint32) *Node {
	return b.add(p, &Node{Kind: KindCharDev, Mode: 0o666, Major: major, Minor: minor})
}

func (b *Builder) Fifo(p string) *Node {
	return b.add(p, &Node{Kind: KindFifo, Mode: 0o644})
}

func (b *Builder) Socket(p string) *Node {
	return b.add(p, &Node{Kind: KindSocket, Mode: 0o755})
}

// Hardlink adds p as another name for the existing non-directory at target.
func (b *Builder) Hardlink(p, target string) *Node {
	t := b.lookup(target)
	if t == nil || t.Kind == KindDir || t.Kind == KindHardlink {
		panic(fmt.Sprintf("testimage: hard link target %q", target))
	}
	return b.add(p, &Node{Kind: KindHardlink, Link: t})
}

// Build serialises the tree.
func (b *Builder) Build() ([]byte, error) {
	o := b.opts
	if o.BlockSize < 4096 || o.BlockSize > 1<<20 || bits.OnesCount32(o.BlockSize) != 1 {
		return nil, fmt.Errorf("testimage: block size %d", o.BlockSize)
	}
	if len(o.Magic) != 4 {
		return nil, fmt.Errorf("testimage: magic %q", o.Magic)
	}
	b.nodes = nil
	b.ids = nil
	b.idIndex = map[uint32]uint16{}
	b.inodes = &metaWriter{b: b, raw: o.RawMetadata}
	b.dirs = &metaWriter{b: b, raw: o.RawMetadata}
	b.kv = &metaWriter{b: b, raw: o.RawMetadata}
	b.xids = nil
	b.xcount = 0
	b.fragBuf = nil
	b.frags = nil
	b.data.Reset()

	b.number(b.root)
	b.countLinks()
	for _, n := range b.nodes {
		n.written = false
		n.xattrIdx = noXattr
		b.id(n.UID)
		b.id(n.GID)
	}

	// Compressor options are a raw metadata block right after the superblock.
	b.dataBase = 96
	var options []byte
	if o.CompressorOptions != nil {
		options = make([]byte, 2, 2+len(o.CompressorOptions))
		o.Order.PutUint16(options, uint16(len(o.CompressorOptions))|metaRaw)
		options = append(options, o.CompressorOptions...)
		b.dataBase += uint64(len(options))
	}

	for _, n := range b.nodes {
		if n.Kind == KindFile {
			if err := b.writeData(n); err != nil {
				return nil, err
			}
		}
	}
	if err := b.flushFragment(); err != nil {
		return nil, err
	}

	if err := b.writeInode(b.root); err != nil {
		return nil, err
	}

	out := &bytes.Buffer{}
	out.Write(make([]byte, 96))
	out.Write(options)
	out.Write(b.data.Bytes())

	inodeTable, err := b.inodes.appendTo(out)
	if err != nil {
		return nil, err
	}
	dirTable, err := b.dirs.appendTo(out)
	if err != nil {
		return nil, err
	}

	fragTable := uint64(Absent)
	if len(b.frags) > 0 {
		w := &metaWriter{b: b, raw: o.RawMetadata}
		for _, f := range b.frags {
			w.write(f[:])
		}
		if fragTable, err = w.appendIndexed(out); err != nil {
			return nil, err
		}
	}

	exportTable := uint64(Absent)
	if o.Export {
		w := &metaWriter{b: b, raw: o.RawMetadata}
		refs := make([]uint64, len(b.nodes))
		for _, n := range b.nodes {
			refs[n.number-1] = n.ref
		}
		for _, r := range refs {
			w.write(b.u64(r))
		}
		if exportTable, err = w.appendIndexed(out); err != nil {
			return nil, err
		}
	}

	w := &metaWriter{b: b, raw: o.RawMetadata}
	for _, id := range b.ids {
		w.write(b.u32(id))
	}
	idTable, err := w.appendIndexed(out)
	if err != nil {
		return nil, err
	}

	xattrTable := uint64(Absent)
	if b.xcount > 0 {
		kvStart, err := b.kv.appendTo(out)
		if err != nil {
			return nil, err
		}
		ids := &metaWriter{b: b, raw: o.RawMetadata}
		ids.write(b.xids)
		idsStart, err := ids.appendTo(out)
		if err != nil {
			return nil, err
		}
		xattrTable = uint64(out.Len())
		out.Write(b.u64(kvStart))
		out.Write(b.u32(b.xcount))
		out.Write(b.u32(0))
		for _, s := range ids.starts {
			out.Write(b.u64(idsStart + s))
		}
	}

	var flags uint16
	if o.RawMetadata {
		flags |= FlagUncompressedInodes | FlagUncompressedFragments | FlagUncompressedIDs | FlagUncompressedXattrs
	}
	if o.RawData {
		flags |= FlagUncompressedData
	}
	if o.NoFragments {
		flags |= FlagNoFragments
	}
	if o.Export {
		flags |= FlagExportable
	}
	if b.xcount == 0 {
		flags |= FlagNoXattrs
	}
	if options != nil {
		flags |= FlagCompressorOptions
	}

	img := out.Bytes()
	sb := img[:96]
	ord := o.Order
	copy(sb[0:4], o.Magic)
	ord.PutUint32(sb[4:8], uint32(len(b.nodes)))
	ord.PutUint32(sb[8:12], o.ModTime)
	ord.PutUint32(sb[12:16], o.BlockSize)
	ord.PutUint32(sb[16:20], uint32(len(b.frags)))
	ord.PutUint16(sb[20:22], o.Compression)
	ord.PutUint16(sb[22:24], uint16(bits.TrailingZeros32(o.BlockSize)))
	ord.PutUint16(sb[24:26], flags)
	ord.PutUint16(sb[26:28], uint16(len(b.ids)))
	ord.PutUint16(sb[28:30], o.Major)
	ord.PutUint16(sb[30:32], o.Minor)
	ord.PutUint64(sb[32:40], b.root.ref)
	ord.PutUint64(sb[40:48], uint64(len(img)))
	ord.PutUint64(sb[48:56], idTable)
	ord.PutUint64(sb[56:64], xattrTable)
	ord.PutUint64(sb[64:72], inodeTable)
	ord.PutUint64(sb[72:80], dirTable)
	ord.PutUint64(sb[80:88], fragTable)
	ord.PutUint64(sb[88:96], exportTable)
	return img, nil
}

// number assigns inode numbers depth first, parents before children.
// Hard links share the number of their target.
func (b *Builder) number(n *Node) {
	if n.Kind == KindHardlink {
		return
	}
	b.nodes = append(b.nodes, n)
	n.number = uint32(len(b.nodes))
	n.links = 1
	if n.Kind == KindDir {
		n.links = 2
		sort.SliceStable(n.children, func(i, j int) bool { return n.children[i].Name < n.children[j].Name })
		for _, c := range n.children {
			if c.Kind == KindDir {
				n.links++
			}
		}
		for _, c := range n.children {
			b.number(c)
		}
	}
}

func (b *Builder) countLinks() {
	for _, n := range b.nodes {
		for _, c := range n.children {
			if c.Kind == KindHardlink {
				c.Link.links++
			}
		}
	}
}

func (b *Builder) id(v uint32) uint16 {
	if i, ok := b.idIndex[v]; ok {
		return i
	}
	i := uint16(len(b.ids))
	b.ids = append(b.ids, v)
	b.idIndex[v] = i
	return i
}

func (b *Builder) u16(v uint16) []byte {
	buf := make([]byte, 2)
	b.opts.Order.PutUint16(buf, v)
	return buf
}

func (b *Builder) u32(v uint32) []byte {
	buf := make([]byte, 4)
	b.opts.Order.PutUint32(buf, v)
	return buf
}

func (b *Builder) u64(v uint64) []byte {
	buf := make([]byte, 8)
	b.opts.Order.PutUint64(buf, v)
	return buf
}

func isZero(p []byte) bool {
	for _, c := range p {
		if c != 0 {
			return false
		}
	}
	return true
}

// writeData stores the full blocks of n and queues its tail in the
// current fragment.
func (b *Builder) writeData(n *Node) error {
	bs := int(b.opts.BlockSize)
	size := len(n.Data)
	n.start = b.dataBase + uint64(b.data.Len())
	n.blocks = nil
	n.sparse = 0
	n.frag = noFragment
	n.fragOff = 0

	full := size / bs
	tail := size % bs
	if b.opts.NoFragments && tail > 0 {
		full++
		tail = 0
	}
	for i := 0; i < full; i++ {
		chunk := n.Data[i*bs : min((i+1)*bs, size)]
		if isZero(chunk) {
			n.blocks = append(n.blocks, 0)
			n.sparse += uint64(len(chunk))
			continue
		}
		word, stored, err := b.dataBlock(chunk)
		if err != nil {
			return err
		}
		n.blocks = append(n.blocks, word)
		b.data.Write(stored)
	}
	if tail == 0 {
		return nil
	}
	if len(b.fragBuf)+tail > bs {
		if err := b.flushFragment(); err != nil {
			return err
		}
	}
	n.frag = uint32(len(b.frags))
	n.fragOff = uint32(len(b.fragBuf))
	b.fragBuf = append(b.fragBuf, n.Data[full*bs:]...)
	return nil
}

func (b *Builder) dataBlock(chunk []byte) (uint32, []byte, error) {
	if !b.opts.RawData {
		c, err := b.compress(chunk)
		if err != nil {
			return 0, nil, err
		}
		if c != nil && len(c) < len(chunk) {
			return uint32(len(c)), c, nil
		}
	}
	return uint32(len(chunk)) | dataRaw, chunk, nil
}

func (b *Builder) flushFragment() error {
	if len(b.fragBuf) == 0 {
		return nil
	}
	word, stored, err := b.dataBlock(b.fragBuf)
	if err != nil {
		return err
	}
	var e [16]byte
	b.opts.Order.PutUint64(e[0:8], b.dataBase+uint64(b.data.Len()))
	b.opts.Order.PutUint32(e[8:12], word)
	b.frags = append(b.frags, e)
	b.data.Write(stored)
	b.fragBuf = nil
	return nil
}

func (b *Builder) extended(n *Node) bool {
	if b.opts.Extended || len(n.Xattrs) > 0 {
		return true
	}
	return n.Kind == KindFile && (n.links > 1 || len(n.Data) > 0xffffffff || n.start > 0xffffffff)
}

// writeInode writes n after everything it refers to.
func (b *Builder) writeInode(n *Node) error {
	n = n.target()
	if n.written {
		return nil
	}
	n.written = true
	var listing []byte
	if n.Kind == KindDir {
		for _, c := range n.children {
			if err := b.writeInode(c); err != nil {
				return err
			}
		}
		listing = b.listing(n)
	}
	if len(n.Xattrs) > 0 {
		n.xattrIdx = b.writeXattrs(n.Xattrs)
	}

	ext := b.extended(n) || len(listing)+3 > 0xffff
	typ := n.Kind.inodeType()
	if ext {
		typ += 7
	}
	block, off := b.inodes.pos()
	n.ref = block<<16 | uint64(off)

	var buf []byte
	buf = append(buf, b.u16(typ)...)
	buf = append(buf, b.u16(n.Mode)...)
	buf = append(buf, b.u16(b.id(n.UID))...)
	buf = append(buf, b.u16(b.id(n.GID))...)
	buf = append(buf, b.u32(n.ModTime)...)
	buf = append(buf, b.u32(n.number)...)

	switch n.Kind {
	case KindDir:
		lblock, loff := b.dirs.pos()
		b.dirs.write(listing)
		parent := uint32(len(b.nodes) + 1)
		if n.parent != nil {
			parent = n.parent.number
		}
		size := uint32(len(listing) + 3)
		if ext {
			buf = append(buf, b.u32(n.links)...)
			buf = append(buf, b.u32(size)...)
			buf = append(buf, b.u32(uint32(lblock))...)
			buf = append(buf, b.u32(parent)...)
			buf = append(buf, b.u16(0)...)
			buf = append(buf, b.u16(loff)...)
			buf = append(buf, b.u32(n.xattrIdx)...)
		} else {
			buf = append(buf, b.u32(uint32(lblock))...)
			buf = append(buf, b.u32(n.links)...)
			buf = append(buf, b.u16(uint16(size))...)
			buf = append(buf, b.u16(loff)...)
			buf = append(buf, b.u32(parent)...)
		}
	case KindFile:
		if ext {
			buf = append(buf, b.u64(n.start)...)
			buf = append(buf, b.u64(uint64(len(n.Data)))...)
			buf = append(buf, b.u64(n.sparse)...)
			buf = append(buf, b.u32(n.links)...)
			buf = append(buf, b.u32(n.frag)...)
			buf = append(buf, b.u32(n.fragOff)...)
			buf = append(buf, b.u32(n.xattrIdx)...)
		} else {
			buf = append(buf, b.u32(uint32(n.start))...)
			buf = append(buf, b.u32(n.frag)...)
			buf = append(buf, b.u32(n.fragOff)...)
			buf = append(buf, b.u32(uint32(len(n.Data)))...)
		}
		for _, w := range n.blocks {
			buf = append(buf, b.u32(w)...)
		}
	case KindSymlink:
		buf = append(buf, b.u32(n.links)...)
		buf = append(buf, b.u32(uint32(len(n.Target)))...)
		buf = append(buf, n.Target...)
		if ext {
			buf = append(buf, b.u32(n.xattrIdx)...)
		}
	case KindBlockDev, KindCharDev:
		dev := (n.Minor & 0xff) | (n.Major&0xfff)<<8 | (n.Minor&^0xff)<<12
		buf = append(buf, b.u32(n.links)...)
		buf = append(buf, b.u32(dev)...)
		if ext {
			buf = append(buf, b.u32(n.xattrIdx)...)
		}
	case KindFifo, KindSocket:
		buf = append(buf, b.u32(n.links)...)
		if ext {
			buf = append(buf, b.u32(n.xattrIdx)...)
		}
	default:
		return fmt.Errorf("testimage: node %q of kind %d", n.Name, n.Kind)
	}
	b.inodes.write(buf)
	return nil
}

// listing encodes the children of n. A header is started whenever the
// inode block changes, the number delta leaves int16 range, or 256
// entries have been written under the current header.
func (b *Builder) listing(n *Node) []byte {
	var out []byte
	kids := n.children
	for i := 0; i < len(kids); {
		first := kids[i].target()
		block := first.ref >> 16
		base := first.number
		j := i
		for j < len(kids) && j-i < 256 {
			c := kids[j].target()
			delta := int64(c.number) - int64(base)
			if c.ref>>16 != block || delta < -32768 || delta > 32767 {
				break
			}
			j++
		}
		out = append(out, b.u32(uint32(j-i-1))...)
		out = append(out, b.u32(uint32(block))...)
		out = append(out, b.u32(base)...)
		for _, k := range kids[i:j] {
			c := k.target()
			out = append(out, b.u16(uint16(c.ref&0xffff))...)
			out = append(out, b.u16(uint16(int16(int64(c.number)-int64(base))))...)
			out = append(out, b.u16(c.Kind.inodeType())...)
			out = append(out, b.u16(uint16(len(k.Name)-1))...)
			out = append(out, k.Name...)
		}
		i = j
	}
	return out
}

var xattrPrefixes = []string{"user.", "trusted.", "security."}

func splitXattr(name string) (uint16, string) {
	for i, p := range xattrPrefixes {
		if strings.HasPrefix(name, p) {
			return uint16(i), strings.TrimPrefix(name, p)
		}
	}
	return 7, name
}

// writeXattrs stores one attribute set and returns its id index.
func (b *Builder) writeXattrs(xs []Xattr) uint32 {
	var vrefs []uint64
	if b.opts.XattrOutOfLine {
		for _, x := range xs {
			block, off := b.kv.pos()
			vrefs = append(vrefs, block<<16|uint64(off))
			b.kv.write(b.u32(uint32(len(x.Value))))
			b.kv.write(x.Value)
		}
	}
	block, off := b.kv.pos()
	var size uint32
	for i, x := range xs {
		typ, name := splitXattr(x.Name)
		var rec []byte
		if vrefs != nil {
			rec = append(rec, b.u16(typ|0x100)...)
			rec = append(rec, b.u16(uint16(len(name)))...)
			rec = append(rec, name...)
			rec = append(rec, b.u32(8)...)
			rec = append(rec, b.u64(vrefs[i])...)
		} else {
			rec = append(rec, b.u16(typ)...)
			rec = append(rec, b.u16(uint16(len(name)))...)
			rec = append(rec, name...)
			rec = append(rec, b.u32(uint32(len(x.Value)))...)
			rec = append(rec, x.Value...)
		}
		b.kv.write(rec)
		size += uint32(len(rec))
	}
	b.xids = append(b.xids, b.u64(block<<16|uint64(off))...)
	b.xids = append(b.xids, b.u32(uint32(len(xs)))...)
	b.xids = append(b.xids, b.u32(size)...)
	b.xcount++
	return b.xcount - 1
}

// metaWriter packs a stream into 8KiB metadata blocks.
type metaWriter struct {
	b       *Builder
	raw     bool
	out     bytes.Buffer
	pending []byte
	starts  []uint64
	err     error
}

// pos is the reference of the next byte written: the start of its block
// relative to the table, and the offset inside the block.
func (m *metaWriter) pos() (uint64, uint16) {
	return uint64(m.out.Len()), uint16(len(m.pending))
}

func (m *metaWriter) write(p []byte) {
	m.pending = append(m.pending, p...)
	for len(m.pending) >= metaBlockSize {
		m.flush(m.pending[:metaBlockSize])
		m.pending = append([]byte(nil), m.pending[metaBlockSize:]...)
	}
}

func (m *metaWriter) flush(chunk []byte) {
	m.starts = append(m.starts, uint64(m.out.Len()))
	var c []byte
	if !m.raw && m.err == nil {
		c, m.err = m.b.compress(chunk)
	}
	if c != nil && len(c) < len(chunk) {
		m.out.Write(m.b.u16(uint16(len(c))))
		m.out.Write(c)
		return
	}
	m.out.Write(m.b.u16(uint16(len(chunk)) | metaRaw))
	m.out.Write(chunk)
}

// appendTo flushes the last block and appends the table to out, returning
// the absolute start of the table.
func (m *metaWriter) appendTo(out *bytes.Buffer) (uint64, error) {
	if len(m.pending) > 0 {
		m.flush(m.pending)
		m.pending = nil
	}
	if m.err != nil {
		return 0, m.err
	}
	start := uint64(out.Len())
	out.Write(m.out.Bytes())
	return start, nil
}

// appendIndexed appends the table followed by the u64 array of its block
// starts and returns the start of the array.
func (m *metaWriter) appendIndexed(out *bytes.Buffer) (uint64, error) {
	start, err := m.appendTo(out)
	if err != nil {
		return 0, err
	}
	index := uint64(out.Len())
	for _, s := range m.starts {
		out.Write(m.b.u64(start + s))
	}
	return index, nil
}
