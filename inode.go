package sasquatch

import (
	"fmt"
	"io/fs"
	"time"
)

// InodeType is the on-disk inode type. Extended variants carry 64-bit
// sizes, link counts and an xattr index.
type InodeType uint16

const (
	InodeDir InodeType = iota + 1
	InodeFile
	InodeSymlink
	InodeBlockDev
	InodeCharDev
	InodeFifo
	InodeSocket
	InodeLDir
	InodeLFile
	InodeLSymlink
	InodeLBlockDev
	InodeLCharDev
	InodeLFifo
	InodeLSocket
)

const extendedOffset = InodeLDir - InodeDir

var inodeTypeNames = []string{"", "dir", "file", "symlink", "block device", "char device", "fifo", "socket"}

// Basic folds an extended type onto its basic counterpart. Directory
// entries only ever carry basic types.
func (t InodeType) Basic() InodeType {
	if t >= InodeLDir && t <= InodeLSocket {
		return t - extendedOffset
	}
	return t
}

func (t InodeType) Extended() bool {
	return t >= InodeLDir && t <= InodeLSocket
}

func (t InodeType) Valid() bool {
	return t >= InodeDir && t <= InodeLSocket
}

func (t InodeType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("type(%d)", uint16(t))
	}
	name := inodeTypeNames[t.Basic()]
	if t.Extended() {
		return "extended " + name
	}
	return name
}

// DirPayload locates a directory listing in the directory table.
type DirPayload struct {
	StartBlock uint32 // relative to the directory table
	Offset     uint16
	Size       uint32 // listing bytes, without the 3 byte bias
	Parent     uint32
	IndexCount uint16
}

// FilePayload describes where a regular file's bytes live.
type FilePayload struct {
	BlocksStart uint64
	Size        uint64
	Sparse      uint64
	Fragment    uint32
	FragOffset  uint32
	Blocks      []uint32 // size words, bit 24 set = stored raw, 0 = sparse
}

func (f *FilePayload) HasFragment() bool {
	return f.Fragment != noFragment
}

// Inode is a decoded inode. Exactly one of the payload fields is set
// according to Type.
type Inode struct {
	Ref     InodeRef
	Type    InodeType
	Perm    uint16
	UID     uint32
	GID     uint32
	ModTime time.Time
	Number  uint32

	Links      uint32
	XattrIndex uint32

	Dir          *DirPayload
	File         *FilePayload
	Target       string
	Major, Minor uint32
}

func (ino *Inode) IsDir() bool     { return ino.Type.Basic() == InodeDir }
func (ino *Inode) IsRegular() bool { return ino.Type.Basic() == InodeFile }
func (ino *Inode) IsSymlink() bool { return ino.Type.Basic() == InodeSymlink }

func (ino *Inode) HasXattrs() bool {
	return ino.XattrIndex != noXattr
}

// Size is the file size for regular files, the target length for symlinks
// and the listing size for directories.
func (ino *Inode) Size() int64 {
	switch {
	case ino.File != nil:
		return int64(ino.File.Size)
	case ino.Dir != nil:
		return int64(ino.Dir.Size)
	case ino.IsSymlink():
		return int64(len(ino.Target))
	}
	return 0
}

// Mode converts the type and permission bits to an fs.FileMode.
func (ino *Inode) Mode() fs.FileMode {
	m := fs.FileMode(ino.Perm & 0o777)
	if ino.Perm&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if ino.Perm&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if ino.Perm&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	switch ino.Type.Basic() {
	case InodeDir:
		m |= fs.ModeDir
	case InodeSymlink:
		m |= fs.ModeSymlink
	case InodeBlockDev:
		m |= fs.ModeDevice
	case InodeCharDev:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case InodeFifo:
		m |= fs.ModeNamedPipe
	case InodeSocket:
		m |= fs.ModeSocket
	}
	return m
}

// maxSymlinkLength is PATH_MAX on Linux.
const maxSymlinkLength = 4096

// Inode reads and decodes the inode at ref.
func (img *Image) Inode(ref InodeRef) (*Inode, error) {
	if ref.Block() >= img.sb.DirectoryTable-img.sb.InodeTable {
		return nil, fmt.Errorf("inode %v outside inode table: %w", ref, ErrInvalidInode)
	}
	s, err := img.meta.stream(tableInode, int64(img.sb.InodeTable+ref.Block()), ref.Offset(), int64(img.sb.DirectoryTable))
	if err != nil {
		return nil, fmt.Errorf("inode %v: %w", ref, err)
	}
	ino, err := img.readInode(s, ref)
	if err != nil {
		return nil, fmt.Errorf("inode %v: %w", ref, err)
	}
	return ino, nil
}

func (img *Image) readInode(s *metaStream, ref InodeRef) (*Inode, error) {
	o := img.order
	hdr, err := s.read(inodeHeaderSize)
	if err != nil {
		return nil, err
	}
	ino := &Inode{
		Ref:        ref,
		Type:       InodeType(o.Uint16(hdr[0:2])),
		Perm:       o.Uint16(hdr[2:4]),
		ModTime:    time.Unix(int64(o.Uint32(hdr[8:12])), 0).UTC(),
		Number:     o.Uint32(hdr[12:16]),
		XattrIndex: noXattr,
	}
	if !ino.Type.Valid() {
		return nil, fmt.Errorf("unknown inode type %d: %w", uint16(ino.Type), ErrInvalidInode)
	}
	if ino.Number == 0 || ino.Number > img.sb.Inodes {
		return nil, fmt.Errorf("inode number %d outside 1..%d: %w", ino.Number, img.sb.Inodes, ErrInvalidInode)
	}
	if ino.UID, err = img.ID(o.Uint16(hdr[4:6])); err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}
	if ino.GID, err = img.ID(o.Uint16(hdr[6:8])); err != nil {
		return nil, fmt.Errorf("gid: %w", err)
	}

	switch ino.Type {
	case InodeDir:
		err = img.readDir(s, ino)
	case InodeLDir:
		err = img.readLDir(s, ino)
	case InodeFile:
		err = img.readFile(s, ino)
	case InodeLFile:
		err = img.readLFile(s, ino)
	case InodeSymlink, InodeLSymlink:
		err = img.readSymlink(s, ino)
	case InodeBlockDev, InodeCharDev, InodeLBlockDev, InodeLCharDev:
		err = img.readDevice(s, ino)
	case InodeFifo, InodeSocket, InodeLFifo, InodeLSocket:
		err = img.readIPC(s, ino)
	}
	if err != nil {
		return nil, err
	}
	return ino, nil
}

func (img *Image) readDir(s *metaStream, ino *Inode) error {
	b, err := s.read(16)
	if err != nil {
		return err
	}
	o := img.order
	fileSize := uint32(o.Uint16(b[8:10]))
	if fileSize < 3 {
		return fmt.Errorf("directory size %d: %w", fileSize, ErrInvalidInode)
	}
	ino.Links = o.Uint32(b[4:8])
	ino.Dir = &DirPayload{
		StartBlock: o.Uint32(b[0:4]),
		Offset:     o.Uint16(b[10:12]),
		Size:       fileSize - 3,
		Parent:     o.Uint32(b[12:16]),
	}
	return nil
}

func (img *Image) readLDir(s *metaStream, ino *Inode) error {
	b, err := s.read(24)
	if err != nil {
		return err
	}
	o := img.order
	fileSize := o.Uint32(b[4:8])
	if fileSize < 3 {
		return fmt.Errorf("directory size %d: %w", fileSize, ErrInvalidInode)
	}
	ino.Links = o.Uint32(b[0:4])
	ino.XattrIndex = o.Uint32(b[20:24])
	ino.Dir = &DirPayload{
		StartBlock: o.Uint32(b[8:12]),
		Parent:     o.Uint32(b[12:16]),
		IndexCount: o.Uint16(b[16:18]),
		Offset:     o.Uint16(b[18:20]),
		Size:       fileSize - 3,
	}
	// The directory index only speeds up name lookups; it is read past so
	// a corrupt index still fails here rather than later.
	for i := 0; i < int(ino.Dir.IndexCount); i++ {
		idx, err := s.read(12)
		if err != nil {
			return err
		}
		nameSize := o.Uint32(idx[8:12])
		if nameSize >= maxNameLength {
			return fmt.Errorf("directory index name of %d bytes: %w", nameSize+1, ErrInvalidInode)
		}
		if err := s.skip(int(nameSize) + 1); err != nil {
			return err
		}
	}
	return nil
}

func (img *Image) readFile(s *metaStream, ino *Inode) error {
	b, err := s.read(16)
	if err != nil {
		return err
	}
	o := img.order
	ino.Links = 1
	ino.File = &FilePayload{
		BlocksStart: uint64(o.Uint32(b[0:4])),
		Fragment:    o.Uint32(b[4:8]),
		FragOffset:  o.Uint32(b[8:12]),
		Size:        uint64(o.Uint32(b[12:16])),
	}
	return img.readBlockList(s, ino.File)
}

func (img *Image) readLFile(s *metaStream, ino *Inode) error {
	b, err := s.read(40)
	if err != nil {
		return err
	}
	o := img.order
	ino.Links = o.Uint32(b[24:28])
	ino.XattrIndex = o.Uint32(b[36:40])
	ino.File = &FilePayload{
		BlocksStart: o.Uint64(b[0:8]),
		Size:        o.Uint64(b[8:16]),
		Sparse:      o.Uint64(b[16:24]),
		Fragment:    o.Uint32(b[28:32]),
		FragOffset:  o.Uint32(b[32:36]),
	}
	return img.readBlockList(s, ino.File)
}

// blockCount is ceil(size/bs) without a fragment and floor(size/bs) with
// one; the fragment holds the tail.
func blockCount(size uint64, blockSize uint32, fragment bool) uint64 {
	bs := uint64(blockSize)
	if fragment {
		return size / bs
	}
	return (size + bs - 1) / bs
}

func (img *Image) readBlockList(s *metaStream, f *FilePayload) error {
	n := blockCount(f.Size, img.sb.BlockSize, f.HasFragment())
	if f.BlocksStart > img.sb.BytesUsed {
		return fmt.Errorf("data starts at %d beyond image end %d: %w", f.BlocksStart, img.sb.BytesUsed, ErrInvalidInode)
	}
	if f.HasFragment() && f.FragOffset >= img.sb.BlockSize {
		return fmt.Errorf("fragment offset %d: %w", f.FragOffset, ErrInvalidInode)
	}
	// A corrupt size can claim billions of blocks; the list grows as words
	// are actually read so the inode table bounds the allocation.
	f.Blocks = make([]uint32, 0, min(n, 1024))
	for i := uint64(0); i < n; i++ {
		w, err := s.u32()
		if err != nil {
			return fmt.Errorf("block list of %d entries: %w", n, err)
		}
		f.Blocks = append(f.Blocks, w)
	}
	return nil
}

func (img *Image) readSymlink(s *metaStream, ino *Inode) error {
	links, err := s.u32()
	if err != nil {
		return err
	}
	size, err := s.u32()
	if err != nil {
		return err
	}
	if size == 0 || size > maxSymlinkLength {
		return fmt.Errorf("symlink target of %d bytes: %w", size, ErrInvalidInode)
	}
	target, err := s.read(int(size))
	if err != nil {
		return err
	}
	ino.Links = links
	ino.Target = string(target)
	if ino.Type.Extended() {
		if ino.XattrIndex, err = s.u32(); err != nil {
			return err
		}
	}
	return nil
}

func (img *Image) readDevice(s *metaStream, ino *Inode) error {
	links, err := s.u32()
	if err != nil {
		return err
	}
	dev, err := s.u32()
	if err != nil {
		return err
	}
	ino.Links = links
	ino.Major = (dev & 0xfff00) >> 8
	ino.Minor = (dev & 0xff) | ((dev >> 12) & 0xfff00)
	if ino.Type.Extended() {
		if ino.XattrIndex, err = s.u32(); err != nil {
			return err
		}
	}
	return nil
}

func (img *Image) readIPC(s *metaStream, ino *Inode) error {
	links, err := s.u32()
	if err != nil {
		return err
	}
	ino.Links = links
	if ino.Type.Extended() {
		if ino.XattrIndex, err = s.u32(); err != nil {
			return err
		}
	}
	return nil
}
