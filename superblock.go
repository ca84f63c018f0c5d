package sasquatch

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"time"
)

// InodeRef locates an inode: the start of its metadata block relative to
// the inode table, and the offset inside the uncompressed block.
type InodeRef uint64

// NewInodeRef packs a block start and an in-block offset.
func NewInodeRef(block uint64, offset uint16) InodeRef {
	return InodeRef(block<<16 | uint64(offset))
}

func (r InodeRef) Block() uint64  { return uint64(r) >> 16 }
func (r InodeRef) Offset() uint16 { return uint16(r & 0xffff) }

func (r InodeRef) String() string {
	return fmt.Sprintf("%#x:%#x", r.Block(), r.Offset())
}

type Superblock struct {
	Magic       [4]byte
	Inodes      uint32
	ModTime     time.Time
	BlockSize   uint32
	Fragments   uint32
	Compression Compression
	BlockLog    uint16
	Flags       SuperFlags
	IDCount     uint16
	Major       uint16
	Minor       uint16
	RootInode   InodeRef
	BytesUsed   uint64

	IDTable        uint64
	XattrTable     uint64
	InodeTable     uint64
	DirectoryTable uint64
	FragmentTable  uint64
	ExportTable    uint64
}

// HasTable reports whether an optional table start is present.
func HasTable(start uint64) bool {
	return start != tableAbsent
}

func parseSuperblock(b []byte, imageSize int64, d *Dialect) (*Superblock, error) {
	if len(b) < superblockSize {
		return nil, fmt.Errorf("superblock is %d bytes, need %d: %w", len(b), superblockSize, ErrTruncatedImage)
	}
	o := d.Order
	sb := &Superblock{
		Inodes:         o.Uint32(b[4:8]),
		ModTime:        time.Unix(int64(o.Uint32(b[8:12])), 0).UTC(),
		BlockSize:      o.Uint32(b[12:16]),
		Fragments:      o.Uint32(b[16:20]),
		Compression:    Compression(o.Uint16(b[20:22])),
		BlockLog:       o.Uint16(b[22:24]),
		Flags:          SuperFlags(o.Uint16(b[24:26])),
		IDCount:        o.Uint16(b[26:28]),
		Major:          o.Uint16(b[28:30]),
		Minor:          o.Uint16(b[30:32]),
		RootInode:      InodeRef(o.Uint64(b[32:40])),
		BytesUsed:      o.Uint64(b[40:48]),
		IDTable:        o.Uint64(b[48:56]),
		XattrTable:     o.Uint64(b[56:64]),
		InodeTable:     o.Uint64(b[64:72]),
		DirectoryTable: o.Uint64(b[72:80]),
		FragmentTable:  o.Uint64(b[80:88]),
		ExportTable:    o.Uint64(b[88:96]),
	}
	copy(sb.Magic[:], b[0:4])
	if d.Compression != CompressionNone {
		sb.Compression = d.Compression
	}
	if err := sb.validate(imageSize, d); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *Superblock) validate(imageSize int64, d *Dialect) error {
	if !d.AnyVersion && sb.Major != d.Major {
		return fmt.Errorf("version %d.%d, only %d.x is supported: %w", sb.Major, sb.Minor, d.Major, ErrUnsupportedFormat)
	}
	bs := sb.BlockSize
	if bs < minBlockSize || bs > maxBlockSize || bits.OnesCount32(bs) != 1 {
		return fmt.Errorf("block size %d: %w", bs, ErrCorruptSuperblock)
	}
	if uint32(1)<<sb.BlockLog != bs {
		return fmt.Errorf("block log %d does not match block size %d: %w", sb.BlockLog, bs, ErrCorruptSuperblock)
	}
	if sb.BytesUsed < superblockSize {
		return fmt.Errorf("bytes used %d: %w", sb.BytesUsed, ErrCorruptSuperblock)
	}
	if sb.BytesUsed > uint64(imageSize) {
		return fmt.Errorf("image claims %d bytes but only %d are present: %w", sb.BytesUsed, imageSize, ErrTruncatedImage)
	}
	if sb.IDCount == 0 {
		return fmt.Errorf("empty id table: %w", ErrCorruptSuperblock)
	}
	size := uint64(imageSize)
	required := []struct {
		name  string
		start uint64
	}{
		{"inode", sb.InodeTable},
		{"directory", sb.DirectoryTable},
		{"id", sb.IDTable},
	}
	for _, t := range required {
		if t.start < superblockSize || t.start >= size {
			return fmt.Errorf("%s table at %d outside image of %d bytes: %w", t.name, t.start, size, ErrCorruptSuperblock)
		}
	}
	optional := []struct {
		name  string
		start uint64
	}{
		{"xattr", sb.XattrTable},
		{"fragment", sb.FragmentTable},
		{"export", sb.ExportTable},
	}
	for _, t := range optional {
		if HasTable(t.start) && (t.start < superblockSize || t.start >= size) {
			return fmt.Errorf("%s table at %d outside image of %d bytes: %w", t.name, t.start, size, ErrCorruptSuperblock)
		}
	}
	if sb.InodeTable >= sb.DirectoryTable {
		return fmt.Errorf("inode table %d not before directory table %d: %w", sb.InodeTable, sb.DirectoryTable, ErrCorruptSuperblock)
	}
	if sb.InodeTable+sb.RootInode.Block() >= sb.DirectoryTable {
		return fmt.Errorf("root inode %v outside inode table: %w", sb.RootInode, ErrCorruptSuperblock)
	}
	if sb.Fragments > 0 && !HasTable(sb.FragmentTable) {
		return fmt.Errorf("%d fragments but no fragment table: %w", sb.Fragments, ErrCorruptSuperblock)
	}
	return nil
}

// CompressorOptions holds the optional compressor specific settings that
// follow the superblock when fCompressorOptions is set.
type CompressorOptions struct {
	Kind Compression
	Raw  []byte

	Level      uint32 // gzip, zstd, lzo
	WindowSize uint16 // gzip
	Strategies uint16 // gzip
	DictSize   uint32 // xz
	Filters    uint32 // xz
	Version    uint32 // lz4
	LZ4Flags   uint32 // lz4
	Algorithm  uint32 // lzo
}

func parseCompressorOptions(kind Compression, b []byte, o binary.ByteOrder) (*CompressorOptions, error) {
	co := &CompressorOptions{Kind: kind, Raw: b}
	need := func(n int) error {
		if len(b) < n {
			return fmt.Errorf("%v options are %d bytes, need %d: %w", kind, len(b), n, ErrCorruptSuperblock)
		}
		return nil
	}
	switch kind {
	case CompressionGzip:
		if err := need(8); err != nil {
			return nil, err
		}
		co.Level = o.Uint32(b[0:4])
		co.WindowSize = o.Uint16(b[4:6])
		co.Strategies = o.Uint16(b[6:8])
	case CompressionXZ:
		if err := need(8); err != nil {
			return nil, err
		}
		co.DictSize = o.Uint32(b[0:4])
		co.Filters = o.Uint32(b[4:8])
	case CompressionLZ4:
		if err := need(8); err != nil {
			return nil, err
		}
		co.Version = o.Uint32(b[0:4])
		co.LZ4Flags = o.Uint32(b[4:8])
	case CompressionZstd:
		if err := need(4); err != nil {
			return nil, err
		}
		co.Level = o.Uint32(b[0:4])
	case CompressionLZO:
		if err := need(8); err != nil {
			return nil, err
		}
		co.Algorithm = o.Uint32(b[0:4])
		co.Level = o.Uint32(b[4:8])
	}
	return co, nil
}

func (co *CompressorOptions) String() string {
	switch co.Kind {
	case CompressionGzip:
		return fmt.Sprintf("level %d, window %d, strategies %#x", co.Level, co.WindowSize, co.Strategies)
	case CompressionXZ:
		return fmt.Sprintf("dictionary %d, filters %#x", co.DictSize, co.Filters)
	case CompressionLZ4:
		return fmt.Sprintf("version %d, flags %#x", co.Version, co.LZ4Flags)
	case CompressionZstd:
		return fmt.Sprintf("level %d", co.Level)
	case CompressionLZO:
		return fmt.Sprintf("algorithm %d, level %d", co.Algorithm, co.Level)
	}
	return fmt.Sprintf("%d bytes", len(co.Raw))
}
