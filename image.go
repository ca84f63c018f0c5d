package sasquatch

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// OpenOption configures Open.
type OpenOption func(*openConfig)

type openConfig struct {
	registry    *Registry
	dialect     *Dialect
	order       binary.ByteOrder
	compression Compression
	fragCache   int
}

// WithRegistry sets the decompressor registry.
func WithRegistry(r *Registry) OpenOption {
	return func(c *openConfig) {
		c.registry = r
	}
}

// WithDialect skips magic detection and parses with d.
func WithDialect(d *Dialect) OpenOption {
	return func(c *openConfig) {
		c.dialect = d
	}
}

// WithByteOrder parses with the generic dialect of the given byte order,
// ignoring the magic.
func WithByteOrder(order binary.ByteOrder) OpenOption {
	return func(c *openConfig) {
		c.order = order
	}
}

// WithCompression overrides the compression named in the superblock.
func WithCompression(kind Compression) OpenOption {
	return func(c *openConfig) {
		c.compression = kind
	}
}

// WithFragmentCache sets how many decompressed fragment blocks are kept.
func WithFragmentCache(n int) OpenOption {
	return func(c *openConfig) {
		c.fragCache = n
	}
}

// Image is an opened filesystem image. All methods are safe for concurrent
// use; the underlying bytes are never modified.
type Image struct {
	r       *imageReader
	order   binary.ByteOrder
	sb      *Superblock
	dialect *Dialect
	reg     *Registry
	meta    *metadataCache
	options *CompressorOptions

	ids       *lookupTable
	fragments *lookupTable
	exports   *lookupTable
	xattrs    *xattrTable

	fragCache *lru.Cache[uint32, []byte]
	fragGroup singleflight.Group

	zeroOnce sync.Once
	zeros    []byte
}

// Open parses the superblock of the image in r and prepares the tables.
// Structural problems are reported as ErrUnsupportedFormat,
// ErrCorruptSuperblock or ErrTruncatedImage.
func Open(r io.ReaderAt, size int64, opts ...OpenOption) (*Image, error) {
	cfg := openConfig{fragCache: defaultFragCache}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = DefaultRegistry()
	}
	if cfg.fragCache < 1 {
		cfg.fragCache = 1
	}

	ir := newImageReader(r, size)
	if size < superblockSize {
		return nil, fmt.Errorf("image is %d bytes, superblock needs %d: %w", size, superblockSize, ErrTruncatedImage)
	}
	raw, err := ir.bytes(0, superblockSize)
	if err != nil {
		return nil, err
	}

	d := cfg.dialect
	switch {
	case d != nil:
	case cfg.order != nil:
		d = genericDialect(cfg.order)
	default:
		if d, err = detectDialect(raw[:4]); err != nil {
			return nil, err
		}
	}
	sb, err := parseSuperblock(raw, size, d)
	if err != nil {
		return nil, err
	}
	if cfg.compression != CompressionNone {
		sb.Compression = cfg.compression
	}

	reg := cfg.registry
	if sb.Compression == CompressionLZMA && d.LZMA != LZMAStandard {
		reg = reg.With(CompressionLZMA, newLZMADecompressor(d.LZMA))
	}
	if !reg.Supports(sb.Compression) {
		return nil, fmt.Errorf("compression %v: %w", sb.Compression, ErrUnsupportedFormat)
	}

	img := &Image{
		r:       ir,
		order:   d.Order,
		sb:      sb,
		dialect: d,
		reg:     reg,
		meta:    newMetadataCache(ir, d.Order, reg, sb.Compression),
	}
	if img.fragCache, err = lru.New[uint32, []byte](cfg.fragCache); err != nil {
		return nil, err
	}

	if sb.Flags.IsSet(fCompressorOptions) {
		b, err := img.meta.get(tableOptions, superblockSize)
		if err != nil {
			return nil, fmt.Errorf("compressor options: %w", err)
		}
		if img.options, err = parseCompressorOptions(sb.Compression, b.data, d.Order); err != nil {
			return nil, err
		}
	}

	img.ids = newLookupTable(tableID, sb.IDTable, uint64(sb.IDCount), idEntrySize)
	if err := img.ids.load(img); err != nil {
		return nil, err
	}
	if sb.Fragments > 0 {
		img.fragments = newLookupTable(tableFragment, sb.FragmentTable, uint64(sb.Fragments), fragmentEntrySize)
		if err := img.fragments.load(img); err != nil {
			return nil, err
		}
	}
	if HasTable(sb.ExportTable) && sb.Flags.IsSet(fExportable) {
		img.exports = newLookupTable(tableExport, sb.ExportTable, uint64(sb.Inodes), exportEntrySize)
		if err := img.exports.load(img); err != nil {
			return nil, err
		}
	}
	if err := img.loadXattrTable(); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) Superblock() Superblock {
	return *img.sb
}

func (img *Image) Dialect() Dialect {
	return *img.dialect
}

// CompressorOptions returns the stored compressor options, or nil.
func (img *Image) CompressorOptions() *CompressorOptions {
	return img.options
}

// Root returns the root directory inode.
func (img *Image) Root() (*Inode, error) {
	ino, err := img.Inode(img.sb.RootInode)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	if !ino.IsDir() {
		return nil, fmt.Errorf("root inode is a %v: %w", ino.Type, ErrMalformedTree)
	}
	return ino, nil
}

// MetadataDecompressions reports how many metadata blocks have been
// decompressed so far.
func (img *Image) MetadataDecompressions() int64 {
	return img.meta.decompressions.Load()
}
