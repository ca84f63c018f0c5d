package sasquatch

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// metaBlock is one decompressed metadata block. Entries are never modified
// once stored.
type metaBlock struct {
	data []byte
	next int64 // absolute offset of the block that follows on disk
}

type metaKey struct {
	table  uint8
	offset int64
}

// metadataCache memoises decompressed metadata blocks by table and on-disk
// offset. Concurrent misses for one key share a single decompression.
type metadataCache struct {
	img   *imageReader
	order binary.ByteOrder
	reg   *Registry
	kind  Compression

	blocks sync.Map // metaKey -> *metaBlock
	group  singleflight.Group

	decompressions atomic.Int64
}

func newMetadataCache(img *imageReader, order binary.ByteOrder, reg *Registry, kind Compression) *metadataCache {
	return &metadataCache{img: img, order: order, reg: reg, kind: kind}
}

func (c *metadataCache) get(table uint8, offset int64) (*metaBlock, error) {
	key := metaKey{table: table, offset: offset}
	if b, ok := c.blocks.Load(key); ok {
		return b.(*metaBlock), nil
	}
	v, err, _ := c.group.Do(strconv.Itoa(int(table))+":"+strconv.FormatInt(offset, 10), func() (any, error) {
		if b, ok := c.blocks.Load(key); ok {
			return b, nil
		}
		b, err := c.read(table, offset)
		if err != nil {
			return nil, err
		}
		c.blocks.Store(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*metaBlock), nil
}

func (c *metadataCache) read(table uint8, offset int64) (*metaBlock, error) {
	hdr, err := c.img.bytes(offset, metaHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("metadata block header at %d: %w", offset, err)
	}
	h := c.order.Uint16(hdr)
	size := int(h & metaSizeMask)
	raw := h&metaRawFlag != 0
	if size == 0 || size > metadataBlockSize {
		return nil, fmt.Errorf("metadata block at %d has length %d: %w", offset, size, corruptKind(table))
	}
	data, err := c.img.bytes(offset+metaHeaderSize, size)
	if err != nil {
		return nil, fmt.Errorf("metadata block at %d: %w", offset, err)
	}
	if !raw {
		c.decompressions.Add(1)
		data, err = c.reg.Decompress(c.kind, data, metadataBlockSize)
		if err != nil {
			return nil, fmt.Errorf("metadata block at %d: %w", offset, err)
		}
	}
	return &metaBlock{data: data, next: offset + metaHeaderSize + int64(size)}, nil
}

// corruptKind is the error reported for unusable records in a table.
func corruptKind(table uint8) error {
	switch table {
	case tableDirectory:
		return ErrMalformedTree
	case tableOptions:
		return ErrCorruptSuperblock
	default:
		return ErrInvalidInode
	}
}

// metaStream presents a metadata table as one contiguous byte stream.
// Records may straddle block boundaries; the next block is pulled from the
// cache only when a read runs past the current one.
type metaStream struct {
	cache *metadataCache
	table uint8
	limit int64

	block int64 // absolute offset of the current block
	buf   []byte
	pos   int // read position within the current block
	next  int64
}

func (c *metadataCache) stream(table uint8, start int64, offset uint16, limit int64) (*metaStream, error) {
	if start >= limit {
		return nil, fmt.Errorf("metadata block %d outside table ending at %d: %w", start, limit, corruptKind(table))
	}
	b, err := c.get(table, start)
	if err != nil {
		return nil, err
	}
	if int(offset) > len(b.data) {
		return nil, fmt.Errorf("offset %d beyond metadata block of %d bytes at %d: %w", offset, len(b.data), start, corruptKind(table))
	}
	return &metaStream{
		cache: c,
		table: table,
		limit: limit,
		block: start,
		buf:   b.data,
		pos:   int(offset),
		next:  b.next,
	}, nil
}

func (s *metaStream) advance() error {
	if s.next >= s.limit {
		return fmt.Errorf("record runs past the end of the table at %d: %w", s.limit, corruptKind(s.table))
	}
	b, err := s.cache.get(s.table, s.next)
	if err != nil {
		return err
	}
	s.block = s.next
	s.buf = b.data
	s.pos = 0
	s.next = b.next
	return nil
}

// read returns the next n bytes. The slice must not be modified.
func (s *metaStream) read(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read: %w", corruptKind(s.table))
	}
	if len(s.buf)-s.pos >= n {
		out := s.buf[s.pos : s.pos+n]
		s.pos += n
		return out, nil
	}
	// n comes from disk, so the buffer grows with the data actually read.
	out := make([]byte, 0, min(n, 2*metadataBlockSize))
	for len(out) < n {
		if s.pos == len(s.buf) {
			if err := s.advance(); err != nil {
				return nil, err
			}
		}
		take := min(n-len(out), len(s.buf)-s.pos)
		out = append(out, s.buf[s.pos:s.pos+take]...)
		s.pos += take
	}
	return out, nil
}

func (s *metaStream) skip(n int) error {
	for n > 0 {
		if s.pos == len(s.buf) {
			if err := s.advance(); err != nil {
				return err
			}
		}
		take := min(n, len(s.buf)-s.pos)
		s.pos += take
		n -= take
	}
	return nil
}

func (s *metaStream) u16() (uint16, error) {
	b, err := s.read(2)
	if err != nil {
		return 0, err
	}
	return s.cache.order.Uint16(b), nil
}

func (s *metaStream) u32() (uint32, error) {
	b, err := s.read(4)
	if err != nil {
		return 0, err
	}
	return s.cache.order.Uint32(b), nil
}

func (s *metaStream) u64() (uint64, error) {
	b, err := s.read(8)
	if err != nil {
		return 0, err
	}
	return s.cache.order.Uint64(b), nil
}
