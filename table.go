package sasquatch

import (
	"fmt"
	"sync"
)

// lookupTable is a table stored as metadata blocks whose on-disk starts are
// listed in an array of u64 offsets at start. Entries are fixed size.
type lookupTable struct {
	kind      uint8
	start     uint64 // offset of the u64 index array
	count     uint64
	entrySize int

	once    sync.Once
	blocks  []uint64
	loadErr error
}

func newLookupTable(kind uint8, start, count uint64, entrySize int) *lookupTable {
	return &lookupTable{kind: kind, start: start, count: count, entrySize: entrySize}
}

func (t *lookupTable) load(img *Image) error {
	t.once.Do(func() {
		perBlock := uint64(metadataBlockSize / t.entrySize)
		n := (t.count + perBlock - 1) / perBlock
		raw, err := img.r.bytes(int64(t.start), int(n*8))
		if err != nil {
			t.loadErr = fmt.Errorf("lookup table at %d: %w", t.start, err)
			return
		}
		t.blocks = make([]uint64, n)
		for i := range t.blocks {
			t.blocks[i] = img.order.Uint64(raw[i*8:])
			if t.blocks[i] >= uint64(img.r.Size()) {
				t.loadErr = fmt.Errorf("lookup table block %d at %d beyond image: %w", i, t.blocks[i], ErrCorruptSuperblock)
				return
			}
		}
	})
	return t.loadErr
}

// entry returns the raw bytes of entry i.
func (t *lookupTable) entry(img *Image, i uint64) ([]byte, error) {
	if i >= t.count {
		return nil, fmt.Errorf("index %d beyond table of %d entries: %w", i, t.count, corruptKind(t.kind))
	}
	if err := t.load(img); err != nil {
		return nil, err
	}
	perBlock := uint64(metadataBlockSize / t.entrySize)
	blk := t.blocks[i/perBlock]
	b, err := img.meta.get(t.kind, int64(blk))
	if err != nil {
		return nil, err
	}
	off := int(i%perBlock) * t.entrySize
	if off+t.entrySize > len(b.data) {
		return nil, fmt.Errorf("entry %d beyond metadata block of %d bytes: %w", i, len(b.data), corruptKind(t.kind))
	}
	return b.data[off : off+t.entrySize], nil
}

// FragmentEntry locates one fragment block.
type FragmentEntry struct {
	Start uint64
	Size  uint32 // on-disk size
	Raw   bool
}

// Fragment returns fragment table entry i.
func (img *Image) Fragment(i uint32) (FragmentEntry, error) {
	if img.fragments == nil {
		return FragmentEntry{}, fmt.Errorf("fragment %d but image has no fragment table: %w", i, ErrInvalidInode)
	}
	b, err := img.fragments.entry(img, uint64(i))
	if err != nil {
		return FragmentEntry{}, fmt.Errorf("fragment %d: %w", i, err)
	}
	word := img.order.Uint32(b[8:12])
	return FragmentEntry{
		Start: img.order.Uint64(b[0:8]),
		Size:  word & dataSizeMask,
		Raw:   word&dataRawFlag != 0,
	}, nil
}

// ID resolves an index into the uid/gid table.
func (img *Image) ID(i uint16) (uint32, error) {
	b, err := img.ids.entry(img, uint64(i))
	if err != nil {
		return 0, fmt.Errorf("id %d: %w", i, err)
	}
	return img.order.Uint32(b), nil
}

// LookupInode resolves an inode number through the export table. Images
// built without the export table return an error wrapping
// ErrUnsupportedFormat.
func (img *Image) LookupInode(number uint32) (*Inode, error) {
	if img.exports == nil {
		return nil, fmt.Errorf("inode number lookup needs an export table: %w", ErrUnsupportedFormat)
	}
	if number == 0 {
		return nil, fmt.Errorf("inode number 0: %w", ErrInvalidInode)
	}
	b, err := img.exports.entry(img, uint64(number-1))
	if err != nil {
		return nil, fmt.Errorf("inode number %d: %w", number, err)
	}
	ino, err := img.Inode(InodeRef(img.order.Uint64(b)))
	if err != nil {
		return nil, err
	}
	if ino.Number != number {
		return nil, fmt.Errorf("export entry %d points at inode %d: %w", number, ino.Number, ErrInvalidInode)
	}
	return ino, nil
}
