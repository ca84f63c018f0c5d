package sasquatch

import (
	"fmt"
)

// Xattr is one extended attribute with its full prefixed name.
type Xattr struct {
	Name  string
	Value []byte
}

const (
	xattrUser     = 0
	xattrTrusted  = 1
	xattrSecurity = 2

	xattrPrefixMask = 0xff
	xattrOutOfLine  = 0x100

	xattrHeaderSize = 16
)

var xattrPrefixes = map[uint16]string{
	xattrUser:     "user.",
	xattrTrusted:  "trusted.",
	xattrSecurity: "security.",
}

type xattrTable struct {
	kvStart uint64
	ids     *lookupTable
}

func (img *Image) loadXattrTable() error {
	sb := img.sb
	if !HasTable(sb.XattrTable) || sb.Flags.IsSet(fNoXattrs) {
		return nil
	}
	hdr, err := img.r.bytes(int64(sb.XattrTable), xattrHeaderSize)
	if err != nil {
		return fmt.Errorf("xattr table: %w", err)
	}
	kvStart := img.order.Uint64(hdr[0:8])
	count := img.order.Uint32(hdr[8:12])
	if kvStart >= sb.XattrTable {
		return fmt.Errorf("xattr data at %d after its id table at %d: %w", kvStart, sb.XattrTable, ErrCorruptSuperblock)
	}
	img.xattrs = &xattrTable{
		kvStart: kvStart,
		ids:     newLookupTable(tableXattr, sb.XattrTable+xattrHeaderSize, uint64(count), xattrIDEntrySize),
	}
	return nil
}

// Xattrs returns the extended attributes of ino, or nil when it has none.
// Attributes with an unknown prefix are dropped.
func (img *Image) Xattrs(ino *Inode) ([]Xattr, error) {
	if !ino.HasXattrs() || img.xattrs == nil {
		return nil, nil
	}
	b, err := img.xattrs.ids.entry(img, uint64(ino.XattrIndex))
	if err != nil {
		return nil, fmt.Errorf("inode %d xattrs: %w", ino.Number, err)
	}
	o := img.order
	ref := InodeRef(o.Uint64(b[0:8]))
	count := o.Uint32(b[8:12])

	s, err := img.xattrStream(ref)
	if err != nil {
		return nil, fmt.Errorf("inode %d xattrs: %w", ino.Number, err)
	}
	var out []Xattr
	for i := uint32(0); i < count; i++ {
		typ, err := s.u16()
		if err != nil {
			return out, err
		}
		nameSize, err := s.u16()
		if err != nil {
			return out, err
		}
		name, err := s.read(int(nameSize))
		if err != nil {
			return out, err
		}
		vsize, err := s.u32()
		if err != nil {
			return out, err
		}
		var value []byte
		if typ&xattrOutOfLine != 0 {
			if vsize != 8 {
				return out, fmt.Errorf("inode %d: out of line xattr reference of %d bytes: %w", ino.Number, vsize, ErrInvalidInode)
			}
			vref, err := s.u64()
			if err != nil {
				return out, err
			}
			if value, err = img.xattrValue(InodeRef(vref)); err != nil {
				return out, err
			}
		} else {
			v, err := s.read(int(vsize))
			if err != nil {
				return out, err
			}
			value = append([]byte(nil), v...)
		}
		prefix, ok := xattrPrefixes[typ&xattrPrefixMask]
		if !ok {
			doLog(true, "inode %d: dropping xattr %q with prefix id %d", ino.Number, name, typ&xattrPrefixMask)
			continue
		}
		out = append(out, Xattr{Name: prefix + string(name), Value: value})
	}
	return out, nil
}

func (img *Image) xattrStream(ref InodeRef) (*metaStream, error) {
	x := img.xattrs
	if ref.Block() >= img.sb.XattrTable-x.kvStart {
		return nil, fmt.Errorf("xattr reference %v outside table: %w", ref, ErrInvalidInode)
	}
	return img.meta.stream(tableXattr, int64(x.kvStart+ref.Block()), ref.Offset(), int64(img.sb.XattrTable))
}

func (img *Image) xattrValue(ref InodeRef) ([]byte, error) {
	s, err := img.xattrStream(ref)
	if err != nil {
		return nil, err
	}
	size, err := s.u32()
	if err != nil {
		return nil, err
	}
	v, err := s.read(int(size))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}
