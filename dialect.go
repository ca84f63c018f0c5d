package sasquatch

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// LZMAFraming selects how LZMA compressed blocks are framed on disk.
// Vendor builds of the format often drop or fix parts of the LZMA header.
type LZMAFraming uint8

const (
	// LZMAStandard is the 13 byte "lzma alone" header: properties,
	// dictionary size and uncompressed size.
	LZMAStandard LZMAFraming = iota
	// LZMANoSize omits the 8 byte uncompressed size field.
	LZMANoSize
	// LZMARaw has no header at all; properties are lc=3 lp=0 pb=2 with an
	// 8MiB dictionary.
	LZMARaw
)

func (f LZMAFraming) String() string {
	switch f {
	case LZMANoSize:
		return "lzma-nosize"
	case LZMARaw:
		return "lzma-raw"
	default:
		return "lzma"
	}
}

// Dialect describes one variant of the on-disk format. New vendor variants
// are added as table entries, the parser itself has no per-vendor branches.
type Dialect struct {
	Name  string
	Magic [4]byte
	Order binary.ByteOrder
	// Major is the layout version the dialect uses. Only 4 is understood.
	Major uint16
	// Compression overrides the superblock compression field when non-zero.
	Compression Compression
	LZMA        LZMAFraming
	// AnyVersion skips the version check; vendors often put garbage there.
	AnyVersion bool
}

func (d *Dialect) String() string {
	return fmt.Sprintf("%s (%q, %s)", d.Name, string(d.Magic[:]), orderName(d.Order))
}

var dialects = []Dialect{
	{Name: "squashfs", Magic: [4]byte{'h', 's', 'q', 's'}, Order: binary.LittleEndian, Major: 4},
	{Name: "squashfs-be", Magic: [4]byte{'s', 'q', 's', 'h'}, Order: binary.BigEndian, Major: 4},
	{Name: "vendor-shsq", Magic: [4]byte{'s', 'h', 's', 'q'}, Order: binary.LittleEndian, Major: 4, LZMA: LZMANoSize, AnyVersion: true},
	{Name: "vendor-qshs", Magic: [4]byte{'q', 's', 'h', 's'}, Order: binary.BigEndian, Major: 4, LZMA: LZMANoSize, AnyVersion: true},
	{Name: "vendor-hsqt", Magic: [4]byte{'h', 's', 'q', 't'}, Order: binary.LittleEndian, Major: 4, Compression: CompressionLZMA, LZMA: LZMARaw, AnyVersion: true},
	{Name: "vendor-tqsh", Magic: [4]byte{'t', 'q', 's', 'h'}, Order: binary.BigEndian, Major: 4, Compression: CompressionLZMA, LZMA: LZMARaw, AnyVersion: true},
}

// Dialects returns a copy of the built-in dialect table.
func Dialects() []Dialect {
	out := make([]Dialect, len(dialects))
	copy(out, dialects)
	return out
}

// DialectByName looks up a built-in dialect.
func DialectByName(name string) (*Dialect, error) {
	for i := range dialects {
		if strings.EqualFold(dialects[i].Name, name) {
			d := dialects[i]
			return &d, nil
		}
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

func detectDialect(magic []byte) (*Dialect, error) {
	if len(magic) < 4 {
		return nil, fmt.Errorf("short magic: %w", ErrTruncatedImage)
	}
	for i := range dialects {
		if string(dialects[i].Magic[:]) == string(magic[:4]) {
			d := dialects[i]
			return &d, nil
		}
	}
	return nil, fmt.Errorf("magic %q (%x): %w", magic[:4], magic[:4], ErrUnsupportedFormat)
}

// genericDialect is used when the caller forces a byte order. The magic is
// not checked at all.
func genericDialect(order binary.ByteOrder) *Dialect {
	d := &Dialect{Name: "generic-" + orderName(order), Order: order, Major: 4, AnyVersion: true}
	return d
}

func orderName(order binary.ByteOrder) string {
	if order == binary.BigEndian {
		return "be"
	}
	return "le"
}
