package sasquatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	lz4 "github.com/pierrec/lz4/v4"
	lzo "github.com/rasky/go-lzo"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Compression is the compressor id stored in the superblock.
type Compression uint16

// Compression Types
const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionLZMA
	CompressionLZO
	CompressionXZ
	CompressionLZ4
	CompressionZstd
)

var compressionNames = []string{"none", "gzip", "lzma", "lzo", "xz", "lz4", "zstd"}

func (c Compression) String() string {
	if int(c) < len(compressionNames) {
		return compressionNames[c]
	}
	return fmt.Sprintf("unknown(%d)", uint16(c))
}

// ParseCompression maps a name (as printed by String, plus "zlib") to a
// Compression.
func ParseCompression(name string) (Compression, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "zlib" {
		return CompressionGzip, nil
	}
	for i, n := range compressionNames {
		if n == name {
			return Compression(i), nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

// Decompressor inflates one independently compressed block. It must fail
// when the output would exceed maxSize, and must not keep state between
// calls.
type Decompressor func(src []byte, maxSize int) ([]byte, error)

// Registry maps compression kinds to decompressors. A Registry is not
// modified after construction, so it is safe to share between goroutines.
type Registry struct {
	m map[Compression]Decompressor
}

// DefaultRegistry returns a registry with every supported compressor.
func DefaultRegistry() *Registry {
	r := &Registry{m: map[Compression]Decompressor{
		CompressionNone: decompressNone,
		CompressionGzip: decompressZlib,
		CompressionLZMA: newLZMADecompressor(LZMAStandard),
		CompressionLZO:  decompressLZO,
		CompressionXZ:   decompressXZ,
		CompressionLZ4:  decompressLZ4,
	}}
	if dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(2*maxBlockSize)); err == nil {
		r.m[CompressionZstd] = func(src []byte, maxSize int) ([]byte, error) {
			out, err := dec.DecodeAll(src, make([]byte, 0, maxSize))
			if err != nil {
				return nil, err
			}
			if len(out) > maxSize {
				return nil, errTooLarge(len(out), maxSize)
			}
			return out, nil
		}
	}
	return r
}

// With returns a copy of r with kind handled by fn.
func (r *Registry) With(kind Compression, fn Decompressor) *Registry {
	n := &Registry{m: make(map[Compression]Decompressor, len(r.m)+1)}
	for k, v := range r.m {
		n.m[k] = v
	}
	n.m[kind] = fn
	return n
}

// Supports reports whether kind has a decompressor.
func (r *Registry) Supports(kind Compression) bool {
	_, ok := r.m[kind]
	return ok
}

// Decompress inflates src with the decompressor registered for kind.
func (r *Registry) Decompress(kind Compression, src []byte, maxSize int) ([]byte, error) {
	fn, ok := r.m[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no decompressor for %v", ErrDecompression, kind)
	}
	out, err := fn(src, maxSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrDecompression, kind, err)
	}
	return out, nil
}

func errTooLarge(n, max int) error {
	return fmt.Errorf("output of %d bytes exceeds limit of %d", n, max)
}

// readLimited reads all of r, failing if it yields more than max bytes.
func readLimited(r io.Reader, max int) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > max {
		return nil, errTooLarge(len(out), max)
	}
	return out, nil
}

func decompressNone(src []byte, maxSize int) ([]byte, error) {
	if len(src) > maxSize {
		return nil, errTooLarge(len(src), maxSize)
	}
	return src, nil
}

func decompressZlib(src []byte, maxSize int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readLimited(zr, maxSize)
}

// decompressXZ sizes the window from the block size; back-references
// cannot reach past the start of the block. A stream declaring a larger
// dictionary still gets one.
func decompressXZ(src []byte, maxSize int) ([]byte, error) {
	cfg := xz.ReaderConfig{DictCap: max(maxSize, lzma.MinDictCap)}
	xr, err := cfg.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	return readLimited(xr, maxSize)
}

func decompressLZO(src []byte, maxSize int) ([]byte, error) {
	out, err := lzo.Decompress1X(bytes.NewReader(src), len(src), maxSize)
	if err != nil {
		return nil, err
	}
	if len(out) > maxSize {
		return nil, errTooLarge(len(out), maxSize)
	}
	return out, nil
}

func decompressLZ4(src []byte, maxSize int) ([]byte, error) {
	dst := make([]byte, maxSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// lzmaRawHeader is lc=3 lp=0 pb=2 with an 8MiB dictionary.
var lzmaRawHeader = []byte{0x5d, 0x00, 0x00, 0x80, 0x00}

var lzmaUnknownSize = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// maxLZMADict bounds the dictionary a block header may ask for; the
// decoder allocates it up front.
const maxLZMADict = 64 << 20

func newLZMADecompressor(framing LZMAFraming) Decompressor {
	return func(src []byte, maxSize int) ([]byte, error) {
		var stream []byte
		switch framing {
		case LZMANoSize:
			if len(src) < 5 {
				return nil, fmt.Errorf("lzma header: %d bytes", len(src))
			}
			stream = make([]byte, 0, len(src)+8)
			stream = append(stream, src[:5]...)
			stream = append(stream, lzmaUnknownSize...)
			stream = append(stream, src[5:]...)
		case LZMARaw:
			stream = make([]byte, 0, len(src)+13)
			stream = append(stream, lzmaRawHeader...)
			stream = append(stream, lzmaUnknownSize...)
			stream = append(stream, src...)
		default:
			stream = src
		}
		if len(stream) < 13 {
			return nil, fmt.Errorf("lzma stream of %d bytes", len(stream))
		}
		if dict := binary.LittleEndian.Uint32(stream[1:5]); dict > maxLZMADict {
			return nil, fmt.Errorf("lzma dictionary of %d bytes", dict)
		}
		lr, err := lzma.NewReader(bytes.NewReader(stream))
		if err != nil {
			return nil, err
		}
		out, err := io.ReadAll(io.LimitReader(lr, int64(maxSize)+1))
		if err != nil {
			// Headerless vendor streams carry neither a size nor an end
			// marker, so running out of input is the normal end.
			if framing == LZMAStandard || len(out) == 0 ||
				!(errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)) {
				return nil, err
			}
		}
		if len(out) > maxSize {
			return nil, errTooLarge(len(out), maxSize)
		}
		return out, nil
	}
}
