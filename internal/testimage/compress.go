package testimage

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	lz4 "github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

const lzmaHeaderSize = 13

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
)

// compress returns the compressed form of p, or nil when the image
// compressor has no encoder here and blocks must be stored raw.
func (b *Builder) compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch b.opts.Compression {
	case Gzip:
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(p); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case XZ:
		cfg := xz.WriterConfig{DictCap: int(b.opts.BlockSize)}
		w, err := cfg.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(p); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case LZMA:
		w, err := lzma.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(p); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return frameLZMA(buf.Bytes(), b.opts.LZMA), nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(p)))
		var c lz4.Compressor
		n, err := c.CompressBlock(p, dst)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return dst[:n], nil
	case Zstd:
		zstdOnce.Do(func() {
			zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		})
		if zstdEnc == nil {
			return nil, fmt.Errorf("testimage: zstd encoder")
		}
		return zstdEnc.EncodeAll(p, nil), nil
	default:
		return nil, nil
	}
	return buf.Bytes(), nil
}

// frameLZMA rewrites a standard 13 byte header stream into a vendor
// framing. The writer always emits an end marker, so the size field is
// not needed to find the end.
func frameLZMA(stream []byte, framing int) []byte {
	switch framing {
	case LZMANoSize:
		out := append([]byte(nil), stream[:5]...)
		return append(out, stream[lzmaHeaderSize:]...)
	case LZMARaw:
		return append([]byte(nil), stream[lzmaHeaderSize:]...)
	}
	return stream
}
