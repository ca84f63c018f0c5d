package testimage

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/klauspost/reedsolomon"
	lz4 "github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Container formats an image can be wrapped in.
const (
	WrapGzip   = "gzip"
	WrapXZ     = "xz"
	WrapZstd   = "zstd"
	WrapLZ4    = "lz4"
	WrapSnappy = "snappy"
	WrapS2     = "s2"
	WrapBrotli = "brotli"
)

// Wrap compresses img as a stream of the named container format.
func Wrap(kind string, img []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch kind {
	case WrapGzip:
		w = pgzip.NewWriter(&buf)
	case WrapXZ:
		w, err = xz.NewWriter(&buf)
	case WrapZstd:
		w, err = zstd.NewWriter(&buf)
	case WrapLZ4:
		w = lz4.NewWriter(&buf)
	case WrapSnappy:
		w = snappy.NewBufferedWriter(&buf)
	case WrapS2:
		w = s2.NewWriter(&buf)
	case WrapBrotli:
		w = brotli.NewWriter(&buf)
	default:
		return img, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(img); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FEC wraps payload in a FEC1 container: magic, data and parity shard
// counts, shard size and payload size, then every shard.
func FEC(payload []byte, dataShards, parityShards int) ([]byte, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	shards, err := enc.Split(payload)
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(shards); err != nil {
		return nil, err
	}
	hdr := make([]byte, 18)
	copy(hdr, "FEC1")
	hdr[4] = byte(dataShards)
	hdr[5] = byte(parityShards)
	binary.LittleEndian.PutUint32(hdr[6:10], uint32(len(shards[0])))
	binary.LittleEndian.PutUint64(hdr[10:18], uint64(len(payload)))
	out := bytes.NewBuffer(hdr)
	for _, s := range shards {
		out.Write(s)
	}
	return out.Bytes(), nil
}
