package sasquatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/reedsolomon"
)

// FEC1 container: magic, data shards u8, parity shards u8, shard size u32,
// payload size u64 (all little endian), then every shard in order.
const (
	fecMagic      = "FEC1"
	fecHeaderSize = 4 + 1 + 1 + 4 + 8
)

var errFEC = errors.New("fec container")

// decodeFEC reads a FEC1 container of size bytes and returns the repaired
// payload. Shards cut off by a truncated file are rebuilt from parity; a
// single damaged shard is located by trial reconstruction. The data shards
// must be present in full size, and at most as many bytes as remain can be
// rebuilt.
func decodeFEC(r io.Reader, size int64) ([]byte, error) {
	hdr := make([]byte, fecHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", errFEC, err)
	}
	if string(hdr[:4]) != fecMagic {
		return nil, fmt.Errorf("%w: bad magic %q", errFEC, hdr[:4])
	}
	dataShards := int(hdr[4])
	parityShards := int(hdr[5])
	shardSize := int64(binary.LittleEndian.Uint32(hdr[6:10]))
	dataSize := binary.LittleEndian.Uint64(hdr[10:18])
	if dataShards == 0 || shardSize == 0 || dataSize > uint64(dataShards)*uint64(shardSize) {
		return nil, fmt.Errorf("%w: %d+%d shards of %d bytes for %d bytes", errFEC, dataShards, parityShards, shardSize, dataSize)
	}
	avail := size - fecHeaderSize
	if int64(dataShards)*shardSize > avail || int64(dataShards+parityShards)*shardSize > 2*avail {
		return nil, fmt.Errorf("%w: %d+%d shards of %d bytes in %d bytes of input", errFEC, dataShards, parityShards, shardSize, avail)
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errFEC, err)
	}
	total := dataShards + parityShards
	shards := make([][]byte, total)
	missing := 0
	for i := 0; i < total; i++ {
		buf := make([]byte, shardSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, err
			}
			missing = total - i
			break
		}
		shards[i] = buf
	}
	if missing > 0 {
		doLog(false, "FEC: %d of %d shards missing, rebuilding", missing, total)
		if err := enc.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("%w: %v", errFEC, err)
		}
	}

	ok, err := enc.Verify(shards)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errFEC, err)
	}
	if !ok {
		if shards, err = repairOneShard(enc, shards); err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	out.Grow(int(dataSize))
	if err := enc.Join(&out, shards, int(dataSize)); err != nil {
		return nil, fmt.Errorf("%w: %v", errFEC, err)
	}
	return out.Bytes(), nil
}

func repairOneShard(enc reedsolomon.Encoder, shards [][]byte) ([][]byte, error) {
	for i := range shards {
		try := make([][]byte, len(shards))
		copy(try, shards)
		try[i] = nil
		if err := enc.Reconstruct(try); err != nil {
			continue
		}
		if ok, err := enc.Verify(try); err == nil && ok {
			doLog(false, "FEC: repaired shard %d", i)
			return try, nil
		}
	}
	return nil, fmt.Errorf("%w: parity mismatch in more than one shard", errFEC)
}
