package sasquatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"sasquatch/internal/testimage"
)

func decodeFECBytes(b []byte) ([]byte, error) {
	return decodeFEC(bytes.NewReader(b), int64(len(b)))
}

// fecHeader builds a FEC1 header followed by pad bytes of shard data.
func fecHeader(data, parity uint8, shardSize uint32, dataSize uint64, pad int) []byte {
	h := []byte("FEC1")
	h = append(h, data, parity)
	h = binary.LittleEndian.AppendUint32(h, shardSize)
	h = binary.LittleEndian.AppendUint64(h, dataSize)
	return append(h, make([]byte, pad)...)
}

func TestFECRoundTrip(t *testing.T) {
	payload := pattern(100000)
	enc, err := testimage.FEC(payload, 6, 3)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeFECBytes(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestFECRepairsDamage(t *testing.T) {
	payload := pattern(100000)
	enc, err := testimage.FEC(payload, 6, 3)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	shardSize := (len(enc) - fecHeaderSize) / 9

	t.Run("flipped bytes in one shard", func(t *testing.T) {
		bad := append([]byte(nil), enc...)
		off := fecHeaderSize + 2*shardSize + 17
		bad[off] ^= 0xff
		bad[off+100] ^= 0x55
		got, err := decodeFECBytes(bad)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch")
		}
	})

	t.Run("truncated parity", func(t *testing.T) {
		cut := enc[:len(enc)-shardSize-10]
		got, err := decodeFECBytes(cut)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch")
		}
	})

	t.Run("too much damage", func(t *testing.T) {
		bad := append([]byte(nil), enc...)
		for _, shard := range []int{0, 3} {
			bad[fecHeaderSize+shard*shardSize+5] ^= 0xff
		}
		if _, err := decodeFECBytes(bad); !errors.Is(err, errFEC) {
			t.Fatalf("got %v, want errFEC", err)
		}
	})
}

func TestFECBadHeader(t *testing.T) {
	for _, in := range [][]byte{
		[]byte("FEC"),
		[]byte("NOPE00000000000000"),
		append([]byte("FEC1\x00\x02"), make([]byte, 12)...),
		// shard sizes far beyond the input
		fecHeader(200, 50, 0xffffffff, 1, 64),
		fecHeader(1, 0, 0xffffffff, 1, 64),
		// data fits, but rebuilding parity would need more than remains
		fecHeader(1, 200, 64, 1, 64),
		// payload larger than the data shards
		fecHeader(1, 1, 16, 1<<63, 32),
	} {
		if _, err := decodeFECBytes(in); !errors.Is(err, errFEC) {
			t.Errorf("%q: got %v, want errFEC", in, err)
		}
	}
}

func TestOpenSourceRejectsOversizedFEC(t *testing.T) {
	p := writeImage(t, t.TempDir(), "crafted.bin", fecHeader(200, 50, 0xffffffff, 1, 64))
	if _, err := OpenSource(p, 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}
