package sasquatch

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// WriteFile streams the content of a regular file to w and returns the
// number of bytes written. Bytes written before a failure stay written.
func (img *Image) WriteFile(ino *Inode, w io.Writer) (int64, error) {
	f := ino.File
	if f == nil {
		return 0, fmt.Errorf("inode %v is a %v, not a file: %w", ino.Ref, ino.Type, ErrInvalidInode)
	}
	bs := int64(img.sb.BlockSize)
	var written int64
	pos := f.BlocksStart
	for i, word := range f.Blocks {
		size := word & dataSizeMask
		if size == 0 {
			n, err := w.Write(img.zeroBlock(min(bs, int64(f.Size)-int64(i)*bs)))
			written += int64(n)
			if err != nil {
				return written, err
			}
			continue
		}
		if pos+uint64(size) > img.sb.BytesUsed {
			return written, fmt.Errorf("inode %d block %d at %d+%d beyond image end: %w", ino.Number, i, pos, size, ErrInvalidInode)
		}
		data, err := img.r.bytes(int64(pos), int(size))
		if err != nil {
			return written, err
		}
		pos += uint64(size)
		if word&dataRawFlag == 0 {
			if data, err = img.reg.Decompress(img.sb.Compression, data, int(bs)); err != nil {
				return written, fmt.Errorf("inode %d block %d: %w", ino.Number, i, err)
			}
		}
		n, err := w.Write(data)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	if f.HasFragment() {
		tail := int64(f.Size) - int64(len(f.Blocks))*bs
		frag, err := img.fragmentBlock(f.Fragment)
		if err != nil {
			return written, fmt.Errorf("inode %d: %w", ino.Number, err)
		}
		start := min(int64(f.FragOffset), int64(len(frag)))
		end := min(start+tail, int64(len(frag)))
		n, err := w.Write(frag[start:end])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	if written != int64(f.Size) {
		return written, fmt.Errorf("inode %d: wrote %d bytes, inode declares %d: %w", ino.Number, written, f.Size, ErrSizeMismatch)
	}
	return written, nil
}

// ReadFile returns the whole content of a regular file.
func (img *Image) ReadFile(ino *Inode) ([]byte, error) {
	var buf bytes.Buffer
	if ino.File != nil {
		buf.Grow(int(min(ino.File.Size, uint64(img.sb.BytesUsed)*4)))
	}
	_, err := img.WriteFile(ino, &buf)
	return buf.Bytes(), err
}

// fragmentBlock returns the decompressed fragment block i. Blocks are kept
// in a bounded LRU so files sharing a fragment decompress it once.
func (img *Image) fragmentBlock(i uint32) ([]byte, error) {
	if b, ok := img.fragCache.Get(i); ok {
		return b, nil
	}
	v, err, _ := img.fragGroup.Do(strconv.FormatUint(uint64(i), 10), func() (any, error) {
		if b, ok := img.fragCache.Get(i); ok {
			return b, nil
		}
		fe, err := img.Fragment(i)
		if err != nil {
			return nil, err
		}
		if fe.Size == 0 || fe.Start+uint64(fe.Size) > img.sb.BytesUsed {
			return nil, fmt.Errorf("fragment %d at %d+%d beyond image end: %w", i, fe.Start, fe.Size, ErrInvalidInode)
		}
		data, err := img.r.bytes(int64(fe.Start), int(fe.Size))
		if err != nil {
			return nil, err
		}
		if !fe.Raw {
			if data, err = img.reg.Decompress(img.sb.Compression, data, int(img.sb.BlockSize)); err != nil {
				return nil, fmt.Errorf("fragment %d: %w", i, err)
			}
		}
		img.fragCache.Add(i, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// zeroBlock returns n zero bytes for sparse blocks. n never exceeds the
// block size.
func (img *Image) zeroBlock(n int64) []byte {
	img.zeroOnce.Do(func() {
		img.zeros = make([]byte, img.sb.BlockSize)
	})
	return img.zeros[:n]
}
