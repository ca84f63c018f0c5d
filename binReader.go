package sasquatch

import (
	"errors"
	"fmt"
	"io"
)

// imageReader is a bounds checked random access view over the image.
// Every read either returns exactly the bytes asked for or an error
// wrapping ErrTruncatedImage; a corrupt length can never read past the end.
type imageReader struct {
	r    io.ReaderAt
	data []byte // set when the image is memory resident
	size int64
}

// byteSlicer is implemented by sources that already hold the image in
// memory, so reads can be served without copying.
type byteSlicer interface {
	Bytes() []byte
}

func newImageReader(r io.ReaderAt, size int64) *imageReader {
	ir := &imageReader{r: r, size: size}
	if bs, ok := r.(byteSlicer); ok {
		if b := bs.Bytes(); int64(len(b)) >= size {
			ir.data = b[:size]
		}
	}
	return ir
}

func (ir *imageReader) Size() int64 {
	return ir.size
}

func (ir *imageReader) inBounds(off int64, n int) bool {
	return off >= 0 && n >= 0 && off <= ir.size && int64(n) <= ir.size-off
}

// bytes returns n bytes at off. The result must not be modified.
func (ir *imageReader) bytes(off int64, n int) ([]byte, error) {
	if !ir.inBounds(off, n) {
		return nil, fmt.Errorf("read of %d bytes at %d beyond image size %d: %w", n, off, ir.size, ErrTruncatedImage)
	}
	if ir.data != nil {
		return ir.data[off : off+int64(n)], nil
	}
	buf := make([]byte, n)
	if _, err := ir.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadAt implements io.ReaderAt with the bounds check applied.
func (ir *imageReader) ReadAt(p []byte, off int64) (int, error) {
	if !ir.inBounds(off, len(p)) {
		return 0, fmt.Errorf("read of %d bytes at %d beyond image size %d: %w", len(p), off, ir.size, ErrTruncatedImage)
	}
	if ir.data != nil {
		return copy(p, ir.data[off:]), nil
	}
	n, err := ir.r.ReadAt(p, off)
	if n == len(p) {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = ErrTruncatedImage
	}
	return n, fmt.Errorf("short read at %d: %w", off, err)
}
