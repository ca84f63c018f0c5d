package sasquatch

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	lz4 "github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Source is the raw input an image is read from: a plain or memory mapped
// file, the joined parts of a split image, or the unwrapped payload of a
// compressed container.
type Source struct {
	r    io.ReaderAt
	size int64

	Name      string
	Parts     int
	Container []string // outermost first

	closers []func() error
}

func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

func (s *Source) Size() int64 {
	return s.size
}

// Bytes exposes the whole input when it is memory resident.
func (s *Source) Bytes() []byte {
	if bs, ok := s.r.(byteSlicer); ok {
		return bs.Bytes()
	}
	return nil
}

func (s *Source) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// memReader is an io.ReaderAt over a byte slice that also hands out the
// slice itself.
type memReader struct {
	b []byte
}

func (m *memReader) Bytes() []byte { return m.b }

func (m *memReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// maxContainerDepth bounds nested containers such as FEC1 around gzip.
const maxContainerDepth = 4

type container struct {
	name  string
	magic []byte
	open  func(r io.Reader) (io.Reader, error)
}

var containers = []container{
	{name: "fec", magic: []byte(fecMagic)},
	{name: "gzip", magic: []byte{0x1f, 0x8b}, open: func(r io.Reader) (io.Reader, error) {
		return pgzip.NewReader(r)
	}},
	{name: "xz", magic: []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, open: func(r io.Reader) (io.Reader, error) {
		return xz.NewReader(r)
	}},
	{name: "zstd", magic: []byte{0x28, 0xb5, 0x2f, 0xfd}, open: func(r io.Reader) (io.Reader, error) {
		return zstd.NewReader(r)
	}},
	{name: "lz4", magic: []byte{0x04, 0x22, 0x4d, 0x18}, open: func(r io.Reader) (io.Reader, error) {
		return lz4.NewReader(r), nil
	}},
	{name: "snappy", magic: []byte("\xff\x06\x00\x00sNaPpY"), open: func(r io.Reader) (io.Reader, error) {
		return snappy.NewReader(r), nil
	}},
	{name: "s2", magic: []byte("\xff\x06\x00\x00S2sTwO"), open: func(r io.Reader) (io.Reader, error) {
		return s2.NewReader(r), nil
	}},
}

// brotli streams have no magic, so they are recognised by extension only.
var brotliContainer = container{name: "brotli", open: func(r io.Reader) (io.Reader, error) {
	return brotli.NewReader(r), nil
}}

func detectContainer(head []byte) *container {
	for i := range containers {
		if bytes.HasPrefix(head, containers[i].magic) {
			return &containers[i]
		}
	}
	return nil
}

// OpenSource opens the image input at path. Split images are found from
// the base name, containers are unwrapped in memory, and offset skips a
// prefix of the (unwrapped) input.
func OpenSource(path string, offset int64) (*Source, error) {
	parts, err := findSpanFiles(path)
	if err != nil {
		return nil, err
	}
	s := &Source{Name: path, Parts: len(parts)}
	if len(parts) > 1 {
		sr, err := newSpanReader(parts)
		if err != nil {
			return nil, err
		}
		s.r, s.size = sr, sr.Size()
		s.closers = append(s.closers, sr.Close)
		doLog(true, "joined %d parts of %s", len(parts), path)
	} else if err := s.openFile(parts[0]); err != nil {
		return nil, err
	}

	if err := s.unwrap(strings.EqualFold(filepath.Ext(path), ".br")); err != nil {
		s.Close()
		return nil, err
	}

	if offset != 0 {
		if offset < 0 || offset >= s.size {
			s.Close()
			return nil, fmt.Errorf("offset %d outside input of %d bytes: %w", offset, s.size, ErrTruncatedImage)
		}
		if b := s.Bytes(); b != nil {
			s.r = &memReader{b: b[offset:]}
		} else {
			s.r = io.NewSectionReader(s.r, offset, s.size-offset)
		}
		s.size -= offset
	}
	return s, nil
}

func (s *Source) openFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	s.size = st.Size()
	b, unmap, err := mmapFile(f, s.size)
	if err != nil {
		doLog(true, "mmap %s: %v, reading through the file", name, err)
		s.r = f
		s.closers = append(s.closers, f.Close)
		return nil
	}
	f.Close()
	s.r = &memReader{b: b}
	s.closers = append(s.closers, unmap)
	return nil
}

// unwrap replaces the input with its decoded payload for as long as it
// starts with a known container magic.
func (s *Source) unwrap(brotliExt bool) error {
	for depth := 0; depth < maxContainerDepth; depth++ {
		head := make([]byte, 16)
		n, _ := s.r.ReadAt(head, 0)
		head = head[:n]

		c := detectContainer(head)
		if c == nil && depth == 0 && brotliExt {
			c = &brotliContainer
		}
		if c == nil {
			return nil
		}
		in := io.NewSectionReader(s.r, 0, s.size)
		var payload []byte
		var err error
		if c.name == "fec" {
			payload, err = decodeFEC(in, in.Size())
		} else {
			var r io.Reader
			if r, err = c.open(in); err == nil {
				payload, err = io.ReadAll(r)
				switch cl := r.(type) {
				case io.Closer:
					cl.Close()
				case *zstd.Decoder:
					cl.Close()
				}
			}
		}
		if err != nil {
			return fmt.Errorf("%s container: %v: %w", c.name, err, ErrUnsupportedFormat)
		}
		doLog(true, "unwrapped %s container: %d -> %d bytes", c.name, s.size, len(payload))
		s.Container = append(s.Container, c.name)
		s.r = &memReader{b: payload}
		s.size = int64(len(payload))
	}
	return nil
}
