package sasquatch

import (
	"bufio"
	"io"
)

// sparseMin is the smallest all-zero write turned into a hole.
const sparseMin = 4096

type fileLike interface {
	io.WriteSeeker
	Truncate(size int64) error
	Close() error
	Name() string
}

// BufferedFile buffers writes to an extracted file. All-zero writes of at
// least sparseMin bytes are skipped with a seek, so sparse files stay
// sparse on disk.
type BufferedFile struct {
	file     fileLike
	writer   *bufio.Writer
	progress *progressData
	size     int64
	hole     bool // file currently ends in a skipped run
}

func NewBufferedFile(file fileLike, bufSize int, p *progressData) *BufferedFile {
	return &BufferedFile{
		file:     file,
		writer:   bufio.NewWriterSize(file, bufSize),
		progress: p,
	}
}

func (bf *BufferedFile) Write(p []byte) (int, error) {
	var n int
	var err error
	if len(p) >= sparseMin && isZero(p) {
		if err = bf.writer.Flush(); err != nil {
			return 0, err
		}
		if _, err = bf.file.Seek(int64(len(p)), io.SeekCurrent); err != nil {
			return 0, err
		}
		n = len(p)
		bf.hole = true
	} else {
		n, err = bf.writer.Write(p)
		if n > 0 {
			bf.hole = false
		}
	}
	bf.size += int64(n)
	if bf.progress != nil {
		bf.progress.current.Add(int64(n))
		bf.progress.written.Add(int64(n))
	}
	return n, err
}

func (bf *BufferedFile) Flush() error {
	return bf.writer.Flush()
}

// Size is the logical number of bytes written, holes included.
func (bf *BufferedFile) Size() int64 {
	return bf.size
}

func (bf *BufferedFile) Close() error {
	if err := bf.Flush(); err != nil {
		bf.file.Close()
		return err
	}
	if bf.hole {
		if err := bf.file.Truncate(bf.size); err != nil {
			bf.file.Close()
			return err
		}
	}
	return bf.file.Close()
}

func isZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}
