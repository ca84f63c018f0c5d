package sasquatch

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// errWriter always returns an error on Write
type errWriter struct{}

func (errWriter) Write(p []byte) (int, error) {
	return 0, errors.New("write error")
}

func TestBufferedFileClosePropagatesError(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bf")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	bf := &BufferedFile{
		file:   f,
		writer: bufio.NewWriterSize(errWriter{}, 32),
	}
	bf.writer.WriteByte('a')
	if err := bf.Close(); err == nil {
		t.Fatal("expected close error, got nil")
	}
}

func TestBufferedFileHoles(t *testing.T) {
	cases := []struct {
		name   string
		chunks [][]byte
	}{
		{"hole in the middle", [][]byte{[]byte("head"), make([]byte, 3*sparseMin), []byte("tail")}},
		{"trailing hole", [][]byte{[]byte("head"), make([]byte, 2*sparseMin)}},
		{"only hole", [][]byte{make([]byte, sparseMin)}},
		{"short zero run stays data", [][]byte{[]byte("a"), make([]byte, sparseMin-1), []byte("b")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "out")
			f, err := os.Create(p)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			p2 := &progressData{}
			bf := NewBufferedFile(f, 64, p2)
			var want []byte
			for _, c := range tc.chunks {
				if _, err := bf.Write(c); err != nil {
					t.Fatalf("write: %v", err)
				}
				want = append(want, c...)
			}
			if bf.Size() != int64(len(want)) {
				t.Fatalf("size %d, want %d", bf.Size(), len(want))
			}
			if err := bf.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			got, err := os.ReadFile(p)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("content mismatch: %d bytes, want %d", len(got), len(want))
			}
			if p2.written.Load() != int64(len(want)) {
				t.Fatalf("progress counted %d bytes, want %d", p2.written.Load(), len(want))
			}
		})
	}
}
