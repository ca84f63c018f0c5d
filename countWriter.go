package sasquatch

import (
	"io"
	"sync/atomic"
)

// countingWriter counts the bytes that reach w. Count may be called while
// writes are in flight.
type countingWriter struct {
	w io.Writer
	n atomic.Int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	m, err := cw.w.Write(p)
	cw.n.Add(int64(m))
	return m, err
}

func (cw *countingWriter) Count() int64 { return cw.n.Load() }
