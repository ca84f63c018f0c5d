package sasquatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// spanReader joins the parts of a split image into one io.ReaderAt.
type spanReader struct {
	files  []*os.File
	starts []int64 // offset of each part within the joined image
	size   int64
}

func (sr *spanReader) Name() string {
	if len(sr.files) > 0 {
		return sr.files[0].Name()
	}
	return ""
}

// findSpanFiles returns the parts for base. An existing file is returned
// alone; otherwise "1-N.base" ... "N-N.base" or "1.base", "2.base", ... are
// looked up next to it.
func findSpanFiles(base string) ([]string, error) {
	if _, err := os.Stat(base); err == nil {
		return []string{base}, nil
	}
	dir := filepath.Dir(base)
	name := filepath.Base(base)
	// try numbered with total
	matches, _ := filepath.Glob(filepath.Join(dir, "1-*."+name))
	if len(matches) > 0 {
		b := filepath.Base(matches[0])
		tstr := strings.TrimSuffix(strings.TrimPrefix(b, "1-"), "."+name)
		total, err := strconv.Atoi(tstr)
		if err != nil || total < 1 {
			return nil, fmt.Errorf("invalid span name %q", b)
		}
		out := make([]string, 0, total)
		for i := 1; i <= total; i++ {
			p := filepath.Join(dir, fmt.Sprintf("%d-%d.%s", i, total, name))
			if _, err := os.Stat(p); err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}
	// try simple numbered
	var out []string
	for i := 1; ; i++ {
		p := filepath.Join(dir, fmt.Sprintf("%d.%s", i, name))
		if _, err := os.Stat(p); err != nil {
			break
		}
		out = append(out, p)
	}
	if len(out) > 0 {
		return out, nil
	}
	return nil, fmt.Errorf("%s: %w", base, os.ErrNotExist)
}

func newSpanReader(paths []string) (*spanReader, error) {
	sr := &spanReader{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			sr.Close()
			return nil, err
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			sr.Close()
			return nil, err
		}
		sr.files = append(sr.files, f)
		sr.starts = append(sr.starts, sr.size)
		sr.size += st.Size()
	}
	return sr, nil
}

func (sr *spanReader) Size() int64 {
	return sr.size
}

func (sr *spanReader) Close() error {
	var firstErr error
	for _, f := range sr.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadAt reads across part boundaries.
func (sr *spanReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= sr.size {
		return 0, io.EOF
	}
	idx := sort.Search(len(sr.starts), func(i int) bool { return sr.starts[i] > off }) - 1
	total := 0
	for len(p) > 0 && idx < len(sr.files) {
		n, err := sr.files[idx].ReadAt(p, off-sr.starts[idx])
		total += n
		off += int64(n)
		p = p[n:]
		if err != nil && err != io.EOF {
			return total, err
		}
		if len(p) > 0 {
			idx++
		}
	}
	if len(p) > 0 {
		return total, io.EOF
	}
	return total, nil
}
