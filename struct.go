package sasquatch

import (
	"path"
	"sync"
)

// Entry is one node of the image tree.
type Entry struct {
	Path  string // slash separated, relative to the root; "" for the root
	Inode *Inode
	Depth int
}

func (e *Entry) Name() string {
	if e.Path == "" {
		return "/"
	}
	return path.Base(e.Path)
}

// Problem records a per-entry failure that did not stop the run.
type Problem struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

// Summary is the outcome of an extraction.
type Summary struct {
	Total     int   `json:"total"`
	Extracted int   `json:"extracted"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
	Warnings  int   `json:"warnings"`
	Bytes     int64 `json:"bytes"`

	Problems []Problem `json:"problems,omitempty"`

	lock sync.Mutex
}

func (s *Summary) fail(p string, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.Failed++
	s.Problems = append(s.Problems, Problem{Path: p, Kind: errorKind(err), Message: err.Error()})
}

func (s *Summary) warn(p string, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.Warnings++
	s.Problems = append(s.Problems, Problem{Path: p, Kind: errorKind(err), Message: err.Error(), Warning: true})
}

func (s *Summary) skip(p string, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.Skipped++
	if err != nil {
		s.Problems = append(s.Problems, Problem{Path: p, Kind: errorKind(err), Message: err.Error(), Warning: true})
	}
}

func (s *Summary) done(n int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.Extracted++
	s.Bytes += n
}
