package sasquatch

import "errors"

// Structural errors. Any of these aborts the whole run.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptSuperblock = errors.New("corrupt superblock")
	ErrTruncatedImage    = errors.New("truncated image")
)

// Per-entry and per-file errors. The entry is skipped or the file aborted,
// the rest of the tree is still extracted.
var (
	ErrInvalidInode  = errors.New("invalid inode")
	ErrMalformedTree = errors.New("malformed directory tree")
	ErrDecompression = errors.New("decompression error")
	ErrSizeMismatch  = errors.New("size mismatch")
)

// ErrInsufficientSpace is returned when the destination cannot hold the
// extracted data.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// IsFatal reports whether err belongs to a kind that stops extraction.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidInode),
		errors.Is(err, ErrMalformedTree),
		errors.Is(err, ErrDecompression),
		errors.Is(err, ErrSizeMismatch):
		return false
	}
	return true
}

// errorKind names the sentinel wrapped by err, for summaries.
func errorKind(err error) string {
	for _, k := range []error{
		ErrUnsupportedFormat, ErrCorruptSuperblock, ErrTruncatedImage,
		ErrInvalidInode, ErrMalformedTree, ErrDecompression, ErrSizeMismatch,
		ErrInsufficientSpace,
	} {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "error"
}
