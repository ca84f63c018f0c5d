package sasquatch

import "encoding/binary"

// Options controls an extraction run.
type Options struct {
	// Dest is the output directory. Empty means "<image name>-root" in the
	// working directory.
	Dest  string
	Force bool
	// Paths restricts extraction to these subtrees (slash separated,
	// relative to the image root).
	Paths   []string
	Workers int

	// Strict turns per-entry problems into a failed run.
	Strict bool
	// DropPartial removes files whose extracted size does not match the
	// inode instead of keeping what was written.
	DropPartial bool
	NoXattrs    bool

	// Tar writes a tar stream (optionally .gz or .xz compressed) instead
	// of a directory tree.
	Tar string
	// Manifest writes a JSON list of extracted files with checksums made
	// with the Checksum algorithm.
	Manifest string
	Checksum string

	Progress   bool
	SpaceCheck bool

	// Image parsing overrides.
	Offset        int64
	ByteOrder     binary.ByteOrder
	Dialect       string
	Compression   Compression
	FragmentCache int
}

// OpenOptions converts the parsing overrides to options for Open.
func (o *Options) OpenOptions() ([]OpenOption, error) {
	var opts []OpenOption
	if o.Dialect != "" {
		d, err := DialectByName(o.Dialect)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithDialect(d))
	}
	if o.ByteOrder != nil {
		opts = append(opts, WithByteOrder(o.ByteOrder))
	}
	if o.Compression != CompressionNone {
		opts = append(opts, WithCompression(o.Compression))
	}
	if o.FragmentCache > 0 {
		opts = append(opts, WithFragmentCache(o.FragmentCache))
	}
	return opts, nil
}
