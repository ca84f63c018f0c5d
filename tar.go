package sasquatch

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	gzip "github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// tarSink writes the tree as a tar stream. The stream is gzip compressed
// for .gz/.tgz names and xz compressed for .xz names; "-" is stdout.
type tarSink struct {
	out      io.WriteCloser
	count    *countingWriter // bytes reaching out, after compression
	zw       io.WriteCloser
	tw       *tar.Writer
	img      *Image
	opts     *Options
	sum      *Summary
	progress *progressData
}

func newTarSink(name string, img *Image, opts *Options, sum *Summary, p *progressData) (*tarSink, error) {
	var out io.WriteCloser = os.Stdout
	if name != "-" {
		f, err := os.Create(name)
		if err != nil {
			return nil, err
		}
		out = f
	}
	t := &tarSink{out: out, count: &countingWriter{w: out}, img: img, opts: opts, sum: sum, progress: p}
	var w io.Writer = t.count
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".tgz"):
		gw := gzip.NewWriter(t.count)
		t.zw, w = gw, gw
	case strings.HasSuffix(lower, ".xz"):
		xw, err := xz.NewWriter(t.count)
		if err != nil {
			out.Close()
			return nil, err
		}
		t.zw, w = xw, xw
	}
	t.tw = tar.NewWriter(w)
	return t, nil
}

func (t *tarSink) concurrent() bool { return false }

func (t *tarSink) header(e *Entry, typ byte) *tar.Header {
	ino := e.Inode
	hdr := &tar.Header{
		Typeflag: typ,
		Name:     e.Path,
		Mode:     int64(ino.Perm & 0o7777),
		Uid:      int(ino.UID),
		Gid:      int(ino.GID),
		ModTime:  ino.ModTime,
	}
	if !t.opts.NoXattrs && ino.HasXattrs() {
		xs, err := t.img.Xattrs(ino)
		if err != nil {
			t.sum.warn(e.Path, err)
		}
		for _, x := range xs {
			if hdr.PAXRecords == nil {
				hdr.PAXRecords = map[string]string{}
			}
			hdr.PAXRecords["SCHILY.xattr."+x.Name] = string(x.Value)
		}
	}
	return hdr
}

func (t *tarSink) dir(e *Entry) error {
	if e.Path == "" {
		return nil
	}
	hdr := t.header(e, tar.TypeDir)
	hdr.Name += "/"
	return t.tw.WriteHeader(hdr)
}

func (t *tarSink) file(e *Entry, extra io.Writer) (int64, error) {
	hdr := t.header(e, tar.TypeReg)
	hdr.Size = int64(e.Inode.File.Size)
	if err := t.tw.WriteHeader(hdr); err != nil {
		return 0, err
	}
	body := &tarBody{w: progressWriter{w: t.tw, p: t.progress}, left: hdr.Size}
	var w io.Writer = body
	if extra != nil {
		w = io.MultiWriter(body, extra)
	}
	n, err := t.img.WriteFile(e.Inode, w)
	// The header already promised hdr.Size bytes.
	if perr := body.pad(); perr != nil {
		return n, perr
	}
	return n, err
}

func (t *tarSink) hardlink(e, first *Entry) error {
	hdr := t.header(e, tar.TypeLink)
	hdr.Linkname = first.Path
	return t.tw.WriteHeader(hdr)
}

func (t *tarSink) symlink(e *Entry) error {
	hdr := t.header(e, tar.TypeSymlink)
	hdr.Linkname = e.Inode.Target
	return t.tw.WriteHeader(hdr)
}

func (t *tarSink) special(e *Entry) error {
	ino := e.Inode
	var typ byte
	switch ino.Type.Basic() {
	case InodeBlockDev:
		typ = tar.TypeBlock
	case InodeCharDev:
		typ = tar.TypeChar
	case InodeFifo:
		typ = tar.TypeFifo
	default:
		return fmt.Errorf("%v in tar: %w", ino.Type, errNotCreated)
	}
	hdr := t.header(e, typ)
	hdr.Devmajor = int64(ino.Major)
	hdr.Devminor = int64(ino.Minor)
	return t.tw.WriteHeader(hdr)
}

func (t *tarSink) finish(dirs []*Entry) {}

func (t *tarSink) close() error {
	err := t.tw.Close()
	if t.zw != nil {
		if zerr := t.zw.Close(); err == nil {
			err = zerr
		}
	}
	if t.out != os.Stdout {
		if cerr := t.out.Close(); err == nil {
			err = cerr
		}
	}
	doLog(false, "Tar stream: %v written", humanize.IBytes(uint64(t.count.Count())))
	return err
}

// tarBody caps a file body at the size written in its header and pads it
// when the image delivers less.
type tarBody struct {
	w    io.Writer
	left int64
}

func (b *tarBody) Write(p []byte) (int, error) {
	n := int64(len(p))
	if n > b.left {
		n = b.left
	}
	if n > 0 {
		if _, err := b.w.Write(p[:n]); err != nil {
			return 0, err
		}
		b.left -= n
	}
	return len(p), nil
}

func (b *tarBody) pad() error {
	if b.left <= 0 {
		return nil
	}
	_, err := io.CopyN(b.w, zeroReader{}, b.left)
	b.left = 0
	return err
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
