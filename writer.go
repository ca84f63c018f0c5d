package sasquatch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/xattr"
)

var (
	errExists     = errors.New("already exists")
	errNotCreated = errors.New("cannot be created here")
)

// sink receives the tree in extraction order: directories parent first,
// then files, then links and special nodes, then finish with the
// directories so their metadata is applied after their content.
type sink interface {
	dir(e *Entry) error
	file(e *Entry, extra io.Writer) (int64, error)
	hardlink(e, first *Entry) error
	symlink(e *Entry) error
	special(e *Entry) error
	finish(dirs []*Entry)
	close() error
	concurrent() bool
}

// dirSink writes the tree below a destination directory.
type dirSink struct {
	root     string
	img      *Image
	opts     *Options
	sum      *Summary
	progress *progressData
	asRoot   bool
}

func newDirSink(dest string, img *Image, opts *Options, sum *Summary, p *progressData) (*dirSink, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &dirSink{
		root:     abs,
		img:      img,
		opts:     opts,
		sum:      sum,
		progress: p,
		asRoot:   os.Geteuid() == 0,
	}, nil
}

func (d *dirSink) concurrent() bool { return true }

func (d *dirSink) close() error { return nil }

func (d *dirSink) target(e *Entry) (string, error) {
	return safeJoin(d.root, e.Path)
}

// prepare clears the way for a new non-directory at p.
func (d *dirSink) prepare(p string) error {
	st, err := os.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !d.opts.Force {
		return fmt.Errorf("%s: %w", p, errExists)
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory: %w", p, errExists)
	}
	return os.Remove(p)
}

func (d *dirSink) dir(e *Entry) error {
	if e.Path == "" {
		return nil
	}
	p, err := d.target(e)
	if err != nil {
		return err
	}
	// Owner-writable until finish sets the real mode.
	err = os.Mkdir(p, 0o700)
	if err == nil || !errors.Is(err, fs.ErrExist) {
		return err
	}
	st, err := os.Lstat(p)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return nil
	}
	if !d.opts.Force {
		return fmt.Errorf("%s: %w", p, errExists)
	}
	if err := os.Remove(p); err != nil {
		return err
	}
	return os.Mkdir(p, 0o700)
}

func (d *dirSink) file(e *Entry, extra io.Writer) (int64, error) {
	p, err := d.target(e)
	if err != nil {
		return 0, err
	}
	if err := d.prepare(p); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, err
	}
	bf := NewBufferedFile(f, writeBuffer, d.progress)
	var w io.Writer = bf
	if extra != nil {
		w = io.MultiWriter(bf, extra)
	}
	n, werr := d.img.WriteFile(e.Inode, w)
	if cerr := bf.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil && (!errors.Is(werr, ErrSizeMismatch) || d.opts.DropPartial) {
		os.Remove(p)
		return n, werr
	}
	d.applyMeta(p, e)
	return n, werr
}

func (d *dirSink) hardlink(e, first *Entry) error {
	p, err := d.target(e)
	if err != nil {
		return err
	}
	fp, err := d.target(first)
	if err != nil {
		return err
	}
	if err := d.prepare(p); err != nil {
		return err
	}
	return os.Link(fp, p)
}

func (d *dirSink) symlink(e *Entry) error {
	p, err := d.target(e)
	if err != nil {
		return err
	}
	if err := d.prepare(p); err != nil {
		return err
	}
	if err := os.Symlink(e.Inode.Target, p); err != nil {
		return err
	}
	d.applyMeta(p, e)
	return nil
}

func (d *dirSink) special(e *Entry) error {
	p, err := d.target(e)
	if err != nil {
		return err
	}
	if err := d.prepare(p); err != nil {
		return err
	}
	if err := makeNode(p, e.Inode); err != nil {
		return fmt.Errorf("%v %s: %v: %w", e.Inode.Type, p, err, errNotCreated)
	}
	d.applyMeta(p, e)
	return nil
}

// finish applies directory metadata deepest first, so setting a read-only
// mode or an mtime cannot be undone by writing children.
func (d *dirSink) finish(dirs []*Entry) {
	for i := len(dirs) - 1; i >= 0; i-- {
		p, err := d.target(dirs[i])
		if err != nil {
			continue
		}
		d.applyMeta(p, dirs[i])
	}
}

// applyMeta restores xattrs, ownership, mode and mtime. Failures are
// recorded as warnings.
func (d *dirSink) applyMeta(p string, e *Entry) {
	ino := e.Inode
	link := ino.IsSymlink()
	if !d.opts.NoXattrs && ino.HasXattrs() {
		xs, err := d.img.Xattrs(ino)
		if err != nil {
			d.sum.warn(e.Path, err)
		}
		for _, x := range xs {
			if err := xattr.LSet(p, x.Name, x.Value); err != nil {
				d.sum.warn(e.Path, fmt.Errorf("xattr %s: %w", x.Name, err))
			}
		}
	}
	if d.asRoot {
		if err := lchown(p, int(ino.UID), int(ino.GID)); err != nil {
			d.sum.warn(e.Path, err)
		}
	}
	if !link {
		mode := ino.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
		if err := os.Chmod(p, mode); err != nil {
			d.sum.warn(e.Path, err)
		}
	}
	if err := setTimes(p, ino.ModTime, link); err != nil {
		d.sum.warn(e.Path, err)
	}
}
