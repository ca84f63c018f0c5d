package sasquatch

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/remeh/sizedwaitgroup"
)

type hardLink struct {
	entry, first *Entry
}

// plan is the walked tree, split into extraction phases.
type plan struct {
	dirs     []*Entry
	files    []*Entry
	links    []hardLink
	symlinks []*Entry
	specials []*Entry
	bytes    uint64
}

type extraction struct {
	img      *Image
	opts     *Options
	sum      *Summary
	sink     sink
	manifest *Manifest
	progress *progressData

	blocked map[string]bool // directories that could not be created
	cancel  context.CancelCauseFunc
}

// Extract opens the image at imagePath and extracts it according to opts.
// The returned error is non-nil only when the run as a whole failed; per
// entry problems are in the Summary.
func Extract(ctx context.Context, imagePath string, opts Options) (*Summary, error) {
	src, err := OpenSource(imagePath, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	oo, err := opts.OpenOptions()
	if err != nil {
		return nil, err
	}
	img, err := Open(src, src.Size(), oo...)
	if err != nil {
		return nil, err
	}
	doLog(false, "Opening image: %v (%v, %v, %v blocks)", imagePath, img.dialect.Name, img.sb.Compression, humanize.IBytes(uint64(img.sb.BlockSize)))
	showFlags(img.sb.Flags)
	if opts.Dest == "" && opts.Tar == "" {
		opts.Dest = DefaultDestination(imagePath)
	}
	if opts.Manifest != "" && opts.Checksum == "" {
		opts.Checksum = defaultChecksumName
	}
	return ExtractImage(ctx, img, opts)
}

// ExtractImage extracts an opened image.
func ExtractImage(ctx context.Context, img *Image, opts Options) (*Summary, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Dest == "" && opts.Tar == "" {
		return nil, errors.New("no destination directory or tar output given")
	}
	sum := &Summary{}
	pl, err := planExtraction(ctx, img, &opts, sum)
	if err != nil {
		return sum, err
	}

	var man *Manifest
	if opts.Manifest != "" {
		if man, err = newManifest(opts.Dest+opts.Tar, opts.Checksum); err != nil {
			return sum, err
		}
	}

	p, done, finished := progressTicker(&progressData{enabled: opts.Progress, total: int64(pl.bytes), files: int64(len(pl.files)), speedWindowSize: time.Second * 5})
	defer func() {
		close(done)
		<-finished
	}()

	var s sink
	if opts.Tar != "" {
		s, err = newTarSink(opts.Tar, img, &opts, sum, p)
	} else {
		doLog(false, "Destination: %v", opts.Dest)
		if opts.SpaceCheck {
			if err := checkDiskSpace(opts.Dest, pl.bytes); err != nil {
				return sum, err
			}
		}
		s, err = newDirSink(opts.Dest, img, &opts, sum, p)
	}
	if err != nil {
		return sum, err
	}

	x := &extraction{img: img, opts: &opts, sum: sum, sink: s, manifest: man, progress: p, blocked: map[string]bool{}}
	err = x.run(ctx, pl)
	if cerr := s.close(); err == nil {
		err = cerr
	}
	if err == nil && man != nil {
		err = man.write(opts.Manifest)
	}
	return sum, err
}

func planExtraction(ctx context.Context, img *Image, opts *Options, sum *Summary) (*plan, error) {
	pl := &plan{}
	seen := map[uint32]*Entry{}
	err := img.Walk(ctx, func(e *Entry, werr error) error {
		match, parent := inScope(e.Path, opts.Paths)
		if werr != nil {
			if !match && !parent {
				return nil
			}
			doWarn(e.Path, werr)
			if e.Inode != nil {
				// A damaged listing; the directory itself was already counted.
				sum.warn(e.Path, werr)
			} else {
				sum.fail(e.Path, werr)
			}
			if opts.Strict {
				return fmt.Errorf("%s: %w", e.Path, werr)
			}
			return nil
		}
		ino := e.Inode
		if !match {
			if parent && ino.IsDir() {
				pl.dirs = append(pl.dirs, e)
				return nil
			}
			if ino.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		sum.Total++
		if ino.IsDir() {
			pl.dirs = append(pl.dirs, e)
			return nil
		}
		// Non-directories sharing an inode number are hard links.
		if first, ok := seen[ino.Number]; ok {
			pl.links = append(pl.links, hardLink{entry: e, first: first})
			return nil
		}
		seen[ino.Number] = e
		switch {
		case ino.IsRegular():
			pl.files = append(pl.files, e)
			pl.bytes += ino.File.Size
		case ino.IsSymlink():
			pl.symlinks = append(pl.symlinks, e)
		default:
			pl.specials = append(pl.specials, e)
		}
		return nil
	})
	if err != nil {
		return pl, err
	}
	doLog(false, "%v entries, %v in %v files", sum.Total, humanize.Bytes(pl.bytes), len(pl.files))
	return pl, nil
}

func (x *extraction) run(parent context.Context, pl *plan) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	x.cancel = cancel

	for _, e := range pl.dirs {
		if err := context.Cause(ctx); err != nil {
			return err
		}
		if x.isBlocked(e.Path) {
			x.report(e, 0, fmt.Errorf("parent directory missing: %w", errNotCreated))
			x.blocked[e.Path] = true
			continue
		}
		err := x.sink.dir(e)
		if err != nil {
			x.blocked[e.Path] = true
		}
		// Directories created only as parents of wanted paths are not counted.
		if _, parent := inScope(e.Path, x.opts.Paths); !parent || err != nil {
			x.report(e, 0, err)
		}
	}

	if x.sink.concurrent() {
		wg := sizedwaitgroup.New(x.opts.Workers)
		for _, e := range pl.files {
			if context.Cause(ctx) != nil {
				break
			}
			wg.Add()
			go func(e *Entry) {
				defer wg.Done()
				x.extractFile(e)
			}(e)
		}
		wg.Wait()
	} else {
		for _, e := range pl.files {
			if context.Cause(ctx) != nil {
				break
			}
			x.extractFile(e)
		}
	}
	if err := context.Cause(ctx); err != nil {
		return err
	}

	for _, l := range pl.links {
		x.other(l.entry, func() error { return x.sink.hardlink(l.entry, l.first) })
	}
	for _, e := range pl.symlinks {
		x.other(e, func() error { return x.sink.symlink(e) })
	}
	for _, e := range pl.specials {
		x.other(e, func() error { return x.sink.special(e) })
	}
	if err := context.Cause(ctx); err != nil {
		return err
	}
	x.sink.finish(pl.dirs)
	return nil
}

func (x *extraction) other(e *Entry, fn func() error) {
	if x.isBlocked(path.Dir(e.Path)) {
		x.report(e, 0, fmt.Errorf("parent directory missing: %w", errNotCreated))
		return
	}
	x.report(e, 0, fn())
}

func (x *extraction) extractFile(e *Entry) {
	if x.isBlocked(path.Dir(e.Path)) {
		x.report(e, 0, fmt.Errorf("parent directory missing: %w", errNotCreated))
		return
	}
	x.progress.file.Store(e.Path)
	var h hash.Hash
	var extra io.Writer
	if x.manifest != nil {
		h = x.manifest.hasher()
		extra = h
	}
	n, err := x.sink.file(e, extra)
	if x.manifest != nil && (err == nil || (errors.Is(err, ErrSizeMismatch) && !x.opts.DropPartial)) {
		x.manifest.add(e.Path, n, h)
	}
	x.progress.filesDone.Add(1)
	x.report(e, n, err)
}

// isBlocked reports whether p or one of its parents failed to be created.
// The map is only written during the sequential directory phase.
func (x *extraction) isBlocked(p string) bool {
	for p != "." && p != "" && p != "/" {
		if x.blocked[p] {
			return true
		}
		p = path.Dir(p)
	}
	return false
}

func (x *extraction) report(e *Entry, n int64, err error) {
	switch {
	case err == nil:
		x.sum.done(n)
		doLog(true, "%v %s", e.Inode.Type, e.Path)
		return
	case errors.Is(err, errExists), errors.Is(err, errNotCreated):
		x.sum.skip(e.Path, err)
		doLog(false, "skipping %s: %v", e.Path, err)
	case errors.Is(err, ErrSizeMismatch) && !x.opts.DropPartial:
		x.sum.done(n)
		x.sum.warn(e.Path, err)
		doWarn(e.Path, err)
	default:
		x.sum.fail(e.Path, err)
		doWarn(e.Path, err)
	}
	if runFatal(err) || (x.opts.Strict && !errors.Is(err, errExists)) {
		x.cancel(fmt.Errorf("%s: %w", e.Path, err))
	}
}

// runFatal reports errors that make continuing pointless: the image itself
// is unusable or the destination is full.
func runFatal(err error) bool {
	return errors.Is(err, ErrTruncatedImage) ||
		errors.Is(err, ErrCorruptSuperblock) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrInsufficientSpace)
}
