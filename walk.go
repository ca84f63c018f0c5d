package sasquatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// WalkFunc is called for every entry of the tree. A non-nil err reports a
// problem in one of two forms. An entry that could not be resolved has a
// nil e.Inode and is skipped. A directory whose listing is damaged is
// reported a second time with its Inode set, after its own visit; the
// children decoded before the damage are still walked.
// Returning fs.SkipDir from a directory skips its children; any other
// error stops the walk and is returned by Walk.
type WalkFunc func(e *Entry, err error) error

type walker struct {
	ctx     context.Context
	img     *Image
	fn      WalkFunc
	visited map[InodeRef]struct{}
}

// Walk visits the tree depth first from the root, parents before children,
// siblings in stored order. Structural errors (truncation, unsupported
// compression tables) end the walk; everything else is reported to fn.
func (img *Image) Walk(ctx context.Context, fn WalkFunc) error {
	root, err := img.Root()
	if err != nil {
		return err
	}
	w := &walker{ctx: ctx, img: img, fn: fn, visited: map[InodeRef]struct{}{root.Ref: {}}}
	e := &Entry{Inode: root}
	if err := fn(e, nil); err != nil {
		if errors.Is(err, fs.SkipDir) || errors.Is(err, fs.SkipAll) {
			return nil
		}
		return err
	}
	err = w.walkDir(e)
	if errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

func (w *walker) walkDir(parent *Entry) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	entries, err := w.img.ReadDir(parent.Inode)
	if err != nil {
		if IsFatal(err) {
			return err
		}
		// Entries decoded before the damage are still walked.
		if ferr := w.fn(parent, err); ferr != nil {
			if errors.Is(ferr, fs.SkipDir) {
				return nil
			}
			return ferr
		}
	}
	for _, de := range entries {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		child := &Entry{Path: joinPath(parent.Path, de.Name), Depth: parent.Depth + 1}
		ino, err := w.resolve(de, child.Depth)
		if err != nil {
			if IsFatal(err) {
				return err
			}
			if ferr := w.fn(child, err); ferr != nil && !errors.Is(ferr, fs.SkipDir) {
				return ferr
			}
			continue
		}
		child.Inode = ino
		err = w.fn(child, nil)
		switch {
		case errors.Is(err, fs.SkipDir):
			continue
		case err != nil:
			return err
		}
		if ino.IsDir() {
			if err := w.walkDir(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) resolve(de DirEntry, depth int) (*Inode, error) {
	if err := validName(de.Name); err != nil {
		return nil, err
	}
	if depth > MaxDepth {
		return nil, fmt.Errorf("depth %d exceeds %d: %w", depth, MaxDepth, ErrMalformedTree)
	}
	ino, err := w.img.Inode(de.Ref)
	if err != nil {
		return nil, err
	}
	if ino.Type.Basic() != de.Type {
		return nil, fmt.Errorf("listed as %v but inode %v is a %v: %w", de.Type, de.Ref, ino.Type, ErrInvalidInode)
	}
	if ino.Number != de.Number {
		return nil, fmt.Errorf("listed as inode %d but inode %v is number %d: %w", de.Number, de.Ref, ino.Number, ErrInvalidInode)
	}
	if ino.IsDir() {
		if _, seen := w.visited[ino.Ref]; seen {
			return nil, fmt.Errorf("directory inode %v reached twice: %w", ino.Ref, ErrMalformedTree)
		}
		w.visited[ino.Ref] = struct{}{}
	}
	return ino, nil
}

// joinPath appends an already validated name; path.Join would collapse
// names like "..", which must be reported as they are.
func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
