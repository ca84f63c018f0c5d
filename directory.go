package sasquatch

import (
	"fmt"
	"strings"
)

// DirEntry is one record of a directory listing.
type DirEntry struct {
	Name   string
	Type   InodeType // basic type recorded in the listing
	Number uint32
	Ref    InodeRef
}

// ReadDir decodes the listing of dir in stored order. On a structural error
// the entries decoded so far are returned along with the error.
func (img *Image) ReadDir(dir *Inode) ([]DirEntry, error) {
	if dir.Dir == nil {
		return nil, fmt.Errorf("inode %v is a %v, not a directory: %w", dir.Ref, dir.Type, ErrInvalidInode)
	}
	d := dir.Dir
	if d.Size == 0 {
		return nil, nil
	}
	if uint64(d.StartBlock) >= img.sb.BytesUsed-img.sb.DirectoryTable {
		return nil, fmt.Errorf("listing of inode %d at %d outside directory table: %w", dir.Number, d.StartBlock, ErrMalformedTree)
	}
	s, err := img.meta.stream(tableDirectory, int64(img.sb.DirectoryTable)+int64(d.StartBlock), d.Offset, int64(img.sb.BytesUsed))
	if err != nil {
		return nil, fmt.Errorf("listing of inode %d: %w", dir.Number, err)
	}

	o := img.order
	var entries []DirEntry
	remaining := int64(d.Size)
	for remaining > 0 {
		if remaining < dirHeaderSize {
			return entries, fmt.Errorf("listing of inode %d: %d trailing bytes: %w", dir.Number, remaining, ErrMalformedTree)
		}
		hdr, err := s.read(dirHeaderSize)
		if err != nil {
			return entries, fmt.Errorf("listing of inode %d: %w", dir.Number, err)
		}
		remaining -= dirHeaderSize
		count := int64(o.Uint32(hdr[0:4])) + 1
		startBlock := o.Uint32(hdr[4:8])
		base := int64(o.Uint32(hdr[8:12]))
		if count > maxDirEntries {
			return entries, fmt.Errorf("listing of inode %d: header claims %d entries: %w", dir.Number, count, ErrMalformedTree)
		}
		for i := int64(0); i < count; i++ {
			if remaining < dirEntrySize {
				return entries, fmt.Errorf("listing of inode %d: entry runs past listing: %w", dir.Number, ErrMalformedTree)
			}
			e, err := s.read(dirEntrySize)
			if err != nil {
				return entries, fmt.Errorf("listing of inode %d: %w", dir.Number, err)
			}
			remaining -= dirEntrySize
			offset := o.Uint16(e[0:2])
			delta := int64(int16(o.Uint16(e[2:4])))
			typ := InodeType(o.Uint16(e[4:6]))
			nameSize := int64(o.Uint16(e[6:8])) + 1
			if nameSize > maxNameLength || nameSize > remaining {
				return entries, fmt.Errorf("listing of inode %d: name of %d bytes: %w", dir.Number, nameSize, ErrMalformedTree)
			}
			name, err := s.read(int(nameSize))
			if err != nil {
				return entries, fmt.Errorf("listing of inode %d: %w", dir.Number, err)
			}
			remaining -= nameSize
			number := base + delta
			if number < 1 || number > int64(img.sb.Inodes) {
				return entries, fmt.Errorf("listing of inode %d: entry %q has inode number %d: %w", dir.Number, name, number, ErrMalformedTree)
			}
			entries = append(entries, DirEntry{
				Name:   string(name),
				Type:   typ,
				Number: uint32(number),
				Ref:    NewInodeRef(uint64(startBlock), offset),
			})
		}
	}
	return entries, nil
}

// validName rejects names that would escape or alias their directory.
func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("entry name %q: %w", name, ErrMalformedTree)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("entry name %q contains a separator: %w", name, ErrMalformedTree)
	}
	return nil
}
