package sasquatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/dustin/go-humanize"
)

// ListMode selects the listing format.
type ListMode uint8

const (
	ListNames ListMode = iota
	ListLong
	ListJSON
)

// ListingOut is the JSON form of a listing.
type ListingOut struct {
	Dialect     string         `json:"dialect"`
	Compression string         `json:"compression"`
	BlockSize   uint32         `json:"block_size"`
	Inodes      uint32         `json:"inodes"`
	BytesUsed   uint64         `json:"bytes_used"`
	Entries     []ListEntryOut `json:"entries"`
	Problems    []Problem      `json:"problems,omitempty"`
}

// ListEntryOut is one entry of a JSON listing.
type ListEntryOut struct {
	Path     string      `json:"path"`
	Type     string      `json:"type"`
	Inode    uint32      `json:"inode"`
	Mode     fs.FileMode `json:"mode"`
	UID      uint32      `json:"uid"`
	GID      uint32      `json:"gid"`
	Size     int64       `json:"size"`
	ModTime  int64       `json:"mtime"`
	Linkname string      `json:"linkname,omitempty"`
	Major    uint32      `json:"major,omitempty"`
	Minor    uint32      `json:"minor,omitempty"`
}

// List writes the tree to w without extracting anything. root prefixes
// every printed path, as the destination would. Per-entry problems are
// logged and returned in the summary.
func List(ctx context.Context, img *Image, w io.Writer, mode ListMode, root string, paths []string) (*Summary, error) {
	sum := &Summary{}
	out := ListingOut{
		Dialect:     img.dialect.Name,
		Compression: img.sb.Compression.String(),
		BlockSize:   img.sb.BlockSize,
		Inodes:      img.sb.Inodes,
		BytesUsed:   img.sb.BytesUsed,
	}
	err := img.Walk(ctx, func(e *Entry, werr error) error {
		match, parent := inScope(e.Path, paths)
		if !match {
			if parent || werr != nil {
				return nil
			}
			if e.Inode.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if werr != nil {
			doWarn(e.Path, werr)
			if e.Inode != nil {
				sum.warn(e.Path, werr)
			} else {
				sum.fail(e.Path, werr)
			}
			return nil
		}
		sum.Total++
		ino := e.Inode
		if ino.IsRegular() {
			sum.Bytes += int64(ino.File.Size)
		}
		name := displayPath(root, e.Path)
		switch mode {
		case ListJSON:
			out.Entries = append(out.Entries, ListEntryOut{
				Path:     e.Path,
				Type:     ino.Type.Basic().String(),
				Inode:    ino.Number,
				Mode:     ino.Mode(),
				UID:      ino.UID,
				GID:      ino.GID,
				Size:     ino.Size(),
				ModTime:  ino.ModTime.Unix(),
				Linkname: ino.Target,
				Major:    ino.Major,
				Minor:    ino.Minor,
			})
		case ListLong:
			fmt.Fprintln(w, longLine(ino, name))
		default:
			fmt.Fprintln(w, name)
		}
		return nil
	})
	if err != nil {
		return sum, err
	}
	if mode == ListJSON {
		out.Problems = sum.Problems
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return sum, enc.Encode(out)
	}
	return sum, nil
}

func displayPath(root, p string) string {
	switch {
	case root == "":
		return "/" + p
	case p == "":
		return root
	}
	return strings.TrimSuffix(root, "/") + "/" + p
}

// longLine formats an entry like "ls -l": mode, owner, size or device
// numbers, mtime and name.
func longLine(ino *Inode, name string) string {
	size := fmt.Sprint(ino.Size())
	if t := ino.Type.Basic(); t == InodeBlockDev || t == InodeCharDev {
		size = fmt.Sprintf("%d,%d", ino.Major, ino.Minor)
	}
	line := fmt.Sprintf("%s %d/%d %10s %s %s", ino.Mode(), ino.UID, ino.GID, size, ino.ModTime.Format("2006-01-02 15:04"), name)
	if ino.IsSymlink() {
		line += " -> " + ino.Target
	}
	return line
}

// PrintSuperblock writes the superblock fields in human readable form.
func PrintSuperblock(w io.Writer, img *Image) {
	sb := img.sb
	fmt.Fprintf(w, "Found a valid %s superblock on %s.\n", img.dialect.Name, orderName(img.order))
	fmt.Fprintf(w, "Creation or last append time %s\n", sb.ModTime.Format("Mon Jan 2 15:04:05 2006"))
	fmt.Fprintf(w, "Filesystem size %s (%d bytes)\n", humanize.IBytes(sb.BytesUsed), sb.BytesUsed)
	fmt.Fprintf(w, "Version %d.%d\n", sb.Major, sb.Minor)
	fmt.Fprintf(w, "Compression %s\n", sb.Compression)
	if co := img.CompressorOptions(); co != nil {
		fmt.Fprintf(w, "Compressor options: %s\n", co)
	}
	fmt.Fprintf(w, "Block size %d\n", sb.BlockSize)
	if names := sb.Flags.Names(); len(names) > 0 {
		fmt.Fprintf(w, "Flags: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(w, "Number of fragments %d\n", sb.Fragments)
	fmt.Fprintf(w, "Number of inodes %d\n", sb.Inodes)
	fmt.Fprintf(w, "Number of ids %d\n", sb.IDCount)
	fmt.Fprintf(w, "Root inode %v\n", sb.RootInode)
	tables := []struct {
		name  string
		start uint64
	}{
		{"Inode table", sb.InodeTable},
		{"Directory table", sb.DirectoryTable},
		{"Fragment table", sb.FragmentTable},
		{"Export table", sb.ExportTable},
		{"Id table", sb.IDTable},
		{"Xattr table", sb.XattrTable},
	}
	for _, t := range tables {
		if HasTable(t.start) {
			fmt.Fprintf(w, "%s start %d\n", t.name, t.start)
		} else {
			fmt.Fprintf(w, "%s absent\n", t.name)
		}
	}
}
