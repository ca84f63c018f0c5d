package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"sasquatch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cliFlags struct {
	opts               sasquatch.Options
	verbose, quiet     bool
	ls, ll, json, stat bool
	compression        string
	le, be             bool
	noSpaceCheck       bool
	cpuProfile         string
}

func newFlagSet(f *cliFlags, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("sasquatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { showUsage(fs, stderr) }

	o := &f.opts
	fs.StringVar(&o.Dest, "d", "", "extract to `dir` (default <image name>-root)")
	fs.BoolVar(&o.Force, "f", false, "overwrite existing files")
	fs.BoolVar(&f.verbose, "v", false, "verbose logging")
	fs.BoolVar(&f.quiet, "q", false, "only print warnings and errors")
	fs.BoolVar(&f.ls, "ls", false, "list paths instead of extracting")
	fs.BoolVar(&f.ll, "ll", false, "long listing instead of extracting")
	fs.BoolVar(&f.json, "json", false, "JSON listing instead of extracting")
	fs.BoolVar(&f.stat, "s", false, "print superblock information and exit")
	fs.IntVar(&o.Workers, "p", o.Workers, "number of files extracted in parallel")
	fs.StringVar(&f.compression, "c", "", "override the compression (gzip, lzma, lzo, xz, lz4, zstd)")
	fs.BoolVar(&f.le, "le", false, "parse as little endian, ignoring the magic")
	fs.BoolVar(&f.be, "be", false, "parse as big endian, ignoring the magic")
	fs.StringVar(&o.Dialect, "dialect", "", "parse with a named dialect, ignoring the magic ("+dialectNames()+")")
	fs.Int64Var(&o.Offset, "o", 0, "image starts at byte `offset` of the input")
	fs.BoolVar(&o.Strict, "strict", false, "abort on the first damaged entry")
	fs.BoolVar(&o.DropPartial, "drop-partial", false, "remove files whose size does not match the inode")
	fs.BoolVar(&o.NoXattrs, "no-xattrs", false, "do not restore extended attributes")
	fs.StringVar(&o.Tar, "tar", "", "write a tar stream to `file` (.gz and .xz compress, - is stdout)")
	fs.StringVar(&o.Manifest, "manifest", "", "write a JSON checksum manifest to `file`")
	fs.StringVar(&o.Checksum, "sum", o.Checksum, "manifest checksum: crc32, crc16, xxhash, sha256, blake3")
	fs.BoolVar(&o.Progress, "progress", o.Progress, "show progress bar")
	fs.BoolVar(&f.noSpaceCheck, "no-space-check", false, "skip the free space check")
	fs.StringVar(&f.cpuProfile, "cpuprofile", "", "write a CPU profile to `file` (default.pgo for PGO builds)")
	return fs
}

func dialectNames() string {
	var names []string
	for _, d := range sasquatch.Dialects() {
		names = append(names, d.Name)
	}
	return strings.Join(names, ", ")
}

func showUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "Usage: sasquatch [options] <image> [paths...]")
	fmt.Fprintln(w, "Extracts a SquashFS image, including vendor variants, to a directory.")
	fmt.Fprintln(w, "\nOptions:")
	fs.PrintDefaults()
	fmt.Fprintln(w, "\n  sasquatch firmware.bin			(extract to firmware-root)")
	fmt.Fprintln(w, "  sasquatch -ll firmware.bin		(long listing)")
	fmt.Fprintln(w, "  sasquatch -d out image.sqfs etc/passwd	(extract one file)")
}

// parseArgs parses flags placed before, between and after positional
// arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f := &cliFlags{opts: sasquatch.DefaultOptions()}
	f.opts.Progress = term.IsTerminal(int(os.Stderr.Fd()))
	fs := newFlagSet(f, stderr)
	pos, err := parseArgs(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}
	if len(pos) == 0 {
		showUsage(fs, stderr)
		fmt.Fprintln(stderr, "\nError: no image specified.")
		return 2
	}

	sasquatch.SetLogOutput(stderr)
	sasquatch.SetVerbosity(f.verbose, f.quiet)
	if f.cpuProfile != "" {
		stop, err := startProfile(f.cpuProfile, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "sasquatch: %v\n", err)
			return 1
		}
		defer stop()
	}

	opts := f.opts
	opts.Paths = pos[1:]
	opts.SpaceCheck = !f.noSpaceCheck
	switch {
	case f.le && f.be:
		fmt.Fprintln(stderr, "sasquatch: -le and -be are mutually exclusive")
		return 2
	case f.le:
		opts.ByteOrder = binary.LittleEndian
	case f.be:
		opts.ByteOrder = binary.BigEndian
	}
	if f.compression != "" {
		if opts.Compression, err = sasquatch.ParseCompression(f.compression); err != nil {
			fmt.Fprintf(stderr, "sasquatch: %v\n", err)
			return 2
		}
	}

	image := pos[0]
	if f.stat || f.ls || f.ll || f.json {
		if err := inspect(ctx, image, f, &opts, stdout); err != nil {
			fmt.Fprintf(stderr, "sasquatch: %v\n", err)
			return 1
		}
		return 0
	}

	sum, err := sasquatch.Extract(ctx, image, opts)
	if sum != nil && !f.quiet {
		fmt.Fprintf(stderr, "%d entries: %d extracted (%s), %d skipped, %d failed, %d warnings\n",
			sum.Total, sum.Extracted, humanize.Bytes(uint64(sum.Bytes)), sum.Skipped, sum.Failed, sum.Warnings)
	}
	if err != nil {
		fmt.Fprintf(stderr, "sasquatch: %v\n", err)
		return 1
	}
	return 0
}

func inspect(ctx context.Context, image string, f *cliFlags, opts *sasquatch.Options, stdout io.Writer) error {
	src, err := sasquatch.OpenSource(image, opts.Offset)
	if err != nil {
		return err
	}
	defer src.Close()
	oo, err := opts.OpenOptions()
	if err != nil {
		return err
	}
	img, err := sasquatch.Open(src, src.Size(), oo...)
	if err != nil {
		return err
	}
	if f.stat {
		sasquatch.PrintSuperblock(stdout, img)
		return nil
	}
	mode := sasquatch.ListNames
	switch {
	case f.json:
		mode = sasquatch.ListJSON
	case f.ll:
		mode = sasquatch.ListLong
	}
	root := opts.Dest
	if root == "" {
		root = sasquatch.DefaultDestination(image)
	}
	_, err = sasquatch.List(ctx, img, stdout, mode, root, opts.Paths)
	return err
}
