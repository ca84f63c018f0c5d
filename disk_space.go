package sasquatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// checkDiskSpace fails when the filesystem that will hold dest has less
// than need bytes free. dest does not have to exist yet.
func checkDiskSpace(dest string, need uint64) error {
	dir := filepath.Clean(dest)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	free, err := freeSpace(dir)
	if err != nil {
		doLog(true, "free space of %s unknown: %v", dir, err)
		return nil
	}
	if free < need {
		return fmt.Errorf("%s has %s free, extraction needs %s: %w", dir, humanize.Bytes(free), humanize.Bytes(need), ErrInsufficientSpace)
	}
	doLog(true, "free space: %s, needed: %s", humanize.Bytes(free), humanize.Bytes(need))
	return nil
}
