//go:build windows

package sasquatch

import (
	"errors"
	"os"
	"time"
)

func makeNode(p string, ino *Inode) error {
	return errors.New("special files are not supported on windows")
}

func lchown(p string, uid, gid int) error {
	return nil
}

func setTimes(p string, mtime time.Time, link bool) error {
	if link {
		return nil
	}
	return os.Chtimes(p, mtime, mtime)
}
