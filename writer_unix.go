//go:build !windows

package sasquatch

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func makeNode(p string, ino *Inode) error {
	perm := uint32(ino.Perm & 0o7777)
	switch ino.Type.Basic() {
	case InodeBlockDev:
		return unix.Mknod(p, unix.S_IFBLK|perm, int(unix.Mkdev(ino.Major, ino.Minor)))
	case InodeCharDev:
		return unix.Mknod(p, unix.S_IFCHR|perm, int(unix.Mkdev(ino.Major, ino.Minor)))
	case InodeFifo:
		return unix.Mkfifo(p, perm)
	case InodeSocket:
		return unix.Mknod(p, unix.S_IFSOCK|perm, 0)
	}
	return fmt.Errorf("not a special file: %v", ino.Type)
}

func lchown(p string, uid, gid int) error {
	if err := unix.Lchown(p, uid, gid); err != nil {
		return &os.PathError{Op: "lchown", Path: p, Err: err}
	}
	return nil
}

func setTimes(p string, mtime time.Time, link bool) error {
	ts := unix.NsecToTimespec(mtime.UnixNano())
	flags := 0
	if link {
		flags = unix.AT_SYMLINK_NOFOLLOW
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, p, []unix.Timespec{ts, ts}, flags); err != nil {
		return &os.PathError{Op: "utimes", Path: p, Err: err}
	}
	return nil
}
