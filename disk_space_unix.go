//go:build !windows

package sasquatch

import "golang.org/x/sys/unix"

// freeSpace returns the bytes available to an unprivileged user on the
// filesystem holding path.
func freeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
