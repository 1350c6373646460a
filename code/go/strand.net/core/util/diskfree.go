package util

import (
	"github.com/0chain/errors"
	"golang.org/x/sys/unix"
)

// AvailableDiskSpace returns the bytes available to unprivileged users on
// the filesystem containing path.
func AvailableDiskSpace(path string) (uint64, error) {
	var volStat unix.Statfs_t
	if err := unix.Statfs(path, &volStat); err != nil {
		return 0, errors.Wrap(err, errors.Newf("disk_stat_failed", "statfs %s", path))
	}
	return volStat.Bavail * uint64(volStat.Bsize), nil
}
