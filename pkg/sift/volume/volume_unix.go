//go:build linux || darwin || freebsd

package volume

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Stat returns the statistics of the filesystem containing path.
func Stat(path string) (Stats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Stats{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize) //nolint:gosec // block size is never negative
	return Stats{
		Path:      path,
		Total:     uint64(st.Blocks) * bsize,
		Free:      uint64(st.Bfree) * bsize,
		Available: uint64(st.Bavail) * bsize, //nolint:gosec // freebsd reports int64
	}, nil
}
