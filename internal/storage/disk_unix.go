//go:build linux || darwin

package storage

import (
	"fmt"
	"syscall"
)

func diskSnapshot(path string) (*DiskSnapshot, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("statfs %q: %w", path, err)
	}

	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	free := stat.Bavail * bsize
	used := (stat.Blocks - stat.Bfree) * bsize

	snap := &DiskSnapshot{
		FreeBytes:  free,
		UsedBytes:  used,
		TotalBytes: total,
	}
	// Percentage over the space visible to unprivileged processes, the way
	// df reports it.
	if used+free > 0 {
		snap.UsedPercent = float64(used) / float64(used+free) * 100
	}
	return snap, nil
}
