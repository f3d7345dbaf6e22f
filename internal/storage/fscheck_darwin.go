//go:build darwin

package storage

import (
	"fmt"
	"syscall"
)

// Darwin statfs carries the filesystem name directly in Fstypename as a
// NUL-terminated int8 array.
func detectFilesystemType(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	return fstypename(stat.Fstypename[:]), nil
}

func fstypename(buf []int8) string {
	out := make([]byte, 0, len(buf))
	for _, b := range buf {
		if b == 0 {
			break
		}
		out = append(out, byte(b))
	}
	return string(out)
}
