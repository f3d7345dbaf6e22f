package storage

// DiskSnapshot is a point-in-time measurement of the volume hosting the
// workspace root. Recomputed on every call, never cached.
type DiskSnapshot struct {
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Snapshot measures the volume hosting path. On platforms without statfs
// support it returns (nil, nil) so callers degrade instead of failing.
func Snapshot(path string) (*DiskSnapshot, error) {
	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return nil, err
	}
	return diskSnapshot(inspectPath)
}
