// Package guard enforces the disk ceilings a build request must fit under:
// ambient volume usage before staging, staged workspace size after.
package guard

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/mattjoyce/previewd/internal/log"
	"github.com/mattjoyce/previewd/internal/storage"
)

// QuotaError reports a request rejected for exceeding a disk ceiling.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %s", e.Reason)
}

// Guard checks disk ceilings for the volume hosting workspaceRoot.
type Guard struct {
	workspaceRoot       string
	maxDiskUsagePercent int
	maxProjectBytes     int64
}

// New creates a Guard for workspaceRoot with the configured ceilings.
func New(workspaceRoot string, maxDiskUsagePercent int, maxProjectBytes int64) *Guard {
	return &Guard{
		workspaceRoot:       workspaceRoot,
		maxDiskUsagePercent: maxDiskUsagePercent,
		maxProjectBytes:     maxProjectBytes,
	}
}

// CheckAmbientSpace snapshots the workspace volume and rejects when usage
// is over the ceiling. An unmeasurable volume degrades to a nil snapshot
// and no error; admission is best-effort, not hard isolation.
func (g *Guard) CheckAmbientSpace() (*storage.DiskSnapshot, error) {
	snap, err := storage.Snapshot(g.workspaceRoot)
	if err != nil {
		log.WithComponent("guard").Warn("disk measurement unavailable", "root", g.workspaceRoot, "error", err)
		return nil, nil
	}
	if snap == nil {
		return nil, nil
	}

	if snap.UsedPercent > float64(g.maxDiskUsagePercent) {
		return snap, &QuotaError{Reason: fmt.Sprintf(
			"disk usage %.1f%% exceeds ceiling %d%%", snap.UsedPercent, g.maxDiskUsagePercent)}
	}
	return snap, nil
}

// CheckStagedSize sums the workspace tree and rejects when it exceeds the
// per-project maximum. Symlinks are counted by their own size and never
// followed, so a link cannot amplify the total with files outside the tree.
func (g *Guard) CheckStagedSize(dir string) (int64, error) {
	size, err := TreeSize(dir)
	if err != nil {
		return 0, fmt.Errorf("measure staged workspace: %w", err)
	}

	if g.maxProjectBytes > 0 && size > g.maxProjectBytes {
		return size, &QuotaError{Reason: fmt.Sprintf(
			"staged workspace is %d bytes, exceeds limit %d", size, g.maxProjectBytes)}
	}
	return size, nil
}

// TreeSize returns the byte total of all regular files under dir. WalkDir
// does not follow symlinks, which is exactly what we want here.
func TreeSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
