package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/previewd/internal/log"
)

// activeMarker flags a workspace whose build request is still running.
// The sweeper leaves marked directories alone while the marker is fresh.
const activeMarker = ".previewd-active"

// StagingError reports a filesystem failure while writing the file set.
type StagingError struct {
	Path string
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %q: %v", e.Path, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// CleanupError reports a best-effort removal failure. It is logged by
// callers, never surfaced as the primary failure of a request.
type CleanupError struct {
	ID  string
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup workspace %q: %v", e.ID, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// fsManager manages per-build workspace directories on local disk.
type fsManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &fsManager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// Root returns the workspace root directory.
func (m *fsManager) Root() string {
	return m.baseDir
}

// Stage creates the workspace directory for id and writes every file in
// files beneath it. Paths are confined to the workspace even if upstream
// validation let something odd through.
func (m *fsManager) Stage(ctx context.Context, id string, files map[string][]byte) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	dir, err := m.workspacePath(id)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, &StagingError{Path: m.baseDir, Err: err}
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Workspace{}, &StagingError{Path: dir, Err: err}
	}

	if err := os.WriteFile(filepath.Join(dir, activeMarker), []byte(m.now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return Workspace{}, &StagingError{Path: activeMarker, Err: err}
	}

	for rel, content := range files {
		if err := ctx.Err(); err != nil {
			return Workspace{}, err
		}

		full := filepath.Join(dir, filepath.FromSlash(rel))
		if !strings.HasPrefix(full, dir+string(os.PathSeparator)) {
			return Workspace{}, &StagingError{Path: rel, Err: fmt.Errorf("path escapes workspace")}
		}

		if parent := filepath.Dir(full); parent != dir {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return Workspace{}, &StagingError{Path: rel, Err: err}
			}
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			return Workspace{}, &StagingError{Path: rel, Err: err}
		}
	}

	return Workspace{ID: id, Dir: dir, CreatedAt: m.now(), FileCount: len(files)}, nil
}

// Open returns metadata for an existing workspace directory.
func (m *fsManager) Open(ctx context.Context, id string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	dir, err := m.workspacePath(id)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace %q: %w", id, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for %q is not a directory", id)
	}

	return Workspace{ID: id, Dir: dir, CreatedAt: info.ModTime()}, nil
}

// Release removes the active-build marker. A missing marker is fine; the
// workspace may already be destroyed.
func (m *fsManager) Release(id string) error {
	dir, err := m.workspacePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, activeMarker)); err != nil && !os.IsNotExist(err) {
		return &CleanupError{ID: id, Err: err}
	}
	return nil
}

// Destroy removes the workspace tree. Idempotent on a missing target.
func (m *fsManager) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := m.workspacePath(id)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return &CleanupError{ID: id, Err: err}
	}
	return nil
}

// Sweep removes workspace directories older than olderThan based on
// directory modification time. Directories carrying a fresh active-build
// marker are skipped. Per-entry failures are logged and counted, the sweep
// continues.
func (m *fsManager) Sweep(ctx context.Context, olderThan time.Duration) (SweepReport, error) {
	if err := ctx.Err(); err != nil {
		return SweepReport{}, err
	}
	if olderThan <= 0 {
		return SweepReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return SweepReport{}, nil
	}
	if err != nil {
		return SweepReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := SweepReport{}
	logger := log.WithComponent("workspace")

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("read workspace entry info failed", "entry", entry.Name(), "error", err)
			report.Failed++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		// A fresh marker means a build is still running in there. A marker
		// older than the cutoff belongs to a crashed request and the
		// directory is evicted like any other.
		if markerInfo, err := os.Stat(filepath.Join(m.baseDir, entry.Name(), activeMarker)); err == nil {
			if markerInfo.ModTime().After(cutoff) {
				report.SkippedActive++
				continue
			}
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("remove workspace failed", "workspace", entry.Name(), "error", err)
			report.Failed++
			continue
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsManager) workspacePath(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, id), nil
}

func validateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("workspace id is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("workspace id %q is invalid", id)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("workspace id %q must not contain path separators", id)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("workspace id %q is invalid", id)
	}
	return nil
}
