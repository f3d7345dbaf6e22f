package workspace

import (
	"context"
	"time"
)

// Workspace describes one build request's isolated directory.
//
// Identifiers are opaque and collision-resistant; absolute paths stay in the
// workspace manager so the workspace root can move without callers caring.
type Workspace struct {
	ID        string
	Dir       string
	CreatedAt time.Time
	FileCount int
}

// SweepReport summarizes a retention sweep.
type SweepReport struct {
	DeletedDirs   int
	SkippedActive int
	Failed        int
}

// Manager governs workspace lifecycle under a single root directory.
type Manager interface {
	// Stage creates a workspace for id and writes the file contents into it.
	// Partial writes are left in place on failure; the caller destroys.
	Stage(ctx context.Context, id string, files map[string][]byte) (Workspace, error)

	// Open resolves an existing workspace for id.
	Open(ctx context.Context, id string) (Workspace, error)

	// Release clears the active-build marker once a request has finished.
	Release(id string) error

	// Destroy removes the workspace tree. Missing targets are not an error.
	Destroy(ctx context.Context, id string) error

	// Sweep removes workspaces older than olderThan, skipping active builds.
	Sweep(ctx context.Context, olderThan time.Duration) (SweepReport, error)
}
