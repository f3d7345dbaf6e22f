package sweeper

import (
	"context"
	"time"

	"github.com/mattjoyce/previewd/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_sweep.go -package=mocks github.com/mattjoyce/previewd/internal/sweeper WorkspaceService,RecordService

// WorkspaceService defines the workspace operations the sweeper drives.
type WorkspaceService interface {
	Sweep(ctx context.Context, olderThan time.Duration) (workspace.SweepReport, error)
}

// RecordService defines the build-record retention operations the sweeper drives.
type RecordService interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
