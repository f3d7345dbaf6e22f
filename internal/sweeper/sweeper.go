package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/previewd/internal/config"
	"github.com/mattjoyce/previewd/internal/events"
)

// Sweeper periodically evicts expired workspaces and prunes old build records.
type Sweeper struct {
	cfg     config.RetentionConfig
	ws      WorkspaceService
	records RecordService
	events  *events.Hub
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a Sweeper. records may be nil when no persistent store is
// configured.
func New(cfg config.RetentionConfig, ws WorkspaceService, records RecordService, hub *events.Hub, logger *slog.Logger) *Sweeper {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Sweeper{
		cfg:     cfg,
		ws:      ws,
		records: records,
		events:  hub,
		logger:  logger.With("component", "sweeper"),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start runs an immediate sweep, then sweeps at the configured interval until
// Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting retention sweeper",
		"sweep_interval", s.cfg.SweepInterval.String(),
		"max_workspace_age", s.cfg.MaxWorkspaceAge.String(),
	)

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Sweeper context cancelled, stopping loop")
			return
		}
	}
}

// SweepOnce performs a single retention pass. Failures are logged and do not
// stop the loop.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	report, err := s.ws.Sweep(ctx, s.cfg.MaxWorkspaceAge)
	if err != nil {
		s.logger.Error("Workspace sweep failed", "error", err)
		return
	}

	pruned := int64(0)
	if s.records != nil && s.cfg.RecordRetention > 0 {
		cutoff := s.now().Add(-s.cfg.RecordRetention)
		pruned, err = s.records.PruneOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.Error("Build record prune failed", "error", err)
		}
	}

	s.logger.Info("Sweep completed",
		"deleted", report.DeletedDirs,
		"skipped_active", report.SkippedActive,
		"failed", report.Failed,
		"records_pruned", pruned,
	)
	s.events.Publish(events.TypeSweepCompleted, events.SweepEvent{
		Deleted:       report.DeletedDirs,
		SkippedActive: report.SkippedActive,
		Failed:        report.Failed,
	})
}
