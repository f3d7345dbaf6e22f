// Package engine runs the build pipeline: validate the submitted file set,
// stage it into an isolated workspace, run the toolchain, and locate the
// built artifact.
package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/previewd/internal/artifact"
	"github.com/mattjoyce/previewd/internal/builder"
	"github.com/mattjoyce/previewd/internal/classify"
	"github.com/mattjoyce/previewd/internal/config"
	"github.com/mattjoyce/previewd/internal/events"
	"github.com/mattjoyce/previewd/internal/fileset"
	"github.com/mattjoyce/previewd/internal/guard"
	"github.com/mattjoyce/previewd/internal/store"
	"github.com/mattjoyce/previewd/internal/workspace"
)

// Recorder persists terminal build records. A nil Recorder disables history.
type Recorder interface {
	Insert(ctx context.Context, r store.Record) error
	GetByID(ctx context.Context, id string) (*store.Record, error)
	ListRecent(ctx context.Context, limit int) ([]store.Record, error)
}

// Request is one build submission.
type Request struct {
	Files       fileset.FileSet
	SubmittedBy string
}

// Result is the success response for a completed build.
type Result struct {
	ProjectID          string `json:"projectId"`
	ProjectType        string `json:"projectType"`
	OutputDirName      string `json:"outputDirName"`
	BuildDurationMs    int64  `json:"buildDurationMs"`
	FileCount          int    `json:"fileCount"`
	WorkspaceSizeBytes int64  `json:"workspaceSizeBytes"`
}

type Engine struct {
	limits   fileset.Limits
	ws       workspace.Manager
	guard    *guard.Guard
	executor *builder.Executor
	resolver *artifact.Resolver
	records  Recorder
	events   *events.Hub
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg *config.Config, ws workspace.Manager, g *guard.Guard, ex *builder.Executor, res *artifact.Resolver, records Recorder, hub *events.Hub, logger *slog.Logger) *Engine {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Engine{
		limits: fileset.Limits{
			MaxFileCount: cfg.Limits.MaxFileCount,
			MaxFileBytes: cfg.Limits.MaxFileBytes,
		},
		ws:       ws,
		guard:    g,
		executor: ex,
		resolver: res,
		records:  records,
		events:   hub,
		logger:   logger.With("component", "engine"),
		now:      time.Now,
	}
}

// Build runs the full pipeline for one submission. On failure the staged
// workspace is destroyed; on success it is retained for preview serving and
// left to the retention sweeper.
func (e *Engine) Build(ctx context.Context, req Request) (*Result, error) {
	startedAt := e.now().UTC()

	files, err := fileset.Normalize(req.Files, e.limits)
	if err != nil {
		return nil, err
	}

	if _, err := e.guard.CheckAmbientSpace(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := e.logger.With("build_id", id)
	logger.Info("Build accepted", "file_count", len(files))
	e.events.Publish(events.TypeBuildAccepted, events.BuildEvent{BuildID: id})

	ws, err := e.ws.Stage(ctx, id, files)
	if err != nil {
		// Stage does not roll back partial writes; remove the remnants here.
		e.destroy(ctx, id)
		return nil, e.fail(ctx, id, req, startedAt, "", 0, 0, err)
	}

	size, err := e.guard.CheckStagedSize(ws.Dir)
	if err != nil {
		e.destroy(ctx, id)
		return nil, e.fail(ctx, id, req, startedAt, "", len(files), size, err)
	}

	projectType := string(classify.Classify(ws.Dir))
	logger.Info("Workspace staged", "project_type", projectType, "workspace_bytes", size)

	outcome, err := e.executor.Execute(ctx, id, ws.Dir)
	if err != nil {
		e.destroy(ctx, id)
		return nil, e.fail(ctx, id, req, startedAt, projectType, len(files), size, err)
	}

	outputDir, err := e.resolver.Resolve(ws.Dir)
	if err != nil {
		e.destroy(ctx, id)
		return nil, e.fail(ctx, id, req, startedAt, projectType, len(files), size, err)
	}

	finalSize, sizeErr := guard.TreeSize(ws.Dir)
	if sizeErr != nil {
		logger.Warn("Workspace size measurement failed", "error", sizeErr)
		finalSize = size
	}

	if err := e.ws.Release(id); err != nil {
		logger.Warn("Workspace release failed", "error", err)
	}

	durationMs := outcome.Duration.Milliseconds()
	result := &Result{
		ProjectID:          id,
		ProjectType:        projectType,
		OutputDirName:      outputDir,
		BuildDurationMs:    durationMs,
		FileCount:          len(files),
		WorkspaceSizeBytes: finalSize,
	}

	e.record(ctx, store.Record{
		ID:             id,
		ProjectType:    projectType,
		OutputDir:      &outputDir,
		Status:         store.StatusSucceeded,
		FileCount:      len(files),
		WorkspaceBytes: finalSize,
		DurationMs:     durationMs,
		SubmittedBy:    optional(req.SubmittedBy),
		CreatedAt:      startedAt,
		CompletedAt:    timePtr(e.now().UTC()),
	})
	e.events.Publish(events.TypeBuildSucceeded, events.BuildEvent{
		BuildID:     id,
		ProjectType: projectType,
		OutputDir:   outputDir,
		DurationMs:  durationMs,
	})
	logger.Info("Build succeeded", "output_dir", outputDir, "duration_ms", durationMs)
	return result, nil
}

// Inspect returns the persisted record for a build.
func (e *Engine) Inspect(ctx context.Context, id string) (*store.Record, error) {
	if e.records == nil {
		return nil, store.ErrBuildNotFound
	}
	return e.records.GetByID(ctx, id)
}

// List returns recent build records, newest first.
func (e *Engine) List(ctx context.Context, limit int) ([]store.Record, error) {
	if e.records == nil {
		return nil, nil
	}
	return e.records.ListRecent(ctx, limit)
}

// PreviewRoot returns the artifact directory of a retained workspace.
func (e *Engine) PreviewRoot(ctx context.Context, id string) (string, error) {
	ws, err := e.ws.Open(ctx, id)
	if err != nil {
		return "", err
	}
	outputDir, err := e.resolver.Resolve(ws.Dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(ws.Dir, filepath.FromSlash(outputDir)), nil
}

// DestroyWorkspace removes a retained workspace on operator request.
func (e *Engine) DestroyWorkspace(ctx context.Context, id string) error {
	return e.ws.Destroy(ctx, id)
}

// fail records and publishes a terminal failure, then returns err unchanged.
func (e *Engine) fail(ctx context.Context, id string, req Request, startedAt time.Time, projectType string, fileCount int, size int64, err error) error {
	kind, _ := ClassifyError(err)
	detail := err.Error()

	status := store.StatusFailed
	if kind == KindTimeout {
		status = store.StatusTimedOut
	}
	if projectType == "" {
		projectType = string(classify.TypeGeneric)
	}

	e.record(ctx, store.Record{
		ID:             id,
		ProjectType:    projectType,
		Status:         status,
		ErrorKind:      &kind,
		ErrorDetail:    &detail,
		FileCount:      fileCount,
		WorkspaceBytes: size,
		DurationMs:     e.now().UTC().Sub(startedAt).Milliseconds(),
		SubmittedBy:    optional(req.SubmittedBy),
		CreatedAt:      startedAt,
		CompletedAt:    timePtr(e.now().UTC()),
	})
	e.events.Publish(events.TypeBuildFailed, events.BuildEvent{
		BuildID:     id,
		ProjectType: projectType,
		ErrorKind:   kind,
	})
	e.logger.Warn("Build failed", "build_id", id, "error_kind", kind, "error", detail)
	return err
}

// destroy removes a failed build's workspace. Cleanup failures are logged
// and never mask the build error.
func (e *Engine) destroy(ctx context.Context, id string) {
	if err := e.ws.Destroy(ctx, id); err != nil {
		e.logger.Error("Workspace cleanup failed", "build_id", id, "error", err)
	}
}

func (e *Engine) record(ctx context.Context, r store.Record) {
	if e.records == nil {
		return
	}
	if err := e.records.Insert(ctx, r); err != nil {
		e.logger.Error("Build record insert failed", "build_id", r.ID, "error", err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t time.Time) *time.Time { return &t }
