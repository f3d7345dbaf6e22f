package engine

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/previewd/internal/artifact"
	"github.com/mattjoyce/previewd/internal/builder"
	"github.com/mattjoyce/previewd/internal/config"
	"github.com/mattjoyce/previewd/internal/events"
	"github.com/mattjoyce/previewd/internal/fileset"
	"github.com/mattjoyce/previewd/internal/guard"
	"github.com/mattjoyce/previewd/internal/log"
	"github.com/mattjoyce/previewd/internal/storage"
	"github.com/mattjoyce/previewd/internal/store"
	"github.com/mattjoyce/previewd/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// writeTool drops an executable script into binDir to stand in for a
// package manager.
func writeTool(t *testing.T, binDir, name, script string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(binDir, name), []byte(script), 0755); err != nil {
		t.Fatalf("failed to write tool %s: %v", name, err)
	}
}

type testEnv struct {
	engine *Engine
	ws     workspace.Manager
	store  *store.Store
	hub    *events.Hub
	root   string
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	binDir := t.TempDir()
	root := t.TempDir()
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	// The "build" creates a dist directory so artifact resolution succeeds.
	writeTool(t, binDir, "fakebun", `#!/bin/bash
exit 0
`)
	writeTool(t, binDir, "fakenpm", `#!/bin/bash
if [ "$1" = "run" ]; then mkdir -p dist && echo ok > dist/index.html; fi
exit 0
`)

	cfg := config.Defaults()
	cfg.Service.WorkspaceRoot = root
	cfg.Build.PrimaryTool = "fakebun"
	cfg.Build.FallbackTool = "fakenpm"
	cfg.Build.InstallTimeout = 10 * time.Second
	cfg.Build.BuildTimeout = 10 * time.Second

	mgr, err := workspace.NewFSManager(root)
	if err != nil {
		t.Fatalf("NewFSManager: %v", err)
	}

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "previewd.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)

	hub := events.NewHub(32)
	eng := New(cfg, mgr, guard.New(root, cfg.Limits.MaxDiskUsagePercent, cfg.Limits.MaxProjectBytes),
		builder.New(cfg.Build), artifact.NewResolver(), st, hub, log.Get())
	return &testEnv{engine: eng, ws: mgr, store: st, hub: hub, root: root}
}

func TestBuildSuccess(t *testing.T) {
	env := newTestEngine(t)

	res, err := env.engine.Build(context.Background(), Request{
		Files: fileset.FileSet{
			"package.json": `{"dependencies":{"react":"^18.0.0"}}`,
			"src/main.jsx": "render()",
		},
		SubmittedBy: "ci-token",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if res.ProjectType != "react" {
		t.Errorf("ProjectType = %q, want react", res.ProjectType)
	}
	if res.OutputDirName != "dist" {
		t.Errorf("OutputDirName = %q, want dist", res.OutputDirName)
	}
	if res.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", res.FileCount)
	}
	if res.WorkspaceSizeBytes <= 0 {
		t.Error("WorkspaceSizeBytes not measured")
	}
	if res.BuildDurationMs < 0 {
		t.Error("BuildDurationMs negative")
	}

	// The workspace is retained with the artifact in place.
	if _, err := os.Stat(filepath.Join(env.root, res.ProjectID, "dist", "index.html")); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	// The active marker is released after success.
	if _, err := os.Stat(filepath.Join(env.root, res.ProjectID, ".previewd-active")); !os.IsNotExist(err) {
		t.Fatalf("active marker still present: %v", err)
	}

	rec, err := env.store.GetByID(context.Background(), res.ProjectID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != store.StatusSucceeded || rec.OutputDir == nil || *rec.OutputDir != "dist" {
		t.Fatalf("unexpected record: %#v", rec)
	}
}

func TestBuildValidationFailureStagesNothing(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.engine.Build(context.Background(), Request{
		Files: fileset.FileSet{"../escape.txt": "nope"},
	})
	if err == nil {
		t.Fatal("Build accepted traversal path")
	}
	if kind, status := ClassifyError(err); kind != KindValidation || status != http.StatusBadRequest {
		t.Fatalf("ClassifyError = %s/%d, want validation_error/400", kind, status)
	}

	entries, readErr := os.ReadDir(env.root)
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace root not empty after rejection: %d entries", len(entries))
	}
}

func TestBuildStagingFailureDestroysWorkspace(t *testing.T) {
	env := newTestEngine(t)

	// "app" and "app/main.js" cannot both exist on disk, so one of the two
	// writes fails partway through staging whichever order the map yields.
	_, err := env.engine.Build(context.Background(), Request{
		Files: fileset.FileSet{
			"app":         "a file",
			"app/main.js": "render()",
		},
	})
	if err == nil {
		t.Fatal("Build succeeded with conflicting paths")
	}
	if kind, status := ClassifyError(err); kind != KindStaging || status != http.StatusInternalServerError {
		t.Fatalf("ClassifyError = %s/%d, want staging_error/500", kind, status)
	}

	// The partially-staged workspace (marker included) must not be left
	// behind for the sweeper to skip.
	entries, readErr := os.ReadDir(env.root)
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace root not empty after staging failure: %d entries", len(entries))
	}

	recs, err := env.store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != store.StatusFailed {
		t.Fatalf("unexpected records: %#v", recs)
	}
	if recs[0].ErrorKind == nil || *recs[0].ErrorKind != KindStaging {
		t.Fatalf("error_kind = %v, want staging_error", recs[0].ErrorKind)
	}
}

func TestBuildFailureDestroysWorkspaceAndRecords(t *testing.T) {
	env := newTestEngine(t)

	// Both installers fail so the pipeline stops with a build error.
	binDir := t.TempDir()
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	writeTool(t, binDir, "fakebun", `#!/bin/bash
echo "registry down" >&2
exit 1
`)
	writeTool(t, binDir, "fakenpm", `#!/bin/bash
echo "registry down" >&2
exit 1
`)

	_, err := env.engine.Build(context.Background(), Request{
		Files: fileset.FileSet{"package.json": "{}"},
	})
	if err == nil {
		t.Fatal("Build succeeded with failing installers")
	}
	kind, status := ClassifyError(err)
	if kind != KindBuild || status != http.StatusUnprocessableEntity {
		t.Fatalf("ClassifyError = %s/%d, want build_error/422", kind, status)
	}

	entries, readErr := os.ReadDir(env.root)
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("failed workspace not destroyed: %d entries", len(entries))
	}

	recs, err := env.store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != store.StatusFailed {
		t.Fatalf("unexpected records: %#v", recs)
	}
	if recs[0].ErrorKind == nil || *recs[0].ErrorKind != KindBuild {
		t.Fatalf("error_kind = %v, want build_error", recs[0].ErrorKind)
	}
}

func TestBuildNoArtifactFailure(t *testing.T) {
	env := newTestEngine(t)

	// Override the build tool so it succeeds without producing output.
	binDir := t.TempDir()
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	writeTool(t, binDir, "fakebun", "#!/bin/bash\nexit 0\n")
	writeTool(t, binDir, "fakenpm", "#!/bin/bash\nexit 0\n")

	_, err := env.engine.Build(context.Background(), Request{
		Files: fileset.FileSet{"package.json": "{}"},
	})
	if err == nil {
		t.Fatal("Build succeeded without artifact")
	}
	if kind, status := ClassifyError(err); kind != KindNoArtifact || status != http.StatusUnprocessableEntity {
		t.Fatalf("ClassifyError = %s/%d, want no_artifact/422", kind, status)
	}
}

func TestBuildPublishesLifecycleEvents(t *testing.T) {
	env := newTestEngine(t)

	ch, cancel := env.hub.Subscribe()
	defer cancel()

	if _, err := env.engine.Build(context.Background(), Request{
		Files: fileset.FileSet{"package.json": "{}"},
	}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("events missing, got %v", types)
		}
	}
	if types[0] != events.TypeBuildAccepted || types[1] != events.TypeBuildSucceeded {
		t.Fatalf("event order = %v", types)
	}
}

func TestPreviewRoot(t *testing.T) {
	env := newTestEngine(t)

	res, err := env.engine.Build(context.Background(), Request{
		Files: fileset.FileSet{"package.json": "{}"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	root, err := env.engine.PreviewRoot(context.Background(), res.ProjectID)
	if err != nil {
		t.Fatalf("PreviewRoot: %v", err)
	}
	if root != filepath.Join(env.root, res.ProjectID, "dist") {
		t.Fatalf("PreviewRoot = %q", root)
	}
}

func TestDestroyWorkspace(t *testing.T) {
	env := newTestEngine(t)

	res, err := env.engine.Build(context.Background(), Request{
		Files: fileset.FileSet{"package.json": "{}"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if err := env.engine.DestroyWorkspace(context.Background(), res.ProjectID); err != nil {
		t.Fatalf("DestroyWorkspace: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.root, res.ProjectID)); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
}
