package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*fsManager, string) {
	t.Helper()
	baseDir := filepath.Join(t.TempDir(), "workspaces")
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	return mgr, baseDir
}

func TestStageWritesExactFileSet(t *testing.T) {
	mgr, baseDir := newTestManager(t)

	files := map[string][]byte{
		"index.html":    []byte("<html></html>"),
		"src/App.jsx":   []byte("export default function App() {}"),
		"src/style.css": []byte("body {}"),
	}

	ws, err := mgr.Stage(context.Background(), "ws-a", files)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	wantDir := filepath.Join(baseDir, "ws-a")
	if ws.Dir != wantDir {
		t.Fatalf("Stage() dir = %q, want %q", ws.Dir, wantDir)
	}
	if ws.FileCount != 3 {
		t.Fatalf("Stage() fileCount = %d, want 3", ws.FileCount)
	}

	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(ws.Dir, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("ReadFile(%q) error = %v", rel, err)
		}
		if string(got) != string(want) {
			t.Fatalf("staged %q = %q, want %q", rel, got, want)
		}
	}

	// Active marker is present until the request releases it.
	if _, err := os.Stat(filepath.Join(ws.Dir, activeMarker)); err != nil {
		t.Fatalf("active marker missing after Stage(): %v", err)
	}

	// No extra files beyond the set and the marker.
	var count int
	err = filepath.Walk(ws.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if count != len(files)+1 {
		t.Fatalf("workspace holds %d files, want %d", count, len(files)+1)
	}
}

func TestStageRejectsEscapingPath(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Stage(context.Background(), "ws-esc", map[string][]byte{
		"../outside.txt": []byte("nope"),
	})
	if err == nil {
		t.Fatal("Stage() should reject a path escaping the workspace")
	}
	var serr *StagingError
	if !errors.As(err, &serr) {
		t.Fatalf("Stage() error type = %T, want *StagingError", err)
	}
}

func TestStageIsolation(t *testing.T) {
	mgr, _ := newTestManager(t)

	a, err := mgr.Stage(context.Background(), "ws-one", map[string][]byte{"a.txt": []byte("one")})
	if err != nil {
		t.Fatalf("Stage(one) error = %v", err)
	}
	b, err := mgr.Stage(context.Background(), "ws-two", map[string][]byte{"b.txt": []byte("two")})
	if err != nil {
		t.Fatalf("Stage(two) error = %v", err)
	}

	if err := mgr.Destroy(context.Background(), b.ID); err != nil {
		t.Fatalf("Destroy(two) error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.Dir, "a.txt")); err != nil {
		t.Fatalf("destroying one workspace touched another: %v", err)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)

	if _, err := mgr.Stage(context.Background(), "ws-gone", map[string][]byte{"f": []byte("x")}); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if err := mgr.Destroy(context.Background(), "ws-gone"); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if err := mgr.Destroy(context.Background(), "ws-gone"); err != nil {
		t.Fatalf("Destroy() second call error = %v, want nil", err)
	}
	if err := mgr.Destroy(context.Background(), "never-existed"); err != nil {
		t.Fatalf("Destroy(missing) error = %v, want nil", err)
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	mgr, _ := newTestManager(t)

	oldWS, err := mgr.Stage(context.Background(), "ws-old", map[string][]byte{"f": []byte("x")})
	if err != nil {
		t.Fatalf("Stage(old) error = %v", err)
	}
	if err := mgr.Release(oldWS.ID); err != nil {
		t.Fatalf("Release(old) error = %v", err)
	}
	newWS, err := mgr.Stage(context.Background(), "ws-new", map[string][]byte{"f": []byte("y")})
	if err != nil {
		t.Fatalf("Stage(new) error = %v", err)
	}
	if err := mgr.Release(newWS.ID); err != nil {
		t.Fatalf("Release(new) error = %v", err)
	}

	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldWS.Dir, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes(old workspace) error = %v", err)
	}

	report, err := mgr.Sweep(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Sweep() deleted = %d, want 1", report.DeletedDirs)
	}

	if _, err := os.Stat(oldWS.Dir); !os.IsNotExist(err) {
		t.Fatalf("old workspace should be deleted, err = %v", err)
	}
	if _, err := os.Stat(newWS.Dir); err != nil {
		t.Fatalf("new workspace should still exist, err = %v", err)
	}

	// Sweeping again finds nothing left to remove.
	report, err = mgr.Sweep(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep() second call error = %v", err)
	}
	if report.DeletedDirs != 0 {
		t.Fatalf("Sweep() second call deleted = %d, want 0", report.DeletedDirs)
	}
}

func TestSweepSkipsActiveBuild(t *testing.T) {
	mgr, _ := newTestManager(t)

	ws, err := mgr.Stage(context.Background(), "ws-active", map[string][]byte{"f": []byte("x")})
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	// Backdate the directory but keep the marker fresh, as if a long-running
	// build were still in flight.
	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(ws.Dir, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	report, err := mgr.Sweep(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.DeletedDirs != 0 || report.SkippedActive != 1 {
		t.Fatalf("Sweep() = %+v, want 0 deleted and 1 skipped", report)
	}
	if _, err := os.Stat(ws.Dir); err != nil {
		t.Fatalf("active workspace should survive the sweep: %v", err)
	}

	// Once released and past the threshold, the workspace is fair game.
	if err := mgr.Release(ws.ID); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := os.Chtimes(ws.Dir, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	report, err = mgr.Sweep(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep() after release error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Sweep() after release deleted = %d, want 1", report.DeletedDirs)
	}
}

func TestValidateID(t *testing.T) {
	bad := []string{"", ".", "..", "a/b", `a\b`, "a/../b", "./a"}
	for _, id := range bad {
		if err := validateID(id); err == nil {
			t.Errorf("validateID(%q) = nil, want error", id)
		}
	}
	if err := validateID("2f6b7a1c-9d7e-4c31-b1a2-1f05c1a2b3c4"); err != nil {
		t.Errorf("validateID(uuid) error = %v", err)
	}
}
