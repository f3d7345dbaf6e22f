package guard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckStagedSizeWithinLimit(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), make([]byte, 50), 0o644); err != nil {
		t.Fatal(err)
	}

	g := New(dir, 90, 1024)
	size, err := g.CheckStagedSize(dir)
	if err != nil {
		t.Fatalf("CheckStagedSize() error = %v", err)
	}
	if size != 150 {
		t.Fatalf("CheckStagedSize() = %d, want 150", size)
	}
}

func TestCheckStagedSizeOverLimit(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 500), 0o644); err != nil {
		t.Fatal(err)
	}

	g := New(dir, 90, 100)
	size, err := g.CheckStagedSize(dir)
	if err == nil {
		t.Fatal("CheckStagedSize() should reject oversize workspace")
	}
	var qerr *QuotaError
	if !errors.As(err, &qerr) {
		t.Fatalf("CheckStagedSize() error type = %T, want *QuotaError", err)
	}
	if size != 500 {
		t.Fatalf("CheckStagedSize() = %d, want 500 even on rejection", size)
	}
}

func TestCheckStagedSizeIgnoresSymlinkTargets(t *testing.T) {
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "huge.bin"), make([]byte, 10_000), 0o644); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(outside, "huge.bin"), filepath.Join(dir, "link.bin")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	size, err := TreeSize(dir)
	if err != nil {
		t.Fatalf("TreeSize() error = %v", err)
	}
	if size >= 10_000 {
		t.Fatalf("TreeSize() = %d, symlink target was followed", size)
	}
}

func TestCheckAmbientSpace(t *testing.T) {
	dir := t.TempDir()

	// A 100% ceiling can never be exceeded.
	g := New(dir, 100, 1024)
	if _, err := g.CheckAmbientSpace(); err != nil {
		t.Fatalf("CheckAmbientSpace() with 100%% ceiling error = %v", err)
	}

	// A 0%-ish ceiling trips on any nonempty volume. Ceiling 0 is rejected
	// by config validation, so use 1 here; skip if the volume is emptier.
	g = New(dir, 1, 1024)
	snap, err := g.CheckAmbientSpace()
	if snap == nil && err == nil {
		t.Skip("disk measurement unsupported on this platform")
	}
	if snap.UsedPercent > 1 {
		var qerr *QuotaError
		if !errors.As(err, &qerr) {
			t.Fatalf("CheckAmbientSpace() error = %v, want *QuotaError", err)
		}
	}
}
