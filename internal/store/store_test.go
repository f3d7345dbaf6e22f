package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/previewd/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "previewd.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func TestStoreInsertAndGet(t *testing.T) {
	t.Parallel()

	s := New(openTestDB(t))

	completed := time.Now().UTC()
	rec := Record{
		ID:             uuid.NewString(),
		ProjectType:    "react",
		OutputDir:      strPtr("dist"),
		Status:         StatusSucceeded,
		FileCount:      12,
		WorkspaceBytes: 48_123,
		DurationMs:     1700,
		SubmittedBy:    strPtr("ci-token"),
		CreatedAt:      completed.Add(-2 * time.Second),
		CompletedAt:    &completed,
	}
	if err := s.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ProjectType != "react" || got.Status != StatusSucceeded {
		t.Fatalf("unexpected record: %#v", got)
	}
	if got.OutputDir == nil || *got.OutputDir != "dist" {
		t.Fatalf("output_dir = %v, want dist", got.OutputDir)
	}
	if got.FileCount != 12 || got.WorkspaceBytes != 48_123 || got.DurationMs != 1700 {
		t.Fatalf("size fields mismatch: %#v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt is nil")
	}
}

func TestStoreGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	s := New(openTestDB(t))
	if _, err := s.GetByID(context.Background(), uuid.NewString()); err != ErrBuildNotFound {
		t.Fatalf("GetByID error = %v, want ErrBuildNotFound", err)
	}
}

func TestStoreInsertRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	s := New(openTestDB(t))
	err := s.Insert(context.Background(), Record{ID: uuid.NewString(), ProjectType: "generic", Status: Status("running")})
	if err == nil {
		t.Fatal("Insert accepted non-terminal status")
	}
}

func TestStoreListRecentNewestFirst(t *testing.T) {
	t.Parallel()

	s := New(openTestDB(t))
	base := time.Now().UTC().Add(-time.Hour)

	var ids []string
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		ids = append(ids, id)
		err := s.Insert(context.Background(), Record{
			ID:          id,
			ProjectType: "vue",
			Status:      StatusFailed,
			ErrorKind:   strPtr("build_error"),
			ErrorDetail: strPtr("vite exited 1"),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	recs, err := s.ListRecent(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[0].ID != ids[2] || recs[1].ID != ids[1] {
		t.Fatalf("unexpected order: %s, %s", recs[0].ID, recs[1].ID)
	}
	if recs[0].ErrorKind == nil || *recs[0].ErrorKind != "build_error" {
		t.Fatalf("error_kind = %v", recs[0].ErrorKind)
	}
}

func TestStorePruneOlderThan(t *testing.T) {
	t.Parallel()

	s := New(openTestDB(t))
	now := time.Now().UTC()

	old := Record{ID: uuid.NewString(), ProjectType: "generic", Status: StatusTimedOut, CreatedAt: now.Add(-40 * 24 * time.Hour)}
	fresh := Record{ID: uuid.NewString(), ProjectType: "generic", Status: StatusSucceeded, CreatedAt: now.Add(-time.Hour)}
	for _, r := range []Record{old, fresh} {
		if err := s.Insert(context.Background(), r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := s.PruneOlderThan(context.Background(), now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	if _, err := s.GetByID(context.Background(), old.ID); err != ErrBuildNotFound {
		t.Fatalf("old record still present: %v", err)
	}
	if _, err := s.GetByID(context.Background(), fresh.ID); err != nil {
		t.Fatalf("fresh record lost: %v", err)
	}
}
