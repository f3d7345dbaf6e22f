package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const maxErrorDetailBytes = 64 * 1024

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists a terminal build record. The caller is expected to have
// already assigned the record ID at submission time.
func (s *Store) Insert(ctx context.Context, r Record) error {
	if r.ID == "" {
		return fmt.Errorf("record ID is empty")
	}
	if r.Status != StatusSucceeded && r.Status != StatusFailed && r.Status != StatusTimedOut {
		return fmt.Errorf("invalid terminal status: %q", r.Status)
	}

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var completedAt any
	if r.CompletedAt != nil {
		completedAt = r.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	var errorDetail any
	if r.ErrorDetail != nil {
		d := *r.ErrorDetail
		if len(d) > maxErrorDetailBytes {
			d = d[:maxErrorDetailBytes]
		}
		errorDetail = d
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO builds(
  id, project_type, output_dir, status, error_kind, error_detail,
  file_count, workspace_bytes, duration_ms, submitted_by, created_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, r.ID, r.ProjectType, r.OutputDir, r.Status, r.ErrorKind, errorDetail,
		r.FileCount, r.WorkspaceBytes, r.DurationMs, r.SubmittedBy,
		createdAt.Format(time.RFC3339Nano), completedAt)
	if err != nil {
		return fmt.Errorf("insert build record: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("id is empty")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, project_type, output_dir, status, error_kind, error_detail,
       file_count, workspace_bytes, duration_ms, submitted_by, created_at, completed_at
FROM builds
WHERE id = ?;
`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBuildNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load build %s: %w", id, err)
	}
	return r, nil
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, project_type, output_dir, status, error_kind, error_detail,
       file_count, workspace_bytes, duration_ms, submitted_by, created_at, completed_at
FROM builds
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	return out, nil
}

// PruneOlderThan deletes records created before the cutoff and reports how
// many rows were removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM builds WHERE created_at < ?;
`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune build records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune build records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r           Record
		statusS     string
		outputDir   sql.NullString
		errorKind   sql.NullString
		errorDetail sql.NullString
		submittedBy sql.NullString
		createdAtS  string
		completedS  sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.ProjectType, &outputDir, &statusS, &errorKind, &errorDetail,
		&r.FileCount, &r.WorkspaceBytes, &r.DurationMs, &submittedBy, &createdAtS, &completedS,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(statusS)
	if outputDir.Valid {
		r.OutputDir = &outputDir.String
	}
	if errorKind.Valid {
		r.ErrorKind = &errorKind.String
	}
	if errorDetail.Valid {
		r.ErrorDetail = &errorDetail.String
	}
	if submittedBy.Valid {
		r.SubmittedBy = &submittedBy.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		r.CreatedAt = t
	}
	if completedS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedS.String); err == nil {
			r.CompletedAt = &t
		}
	}
	return &r, nil
}
