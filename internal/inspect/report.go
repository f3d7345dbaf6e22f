// Package inspect renders build reports for the CLI.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/previewd/internal/store"
)

// Report is the structured JSON representation of a build report.
type Report struct {
	ProjectID      string     `json:"project_id"`
	ProjectType    string     `json:"project_type"`
	Status         string     `json:"status"`
	OutputDir      string     `json:"output_dir,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	ErrorDetail    string     `json:"error_detail,omitempty"`
	FileCount      int        `json:"file_count"`
	WorkspaceBytes int64      `json:"workspace_bytes"`
	DurationMs     int64      `json:"duration_ms"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	WorkspaceState string     `json:"workspace_state"`
	Artifacts      []string   `json:"artifacts,omitempty"`
}

const maxListedArtifacts = 20

// BuildReport renders a terminal-friendly report for a build.
func BuildReport(ctx context.Context, db *sql.DB, workspaceRoot, buildID string) (string, error) {
	report, err := gatherReportData(ctx, db, workspaceRoot, buildID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Build Report\n")
	fmt.Fprintf(&out, "Project ID   : %s\n", report.ProjectID)
	fmt.Fprintf(&out, "Project Type : %s\n", report.ProjectType)
	fmt.Fprintf(&out, "Status       : %s\n", report.Status)
	if report.OutputDir != "" {
		fmt.Fprintf(&out, "Output Dir   : %s\n", report.OutputDir)
	}
	if report.ErrorKind != "" {
		fmt.Fprintf(&out, "Error        : %s (%s)\n", report.ErrorKind, report.ErrorDetail)
	}
	fmt.Fprintf(&out, "Files        : %d\n", report.FileCount)
	fmt.Fprintf(&out, "Size         : %d bytes\n", report.WorkspaceBytes)
	fmt.Fprintf(&out, "Duration     : %dms\n", report.DurationMs)
	fmt.Fprintf(&out, "Created      : %s\n", report.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Workspace    : %s\n", report.WorkspaceState)

	if len(report.Artifacts) == 0 {
		fmt.Fprintf(&out, "Artifacts    : <none>\n")
	} else {
		fmt.Fprintf(&out, "Artifacts    :\n")
		for _, a := range report.Artifacts {
			fmt.Fprintf(&out, "  - %s\n", a)
		}
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON build report.
func BuildJSONReport(ctx context.Context, db *sql.DB, workspaceRoot, buildID string) (string, error) {
	report, err := gatherReportData(ctx, db, workspaceRoot, buildID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, db *sql.DB, workspaceRoot, buildID string) (*Report, error) {
	rec, err := store.New(db).GetByID(ctx, buildID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ProjectID:      rec.ID,
		ProjectType:    rec.ProjectType,
		Status:         string(rec.Status),
		FileCount:      rec.FileCount,
		WorkspaceBytes: rec.WorkspaceBytes,
		DurationMs:     rec.DurationMs,
		CreatedAt:      rec.CreatedAt,
		CompletedAt:    rec.CompletedAt,
		WorkspaceState: "evicted",
	}
	if rec.OutputDir != nil {
		report.OutputDir = *rec.OutputDir
	}
	if rec.ErrorKind != nil {
		report.ErrorKind = *rec.ErrorKind
	}
	if rec.ErrorDetail != nil {
		report.ErrorDetail = *rec.ErrorDetail
	}

	wsDir := filepath.Join(workspaceRoot, rec.ID)
	if fi, err := os.Stat(wsDir); err == nil && fi.IsDir() {
		report.WorkspaceState = "retained"
		if report.OutputDir != "" {
			report.Artifacts = listArtifacts(filepath.Join(wsDir, filepath.FromSlash(report.OutputDir)))
		}
	}

	return report, nil
}

// listArtifacts returns up to maxListedArtifacts relative paths under dir.
func listArtifacts(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(dir, p); relErr == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(out)
	if len(out) > maxListedArtifacts {
		out = append(out[:maxListedArtifacts], fmt.Sprintf("... and %d more", len(out)-maxListedArtifacts))
	}
	return out
}
