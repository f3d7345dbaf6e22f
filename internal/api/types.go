package api

import (
	"time"

	"github.com/mattjoyce/previewd/internal/fileset"
)

// BuildSubmission is the JSON body for POST /api/v1/builds.
type BuildSubmission struct {
	Files fileset.FileSet `json:"files"`
}

// BuildRecordResponse is one persisted build in list/inspect responses.
type BuildRecordResponse struct {
	ProjectID      string     `json:"projectId"`
	ProjectType    string     `json:"projectType"`
	OutputDirName  *string    `json:"outputDirName,omitempty"`
	Status         string     `json:"status"`
	ErrorKind      *string    `json:"errorKind,omitempty"`
	ErrorDetail    *string    `json:"errorDetail,omitempty"`
	FileCount      int        `json:"fileCount"`
	WorkspaceBytes int64      `json:"workspaceSizeBytes"`
	DurationMs     int64      `json:"buildDurationMs"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// ErrorResponse is returned on errors. Kind is the machine-readable failure
// classification; plain transport errors leave it empty.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusResponse is returned by GET /api/v1/status. Disk is omitted on
// platforms where usage cannot be measured.
type StatusResponse struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Disk          *DiskResponse `json:"disk,omitempty"`
}

// DiskResponse is returned by GET /api/v1/disk.
type DiskResponse struct {
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedPercent float64 `json:"used_percent"`
	CeilingPct  int     `json:"ceiling_percent"`
}
