package store

import (
	"errors"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Record is one finished build attempt as persisted in the builds table.
type Record struct {
	ID             string
	ProjectType    string
	OutputDir      *string
	Status         Status
	ErrorKind      *string
	ErrorDetail    *string
	FileCount      int
	WorkspaceBytes int64
	DurationMs     int64
	SubmittedBy    *string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

var ErrBuildNotFound = errors.New("build not found")
