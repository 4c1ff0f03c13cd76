package upload

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when a scan job lookup finds no matching row.
var ErrJobNotFound = errors.New("upload scan job not found")

// JobStatus is the lifecycle state of an UploadScanJob.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobClean    JobStatus = "clean"
	JobInfected JobStatus = "infected"
	JobError    JobStatus = "error"
)

// Job holds the fields read from the upload_scan_jobs table. TempPath is the quarantine location; FinalPath and
// Token are populated once the scan worker marks the job clean and moves the file out of quarantine.
type Job struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	RoomID    uuid.UUID
	TempPath  string
	FinalPath *string
	FileName  string
	FileType  Kind
	FileSize  int64
	Status    JobStatus
	Result    *string
	Token     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateJobParams groups the inputs for enqueueing a scan job.
type CreateJobParams struct {
	UserID   uuid.UUID
	RoomID   uuid.UUID
	TempPath string
	FileName string
	FileType Kind
	FileSize int64
}

// JobRepository defines the data-access contract for upload scan jobs.
type JobRepository interface {
	CreateJob(ctx context.Context, params CreateJobParams) (*Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	// MarkClean transitions a pending job to clean, recording the final (post-quarantine) path and the minted
	// upload token in the same update.
	MarkClean(ctx context.Context, id uuid.UUID, finalPath, token string) error
	MarkInfected(ctx context.Context, id uuid.UUID, result string) error
	MarkError(ctx context.Context, id uuid.UUID, result string) error
	// PendingJobs returns every job still awaiting a scan result, for worker startup recovery.
	PendingJobs(ctx context.Context) ([]Job, error)
}
