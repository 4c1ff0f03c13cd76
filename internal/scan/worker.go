package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/statestore"
	"github.com/twbeatles/intranet-messenger/internal/upload"
)

// PollInterval is how often the worker checks for pending scan jobs it did not already pick up via ProcessJob.
const PollInterval = 5 * time.Second

// Worker drains the upload_scan_jobs queue: it scans each quarantined file, moves clean files to their final
// location, mints the upload token the client needs to complete send_message, and records the verdict.
type Worker struct {
	jobs     upload.JobRepository
	scanner  Scanner
	store    *statestore.Store
	finalDir string
	log      zerolog.Logger
}

// NewWorker creates a scan worker. finalDir is the directory clean files are moved into out of quarantine.
func NewWorker(jobs upload.JobRepository, scanner Scanner, store *statestore.Store, finalDir string, logger zerolog.Logger) *Worker {
	return &Worker{jobs: jobs, scanner: scanner, store: store, finalDir: finalDir, log: logger}
}

// Run processes any jobs left pending from a prior run, then polls for newly created ones until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.drainPending(ctx)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainPending(ctx)
		}
	}
}

func (w *Worker) drainPending(ctx context.Context) {
	jobs, err := w.jobs.PendingJobs(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to list pending upload scan jobs")
		return
	}
	for _, job := range jobs {
		if err := w.ProcessJob(ctx, job); err != nil {
			w.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("upload scan job processing failed")
		}
	}
}

// ProcessJob scans a single job's quarantined file and transitions it to its terminal clean/infected/error state.
// It is exported so a caller that just enqueued a job can process it immediately rather than waiting for the next
// poll tick.
func (w *Worker) ProcessJob(ctx context.Context, job upload.Job) error {
	clean, result, err := w.scanner.Scan(ctx, job.TempPath)
	if err != nil {
		if markErr := w.jobs.MarkError(ctx, job.ID, err.Error()); markErr != nil {
			return fmt.Errorf("scan failed (%v) and mark error failed: %w", err, markErr)
		}
		_ = os.Remove(job.TempPath)
		return nil
	}

	if !clean {
		if err := w.jobs.MarkInfected(ctx, job.ID, result); err != nil {
			return fmt.Errorf("mark infected: %w", err)
		}
		if err := os.Remove(job.TempPath); err != nil {
			w.log.Warn().Err(err).Str("path", job.TempPath).Msg("failed to remove quarantined file after infected scan")
		}
		return nil
	}

	finalPath := filepath.Join(w.finalDir, filepath.Base(job.TempPath))
	if err := os.Rename(job.TempPath, finalPath); err != nil {
		if markErr := w.jobs.MarkError(ctx, job.ID, fmt.Sprintf("move to final path failed: %v", err)); markErr != nil {
			return fmt.Errorf("move failed (%v) and mark error failed: %w", err, markErr)
		}
		return nil
	}

	token, err := upload.Mint(ctx, w.store, upload.Token{
		UserID:   job.UserID,
		RoomID:   job.RoomID,
		FilePath: finalPath,
		FileName: job.FileName,
		FileType: job.FileType,
		FileSize: job.FileSize,
	})
	if err != nil {
		if markErr := w.jobs.MarkError(ctx, job.ID, fmt.Sprintf("mint token failed: %v", err)); markErr != nil {
			return fmt.Errorf("mint failed (%v) and mark error failed: %w", err, markErr)
		}
		return nil
	}

	if err := w.jobs.MarkClean(ctx, job.ID, finalPath, token); err != nil {
		return fmt.Errorf("mark clean: %w", err)
	}
	return nil
}
