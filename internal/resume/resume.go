// Package resume is the Resume Manager: on process start it reconciles any
// job rows left processing or queued by a crash, before the Scheduler
// admits new work.
package resume

import (
	"context"
	"fmt"

	"selenite/internal/clock"
	"selenite/internal/models"
	"selenite/internal/queue"
	"selenite/internal/repository"
	"selenite/internal/storage"
	"selenite/pkg/logger"
)

// stageFloor maps a progress_stage to the percent its stage begins at, so a
// resumed job's progress_percent is rounded down to the start of whatever
// stage it was interrupted in rather than resuming mid-stage with no work
// actually redone.
var stageFloor = map[string]int{
	"loading_model":     0,
	"transcoding":       10,
	"transcribing":      10,
	"transcribing_done": 70,
	"diarizing":         70,
	"diarizing_done":    90,
	"completed":         100,
}

// Manager runs the startup reconciliation pass.
type Manager struct {
	jobs  repository.JobRepository
	fs    *storage.Gateway
	clock clock.Clock
}

// New constructs a Manager.
func New(jobs repository.JobRepository, fs *storage.Gateway, c clock.Clock) *Manager {
	return &Manager{jobs: jobs, fs: fs, clock: c}
}

// Reconcile resets processing rows back to queued, deletes any stale
// transcript file, and re-enqueues every queued row into sched in
// created_at order. Idempotent: safe to call again on a repeated startup.
func (m *Manager) Reconcile(ctx context.Context, sched *queue.Scheduler) error {
	rows, err := m.jobs.ListByStatusOrderedByCreation(ctx, []models.JobStatus{models.JobProcessing, models.JobQueued})
	if err != nil {
		return fmt.Errorf("failed to list inflight jobs: %w", err)
	}

	for i := range rows {
		job := &rows[i]

		if job.TranscriptPath != nil && job.Status != models.JobCompleted {
			if err := m.fs.DeleteTranscript(job.ID); err != nil {
				logger.Warn("Failed to delete stale transcript on resume", "job_id", job.ID, "error", err)
			}
		}

		if job.Status == models.JobProcessing {
			job.AddNote("resumed after restart")
			floor, known := stageFloor[job.ProgressStage]
			if !known {
				floor = 0
			}
			patch := map[string]interface{}{
				"status":           models.JobQueued,
				"started_at":       nil,
				"progress_percent": floor,
				"notes":            job.Notes,
			}
			if err := m.jobs.UpdateRaw(ctx, job.ID, patch); err != nil {
				logger.Error("Failed to reset processing job on resume", "job_id", job.ID, "error", err)
				continue
			}
		}

		sched.Submit(job.ID)
	}

	logger.Info("Resume Manager reconciliation complete", "reconciled", len(rows))
	return nil
}
