// Package pipeline contains the stage workers that move a job through
// transcription, diarization and refinement. Each worker reads the job,
// performs one unit of work, writes back a monotone update and enqueues the
// next stage. Handlers are idempotent: delivery is at-least-once, so every
// entry point checks the job's persisted state first.
package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/asr"
	"github.com/voxlens/voxlens/internal/async"
	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/credits"
	"github.com/voxlens/voxlens/internal/diarize"
	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/refine"
	"github.com/voxlens/voxlens/internal/repository"
)

// TranscriptionTask starts a job's ASR pass.
type TranscriptionTask struct {
	JobID              uuid.UUID
	FilePath           string
	Language           string
	DiarizationEnabled bool
}

// DiarizationPollTask is one link in the poll chain. Attempt counts the
// status checks made so far; Segments carries the transcript segments
// forward for the eventual merge.
type DiarizationPollTask struct {
	JobID    uuid.UUID
	FilePath string
	Attempt  int
	Segments []entity.Segment
}

// RefinementTask runs the LLM passes over the (possibly speaker-attributed)
// transcript segments.
type RefinementTask struct {
	JobID    uuid.UUID
	Segments []entity.Segment
	FullText string
}

// Workers bundles the three stage handlers and their dependencies.
type Workers struct {
	jobs     repository.JobRepository
	ledger   *credits.Ledger
	queue    async.Queue
	asr      asr.Transcriber
	diarizer diarize.Provider
	engine   *refine.Engine

	pollInterval time.Duration
	maxAttempts  int

	log *slog.Logger
}

func NewWorkers(
	jobs repository.JobRepository,
	ledger *credits.Ledger,
	queue async.Queue,
	transcriber asr.Transcriber,
	diarizer diarize.Provider,
	engine *refine.Engine,
	pollInterval time.Duration,
	maxAttempts int,
	log *slog.Logger,
) *Workers {
	if log == nil {
		log = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 360
	}
	return &Workers{
		jobs:         jobs,
		ledger:       ledger,
		queue:        queue,
		asr:          transcriber,
		diarizer:     diarizer,
		engine:       engine,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		log:          log,
	}
}

// Register wires the handlers into the stage queue.
func (w *Workers) Register(q *async.StageQueue, transcriptionWorkers, diarizationWorkers, refinementWorkers int) {
	q.Register(constants.StageTranscription, w.HandleTranscription, transcriptionWorkers)
	q.Register(constants.StageDiarization, w.HandleDiarizationPoll, diarizationWorkers)
	q.Register(constants.StageRefinement, w.HandleRefinement, refinementWorkers)
}

// update applies a job update, treating a missing job as a benign no-op:
// in-flight tasks are not cancelled when a job is deleted, and their late
// writes must not crash the worker. Status writes go through the job state
// machine; a duplicate delivery trying to move a job backwards loses its
// status change and keeps the rest of the update.
func (w *Workers) update(ctx context.Context, jobID uuid.UUID, upd entity.JobUpdate) error {
	if upd.Status != nil {
		job, err := w.jobs.Get(ctx, jobID)
		if errors.Is(err, common.ErrNotFound) {
			w.log.Warn("orphaned write ignored, job deleted", "job_id", jobID)
			return nil
		}
		if err != nil {
			return err
		}
		if job.Status != *upd.Status && !job.Status.CanTransition(*upd.Status) {
			w.log.Warn("status regression blocked",
				"job_id", jobID, "from", job.Status, "to", *upd.Status)
			upd.Status = nil
		}
	}
	err := w.jobs.Update(ctx, jobID, upd)
	if errors.Is(err, common.ErrNotFound) {
		w.log.Warn("orphaned write ignored, job deleted", "job_id", jobID)
		return nil
	}
	return err
}

// failJob marks the job terminally failed, records the error text in its
// own field and refunds the reservation.
func (w *Workers) failJob(ctx context.Context, job *entity.Job, message string) {
	status := constants.JobStatusFailed
	if err := w.update(ctx, job.ID, entity.JobUpdate{Status: &status, ErrorMessage: &message}); err != nil {
		w.log.Error("failed to persist job failure", "job_id", job.ID, "error", err)
	}
	w.refund(ctx, job)
}

// failDiarization marks the diarization sub-state failed; the parent job
// stays transcribed, the transcript remains usable.
func (w *Workers) failDiarization(ctx context.Context, job *entity.Job, message string) {
	ds := constants.DiarizationFailed
	pending := false
	if err := w.update(ctx, job.ID, entity.JobUpdate{
		DiarizationStatus: &ds,
		ErrorMessage:      &message,
		RefinementPending: &pending,
	}); err != nil {
		w.log.Error("failed to persist diarization failure", "job_id", job.ID, "error", err)
	}
	w.refund(ctx, job)
}

func (w *Workers) refund(ctx context.Context, job *entity.Job) {
	if err := w.ledger.Refund(ctx, job.ID, job.UserID); err != nil {
		// A duplicate delivery may have refunded already; anything else
		// is a ledger inconsistency that needs operator attention.
		if errors.Is(err, common.ErrNotFound) {
			w.log.Warn("no refundable debit for job", "job_id", job.ID)
			return
		}
		w.log.Error("refund failed", "job_id", job.ID, "user_id", job.UserID, "error", err)
	}
}

func (w *Workers) removeTempFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Warn("temp file cleanup failed", "path", path, "error", err)
	}
}

// getJob loads the job for a stage entry. A nil job with nil error means
// the job vanished and the task should be dropped silently.
func (w *Workers) getJob(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	job, err := w.jobs.Get(ctx, jobID)
	if errors.Is(err, common.ErrNotFound) {
		w.log.Warn("task for deleted job dropped", "job_id", jobID)
		return nil, nil
	}
	return job, err
}
