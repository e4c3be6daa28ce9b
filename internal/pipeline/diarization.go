package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/async"
	"github.com/voxlens/voxlens/internal/diarize"
	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/segments"
)

// HandleDiarizationPoll makes one provider status check and either persists
// a terminal diarization state or re-enqueues itself with a delay. A worker
// is occupied only for the duration of the check, never for the wait: the
// chain of delayed tasks replaces a blocking poll loop.
func (w *Workers) HandleDiarizationPoll(ctx context.Context, task async.Task) error {
	payload, ok := task.Payload.(DiarizationPollTask)
	if !ok {
		return fmt.Errorf("diarization: unexpected payload %T", task.Payload)
	}

	job, err := w.getJob(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		w.removeTempFile(payload.FilePath)
		return nil
	}
	// Duplicate delivery guard: the chain only continues while the
	// sub-state is still running.
	if job.DiarizationStatus == nil || *job.DiarizationStatus != constants.DiarizationRunning {
		w.log.Info("diarization poll skipped, not running",
			"job_id", job.ID, "diarization_status", job.DiarizationStatus)
		return nil
	}

	status, err := w.diarizer.Status(ctx, job.ID.String())
	if err != nil {
		w.removeTempFile(payload.FilePath)
		if errors.Is(err, diarize.ErrJobNotFound) {
			w.failDiarization(ctx, job, "Diarization failed: job not found on provider")
			return err
		}
		w.failDiarization(ctx, job, fmt.Sprintf("Diarization failed: %v", err))
		return err
	}

	switch status.State {
	case diarize.StateCompleted:
		return w.finishDiarization(ctx, job, payload, status)

	case diarize.StateFailed:
		w.removeTempFile(payload.FilePath)
		message := status.Message
		if message == "" {
			message = "Diarization failed"
		}
		w.failDiarization(ctx, job, message)
		return fmt.Errorf("diarization failed for job %s: %s", job.ID, message)

	default:
		attempt := payload.Attempt + 1
		if attempt >= w.maxAttempts {
			w.removeTempFile(payload.FilePath)
			w.failDiarization(ctx, job, "Diarization timed out")
			return fmt.Errorf("diarization timed out for job %s after %d attempts", job.ID, attempt)
		}

		// Progress is monotone while running; never write a regression.
		if status.Progress > job.DiarizationProgress {
			progress := status.Progress
			if err := w.update(ctx, job.ID, entity.JobUpdate{DiarizationProgress: &progress}); err != nil {
				return err
			}
		}

		payload.Attempt = attempt
		return w.queue.EnqueueIn(ctx, w.pollInterval, async.Task{
			Stage:   constants.StageDiarization,
			Payload: payload,
			TraceID: task.TraceID,
			Attempt: attempt,
		})
	}
}

func (w *Workers) finishDiarization(ctx context.Context, job *entity.Job, payload DiarizationPollTask, status *diarize.Status) error {
	w.removeTempFile(payload.FilePath)

	if status.Result == nil {
		w.failDiarization(ctx, job, "Diarization completed without a result payload")
		return fmt.Errorf("diarization for job %s completed without result", job.ID)
	}

	profiles := status.Result.Profiles
	if profiles == nil {
		profiles = segments.Profiles(status.Result.Segments)
	}

	completed := constants.DiarizationCompleted
	progress := 100
	// refinement_pending stays true: the user still has to confirm the
	// speaker labels before refinement may run.
	if err := w.update(ctx, job.ID, entity.JobUpdate{
		DiarizationStatus:   &completed,
		DiarizationProgress: &progress,
		SpeakerProfiles:     profiles,
		SpeakerSegments:     status.Result.Segments,
	}); err != nil {
		return err
	}

	w.log.Info("diarization complete, awaiting speaker confirmation",
		"job_id", job.ID, "speakers", len(profiles), "segments", len(status.Result.Segments))
	return nil
}
