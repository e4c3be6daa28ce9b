package pipeline

import (
	"context"
	"fmt"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/async"
	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/srt"
)

// HandleTranscription runs the ASR pass for a queued job. On success the
// job becomes transcribed and either the refinement stage is enqueued
// directly or diarization is started. The ASR client itself retries once
// against the fallback credentials; beyond that the job fails terminally.
func (w *Workers) HandleTranscription(ctx context.Context, task async.Task) error {
	payload, ok := task.Payload.(TranscriptionTask)
	if !ok {
		return fmt.Errorf("transcription: unexpected payload %T", task.Payload)
	}

	job, err := w.getJob(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		w.removeTempFile(payload.FilePath)
		return nil
	}
	// Duplicate delivery guard: only a queued job may start transcribing.
	if job.Status != constants.JobStatusQueued {
		w.log.Info("transcription skipped, job not queued",
			"job_id", job.ID, "status", job.Status)
		return nil
	}

	running := constants.JobStatusRunning
	if err := w.update(ctx, job.ID, entity.JobUpdate{Status: &running}); err != nil {
		return err
	}

	result, err := w.asr.Transcribe(ctx, payload.FilePath, payload.Language)
	if err != nil {
		w.removeTempFile(payload.FilePath)
		w.failJob(ctx, job, fmt.Sprintf("Transcription failed: %v", err))
		return err
	}

	transcribed := constants.JobStatusTranscribed
	subtitle := srt.Generate(result.Segments)
	upd := entity.JobUpdate{
		Status:          &transcribed,
		Transcript:      &result.Text,
		SubtitleContent: &subtitle,
	}

	if !payload.DiarizationEnabled {
		if err := w.update(ctx, job.ID, upd); err != nil {
			return err
		}
		w.removeTempFile(payload.FilePath)
		w.log.Info("transcription complete, refinement enqueued", "job_id", job.ID)
		return w.queue.Enqueue(ctx, async.Task{
			Stage: constants.StageRefinement,
			Payload: RefinementTask{
				JobID:    job.ID,
				Segments: result.Segments,
				FullText: result.Text,
			},
		})
	}

	pending := true
	ds := constants.DiarizationRunning
	upd.RefinementPending = &pending
	upd.DiarizationStatus = &ds
	if err := w.update(ctx, job.ID, upd); err != nil {
		return err
	}

	if err := w.diarizer.Start(ctx, job.ID.String(), payload.FilePath); err != nil {
		// The transcript survives; only the diarization add-on failed.
		w.removeTempFile(payload.FilePath)
		w.failDiarization(ctx, job, fmt.Sprintf("Diarization failed to start: %v", err))
		return err
	}

	w.log.Info("transcription complete, diarization started", "job_id", job.ID)
	return w.queue.EnqueueIn(ctx, w.pollInterval, async.Task{
		Stage: constants.StageDiarization,
		Payload: DiarizationPollTask{
			JobID:    job.ID,
			FilePath: payload.FilePath,
			Attempt:  0,
			Segments: result.Segments,
		},
	})
}
