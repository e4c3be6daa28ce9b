// Package jobs implements the intake and management surface for
// transcription jobs: upload, speaker confirmation, rename, deletion.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/async"
	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/credits"
	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/media"
	"github.com/voxlens/voxlens/internal/pipeline"
	"github.com/voxlens/voxlens/internal/repository"
	"github.com/voxlens/voxlens/internal/segments"
	"github.com/voxlens/voxlens/internal/srt"
	"github.com/voxlens/voxlens/internal/storage"
)

// Service handles job intake and lifecycle business logic.
type Service struct {
	jobs      repository.JobRepository
	ledger    *credits.Ledger
	blobs     storage.BlobStore
	queue     async.Queue
	uploadDir string
	logger    *slog.Logger

	// Seams for the exec-backed media helpers.
	probe   func(ctx context.Context, path string) (float64, error)
	convert func(ctx context.Context, log *slog.Logger, inputPath, outDir string) (string, error)
}

// NewService creates a new job service.
func NewService(jobs repository.JobRepository, ledger *credits.Ledger, blobs storage.BlobStore, queue async.Queue, uploadDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:      jobs,
		ledger:    ledger,
		blobs:     blobs,
		queue:     queue,
		uploadDir: uploadDir,
		logger:    logger,
		probe:     media.ProbeDuration,
		convert:   media.ConvertToOpus,
	}
}

// UploadRequest describes a media file staged on local disk.
type UploadRequest struct {
	UserID             uuid.UUID
	FilePath           string
	FileName           string
	Language           string
	DiarizationEnabled bool
}

// Upload reserves credits, persists the job, stores the converted audio and
// hands the job to the transcription stage. On insufficient balance nothing
// is persisted and the caller gets ErrInsufficientCredits.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*entity.Job, error) {
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = filepath.Base(req.FilePath)
	}
	if !constants.IsSupportedMedia(filepath.Ext(fileName)) {
		return nil, common.WrapError(common.ErrInvalidInput,
			fmt.Sprintf("unsupported media format %q", filepath.Ext(fileName)))
	}

	seconds, err := s.probe(ctx, req.FilePath)
	if err != nil {
		return nil, common.WrapError(err, "read media duration")
	}
	minutes := seconds / 60
	required := credits.RequiredCredits(minutes, req.DiarizationEnabled)

	ok, err := s.ledger.Reserve(ctx, req.UserID, required)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info("upload rejected, insufficient credits",
			"user_id", req.UserID, "required", required)
		return nil, common.WrapError(common.ErrInsufficientCredits,
			fmt.Sprintf("%d credits required", required))
	}

	job := &entity.Job{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		FileName:           fileName,
		Status:             constants.JobStatusUploading,
		Language:           req.Language,
		DurationMinutes:    minutes,
		DiarizationEnabled: req.DiarizationEnabled,
		CreditsRequired:    required,
	}
	if req.DiarizationEnabled {
		ds := constants.DiarizationPending
		job.DiarizationStatus = &ds
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		// The reservation has no job to hang off yet; hand the credits back
		// directly.
		if adjErr := s.ledger.AdminAdjust(ctx, req.UserID, required, "reservation release: job create failed"); adjErr != nil {
			s.logger.Error("could not release reservation", "user_id", req.UserID, "error", adjErr)
		}
		return nil, err
	}

	txType := constants.TxTranscription
	if req.DiarizationEnabled {
		txType = constants.TxTranscriptionDiarization
	}
	if err := s.ledger.CreateDebit(ctx, req.UserID, job.ID, required, txType,
		fmt.Sprintf("transcription of %s", fileName)); err != nil {
		return nil, s.abortUpload(ctx, job, "", "could not record the charge", err)
	}

	localPath, err := s.convert(ctx, s.logger, req.FilePath, s.uploadDir)
	if err != nil {
		return nil, s.abortUpload(ctx, job, "", "audio conversion failed", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, s.abortUpload(ctx, job, localPath, "could not read converted audio", err)
	}
	key, err := s.blobs.UploadFile(ctx, data, filepath.Base(localPath), req.UserID.String())
	if err != nil {
		return nil, s.abortUpload(ctx, job, localPath, "storage upload failed", err)
	}

	queued := constants.JobStatusQueued
	if err := s.jobs.Update(ctx, job.ID, entity.JobUpdate{Status: &queued, FileKey: &key}); err != nil {
		return nil, s.abortUpload(ctx, job, localPath, "could not queue the job", err)
	}
	job.Status = queued
	job.FileKey = key

	if err := s.queue.Enqueue(ctx, async.Task{
		Stage:       constants.StageTranscription,
		SubmittedAt: time.Now(),
		Payload: pipeline.TranscriptionTask{
			JobID:              job.ID,
			FilePath:           localPath,
			Language:           req.Language,
			DiarizationEnabled: req.DiarizationEnabled,
		},
	}); err != nil {
		return nil, s.abortUpload(ctx, job, localPath, "could not enqueue the job", err)
	}

	s.logger.Info("job queued", "job_id", job.ID, "user_id", req.UserID,
		"file", fileName, "minutes", minutes, "credits", required,
		"diarization", req.DiarizationEnabled)
	return job, nil
}

// abortUpload fails the half-created job, refunds the hold and cleans the
// staged file.
func (s *Service) abortUpload(ctx context.Context, job *entity.Job, localPath, message string, cause error) error {
	s.logger.Error("upload aborted", "job_id", job.ID, "reason", message, "error", cause)
	failed := constants.JobStatusFailed
	if err := s.jobs.Update(ctx, job.ID, entity.JobUpdate{Status: &failed, ErrorMessage: &message}); err != nil {
		s.logger.Error("could not mark job failed", "job_id", job.ID, "error", err)
	}
	if err := s.ledger.Refund(ctx, job.ID, job.UserID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// The debit row was never written, so there is nothing to
			// refund; hand the reserved credits back directly.
			if adjErr := s.ledger.AdminAdjust(ctx, job.UserID, job.CreditsRequired,
				fmt.Sprintf("reservation release: aborted upload of job %s", job.ID)); adjErr != nil {
				s.logger.Error("could not release reservation", "job_id", job.ID, "user_id", job.UserID, "error", adjErr)
			}
		} else {
			s.logger.Error("refund after aborted upload failed", "job_id", job.ID, "error", err)
		}
	}
	if localPath != "" {
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("staged file cleanup failed", "path", localPath, "error", err)
		}
	}
	return common.WrapError(cause, message)
}

// ConfirmSpeakersRequest carries the user-edited speaker labels.
type ConfirmSpeakersRequest struct {
	JobID           uuid.UUID
	UserID          uuid.UUID
	SpeakerProfiles map[string]entity.SpeakerProfile
	SpeakerSegments []entity.SpeakerSegment
}

// ConfirmSpeakers applies the edited speaker labels, merges them into the
// transcript segments and releases the job into refinement. Only a job with
// completed diarization that is still awaiting confirmation qualifies.
func (s *Service) ConfirmSpeakers(ctx context.Context, req ConfirmSpeakersRequest) error {
	job, err := s.getOwned(ctx, req.JobID, req.UserID)
	if err != nil {
		return err
	}
	if !job.RefinementPending || job.DiarizationStatus == nil || *job.DiarizationStatus != constants.DiarizationCompleted {
		return common.WrapError(common.ErrInvalidInput, "job is not awaiting speaker confirmation")
	}

	speakerSegments := req.SpeakerSegments
	if speakerSegments == nil {
		speakerSegments = job.SpeakerSegments
	}
	profiles := req.SpeakerProfiles
	if profiles == nil {
		profiles = segments.Profiles(speakerSegments)
	}

	transcript := srt.Parse(job.SubtitleContent)
	attributed, err := segments.Merge(transcript, speakerSegments)
	if err != nil {
		return common.WrapError(err, "merge speaker segments")
	}

	pending := false
	if err := s.jobs.Update(ctx, job.ID, entity.JobUpdate{
		SpeakerProfiles:   profiles,
		SpeakerSegments:   speakerSegments,
		RefinementPending: &pending,
	}); err != nil {
		return err
	}

	s.logger.Info("speakers confirmed, refinement enqueued",
		"job_id", job.ID, "speakers", len(profiles))
	return s.queue.Enqueue(ctx, async.Task{
		Stage:       constants.StageRefinement,
		SubmittedAt: time.Now(),
		Payload: pipeline.RefinementTask{
			JobID:    job.ID,
			Segments: attributed,
		},
	})
}

// UpdateRequest covers the user-editable job fields outside the pipeline.
type UpdateRequest struct {
	JobID           uuid.UUID
	UserID          uuid.UUID
	FileName        *string
	SpeakerProfiles map[string]entity.SpeakerProfile
	SpeakerSegments []entity.SpeakerSegment
}

// Update renames a job or edits its speaker labels.
func (s *Service) Update(ctx context.Context, req UpdateRequest) error {
	if _, err := s.getOwned(ctx, req.JobID, req.UserID); err != nil {
		return err
	}
	if req.FileName != nil && strings.TrimSpace(*req.FileName) == "" {
		return common.WrapError(common.ErrInvalidInput, "file name cannot be empty")
	}
	return s.jobs.Update(ctx, req.JobID, entity.JobUpdate{
		FileName:        req.FileName,
		SpeakerProfiles: req.SpeakerProfiles,
		SpeakerSegments: req.SpeakerSegments,
	})
}

// Delete removes the job record and its stored blob. In-flight pipeline
// tasks discover the deletion on their next write and drop out quietly.
func (s *Service) Delete(ctx context.Context, jobID, userID uuid.UUID) error {
	job, err := s.getOwned(ctx, jobID, userID)
	if err != nil {
		return err
	}
	if err := s.jobs.Delete(ctx, jobID); err != nil {
		return err
	}
	if job.FileKey != "" {
		if err := s.blobs.DeleteFile(ctx, job.FileKey); err != nil && !errors.Is(err, common.ErrNotFound) {
			s.logger.Warn("blob cleanup failed", "job_id", jobID, "key", job.FileKey, "error", err)
		}
	}
	s.logger.Info("job deleted", "job_id", jobID, "user_id", userID)
	return nil
}

// Get returns a job owned by the user.
func (s *Service) Get(ctx context.Context, jobID, userID uuid.UUID) (*entity.Job, error) {
	return s.getOwned(ctx, jobID, userID)
}

// List returns the user's jobs, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*entity.Job, error) {
	return s.jobs.ListByUser(ctx, userID)
}

// getOwned loads a job and hides other users' jobs behind ErrNotFound.
func (s *Service) getOwned(ctx context.Context, jobID, userID uuid.UUID) (*entity.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, common.ErrNotFound
	}
	return job, nil
}
