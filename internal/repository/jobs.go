package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/entity"
)

// JobRepository is the narrow job-store surface the pipeline consumes.
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	// Update applies the non-nil fields of upd. A missing job returns
	// common.ErrNotFound; stage workers treat that as a benign no-op
	// because in-flight tasks are not cancelled on job deletion.
	Update(ctx context.Context, id uuid.UUID, upd entity.JobUpdate) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error)
}

type jobRepo struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

func NewJobRepository(db *sql.DB, d Dialect, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{db: db, dialect: d, log: log}
}

const jobColumns = `id, user_id, file_name, file_key, status, error_message, language,
	duration_minutes, diarization_enabled, diarization_status, diarization_progress,
	refinement_pending, transcript, subtitle_content, refined_transcript, summary,
	speaker_profiles, speaker_segments, credits_required, credits_charged,
	created_at, updated_at`

func (r *jobRepo) Create(ctx context.Context, job *entity.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	profiles, err := marshalOrNil(job.SpeakerProfiles)
	if err != nil {
		return err
	}
	segments, err := marshalOrNil(job.SpeakerSegments)
	if err != nil {
		return err
	}

	q := rebind(r.dialect, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, q,
		job.ID.String(), job.UserID.String(), job.FileName, job.FileKey,
		string(job.Status), job.ErrorMessage, job.Language, job.DurationMinutes,
		job.DiarizationEnabled, diarizationStatusOrNil(job.DiarizationStatus),
		job.DiarizationProgress, job.RefinementPending, job.Transcript,
		job.SubtitleContent, job.RefinedTranscript, job.Summary,
		profiles, segments, job.CreditsRequired, job.CreditsCharged,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		r.log.Error("job create failed", "job_id", job.ID, "error", err)
		return common.WrapError(err, "create job")
	}
	r.log.Info("job created", "job_id", job.ID, "user_id", job.UserID, "status", job.Status)
	return nil
}

func (r *jobRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := rebind(r.dialect, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`)
	row := r.db.QueryRowContext(ctx, q, id.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		r.log.Error("job get failed", "job_id", id, "error", err)
		return nil, common.WrapError(err, "get job")
	}
	return job, nil
}

func (r *jobRepo) Update(ctx context.Context, id uuid.UUID, upd entity.JobUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	if upd.FileName != nil {
		add("file_name", *upd.FileName)
	}
	if upd.FileKey != nil {
		add("file_key", *upd.FileKey)
	}
	if upd.Transcript != nil {
		add("transcript", *upd.Transcript)
	}
	if upd.SubtitleContent != nil {
		add("subtitle_content", *upd.SubtitleContent)
	}
	if upd.RefinedTranscript != nil {
		add("refined_transcript", *upd.RefinedTranscript)
	}
	if upd.Summary != nil {
		add("summary", *upd.Summary)
	}
	if upd.DiarizationStatus != nil {
		add("diarization_status", string(*upd.DiarizationStatus))
	}
	if upd.DiarizationProgress != nil {
		add("diarization_progress", *upd.DiarizationProgress)
	}
	if upd.RefinementPending != nil {
		add("refinement_pending", *upd.RefinementPending)
	}
	if upd.SpeakerProfiles != nil {
		b, err := json.Marshal(upd.SpeakerProfiles)
		if err != nil {
			return err
		}
		add("speaker_profiles", string(b))
	}
	if upd.SpeakerSegments != nil {
		b, err := json.Marshal(upd.SpeakerSegments)
		if err != nil {
			return err
		}
		add("speaker_segments", string(b))
	}
	if upd.CreditsCharged != nil {
		add("credits_charged", *upd.CreditsCharged)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	q := rebind(r.dialect, fmt.Sprintf("UPDATE jobs SET %s WHERE id = ?", strings.Join(sets, ", ")))
	args = append(args, id.String())

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		r.log.Error("job update failed", "job_id", id, "error", err)
		return common.WrapError(err, "update job")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *jobRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.Job, error) {
	q := rebind(r.dialect, `SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at DESC`)
	rows, err := r.db.QueryContext(ctx, q, userID.String())
	if err != nil {
		r.log.Error("job list failed", "user_id", userID, "error", err)
		return nil, common.WrapError(err, "list jobs")
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) Delete(ctx context.Context, id uuid.UUID) error {
	q := rebind(r.dialect, `DELETE FROM jobs WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, id.String())
	if err != nil {
		r.log.Error("job delete failed", "job_id", id, "error", err)
		return common.WrapError(err, "delete job")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	r.log.Info("job deleted", "job_id", id)
	return nil
}

func (r *jobRepo) CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, common.WrapError(err, "count jobs")
	}
	defer rows.Close()

	out := make(map[constants.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[constants.JobStatus(status)] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job            entity.Job
		idStr, userStr string
		status         string
		diarStatus     sql.NullString
		profiles, segs sql.NullString
	)
	err := row.Scan(
		&idStr, &userStr, &job.FileName, &job.FileKey, &status, &job.ErrorMessage,
		&job.Language, &job.DurationMinutes, &job.DiarizationEnabled, &diarStatus,
		&job.DiarizationProgress, &job.RefinementPending, &job.Transcript,
		&job.SubtitleContent, &job.RefinedTranscript, &job.Summary,
		&profiles, &segs, &job.CreditsRequired, &job.CreditsCharged,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if job.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if job.UserID, err = uuid.Parse(userStr); err != nil {
		return nil, err
	}
	job.Status = constants.JobStatus(status)
	if diarStatus.Valid {
		ds := constants.DiarizationStatus(diarStatus.String)
		job.DiarizationStatus = &ds
	}
	if profiles.Valid && profiles.String != "" {
		if err := json.Unmarshal([]byte(profiles.String), &job.SpeakerProfiles); err != nil {
			return nil, err
		}
	}
	if segs.Valid && segs.String != "" {
		if err := json.Unmarshal([]byte(segs.String), &job.SpeakerSegments); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func marshalOrNil(v any) (any, error) {
	switch t := v.(type) {
	case map[string]entity.SpeakerProfile:
		if t == nil {
			return nil, nil
		}
	case []entity.SpeakerSegment:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func diarizationStatusOrNil(s *constants.DiarizationStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}
