package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
)

// Job represents one media file's end-to-end processing record for data
// transfer between layers.
type Job struct {
	ID                  uuid.UUID                    `json:"id"`
	UserID              uuid.UUID                    `json:"user_id"`
	FileName            string                       `json:"file_name"`
	FileKey             string                       `json:"file_key,omitempty"`
	Status              constants.JobStatus          `json:"status"`
	ErrorMessage        string                       `json:"error_message,omitempty"`
	Language            string                       `json:"language,omitempty"`
	DurationMinutes     float64                      `json:"duration_minutes"`
	DiarizationEnabled  bool                         `json:"diarization_enabled"`
	DiarizationStatus   *constants.DiarizationStatus `json:"diarization_status,omitempty"`
	DiarizationProgress int                          `json:"diarization_progress"`
	RefinementPending   bool                         `json:"refinement_pending"`
	Transcript          string                       `json:"transcript,omitempty"`
	SubtitleContent     string                       `json:"subtitle_content,omitempty"`
	RefinedTranscript   string                       `json:"refined_transcript,omitempty"`
	Summary             string                       `json:"summary,omitempty"`
	SpeakerProfiles     map[string]SpeakerProfile    `json:"speaker_profiles,omitempty"`
	SpeakerSegments     []SpeakerSegment             `json:"speaker_segments,omitempty"`
	CreditsRequired     int                          `json:"credits_required"`
	CreditsCharged      bool                         `json:"credits_charged"`
	CreatedAt           time.Time                    `json:"created_at"`
	UpdatedAt           time.Time                    `json:"updated_at"`
}

// JobUpdate carries a partial field set for a job-store update. Nil fields
// are left untouched.
type JobUpdate struct {
	Status              *constants.JobStatus
	ErrorMessage        *string
	FileName            *string
	FileKey             *string
	Transcript          *string
	SubtitleContent     *string
	RefinedTranscript   *string
	Summary             *string
	DiarizationStatus   *constants.DiarizationStatus
	DiarizationProgress *int
	RefinementPending   *bool
	SpeakerProfiles     map[string]SpeakerProfile
	SpeakerSegments     []SpeakerSegment
	CreditsCharged      *bool
}
