package constants

// JobStatus is the canonical status for rows in jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued      JobStatus = "queued"      // accepted, waiting for a transcription worker
	JobStatusUploading   JobStatus = "uploading"   // blob upload in progress
	JobStatusRunning     JobStatus = "running"     // ASR call in progress
	JobStatusTranscribed JobStatus = "transcribed" // transcript persisted; diarization/refinement may follow
	JobStatusFailed      JobStatus = "failed"      // terminal failure
)

// rank orders the forward-only statuses. Failed is terminal and reachable
// from anywhere, so it is not part of the ordering.
var rank = map[JobStatus]int{
	JobStatusUploading:   0,
	JobStatusQueued:      1,
	JobStatusRunning:     2,
	JobStatusTranscribed: 3,
}

// CanTransition reports whether a job may move from to next. Statuses only
// move forward; failed is allowed from any non-failed state and is final.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == JobStatusFailed {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	from, ok := rank[s]
	if !ok {
		return false
	}
	to, ok := rank[next]
	if !ok {
		return false
	}
	return to > from
}

// Terminal reports whether no further pipeline stage may touch the job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFailed
}

// DiarizationStatus is the sub-state layered on a transcribed job when
// speaker diarization is enabled.
type DiarizationStatus string

const (
	DiarizationPending   DiarizationStatus = "pending"
	DiarizationRunning   DiarizationStatus = "running"
	DiarizationCompleted DiarizationStatus = "completed"
	DiarizationFailed    DiarizationStatus = "failed"
)

// Terminal reports whether the diarization sub-state can no longer change.
func (s DiarizationStatus) Terminal() bool {
	return s == DiarizationCompleted || s == DiarizationFailed
}
