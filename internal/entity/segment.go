package entity

// Segment is one timed slice of transcribed audio. Start and End are seconds
// from the beginning of the recording.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// SpeakerSegment is one diarized slice attributing a span of audio to a
// speaker label.
type SpeakerSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// SpeakerProfile aggregates per-speaker totals reported by diarization.
type SpeakerProfile struct {
	SegmentCount  int     `json:"segment_count"`
	TotalDuration float64 `json:"total_duration"`
}
