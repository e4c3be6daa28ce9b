// Package segments attributes transcript segments to diarized speakers.
package segments

import (
	"fmt"

	"github.com/voxlens/voxlens/internal/entity"
)

// Merge joins transcript segments with speaker segments and returns the
// transcript with each text prefixed by its speaker label. Both inputs must
// be sorted by start time and non-overlapping; a single forward pointer over
// the speaker list makes this O(n+m).
//
// The pointer advances past every speaker segment that ends at or before the
// transcript segment's start. If the segment it then points at begins at or
// before the transcript segment's end, that speaker is attached; otherwise
// the transcript segment is left unattributed. A transcript segment that
// overlaps two speakers therefore deterministically takes the earlier one.
func Merge(transcript []entity.Segment, speakers []entity.SpeakerSegment) ([]entity.Segment, error) {
	if err := checkSorted(transcript, speakers); err != nil {
		return nil, err
	}

	out := make([]entity.Segment, len(transcript))
	i := 0
	for n, seg := range transcript {
		for i < len(speakers) && speakers[i].End <= seg.Start {
			i++
		}
		merged := seg
		if i < len(speakers) && speakers[i].Start <= seg.End {
			merged.Text = fmt.Sprintf("[%s]: %s", speakers[i].Speaker, seg.Text)
		}
		out[n] = merged
	}
	return out, nil
}

// checkSorted rejects unsorted input rather than producing garbage
// attribution. The merge-join is only correct over ordered streams.
func checkSorted(transcript []entity.Segment, speakers []entity.SpeakerSegment) error {
	for n := 1; n < len(transcript); n++ {
		if transcript[n].Start < transcript[n-1].Start {
			return fmt.Errorf("transcript segments not sorted at index %d", n)
		}
	}
	for n := 1; n < len(speakers); n++ {
		if speakers[n].Start < speakers[n-1].Start {
			return fmt.Errorf("speaker segments not sorted at index %d", n)
		}
	}
	return nil
}

// Profiles aggregates per-speaker segment counts and total speaking time
// from a diarized segment list.
func Profiles(speakers []entity.SpeakerSegment) map[string]entity.SpeakerProfile {
	if len(speakers) == 0 {
		return nil
	}
	out := make(map[string]entity.SpeakerProfile)
	for _, s := range speakers {
		p := out[s.Speaker]
		p.SegmentCount++
		p.TotalDuration += s.End - s.Start
		out[s.Speaker] = p
	}
	return out
}
