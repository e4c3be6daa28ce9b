package diarize

import (
	"encoding/json"
	"testing"
)

func TestDecodeResultValid(t *testing.T) {
	raw := json.RawMessage(`{
		"segments": [
			{"start": 0, "end": 4.5, "speaker": "SPEAKER_00"},
			{"start": 4.5, "end": 9, "speaker": "SPEAKER_01"}
		],
		"profiles": {
			"SPEAKER_00": {"segment_count": 1, "total_duration": 4.5},
			"SPEAKER_01": {"segment_count": 1, "total_duration": 4.5}
		}
	}`)
	result, err := decodeResult(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Segments) != 2 {
		t.Errorf("segments = %d, want 2", len(result.Segments))
	}
	if result.Segments[1].Speaker != "SPEAKER_01" {
		t.Errorf("speaker = %q", result.Segments[1].Speaker)
	}
	if result.Profiles["SPEAKER_00"].SegmentCount != 1 {
		t.Errorf("profile = %+v", result.Profiles["SPEAKER_00"])
	}
}

func TestDecodeResultRejectsMalformedPayload(t *testing.T) {
	cases := map[string]string{
		"missing segments":   `{"profiles": {}}`,
		"negative start":     `{"segments": [{"start": -1, "end": 2, "speaker": "A"}]}`,
		"empty speaker":      `{"segments": [{"start": 0, "end": 2, "speaker": ""}]}`,
		"wrong segment type": `{"segments": [{"start": "zero", "end": 2, "speaker": "A"}]}`,
	}
	for name, raw := range cases {
		if _, err := decodeResult(json.RawMessage(raw)); err == nil {
			t.Errorf("%s: expected schema validation error", name)
		}
	}
}
