package constants

import "strings"

// StageNames route tasks to their worker pools.
const (
	StageTranscription = "transcription"
	StageDiarization   = "diarization"
	StageRefinement    = "refinement"
)

// AllowedExtensions holds the media container/codec extensions accepted for
// upload. Anything else is rejected before a job is created.
var AllowedExtensions = map[string]struct{}{
	"mp3":  {},
	"mp4":  {},
	"avi":  {},
	"mov":  {},
	"wav":  {},
	"m4a":  {},
	"aac":  {},
	"wma":  {},
	"ogg":  {},
	"opus": {},
	"flac": {},
	"mkv":  {},
	"webm": {},
	"amr":  {},
	"3gp":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsSupportedMedia reports whether the extension is an accepted media format.
func IsSupportedMedia(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}
