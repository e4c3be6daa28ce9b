// Package srt implements the SubRip timed-text format used for job
// subtitle content. Parsing is lenient: malformed blocks are skipped, not
// fatal, because provider output occasionally contains stray blank lines.
package srt

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/voxlens/voxlens/internal/entity"
)

// Parse decodes SRT text into timed segments. Blocks with fewer than three
// lines (index, timecode pair, text) are skipped.
func Parse(content string) []entity.Segment {
	var segments []entity.Segment
	blocks := strings.Split(strings.TrimSpace(content), "\n\n")
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}
		times := strings.Split(lines[1], " --> ")
		if len(times) != 2 {
			continue
		}
		start, err := parseTimecode(times[0])
		if err != nil {
			continue
		}
		end, err := parseTimecode(times[1])
		if err != nil {
			continue
		}
		segments = append(segments, entity.Segment{
			Start: start,
			End:   end,
			Text:  strings.Join(lines[2:], "\n"),
		})
	}
	return segments
}

// Generate encodes segments as SRT with 1-based sequential indices. Empty
// input yields an empty string.
func Generate(segments []entity.Segment) string {
	if len(segments) == 0 {
		return ""
	}
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n",
			i+1, formatTimecode(seg.Start), formatTimecode(seg.End), seg.Text)
	}
	return b.String()
}

// parseTimecode decodes "HH:MM:SS,mmm" into seconds.
func parseTimecode(tc string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(tc), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timecode %q", tc)
	}
	secParts := strings.Split(parts[2], ",")
	if len(secParts) != 2 {
		return 0, fmt.Errorf("malformed timecode %q", tc)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	s, err := strconv.Atoi(secParts[0])
	if err != nil {
		return 0, err
	}
	ms, err := strconv.Atoi(secParts[1])
	if err != nil {
		return 0, err
	}
	return float64(h)*3600 + float64(m)*60 + float64(s) + float64(ms)/1000, nil
}

// formatTimecode encodes seconds as zero-padded "HH:MM:SS,mmm".
func formatTimecode(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int(math.Round(seconds * 1000))
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
