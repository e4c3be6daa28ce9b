package srt

import (
	"reflect"
	"strings"
	"testing"

	"github.com/voxlens/voxlens/internal/entity"
)

func TestGenerateEmpty(t *testing.T) {
	if got := Generate(nil); got != "" {
		t.Fatalf("Generate(nil) = %q, want empty", got)
	}
}

func TestGenerateFormatting(t *testing.T) {
	segs := []entity.Segment{
		{Start: 0, End: 2.5, Text: "hello"},
		{Start: 3661.042, End: 3700, Text: "two\nlines"},
	}
	got := Generate(segs)
	want := "1\n00:00:00,000 --> 00:00:02,500\nhello\n" +
		"\n2\n01:01:01,042 --> 01:01:40,000\ntwo\nlines\n"
	if got != want {
		t.Fatalf("Generate mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestParseSkipsMalformedBlocks(t *testing.T) {
	content := strings.Join([]string{
		"1",
		"00:00:00,000 --> 00:00:01,000",
		"ok",
		"",
		"2", // missing timecode and text, must be skipped
		"",
		"3",
		"not a timecode",
		"still skipped",
		"",
		"4",
		"00:00:02,000 --> 00:00:03,000",
		"also ok",
	}, "\n")

	segs := Parse(content)
	if len(segs) != 2 {
		t.Fatalf("Parse returned %d segments, want 2: %+v", len(segs), segs)
	}
	if segs[0].Text != "ok" || segs[1].Text != "also ok" {
		t.Fatalf("unexpected texts: %+v", segs)
	}
}

func TestParseTimecodeDecomposition(t *testing.T) {
	segs := Parse("1\n01:02:03,450 --> 01:02:04,000\nx")
	if len(segs) != 1 {
		t.Fatalf("expected one segment, got %d", len(segs))
	}
	want := 1*3600 + 2*60 + 3 + 0.450
	if diff := segs[0].Start - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("start = %v, want %v", segs[0].Start, want)
	}
}

func TestRoundTrip(t *testing.T) {
	segs := []entity.Segment{
		{Start: 0, End: 1.5, Text: "first"},
		{Start: 1.5, End: 4.25, Text: "second line"},
		{Start: 10, End: 12.125, Text: "third"},
		{Start: 3599.75, End: 3600.5, Text: "hour boundary"},
	}
	got := Parse(Generate(segs))
	if !reflect.DeepEqual(got, segs) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, segs)
	}
}
