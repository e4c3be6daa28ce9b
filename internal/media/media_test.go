package media

import (
	"path/filepath"
	"testing"
)

func TestOpusPath(t *testing.T) {
	cases := []struct {
		input  string
		outDir string
		want   string
	}{
		{"/tmp/in/standup.mp4", "/tmp/out", filepath.Join("/tmp/out", "standup.opus")},
		{"meeting.wav", "/tmp/out", filepath.Join("/tmp/out", "meeting.opus")},
		{"/a/b/no-ext", "/c", filepath.Join("/c", "no-ext.opus")},
	}
	for _, c := range cases {
		if got := OpusPath(c.input, c.outDir); got != c.want {
			t.Errorf("OpusPath(%q, %q) = %q, want %q", c.input, c.outDir, got, c.want)
		}
	}
}
