// Package media wraps the ffmpeg/ffprobe binaries for duration probing and
// pre-upload audio conversion.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"log/slog"
)

// ProbeDuration returns the media duration in seconds.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(errBuf.String()))
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: unparseable duration %q", path, out.String())
	}
	return seconds, nil
}

// ConvertToOpus transcodes the input to a mono 24 kHz opus file in outDir and
// returns the output path. The filter chain cuts rumble and hiss before the
// speech models see the audio.
func ConvertToOpus(ctx context.Context, log *slog.Logger, inputPath, outDir string) (string, error) {
	if log == nil {
		log = slog.Default()
	}
	if outDir == "" {
		outDir = os.TempDir()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	out := OpusPath(inputPath, outDir)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", inputPath,
		"-af", "highpass=f=50,lowpass=f=8000,volume=2,afftdn=nf=-20",
		"-c:a", "libopus",
		"-ac", "1",
		"-ar", "24000",
		"-b:a", "24k",
		"-vbr", "on",
		"-compression_level", "8",
		"-application", "audio",
		out,
	)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	log.Info("converting media to opus", "input", inputPath, "output", out)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg %s: %w: %s", inputPath, err, strings.TrimSpace(errBuf.String()))
	}
	return out, nil
}

// OpusPath derives the conversion target path for an input file.
func OpusPath(inputPath, outDir string) string {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(outDir, base+".opus")
}
