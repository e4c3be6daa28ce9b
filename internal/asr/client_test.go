package asr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voxlens/voxlens/internal/common"
)

const verboseJSON = `{
	"text": "Good morning everyone. Let's get started.",
	"language": "en",
	"duration": 9.2,
	"segments": [
		{"start": 0, "end": 4.1, "text": " Good morning everyone."},
		{"start": 4.1, "end": 9.2, "text": " Let's get started."}
	]
}`

func stageAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "standup.opus")
	if err := os.WriteFile(path, []byte("opus-bytes"), 0o644); err != nil {
		t.Fatalf("stage audio: %v", err)
	}
	return path
}

func TestTranscribeDecodesVerboseJSON(t *testing.T) {
	var gotModel, gotFormat, gotLanguage, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		gotLanguage = r.FormValue("language")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseJSON))
	}))
	defer srv.Close()

	c := NewClient(common.ASRConfig{
		BaseURL: srv.URL, APIKey: "key-1", Model: "whisper-1", Timeout: 5 * time.Second,
	}, nil)

	res, err := c.Transcribe(context.Background(), stageAudio(t), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotModel != "whisper-1" || gotFormat != "verbose_json" || gotLanguage != "en" {
		t.Errorf("form fields model=%q format=%q language=%q", gotModel, gotFormat, gotLanguage)
	}
	if gotAuth != "Bearer key-1" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if res.Language != "en" || res.Duration != 9.2 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(res.Segments))
	}
	// Provider pads segment text with leading spaces.
	if res.Segments[0].Text != "Good morning everyone." {
		t.Errorf("segment text = %q, not trimmed", res.Segments[0].Text)
	}
}

func TestTranscribeFallsBackOnce(t *testing.T) {
	var primaryCalls, fallbackCalls int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls++
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-alt" {
			t.Errorf("fallback model = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseJSON))
	}))
	defer fallback.Close()

	c := NewClient(common.ASRConfig{
		BaseURL: primary.URL, APIKey: "key-1", Model: "whisper-1",
		FallbackBaseURL: fallback.URL, FallbackAPIKey: "key-2", FallbackModel: "whisper-alt",
		Timeout: 5 * time.Second,
	}, nil)

	res, err := c.Transcribe(context.Background(), stageAudio(t), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if primaryCalls != 1 || fallbackCalls != 1 {
		t.Errorf("calls primary=%d fallback=%d, want 1 each", primaryCalls, fallbackCalls)
	}
	if res.Text == "" {
		t.Error("empty transcript from fallback")
	}
}

func TestTranscribeBothProvidersFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(common.ASRConfig{
		BaseURL: srv.URL, APIKey: "key-1", Model: "whisper-1",
		FallbackAPIKey: "key-2",
		Timeout:        5 * time.Second,
	}, nil)

	_, err := c.Transcribe(context.Background(), stageAudio(t), "")
	if err == nil {
		t.Fatal("expected error when both providers fail")
	}
	if !strings.Contains(err.Error(), "primary") || !strings.Contains(err.Error(), "fallback") {
		t.Errorf("error %q does not report both attempts", err)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	c := NewClient(common.ASRConfig{BaseURL: "http://unused", Model: "whisper-1"}, nil)
	_, err := c.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.opus"), "")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
