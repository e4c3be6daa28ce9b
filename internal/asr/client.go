// Package asr wraps the whisper-compatible speech-to-text provider.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/entity"
)

// Result is a provider transcription: full text plus timed segments.
type Result struct {
	Text     string
	Language string
	Duration float64
	Segments []entity.Segment
}

// Transcriber is the narrow surface the transcription stage consumes.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath, language string) (*Result, error)
}

type credentials struct {
	baseURL string
	apiKey  string
	model   string
}

// Client calls the audio/transcriptions endpoint with a primary credential
// set and retries exactly once against the fallback set. No other retries
// happen here.
type Client struct {
	primary    credentials
	fallback   *credentials
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg common.ASRConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		primary:    credentials{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, model: cfg.Model},
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
	if cfg.FallbackAPIKey != "" {
		c.fallback = &credentials{
			baseURL: cfg.FallbackBaseURL,
			apiKey:  cfg.FallbackAPIKey,
			model:   cfg.FallbackModel,
		}
		if c.fallback.baseURL == "" {
			c.fallback.baseURL = cfg.BaseURL
		}
		if c.fallback.model == "" {
			c.fallback.model = cfg.Model
		}
	}
	return c
}

func (c *Client) Transcribe(ctx context.Context, filePath, language string) (*Result, error) {
	res, err := c.transcribeWith(ctx, c.primary, filePath, language)
	if err == nil {
		return res, nil
	}
	if c.fallback == nil {
		return nil, err
	}

	c.log.Warn("asr.primary_failed, retrying with fallback",
		"model", c.primary.model, "error", err)
	res, ferr := c.transcribeWith(ctx, *c.fallback, filePath, language)
	if ferr != nil {
		return nil, fmt.Errorf("primary: %v; fallback: %w", err, ferr)
	}
	return res, nil
}

func (c *Client) transcribeWith(ctx context.Context, cred credentials, filePath, language string) (*Result, error) {
	start := time.Now()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", cred.model); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(cred.baseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asr http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("asr status %d: %s", resp.StatusCode, string(b))
	}

	var vr struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode asr response: %w", err)
	}

	res := &Result{Text: vr.Text, Language: vr.Language, Duration: vr.Duration}
	for _, s := range vr.Segments {
		res.Segments = append(res.Segments, entity.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}

	c.log.Info("asr.transcribe.ok",
		"model", cred.model, "segments", len(res.Segments),
		"duration_s", res.Duration, "elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}
