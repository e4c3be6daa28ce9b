// Package diarize wraps the companion speaker-diarization service.
package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/entity"
)

// ErrJobNotFound marks a provider-side missing job: non-retryable, distinct
// from a transient status-check failure.
var ErrJobNotFound = errors.New("diarization job not found")

// State values reported by the provider.
const (
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Result is the provider's completed diarization payload.
type Result struct {
	Segments []entity.SpeakerSegment          `json:"segments"`
	Profiles map[string]entity.SpeakerProfile `json:"profiles"`
}

// Status is one poll observation.
type Status struct {
	State    string
	Progress int
	Message  string
	Result   *Result
}

// Provider is the narrow surface the diarization stage consumes.
type Provider interface {
	Start(ctx context.Context, jobID, filePath string) error
	Status(ctx context.Context, jobID string) (*Status, error)
}

// resultSchema guards against malformed provider payloads reaching the job
// store. The provider is a separate service; trust but verify.
const resultSchema = `{
	"type": "object",
	"required": ["segments"],
	"properties": {
		"segments": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["start", "end", "speaker"],
				"properties": {
					"start": {"type": "number", "minimum": 0},
					"end": {"type": "number", "minimum": 0},
					"speaker": {"type": "string", "minLength": 1}
				}
			}
		},
		"profiles": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"segment_count": {"type": "integer", "minimum": 0},
					"total_duration": {"type": "number", "minimum": 0}
				}
			}
		}
	}
}`

var compiledResultSchema = jsonschema.MustCompileString("diarization-result.json", resultSchema)

type Client struct {
	cfg        common.DiarizationConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg common.DiarizationConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

func (c *Client) Start(ctx context.Context, jobID, filePath string) error {
	body, err := json.Marshal(map[string]string{
		"job_id":    jobID,
		"file_path": filePath,
	})
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/diarize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("diarization start: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("diarization start status %d: %s", resp.StatusCode, string(b))
	}
	c.log.Info("diarize.start.ok", "job_id", jobID)
	return nil
}

func (c *Client) Status(ctx context.Context, jobID string) (*Status, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/status/" + jobID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diarization status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("diarization status %d: %s", resp.StatusCode, string(b))
	}

	var sr struct {
		Status   string          `json:"status"`
		Progress int             `json:"progress"`
		Message  string          `json:"message"`
		Result   json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode diarization status: %w", err)
	}

	st := &Status{State: sr.Status, Progress: sr.Progress, Message: sr.Message}
	if sr.Status == StateCompleted && len(sr.Result) > 0 {
		result, err := decodeResult(sr.Result)
		if err != nil {
			return nil, err
		}
		st.Result = result
	}
	return st, nil
}

// decodeResult validates the payload against the schema before unmarshaling
// into typed structs.
func decodeResult(raw json.RawMessage) (*Result, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal diarization result: %w", err)
	}
	if err := compiledResultSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("diarization result schema: %w", err)
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal diarization result: %w", err)
	}
	return &result, nil
}
