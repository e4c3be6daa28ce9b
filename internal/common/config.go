package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database    DatabaseConfig
	Queue       QueueConfig
	ASR         ASRConfig
	Diarization DiarizationConfig
	LLM         LLMConfig
	Storage     StorageConfig
	Intake      IntakeConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" or "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// QueueConfig holds stage-queue sizing.
type QueueConfig struct {
	TranscriptionWorkers int
	DiarizationWorkers   int
	RefinementWorkers    int
	QueueSize            int
	TaskTimeout          time.Duration
}

// ASRConfig holds a primary and a fallback credential/model pair for the
// speech-to-text provider.
type ASRConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	FallbackBaseURL string
	FallbackAPIKey  string
	FallbackModel   string
	Timeout         time.Duration
	UploadDir       string
}

// DiarizationConfig holds the companion diarization service settings.
type DiarizationConfig struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

// LLMConfig holds the chat-completions provider settings.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	FastModel   string
	Temperature float32
	Timeout     time.Duration
}

// StorageConfig holds the B2-style blob store settings.
type StorageConfig struct {
	BucketID   string
	BucketName string
	KeyID      string
	AppKey     string
	Timeout    time.Duration
}

// IntakeConfig holds the inbox-watcher settings.
type IntakeConfig struct {
	InboxDirs          []string
	Debounce           time.Duration
	DefaultUserID      string
	Language           string
	DiarizationEnabled bool
	RemoveAfterSubmit  bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Queue: QueueConfig{
			TranscriptionWorkers: getEnvAsInt("QUEUE_TRANSCRIPTION_WORKERS", 4),
			DiarizationWorkers:   getEnvAsInt("QUEUE_DIARIZATION_WORKERS", 4),
			RefinementWorkers:    getEnvAsInt("QUEUE_REFINEMENT_WORKERS", 2),
			QueueSize:            getEnvAsInt("QUEUE_SIZE", 256),
			TaskTimeout:          getEnvAsDuration("QUEUE_TASK_TIMEOUT", 10*time.Minute),
		},
		ASR: ASRConfig{
			BaseURL:         getEnv("ASR_API_URL", "https://api.openai.com/v1"),
			APIKey:          getEnv("ASR_API_KEY", ""),
			Model:           getEnv("ASR_MODEL", "whisper-1"),
			FallbackBaseURL: getEnv("ASR_FALLBACK_API_URL", ""),
			FallbackAPIKey:  getEnv("ASR_FALLBACK_API_KEY", ""),
			FallbackModel:   getEnv("ASR_FALLBACK_MODEL", ""),
			Timeout:         getEnvAsDuration("ASR_TIMEOUT", 15*time.Minute),
			UploadDir:       getEnv("UPLOAD_DIR", "./uploads"),
		},
		Diarization: DiarizationConfig{
			BaseURL:      getEnv("DIARIZATION_API_URL", "http://diarization:8000"),
			Timeout:      getEnvAsDuration("DIARIZATION_TIMEOUT", 30*time.Second),
			PollInterval: getEnvAsDuration("DIARIZATION_POLL_INTERVAL", 10*time.Second),
			MaxAttempts:  getEnvAsInt("DIARIZATION_MAX_ATTEMPTS", 360),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_API_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			FastModel:   getEnv("LLM_FAST_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
		},
		Storage: StorageConfig{
			BucketID:   getEnv("S3_BUCKET_ID", ""),
			BucketName: getEnv("S3_BUCKET_NAME", ""),
			KeyID:      getEnv("S3_APPLICATION_KEY_ID", ""),
			AppKey:     getEnv("S3_APPLICATION_KEY", ""),
			Timeout:    getEnvAsDuration("S3_TIMEOUT", 60*time.Second),
		},
		Intake: IntakeConfig{
			InboxDirs:          getEnvAsList("INBOX_DIRS", nil),
			Debounce:           getEnvAsDuration("INBOX_DEBOUNCE", 2*time.Second),
			DefaultUserID:      getEnv("INBOX_USER_ID", ""),
			Language:           getEnv("INBOX_LANGUAGE", ""),
			DiarizationEnabled: getEnvAsBool("INBOX_DIARIZATION", false),
			RemoveAfterSubmit:  getEnvAsBool("INBOX_REMOVE_AFTER_SUBMIT", true),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.ASR.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "ASR_API_KEY is required", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "LLM_API_KEY is required", ErrInvalidInput)
	}
	if c.Diarization.MaxAttempts <= 0 {
		return NewAppError("CONFIG_ERROR", "DIARIZATION_MAX_ATTEMPTS must be positive", ErrInvalidInput)
	}
	return nil
}
