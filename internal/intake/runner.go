package intake

import (
	"context"
	"errors"
	"os"

	"log/slog"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/jobs"
)

// Uploader is the slice of the job service the runner needs.
type Uploader interface {
	Upload(ctx context.Context, req jobs.UploadRequest) (*entity.Job, error)
}

// RunnerConfig controls how discovered files are submitted.
type RunnerConfig struct {
	UserID             uuid.UUID
	Language           string
	DiarizationEnabled bool
	// RemoveAfterSubmit deletes the inbox file once a job exists; the
	// converted copy under the upload dir is the working file from then on.
	RemoveAfterSubmit bool
}

// Runner turns watcher events into upload requests.
type Runner struct {
	uploader Uploader
	cfg      RunnerConfig
	log      *slog.Logger

	submitted map[string]struct{}
}

func NewRunner(uploader Uploader, cfg RunnerConfig, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		uploader:  uploader,
		cfg:       cfg,
		log:       log,
		submitted: make(map[string]struct{}),
	}
}

// Run consumes watcher events until the channel closes or ctx ends. Each
// path is submitted at most once per process lifetime.
func (r *Runner) Run(ctx context.Context, events <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, path)
		}
	}
}

func (r *Runner) handle(ctx context.Context, path string) {
	if _, done := r.submitted[path]; done {
		return
	}
	if _, err := os.Stat(path); err != nil {
		// Editors produce create+rename bursts; the intermediate name may
		// be gone by now.
		return
	}

	job, err := r.uploader.Upload(ctx, jobs.UploadRequest{
		UserID:             r.cfg.UserID,
		FilePath:           path,
		Language:           r.cfg.Language,
		DiarizationEnabled: r.cfg.DiarizationEnabled,
	})
	if err != nil {
		if errors.Is(err, common.ErrInsufficientCredits) {
			r.log.Warn("inbox file needs more credits", "path", path, "error", err)
			r.submitted[path] = struct{}{}
			return
		}
		r.log.Error("inbox submission failed", "path", path, "error", err)
		return
	}

	r.submitted[path] = struct{}{}
	r.log.Info("inbox file submitted", "path", path, "job_id", job.ID)
	if r.cfg.RemoveAfterSubmit {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.log.Warn("could not remove submitted inbox file", "path", path, "error", err)
		}
	}
}
