// voxlens-batch processes a single media file end to end: it grants the
// batch user credits, submits the file, waits for the pipeline to finish and
// writes the transcript, summary and a credit-usage workbook next to the
// input.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/asr"
	"github.com/voxlens/voxlens/internal/async"
	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/credits"
	"github.com/voxlens/voxlens/internal/diarize"
	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/export"
	"github.com/voxlens/voxlens/internal/jobs"
	"github.com/voxlens/voxlens/internal/llm"
	"github.com/voxlens/voxlens/internal/pipeline"
	"github.com/voxlens/voxlens/internal/refine"
	"github.com/voxlens/voxlens/internal/repository"
	"github.com/voxlens/voxlens/internal/storage"
)

func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		file     = flag.String("file", "", "media file to process (required)")
		lang     = flag.String("lang", "", "spoken language hint, e.g. en")
		speakers = flag.Bool("speakers", false, "run speaker diarization")
		grant    = flag.Int("grant", 0, "credits to grant the batch user before processing")
		out      = flag.String("out", "", "output directory (defaults to the input's directory)")
		inmem    = flag.Bool("inmem", false, "use in-memory repositories instead of the configured database")
		wait     = flag.Duration("wait", 2*time.Hour, "how long to wait for the pipeline")
	)
	flag.Parse()

	if *file == "" {
		printError("Error: --file is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Dir(*file)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not load .env file", "error", err)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil && !*inmem {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var (
		jobRepo    repository.JobRepository
		creditRepo repository.CreditRepository
	)
	if *inmem {
		jobRepo = repository.NewMemoryJobRepository()
		creditRepo = repository.NewMemoryCreditRepository()
	} else {
		db, dialect, err := repository.Open(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := repository.Bootstrap(ctx, db); err != nil {
			logger.Error("schema bootstrap failed", "error", err)
			os.Exit(1)
		}
		jobRepo = repository.NewJobRepository(db, dialect, logger)
		creditRepo = repository.NewCreditRepository(db, dialect, logger)
	}

	ledger := credits.NewLedger(creditRepo, jobRepo, logger)
	var blobs storage.BlobStore = storage.NewB2Client(cfg.Storage, logger)
	if *inmem || cfg.Storage.KeyID == "" {
		blobs = storage.NewLocalStore(filepath.Join(cfg.ASR.UploadDir, "blobs"))
	}
	transcriber := asr.NewClient(cfg.ASR, logger)
	diarizer := diarize.NewClient(cfg.Diarization, logger)
	llmClient := llm.NewClient(cfg.LLM, logger)
	engine := refine.NewEngine(llmClient, llmClient.Model(), llmClient.FastModel(), cfg.LLM.Temperature, logger)

	queue := async.NewStageQueue(logger,
		async.WithQueueSize(cfg.Queue.QueueSize),
		async.WithTaskTimeout(cfg.Queue.TaskTimeout),
	)
	workers := pipeline.NewWorkers(jobRepo, ledger, queue, transcriber, diarizer, engine,
		cfg.Diarization.PollInterval, cfg.Diarization.MaxAttempts, logger)
	workers.Register(queue, 1, 1, 1)
	defer queue.Shutdown(context.Background())

	jobService := jobs.NewService(jobRepo, ledger, blobs, queue, cfg.ASR.UploadDir, logger)

	userID := uuid.New()
	if err := creditRepo.EnsureUser(ctx, userID, 0); err != nil {
		logger.Error("could not create batch user", "error", err)
		os.Exit(1)
	}
	if *grant > 0 {
		if err := ledger.AdminAdjust(ctx, userID, *grant, "batch run grant"); err != nil {
			logger.Error("credit grant failed", "error", err)
			os.Exit(1)
		}
	}

	job, err := jobService.Upload(ctx, jobs.UploadRequest{
		UserID:             userID,
		FilePath:           *file,
		Language:           *lang,
		DiarizationEnabled: *speakers,
	})
	if err != nil {
		logger.Error("upload failed", "error", err)
		os.Exit(1)
	}
	logger.Info("job submitted", "job_id", job.ID, "credits", job.CreditsRequired)

	final, err := waitForJob(ctx, jobService, jobRepo, job.ID, userID, *wait, logger)
	if err != nil {
		logger.Error("pipeline did not finish", "error", err)
		os.Exit(1)
	}
	if final.Status == constants.JobStatusFailed {
		logger.Error("job failed", "job_id", final.ID, "message", final.ErrorMessage)
		os.Exit(1)
	}

	base := strings.TrimSuffix(filepath.Base(*file), filepath.Ext(*file))
	writeOut := func(suffix, content string) {
		if content == "" {
			return
		}
		path := filepath.Join(*out, base+suffix)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			logger.Error("could not write output", "path", path, "error", err)
			return
		}
		logger.Info("wrote output", "path", path)
	}
	writeOut(".srt", final.SubtitleContent)
	writeOut(".refined.txt", final.RefinedTranscript)
	writeOut(".summary.txt", final.Summary)

	exporter := export.NewService(creditRepo, logger)
	xlsx, err := exporter.ExportUserXLSX(ctx, userID)
	if err != nil {
		logger.Error("usage export failed", "error", err)
		os.Exit(1)
	}
	usagePath := filepath.Join(*out, base+".usage.xlsx")
	if err := os.WriteFile(usagePath, xlsx, 0o644); err != nil {
		logger.Error("could not write usage workbook", "path", usagePath, "error", err)
		os.Exit(1)
	}
	logger.Info("batch run complete", "job_id", final.ID, "usage", usagePath)
}

// waitForJob polls until the job is refined or failed. A job parked on
// speaker confirmation is confirmed automatically with the detected labels.
func waitForJob(ctx context.Context, svc *jobs.Service, repo repository.JobRepository, jobID, userID uuid.UUID, timeout time.Duration, logger *slog.Logger) (*entity.Job, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	confirmed := false
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out after %s", timeout)
		}

		job, err := repo.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status == constants.JobStatusFailed || job.RefinedTranscript != "" {
			return job, nil
		}
		awaiting := job.RefinementPending &&
			job.DiarizationStatus != nil && *job.DiarizationStatus == constants.DiarizationCompleted
		if awaiting && !confirmed {
			logger.Info("auto-confirming detected speakers", "job_id", jobID)
			if err := svc.ConfirmSpeakers(ctx, jobs.ConfirmSpeakersRequest{
				JobID: jobID, UserID: userID,
			}); err != nil {
				return nil, err
			}
			confirmed = true
		}
	}
}
