package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/voxlens/voxlens/internal/asr"
	"github.com/voxlens/voxlens/internal/async"
	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/credits"
	"github.com/voxlens/voxlens/internal/diarize"
	"github.com/voxlens/voxlens/internal/intake"
	"github.com/voxlens/voxlens/internal/jobs"
	"github.com/voxlens/voxlens/internal/llm"
	"github.com/voxlens/voxlens/internal/pipeline"
	"github.com/voxlens/voxlens/internal/refine"
	"github.com/voxlens/voxlens/internal/repository"
	"github.com/voxlens/voxlens/internal/storage"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Local overrides; absence is fine in containerized deployments.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not load .env file", "error", err)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	jobRepo := repository.NewJobRepository(db, dialect, logger)
	creditRepo := repository.NewCreditRepository(db, dialect, logger)
	ledger := credits.NewLedger(creditRepo, jobRepo, logger)

	var blobs storage.BlobStore = storage.NewB2Client(cfg.Storage, logger)
	if cfg.Storage.KeyID == "" {
		logger.Warn("no object-store credentials, using local blob store")
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
	workers.Register(queue,
		cfg.Queue.TranscriptionWorkers,
		cfg.Queue.DiarizationWorkers,
		cfg.Queue.RefinementWorkers,
	)

	jobService := jobs.NewService(jobRepo, ledger, blobs, queue, cfg.ASR.UploadDir, logger)

	if len(cfg.Intake.InboxDirs) > 0 {
		userID, err := uuid.Parse(cfg.Intake.DefaultUserID)
		if err != nil {
			logger.Error("INBOX_USER_ID must be a UUID when INBOX_DIRS is set", "error", err)
			os.Exit(1)
		}
		if err := creditRepo.EnsureUser(ctx, userID, 0); err != nil {
			logger.Error("could not ensure inbox user", "user_id", userID, "error", err)
			os.Exit(1)
		}
		events, _, err := intake.StartWatcher(ctx, logger, intake.WatchConfig{
			Roots:       cfg.Intake.InboxDirs,
			InitialScan: true,
			Debounce:    cfg.Intake.Debounce,
		})
		if err != nil {
			logger.Error("could not start inbox watcher", "error", err)
			os.Exit(1)
		}
		runner := intake.NewRunner(jobService, intake.RunnerConfig{
			UserID:             userID,
			Language:           cfg.Intake.Language,
			DiarizationEnabled: cfg.Intake.DiarizationEnabled,
			RemoveAfterSubmit:  cfg.Intake.RemoveAfterSubmit,
		}, logger)
		go runner.Run(ctx, events)
		logger.Info("inbox watcher running", "dirs", cfg.Intake.InboxDirs, "user_id", userID)
	}

	logger.Info("voxlensd running",
		"db_driver", cfg.Database.Driver,
		"transcription_workers", cfg.Queue.TranscriptionWorkers,
		"diarization_workers", cfg.Queue.DiarizationWorkers,
		"refinement_workers", cfg.Queue.RefinementWorkers,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	queue.Shutdown(context.Background())
}
