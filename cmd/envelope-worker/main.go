package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"envelope/internal/amqp"
	"envelope/internal/config"
	"envelope/internal/log"
	"envelope/internal/mirror"
	"envelope/internal/services"
	"envelope/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.Config{Component: log.ComponentWorker})
	log.SetDefault(logger)

	logger.Info("Starting envelope-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sheets mirror is optional; without it recomputes stay database-only.
	var summaryMirror services.SummaryMirror
	if cfg.MirrorSpreadsheetID != "" {
		client, err := mirror.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Sheets mirror", log.FieldError, err)
			os.Exit(1)
		}
		summaryMirror = client
		logger.Info("Sheets mirror initialized", "spreadsheet_id", cfg.MirrorSpreadsheetID)
	} else {
		logger.Info("Sheets mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	recomputer := services.NewRecomputer(repo, summaryMirror, logger)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Catch up on months whose requests were lost while the worker was down.
	if n, err := recomputer.SweepStale(ctx); err != nil {
		logger.Error("Startup sweep failed", log.FieldError, err)
	} else if n > 0 {
		logger.Info("Startup sweep recomputed stale months", "months", n)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := amqpClient.ConsumeRecompute(ctx, func(msg *amqp.RecomputeRequest) error {
			month, err := msg.MonthKey()
			if err != nil {
				// Malformed month: handled as success so it is not requeued.
				logger.Error("Dropping recompute request with bad month",
					log.FieldRequestID, msg.RequestID, log.FieldMonth, msg.Month, log.FieldError, err)
				return nil
			}
			return recomputer.Recompute(ctx, msg.BudgetID, month)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := recomputer.SweepStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Periodic sweep failed", log.FieldError, err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
