package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"envelope/internal/amqp"
	"envelope/internal/config"
	"envelope/internal/engine"
	apphttp "envelope/internal/http"
	"envelope/internal/log"
	"envelope/internal/memory"
	"envelope/internal/mirror"
	"envelope/internal/services"
	"envelope/internal/storage"
)

// dataStore is everything the API server and the in-process recompute
// path need. Both backends satisfy it.
type dataStore interface {
	apphttp.Store
	services.RecomputeStore
	Close() error
}

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	var store dataStore
	switch cfg.DataBackend {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		store = repo
		logger.Info("Initialized SQLite backend", "path", cfg.SQLiteDBPath)
	default:
		store = memory.NewStore()
		logger.Info("Initialized memory backend")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// With a queue configured the worker owns recomputes; otherwise they
	// run in-process, including the periodic sweep over stale months.
	var dispatcher engine.RecomputeDispatcher
	if cfg.AMQPURL != "" && cfg.DataBackend == "sqlite" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		dispatcher = client
		logger.Info("Recompute dispatch via AMQP", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		if cfg.AMQPURL != "" {
			logger.Warn("AMQP configured but backend is not sqlite; using in-process recompute")
		}
		var summaryMirror services.SummaryMirror
		if cfg.MirrorSpreadsheetID != "" {
			client, err := mirror.NewFromEnv(ctx)
			if err != nil {
				logger.Error("Failed to initialize Sheets mirror", log.FieldError, err)
				os.Exit(1)
			}
			summaryMirror = client
		}
		recomputer := services.NewRecomputer(store, summaryMirror, logger)
		dispatcher = &services.InlineDispatcher{Recomputer: recomputer}

		go func() {
			ticker := time.NewTicker(cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := recomputer.SweepStale(ctx); err != nil {
						logger.Error("Stale month sweep failed", log.FieldError, err)
					}
				}
			}
		}()
		logger.Info("Recompute dispatch in-process", "sweep_interval", cfg.SweepInterval)
	}

	srv := apphttp.NewServer(":"+cfg.Port, store, dispatcher, engine.Config{
		RecomputeQuietWindow: cfg.RecomputeQuietWindow,
		CapRefreshInterval:   cfg.CapRefreshInterval,
		InfoMessageTTL:       cfg.InfoMessageTTL,
		WriteTimeout:         cfg.WriteTimeout,
	}, logger)

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cancel()
	}()

	logger.Info("Starting envelope server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
