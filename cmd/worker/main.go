package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"genstudio/internal/bootstrap"
	"genstudio/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.Component(infra.NewLogger(cfg.AppEnv), "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := bootstrap.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("worker: failed to open store")
	}
	defer backend.Close()

	_, artifacts, err := bootstrap.NewFileStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	registry, err := bootstrap.NewRegistry(ctx, cfg, backend.Credentials, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure providers")
	}

	wk := bootstrap.NewWorker(cfg, backend.Store, registry, artifacts, logger)
	logger.Info().
		Str("worker_id", wk.Processor.WorkerID()).
		Int("batch_size", cfg.Worker.BatchSize).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("worker: started")

	// A zero budget runs until the signal context is cancelled.
	summary, err := wk.Runner.Run(ctx, 0)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().
		Int("iterations", summary.Iterations).
		Int("processed", summary.Processed).
		Msg("worker: stopped")
}
