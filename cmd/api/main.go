package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"genstudio/internal/bootstrap"
	"genstudio/internal/generations"
	"genstudio/internal/http/handlers"
	httpapi "genstudio/internal/http/httpapi"
	"genstudio/internal/infra"
	"genstudio/internal/webhook"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := bootstrap.Migrate(ctx, cfg, infra.MigrateUp, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
	}

	backend, err := bootstrap.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
	}
	defer backend.Close()

	files, artifacts, err := bootstrap.NewFileStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}
	registry, err := bootstrap.NewRegistry(ctx, cfg, backend.Credentials, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure providers")
	}
	webhookSecret, err := bootstrap.WebhookSecret(ctx, cfg, backend.Credentials)
	if err != nil {
		logger.Warn().Err(err).Msg("webhook secret lookup failed")
	}
	if webhookSecret == "" {
		logger.Warn().Msg("WEBHOOK_SECRET not set, provider webhooks are accepted unsigned")
	}

	wk := bootstrap.NewWorker(cfg, backend.Store, registry, artifacts, infra.Component(logger, "worker"))

	app := &handlers.App{
		Generations:   generations.NewService(backend.Store, logger),
		Webhooks:      webhook.NewIngestor(backend.Store, logger),
		Runner:        wk.Runner,
		Reclaimer:     wk.Reclaimer,
		Ping:          backend.Ping,
		WebhookSecret: webhookSecret,
		TickBudget:    cfg.Worker.TickBudget,
		Logger:        logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		WorkerSecret:    cfg.WorkerSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Static:          files.Handler(),
		Logger:          logger,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Str("addr", server.Addr()).Str("backend", cfg.StoreBackend).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
