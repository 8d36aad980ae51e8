// Package bootstrap assembles the store, providers and worker shared by the
// api, worker and genctl binaries from a loaded configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"genstudio/internal/adapter/gormrepo"
	"genstudio/internal/adapter/repo"
	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/infra/credentials"
	"genstudio/internal/providers"
	"genstudio/internal/providers/qwen"
	"genstudio/internal/providers/synthetic"
	"genstudio/internal/storage"
	"genstudio/internal/worker"
)

// Backend is an opened store plus the handles the binaries need around it.
type Backend struct {
	Store domain.Transactor
	// Credentials is only available on the pgx backend, where the
	// integration_tokens table lives.
	Credentials *credentials.Store
	Ping        func(context.Context) error
	close       func()
}

func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// OpenBackend connects the store selected by STORE_BACKEND. SQLite databases
// are created and migrated on open.
func OpenBackend(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case infra.StoreBackendPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		return &Backend{
			Store:       repo.NewStore(runner),
			Credentials: credentials.NewStore(runner),
			Ping:        pool.Ping,
			close:       pool.Close,
		}, nil

	case infra.StoreBackendGorm, infra.StoreBackendSQLite:
		db, err := infra.NewGormDB(cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if cfg.StoreBackend == infra.StoreBackendSQLite {
			if err := gormrepo.AutoMigrate(db.WithContext(ctx)); err != nil {
				_ = sqlDB.Close()
				return nil, fmt.Errorf("migrate sqlite: %w", err)
			}
		}
		return &Backend{
			Store: gormrepo.NewStore(db),
			Ping:  sqlDB.PingContext,
			close: func() { _ = sqlDB.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
}

// Migrate moves the schema. Postgres-backed stores share the embedded SQL
// migrations; SQLite is migrated from the gorm models and cannot go down.
func Migrate(ctx context.Context, cfg *infra.Config, direction infra.MigrateDirection, logger infra.Logger) error {
	if cfg.StoreBackend != infra.StoreBackendSQLite {
		return infra.RunMigrations(cfg.DatabaseURL, direction, logger)
	}
	if direction != infra.MigrateUp {
		return errors.New("sqlite store only supports migrate up")
	}
	b, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	b.Close()
	logger.Info().Str("path", cfg.SQLitePath).Msg("sqlite schema up to date")
	return nil
}

// WebhookSecret resolves the provider webhook secret from the environment or
// the credential store.
func WebhookSecret(ctx context.Context, cfg *infra.Config, creds *credentials.Store) (string, error) {
	return creds.Resolve(ctx, cfg.WebhookSecret, credentials.ProviderWebhookSecret)
}

// NewRegistry wires the provider adapters. The synthetic provider always
// serves as fallback; PROVIDER=qwen routes the types DashScope supports to
// it when an API key resolves.
func NewRegistry(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger infra.Logger) (*providers.Registry, error) {
	secret, err := WebhookSecret(ctx, cfg, creds)
	if err != nil {
		logger.Warn().Err(err).Msg("webhook secret lookup failed, synthetic callbacks go unsigned")
	}
	registry := providers.NewRegistry(synthetic.New(synthetic.Options{
		Latency:     cfg.ProviderLatency,
		Mode:        cfg.ProviderMode,
		CallbackURL: cfg.CallbackURL,
		Secret:      secret,
		Logger:      infra.Component(logger, "synthetic"),
	}))

	switch cfg.Provider {
	case "synthetic":
		return registry, nil
	case "qwen":
	default:
		return nil, fmt.Errorf("unsupported PROVIDER %q", cfg.Provider)
	}

	key, err := creds.Resolve(ctx, cfg.QwenAPIKey, credentials.ProviderQwen)
	if err != nil {
		logger.Warn().Err(err).Msg("qwen api key lookup failed")
	}
	if key == "" {
		logger.Warn().Msg("qwen api key missing, all types fall back to the synthetic provider")
		return registry, nil
	}
	qlog := infra.Component(logger, "qwen")
	client, err := qwen.NewClient(qwen.Options{
		APIKey:     key,
		BaseURL:    cfg.QwenBaseURL,
		VideoModel: cfg.QwenModel,
		ImageModel: cfg.QwenImageModel,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     &qlog,
	})
	if err != nil {
		return nil, fmt.Errorf("configure qwen: %w", err)
	}
	registry.Register(client, client.Types()...)
	logger.Info().Str("video_model", cfg.QwenModel).Str("image_model", cfg.QwenImageModel).Msg("qwen provider enabled")
	return registry, nil
}

// NewFileStore opens the artifact directory and the URL composer over it.
func NewFileStore(cfg *infra.Config) (*storage.FileStore, *storage.Artifacts, error) {
	root := cfg.StoragePath
	if !filepath.IsAbs(root) {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	files, err := storage.NewFileStore(root)
	if err != nil {
		return nil, nil, err
	}
	return files, storage.NewArtifacts(files, cfg.StorageBaseURL), nil
}

// Worker bundles the tick processor, the reclaimer and the run loop built
// from one configuration.
type Worker struct {
	Processor *worker.Processor
	Reclaimer *worker.Reclaimer
	Runner    *worker.Runner
}

func NewWorker(cfg *infra.Config, store domain.Transactor, adapters worker.AdapterResolver, artifacts worker.ArtifactSaver, logger infra.Logger) *Worker {
	processor := worker.NewProcessor(store, adapters, worker.Config{
		BatchSize:         cfg.Worker.BatchSize,
		Concurrency:       cfg.Worker.Concurrency,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PollInterval:      cfg.Worker.PollInterval,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		ProviderTimeout:   cfg.Worker.ProviderTimeout,
	}, logger, worker.WithArtifacts(artifacts))
	reclaimer := worker.NewReclaimer(store, cfg.Worker.StaleThreshold, logger)
	return &Worker{
		Processor: processor,
		Reclaimer: reclaimer,
		Runner:    worker.NewRunner(processor, reclaimer, cfg.Worker.IdleSleep, logger),
	}
}
