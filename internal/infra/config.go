package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendGorm     = "gorm"
	StoreBackendSQLite   = "sqlite"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	StoreBackend     string
	SQLitePath       string
	MigrateOnStart   bool
	JWTSecret        string
	WorkerSecret     string
	WebhookSecret    string
	StoragePath      string
	StorageBaseURL   string
	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	Provider        string
	ProviderMode    string
	ProviderLatency time.Duration
	CallbackURL     string
	QwenAPIKey      string
	QwenBaseURL     string
	QwenModel       string
	QwenImageModel  string

	Worker WorkerConfig
}

// WorkerConfig tunes the tick processor, the reclaimer and the run loop.
type WorkerConfig struct {
	BatchSize         int
	Concurrency       int
	TickBudget        time.Duration
	IdleSleep         time.Duration
	HeartbeatInterval time.Duration
	StaleThreshold    time.Duration
	PollInterval      time.Duration
	MaxAttempts       int
	ProviderTimeout   time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		SQLitePath:       getEnv("SQLITE_PATH", "genstudio.db"),
		MigrateOnStart:   getEnvBool("MIGRATE_ON_START", false),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		WorkerSecret:     os.Getenv("WORKER_SECRET"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   os.Getenv("STORAGE_BASE_URL"),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 90)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		Provider:        strings.ToLower(getEnv("PROVIDER", "synthetic")),
		ProviderMode:    strings.ToLower(getEnv("PROVIDER_MODE", "poll")),
		ProviderLatency: time.Millisecond * time.Duration(getEnvInt("PROVIDER_LATENCY_MS", 3000)),
		CallbackURL:     os.Getenv("PROVIDER_CALLBACK_URL"),
		QwenAPIKey:      os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:     getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:       getEnv("QWEN_MODEL", "wan2.1-t2v-turbo"),
		QwenImageModel:  getEnv("QWEN_IMAGE_MODEL", "wanx2.1-t2i-turbo"),

		Worker: WorkerConfig{
			BatchSize:         getEnvInt("WORKER_BATCH_SIZE", 5),
			Concurrency:       getEnvInt("WORKER_CONCURRENCY", 2),
			TickBudget:        time.Second * time.Duration(getEnvInt("WORKER_TICK_BUDGET_SECONDS", 50)),
			IdleSleep:         time.Second * time.Duration(getEnvInt("WORKER_IDLE_SLEEP_SECONDS", 3)),
			HeartbeatInterval: time.Second * time.Duration(getEnvInt("WORKER_HEARTBEAT_SECONDS", 20)),
			StaleThreshold:    time.Second * time.Duration(getEnvInt("WORKER_STALE_THRESHOLD_SECONDS", 120)),
			PollInterval:      time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 5)),
			MaxAttempts:       getEnvInt("WORKER_MAX_ATTEMPTS", 3),
			ProviderTimeout:   time.Minute * time.Duration(getEnvInt("WORKER_PROVIDER_TIMEOUT_MINUTES", 30)),
		},
	}

	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = "http://localhost:" + cfg.Port + "/static"
	}
	cfg.StorageBaseURL = strings.TrimRight(cfg.StorageBaseURL, "/")
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = "http://localhost:" + cfg.Port + "/v1/webhooks/provider"
	}

	switch cfg.StoreBackend {
	case StoreBackendPostgres, StoreBackendGorm:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreBackendSQLite:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.ProviderMode {
	case "poll", "webhook":
	default:
		return nil, fmt.Errorf("unsupported PROVIDER_MODE %q", cfg.ProviderMode)
	}

	if cfg.Worker.HeartbeatInterval >= cfg.Worker.StaleThreshold {
		return nil, fmt.Errorf("WORKER_HEARTBEAT_SECONDS must be shorter than WORKER_STALE_THRESHOLD_SECONDS")
	}

	return cfg, nil
}

// ValidateAPI checks the settings only the HTTP API needs.
func (c *Config) ValidateAPI() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.WorkerSecret == "" {
		return fmt.Errorf("WORKER_SECRET is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
