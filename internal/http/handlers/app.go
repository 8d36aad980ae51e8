package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/generations"
	"genstudio/internal/webhook"
	"genstudio/internal/worker"
)

// WorkerRunner runs the reclaim/tick loop for a bounded budget.
type WorkerRunner interface {
	Run(ctx context.Context, budget time.Duration) (worker.RunSummary, error)
}

// StaleReclaimer requeues jobs whose worker stopped heartbeating.
type StaleReclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}

type App struct {
	Generations   *generations.Service
	Webhooks      *webhook.Ingestor
	Runner        WorkerRunner
	Reclaimer     StaleReclaimer
	Ping          func(context.Context) error
	WebhookSecret string
	TickBudget    time.Duration
	// StreamInterval is how often the websocket stream re-reads a generation.
	StreamInterval time.Duration
	Logger         zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
