// Package main provides genctl, the operator CLI for the generation store:
// schema migrations, credit grants, worker runs and credential management.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"genstudio/internal/bootstrap"
	"genstudio/internal/infra"
)

// session is the loaded configuration plus an opened store, built per
// command so that commands which only need config never dial the database.
type session struct {
	cfg     *infra.Config
	logger  infra.Logger
	backend *bootstrap.Backend
}

func loadConfig() (*infra.Config, infra.Logger, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, infra.Logger{}, err
	}
	return cfg, infra.Component(infra.NewLogger(cfg.AppEnv), "genctl"), nil
}

func openSession(ctx context.Context) (*session, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	backend, err := bootstrap.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	return &session{cfg: cfg, logger: logger, backend: backend}, nil
}

func (s *session) Close() { s.backend.Close() }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "genctl",
		Short:         "Operate the generation store and worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newCreditsCmd(),
		newWorkerCmd(),
		newCredentialsCmd(),
		newTokenCmd(),
	)
	return root
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
