package main

import (
	"time"

	"github.com/spf13/cobra"

	"genstudio/internal/bootstrap"
	"genstudio/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the generation worker by hand",
	}
	cmd.AddCommand(newWorkerTickCmd(), newWorkerReclaimCmd())
	return cmd
}

func newWorkerTickCmd() *cobra.Command {
	var budget time.Duration
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Reclaim and process jobs for a bounded time",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			_, artifacts, err := bootstrap.NewFileStore(s.cfg)
			if err != nil {
				return err
			}
			registry, err := bootstrap.NewRegistry(cmd.Context(), s.cfg, s.backend.Credentials, s.logger)
			if err != nil {
				return err
			}
			wk := bootstrap.NewWorker(s.cfg, s.backend.Store, registry, artifacts, s.logger)
			summary, err := wk.Runner.Run(cmd.Context(), budget)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"worker_id":   wk.Processor.WorkerID(),
				"iterations":  summary.Iterations,
				"reclaimed":   summary.Reclaimed,
				"claimed":     summary.Claimed,
				"processed":   summary.Processed,
				"failed":      summary.Failed,
				"skipped":     summary.Skipped,
				"duration_ms": summary.Duration.Milliseconds(),
			})
		},
	}
	cmd.Flags().DurationVar(&budget, "budget", 10*time.Second, "How long to keep ticking")
	return cmd
}

func newWorkerReclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Requeue jobs whose worker stopped heartbeating",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			reclaimer := worker.NewReclaimer(s.backend.Store, s.cfg.Worker.StaleThreshold, s.logger)
			n, err := reclaimer.Reclaim(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"reclaimed": n})
		},
	}
}
