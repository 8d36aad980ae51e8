package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"genstudio/internal/bootstrap"
	"genstudio/internal/infra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(infra.MigrateUp), string(infra.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			direction := infra.MigrateDirection(args[0])
			if err := bootstrap.Migrate(cmd.Context(), cfg, direction, logger); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"direction": string(direction),
				"backend":   cfg.StoreBackend,
			})
		},
	}
}
