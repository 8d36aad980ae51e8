package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"genstudio/internal/domain"
)

func newCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and grant workspace credits",
	}
	cmd.AddCommand(newCreditsGrantCmd(), newCreditsBalanceCmd(), newCreditsHistoryCmd())
	return cmd
}

func newCreditsGrantCmd() *cobra.Command {
	var (
		workspace string
		amount    int64
	)
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Add credits to a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace = strings.TrimSpace(workspace)
			if workspace == "" {
				return errors.New("--workspace is required")
			}
			if amount <= 0 {
				return errors.New("--amount must be positive")
			}
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			balance, err := s.backend.Store.Repositories().Credits.Grant(cmd.Context(), workspace, amount, domain.ReasonGrant)
			if err != nil {
				return err
			}
			s.logger.Info().Str("workspace_id", workspace).Int64("amount", amount).Int64("balance", balance).Msg("credits granted")
			return printJSON(cmd.OutOrStdout(), map[string]any{"workspace_id": workspace, "granted": amount, "balance": balance})
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace id")
	cmd.Flags().Int64Var(&amount, "amount", 0, "Credits to add")
	return cmd
}

func newCreditsBalanceCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a workspace balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(workspace) == "" {
				return errors.New("--workspace is required")
			}
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			balance, err := s.backend.Store.Repositories().Credits.Balance(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"workspace_id": workspace, "balance": balance})
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace id")
	return cmd
}

func newCreditsHistoryCmd() *cobra.Command {
	var (
		workspace string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the newest credit transactions of a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(workspace) == "" {
				return errors.New("--workspace is required")
			}
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			items, err := s.backend.Store.Repositories().Credits.History(cmd.Context(), workspace, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"items": items})
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}
