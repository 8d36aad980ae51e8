package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genstudio/internal/middleware"
)

// newTokenCmd mints workspace bearer tokens for local testing.
func newTokenCmd() *cobra.Command {
	var (
		workspace string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a workspace bearer token with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(workspace) == "" {
				return errors.New("--workspace is required")
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required")
			}
			token, err := middleware.SignWorkspaceToken(cfg.JWTSecret, workspace, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"workspace_id": workspace, "token": token})
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime, 0 for no expiry")
	return cmd
}
