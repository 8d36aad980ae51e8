package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"genstudio/internal/infra/credentials"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Store provider credentials in the database",
	}
	cmd.AddCommand(newCredentialsSetCmd())
	return cmd
}

func newCredentialsSetCmd() *cobra.Command {
	var (
		provider string
		value    string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save the qwen api key or the provider webhook secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider = strings.ToLower(strings.TrimSpace(provider))
			value = strings.TrimSpace(value)
			if value == "" {
				switch provider {
				case credentials.ProviderQwen:
					value = strings.TrimSpace(os.Getenv("QWEN_API_KEY"))
				case credentials.ProviderWebhookSecret:
					value = strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
				}
			}
			if value == "" {
				return errors.New("--value is required when the matching environment variable is empty")
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if s.backend.Credentials == nil {
				return fmt.Errorf("credentials are only stored with STORE_BACKEND=postgres, got %q", s.cfg.StoreBackend)
			}

			switch provider {
			case credentials.ProviderQwen:
				err = s.backend.Credentials.SetQwenAPIKey(cmd.Context(), value)
			case credentials.ProviderWebhookSecret:
				err = s.backend.Credentials.SetWebhookSecret(cmd.Context(), value)
			default:
				return fmt.Errorf("unsupported provider %q", provider)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"provider": provider, "status": "stored"})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", credentials.ProviderQwen, "qwen or provider_webhook")
	cmd.Flags().StringVar(&value, "value", "", "Secret value (defaults to QWEN_API_KEY or WEBHOOK_SECRET)")
	return cmd
}
