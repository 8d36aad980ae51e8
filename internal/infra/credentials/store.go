package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

const (
	ProviderQwen          = "qwen"
	ProviderWebhookSecret = "provider_webhook"
)

// Store reads provider credentials kept in integration_tokens. It is the
// fallback when the matching environment variable is empty.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) QwenAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderQwen)
}

func (s *Store) WebhookSecret(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderWebhookSecret)
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetQwenAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("qwen api key is required")
	}
	return s.upsert(ctx, ProviderQwen, key, map[string]any{"kind": "api_key"})
}

func (s *Store) SetWebhookSecret(ctx context.Context, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("webhook secret is required")
	}
	return s.upsert(ctx, ProviderWebhookSecret, secret, map[string]any{"kind": "hmac_sha256"})
}

// Resolve prefers the configured value and falls back to the stored token.
func (s *Store) Resolve(ctx context.Context, configured, provider string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	if s == nil || s.sql == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
