package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"crowdfund/internal/infra"
	"crowdfund/internal/sqlinline"
)

// Providers whose secrets can be rotated at runtime without a redeploy.
const (
	ProviderCardAPI     = "card_api"
	ProviderCardWebhook = "card_webhook"
	ProviderChainRPC    = "chain_rpc"
)

var errEmptySecret = errors.New("credentials: secret is required")

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) CardAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderCardAPI)
}

// CardWebhookSecrets returns the active signing secret followed by any
// secrets still accepted during a rotation window.
func (s *Store) CardWebhookSecrets(ctx context.Context) ([]string, error) {
	current, props, err := s.tokenWithProps(ctx, ProviderCardWebhook)
	if err != nil || current == "" {
		return nil, err
	}
	out := []string{current}
	for _, prev := range props.Previous {
		if prev = strings.TrimSpace(prev); prev != "" && prev != current {
			out = append(out, prev)
		}
	}
	return out, nil
}

func (s *Store) ChainRPCEndpoint(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderChainRPC)
}

// Token returns the stored secret for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	token, _, err := s.tokenWithProps(ctx, provider)
	return token, err
}

type tokenProps struct {
	Previous []string `json:"previous,omitempty"`
}

func (s *Store) tokenWithProps(ctx context.Context, provider string) (string, tokenProps, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var (
		token string
		raw   []byte
		props tokenProps
	)
	if err := row.Scan(&token, &raw); err != nil {
		if infra.IsNoRows(err) {
			return "", props, nil
		}
		return "", props, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &props); err != nil {
			return "", props, err
		}
	}
	return strings.TrimSpace(token), props, nil
}

func (s *Store) SetCardAPIKey(ctx context.Context, key string) error {
	return s.set(ctx, ProviderCardAPI, key, nil)
}

// RotateCardWebhookSecret stores secret as the active signing secret and
// keeps the previous one accepted until the next rotation.
func (s *Store) RotateCardWebhookSecret(ctx context.Context, secret string) error {
	current, _, err := s.tokenWithProps(ctx, ProviderCardWebhook)
	if err != nil {
		return err
	}
	props := map[string]any{}
	if current != "" && current != strings.TrimSpace(secret) {
		props["previous"] = []string{current}
	}
	return s.set(ctx, ProviderCardWebhook, secret, props)
}

func (s *Store) SetChainRPCEndpoint(ctx context.Context, endpoint string) error {
	return s.set(ctx, ProviderChainRPC, endpoint, nil)
}

func (s *Store) set(ctx context.Context, provider, token string, props map[string]any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errEmptySecret
	}
	return s.upsert(ctx, provider, token, props)
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
