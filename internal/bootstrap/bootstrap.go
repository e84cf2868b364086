// Package bootstrap assembles the ledger and payment rails from configuration.
// It is shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"crowdfund/internal/adapter/repo"
	"crowdfund/internal/domain"
	"crowdfund/internal/infra"
	"crowdfund/internal/infra/credentials"
	"crowdfund/internal/payment"
	"crowdfund/internal/payment/solanarpc"
)

// Ledger bundles the stores behind the configured LEDGER_DRIVER.
type Ledger struct {
	Store    domain.LedgerStore
	Projects domain.ProjectRepository
	// Credentials is nil for the bolt driver.
	Credentials *credentials.Store
	Ready       func(ctx context.Context) error
	Close       func()
}

// OpenLedger connects the ledger backend, applying migrations first when
// AUTO_MIGRATE is set.
func OpenLedger(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Ledger, error) {
	switch cfg.LedgerDriver {
	case infra.LedgerDriverBolt:
		store, err := repo.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return &Ledger{
			Store:    store,
			Projects: store,
			Ready:    func(context.Context) error { return nil },
			Close:    func() { _ = store.Close() },
		}, nil
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := infra.Migrate(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		runner := infra.NewSQLRunner(pool, logger)
		return &Ledger{
			Store:       repo.NewLedgerPG(runner),
			Projects:    repo.NewProjectRepositoryPG(runner),
			Credentials: credentials.NewStore(runner),
			Ready:       pool.Ping,
			Close:       pool.Close,
		}, nil
	}
}

// Rails holds the verifier plus the card processor client, which is nil
// when no card API key is configured.
type Rails struct {
	Verifier  *payment.Verifier
	Processor *payment.ProcessorClient
}

// OpenRails builds the verifier for every rail that has credentials. Secrets
// from the environment win over the credentials table.
func OpenRails(ctx context.Context, cfg *infra.Config, ledger *Ledger, logger *infra.Logger) (*Rails, error) {
	apiKey := strings.TrimSpace(cfg.CardAPIKey)
	var secrets []string
	if s := strings.TrimSpace(cfg.CardWebhookSecret); s != "" {
		secrets = append(secrets, s)
	}
	rpcURL := strings.TrimSpace(cfg.ChainRPCURL)

	if creds := ledger.Credentials; creds != nil {
		if apiKey == "" {
			key, err := creds.CardAPIKey(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("bootstrap: failed to load card api key from store")
			}
			apiKey = key
		}
		if len(secrets) == 0 {
			stored, err := creds.CardWebhookSecrets(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("bootstrap: failed to load card webhook secrets from store")
			}
			secrets = stored
		}
		if endpoint, err := creds.ChainRPCEndpoint(ctx); err == nil && endpoint != "" {
			rpcURL = endpoint
		}
	}

	var push *payment.PushVerifier
	if len(secrets) > 0 {
		v, err := payment.NewPushVerifier(cfg.CardWebhookTolerance, secrets...)
		if err != nil {
			return nil, err
		}
		push = v
	} else {
		logger.Warn().Msg("bootstrap: no card webhook secret, card push events are refused")
	}

	rails := &Rails{Verifier: payment.NewVerifier(push)}
	if apiKey != "" {
		processor, err := payment.NewProcessorClient(payment.ProcessorOptions{
			APIKey:  apiKey,
			BaseURL: cfg.CardAPIBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: card processor: %w", err)
		}
		rails.Processor = processor
		rails.Verifier.WithRail(domain.RailCard, payment.NewCardVerifier(processor))
	} else {
		logger.Warn().Msg("bootstrap: no card api key, card checkout and reconciliation disabled")
	}

	if rpcURL != "" {
		chain := payment.NewChainVerifier(solanarpc.New(rpcURL), cfg.ChainMinConfirmations)
		rails.Verifier.WithRail(domain.RailChainTransfer, chain)
	}
	return rails, nil
}
