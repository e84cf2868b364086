package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"crowdfund/internal/infra"
	"crowdfund/internal/infra/credentials"
)

// railkey stores payment rail secrets in the integration_tokens table so the
// api and worker pick them up when the environment does not provide them.
func main() {
	var (
		valueFlag    string
		providerFlag string
	)
	flag.StringVar(&valueFlag, "value", "", "secret or endpoint to store (falls back to environment)")
	flag.StringVar(&providerFlag, "provider", credentials.ProviderCardAPI, "card_api, card_webhook or chain_rpc")
	flag.Parse()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	envKey := map[string]string{
		credentials.ProviderCardAPI:     "CARD_API_KEY",
		credentials.ProviderCardWebhook: "CARD_WEBHOOK_SECRET",
		credentials.ProviderChainRPC:    "CHAIN_RPC_URL",
	}[provider]
	if envKey == "" {
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", providerFlag)
		os.Exit(1)
	}

	value := strings.TrimSpace(valueFlag)
	if value == "" {
		value = strings.TrimSpace(os.Getenv(envKey))
	}
	if value == "" {
		fmt.Fprintf(os.Stderr, "%s value is required via -value or %s\n", provider, envKey)
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", "railkey").With().Str("provider", provider).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	ctxExec, cancelExec := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelExec()
	var persistErr error
	switch provider {
	case credentials.ProviderCardWebhook:
		// The previous secret stays valid until the next rotation so that
		// in-flight deliveries signed with it still verify.
		persistErr = store.RotateCardWebhookSecret(ctxExec, value)
	case credentials.ProviderChainRPC:
		persistErr = store.SetChainRPCEndpoint(ctxExec, value)
	default:
		persistErr = store.SetCardAPIKey(ctxExec, value)
	}
	if persistErr != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s: %v\n", provider, persistErr)
		os.Exit(1)
	}

	fmt.Printf("%s stored successfully\n", provider)
}
