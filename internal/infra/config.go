package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	LedgerDriverPostgres = "postgres"
	LedgerDriverBolt     = "bolt"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	PublicURL          string
	DatabaseURL        string
	LedgerDriver       string
	BoltPath           string
	AutoMigrate        bool
	JWTSecret          string
	JWTIssuer          string
	RedisAddr          string
	GeoIPDBPath        string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int

	CardWebhookSecret    string
	CardWebhookTolerance time.Duration
	CardAPIKey           string
	CardAPIBaseURL       string
	CardCheckoutExpiry   time.Duration

	ChainRPCURL           string
	ChainMinConfirmations int

	ReconcileInterval    time.Duration
	ReconcileMinAge      time.Duration
	ReconcileTimeout     time.Duration
	ReconcileCardTimeout time.Duration
	ReconcileConcurrency int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               port,
		PublicURL:          strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:"+port), "/"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		LedgerDriver:       strings.ToLower(getEnv("LEDGER_DRIVER", LedgerDriverPostgres)),
		BoltPath:           getEnv("BOLT_PATH", "./data/ledger.db"),
		AutoMigrate:        getEnvBool("AUTO_MIGRATE", false),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTIssuer:          getEnv("JWT_ISSUER", "crowdfund"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		CardWebhookSecret:    os.Getenv("CARD_WEBHOOK_SECRET"),
		CardWebhookTolerance: time.Second * time.Duration(getEnvInt("CARD_WEBHOOK_TOLERANCE_SECONDS", 300)),
		CardAPIKey:           os.Getenv("CARD_API_KEY"),
		CardAPIBaseURL:       strings.TrimRight(getEnv("CARD_API_BASE_URL", "https://api.stripe.com"), "/"),
		CardCheckoutExpiry:   time.Second * time.Duration(getEnvInt("CARD_CHECKOUT_EXPIRY_SECONDS", 3600)),

		ChainRPCURL:           getEnv("CHAIN_RPC_URL", "https://api.mainnet-beta.solana.com"),
		ChainMinConfirmations: getEnvInt("CHAIN_MIN_CONFIRMATIONS", 32),

		ReconcileInterval:    time.Second * time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 30)),
		ReconcileMinAge:      time.Second * time.Duration(getEnvInt("RECONCILE_MIN_AGE_SECONDS", 60)),
		ReconcileTimeout:     time.Second * time.Duration(getEnvInt("RECONCILE_TIMEOUT_SECONDS", 3600)),
		ReconcileCardTimeout: time.Second * time.Duration(getEnvInt("RECONCILE_CARD_TIMEOUT_SECONDS", 7200)),
		ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 4),
	}

	switch cfg.LedgerDriver {
	case LedgerDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case LedgerDriverBolt:
		if strings.TrimSpace(cfg.BoltPath) == "" {
			return nil, fmt.Errorf("BOLT_PATH is required for the bolt ledger")
		}
	default:
		return nil, fmt.Errorf("unsupported LEDGER_DRIVER %q", cfg.LedgerDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.ReconcileTimeout <= cfg.ReconcileMinAge {
		return nil, fmt.Errorf("RECONCILE_TIMEOUT_SECONDS must exceed RECONCILE_MIN_AGE_SECONDS")
	}
	// The processor refuses checkout expiries under 30 minutes or over 24 hours.
	if cfg.CardCheckoutExpiry < 30*time.Minute || cfg.CardCheckoutExpiry > 24*time.Hour {
		return nil, fmt.Errorf("CARD_CHECKOUT_EXPIRY_SECONDS must be between 1800 and 86400")
	}
	if cfg.ReconcileCardTimeout <= cfg.CardCheckoutExpiry {
		return nil, fmt.Errorf("RECONCILE_CARD_TIMEOUT_SECONDS must exceed CARD_CHECKOUT_EXPIRY_SECONDS")
	}
	if cfg.ReconcileConcurrency < 1 {
		cfg.ReconcileConcurrency = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
