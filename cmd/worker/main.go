package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"crowdfund/internal/bootstrap"
	"crowdfund/internal/domain"
	"crowdfund/internal/donation"
	"crowdfund/internal/infra"
	"crowdfund/internal/reconcile"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LedgerDriver == infra.LedgerDriverBolt {
		// The api process owns the bolt file and runs the poller itself.
		logger.Fatal().Msg("worker: the bolt ledger is reconciled by the api process")
	}

	ledger, err := bootstrap.OpenLedger(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: ledger unavailable")
	}
	defer ledger.Close()

	rails, err := bootstrap.OpenRails(ctx, cfg, ledger, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: payment rails misconfigured")
	}

	var lease reconcile.Lease = reconcile.LocalLease{}
	redisClient, err := infra.NewRedisClient(ctx, cfg)
	switch {
	case err != nil:
		logger.Fatal().Err(err).Msg("worker: redis unavailable")
	case redisClient != nil:
		defer redisClient.Close()
		lease = reconcile.NewRedisLease(redisClient, "")
		logger.Info().Str("redis", cfg.RedisAddr).Msg("worker: sweeps coordinated through redis")
	default:
		logger.Warn().Msg("worker: REDIS_ADDR not set, run a single worker replica")
	}

	recorder := donation.NewRecorder(ledger.Store, ledger.Projects, rails.Verifier, &logger)
	poller := reconcile.NewPoller(ledger.Store, rails.Verifier, recorder, reconcile.Options{
		Interval:     cfg.ReconcileInterval,
		MinAge:       cfg.ReconcileMinAge,
		Timeout:      cfg.ReconcileTimeout,
		RailTimeouts: map[domain.Rail]time.Duration{domain.RailCard: cfg.ReconcileCardTimeout},
		Concurrency:  cfg.ReconcileConcurrency,
		Lease:        lease,
		Logger:       &logger,
	})

	logger.Info().Dur("interval", cfg.ReconcileInterval).Msg("worker: started")
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
