package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"crowdfund/internal/bootstrap"
	"crowdfund/internal/domain"
	"crowdfund/internal/donation"
	"crowdfund/internal/http/handlers"
	httpapi "crowdfund/internal/http/httpapi"
	"crowdfund/internal/infra"
	"crowdfund/internal/infra/geoip"
	"crowdfund/internal/reconcile"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := bootstrap.OpenLedger(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: ledger unavailable")
	}
	defer ledger.Close()

	rails, err := bootstrap.OpenRails(ctx, cfg, ledger, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: payment rails misconfigured")
	}

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	defer geo.Close()

	recorder := donation.NewRecorder(ledger.Store, ledger.Projects, rails.Verifier, &logger)
	app := &handlers.App{
		Projects:       ledger.Projects,
		Donations:      ledger.Store,
		Recorder:       recorder,
		Push:           rails.Verifier,
		PublicURL:      cfg.PublicURL,
		CheckoutExpiry: cfg.CardCheckoutExpiry,
		Ready:          ledger.Ready,
		Logger:         &logger,
	}
	if rails.Processor != nil {
		app.Checkout = rails.Processor
		app.Recheck = rails.Verifier
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		JWTIssuer:       cfg.JWTIssuer,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CountryLookup:   geo.Lookup(),
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	// The embedded bolt file cannot be shared with a worker process, so the
	// api reconciles in-process for that driver.
	if cfg.LedgerDriver == infra.LedgerDriverBolt {
		poller := reconcile.NewPoller(ledger.Store, rails.Verifier, recorder, reconcile.Options{
			Interval:     cfg.ReconcileInterval,
			MinAge:       cfg.ReconcileMinAge,
			Timeout:      cfg.ReconcileTimeout,
			RailTimeouts: map[domain.Rail]time.Duration{domain.RailCard: cfg.ReconcileCardTimeout},
			Concurrency:  cfg.ReconcileConcurrency,
			Lease:        reconcile.LocalLease{},
			Logger:       &logger,
		})
		go func() {
			if err := poller.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("api: reconcile poller stopped")
			}
		}()
	}

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("ledger", cfg.LedgerDriver).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	logger.Info().Msg("api: stopped")
}
