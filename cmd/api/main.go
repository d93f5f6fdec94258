package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/nanophoto/nanophoto-backend/api/routes"
	"github.com/nanophoto/nanophoto-backend/internal/accounts"
	"github.com/nanophoto/nanophoto-backend/internal/admin"
	"github.com/nanophoto/nanophoto-backend/internal/generations"
	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/internal/purchases"
	"github.com/nanophoto/nanophoto-backend/internal/settings"
	"github.com/nanophoto/nanophoto-backend/internal/verification"
	"github.com/nanophoto/nanophoto-backend/pkg/auth"
	"github.com/nanophoto/nanophoto-backend/pkg/bootstrap"
	"github.com/nanophoto/nanophoto-backend/pkg/metrics"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
	"github.com/nanophoto/nanophoto-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rt := bootstrap.Start("api")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	dbClient := rt.OpenDB()
	redisClient := rt.OpenRedis()
	pubsubClient := rt.OpenPubSub()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	rt.Must("bootstrap stripe", err)

	registry := metrics.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	// one store for every trigger in this process
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	store, err := ledger.NewGormStore(ledger.GormStoreParams{
		DB:      dbClient,
		Outbox:  outboxService,
		Retry:   ledger.RetryPolicy{MaxAttempts: cfg.Ledger.MaxAttempts, BaseDelay: cfg.Ledger.RetryBaseDelay},
		Logger:  logg,
		Metrics: ledgerMetrics,
	})
	rt.Must("create ledger store", err)
	ledgerService, err := ledger.NewService(store, ledger.NewRepository(dbClient.DB()), ledgerMetrics, logg)
	rt.Must("create ledger service", err)

	accountsRepo := accounts.NewRepository(dbClient.DB())
	accountsService, err := accounts.NewService(accountsRepo, cfg.Ledger.SignupBonus, logg)
	rt.Must("create accounts service", err)

	settingsService, err := settings.NewService(settings.NewRepository(dbClient.DB()))
	rt.Must("create settings service", err)

	dispatcher, err := generations.NewPubSubDispatcher(pubsubClient, cfg.PubSub.GenerationTopic)
	rt.Must("create generation dispatcher", err)
	generationsRepo := generations.NewRepository(dbClient.DB())
	generationService, err := generations.NewService(generations.ServiceParams{
		Ledger:      ledgerService,
		Dispatcher:  dispatcher,
		Costs:       generations.NewCostTable(cfg.Generation),
		Maintenance: settingsService,
		History:     generationsRepo,
		Logger:      logg,
	})
	rt.Must("create generation service", err)

	verificationService, err := verification.NewService(verification.ServiceParams{
		Store:    redisClient,
		Accounts: accountsRepo,
		Ledger:   ledgerService,
		Sender:   verification.NewLogSender(logg, cfg.App.IsDev()),
		Config:   cfg.Verification,
		Hashing:  cfg.Hashing,
		Bonus:    cfg.Ledger.VerificationBonus,
		Logger:   logg,
	})
	rt.Must("create verification service", err)

	adminService, err := admin.NewService(admin.ServiceParams{
		DB:                dbClient,
		Ledger:            ledgerService,
		Accounts:          accountsRepo,
		Settings:          settingsService,
		Actions:           admin.NewActionRepository(dbClient.DB()),
		Outbox:            outboxService,
		DeadLetters:       outbox.NewDLQRepository(dbClient.DB()),
		Generations:       generationsRepo,
		DefaultAdjustment: cfg.Admin.DefaultAdjustment,
		Logger:            logg,
	})
	rt.Must("create admin service", err)

	purchaseService, err := purchases.NewService(ledgerService, purchases.NewPriceTable(cfg.Billing), logg)
	rt.Must("create purchase service", err)
	stripeHandler, err := purchases.NewStripeHandler(purchaseService, logg)
	rt.Must("create stripe handler", err)
	stripeGuard, err := purchases.NewEventGuard(redisClient, cfg.Billing.WebhookIdempotencyTTL)
	rt.Must("create stripe event guard", err)

	tokenKeys, err := auth.NewKeys(cfg.JWT)
	rt.Must("load jwt keys", err)

	router := routes.NewRouter(cfg, logg, routes.Dependencies{
		DB:            dbClient,
		Redis:         redisClient,
		Tokens:        tokenKeys,
		Idempotency:   redisClient,
		RateLimiter:   redisClient,
		Accounts:      accountsService,
		Ledger:        ledgerService,
		Generations:   generationService,
		Verification:  verificationService,
		Settings:      settingsService,
		Admin:         adminService,
		StripeHandler: stripeHandler,
		StripeClient:  stripeClient,
		StripeGuard:   stripeGuard,
		Metrics:       metrics.Handler(registry),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"addr": server.Addr, "stripe_env": stripeClient.Environment()})

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			rt.Must("serve http", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}
