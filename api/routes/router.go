package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nanophoto/nanophoto-backend/api/controllers"
	webhookcontrollers "github.com/nanophoto/nanophoto-backend/api/controllers/webhooks"
	"github.com/nanophoto/nanophoto-backend/api/middleware"
	"github.com/nanophoto/nanophoto-backend/internal/accounts"
	"github.com/nanophoto/nanophoto-backend/internal/admin"
	"github.com/nanophoto/nanophoto-backend/internal/generations"
	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/internal/purchases"
	"github.com/nanophoto/nanophoto-backend/internal/settings"
	"github.com/nanophoto/nanophoto-backend/internal/verification"
	"github.com/nanophoto/nanophoto-backend/pkg/config"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	pkgredis "github.com/nanophoto/nanophoto-backend/pkg/redis"
	"github.com/nanophoto/nanophoto-backend/pkg/stripe"
)

type rateLimiter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Dependencies are the constructed services the HTTP surface dispatches to.
type Dependencies struct {
	DB    controllers.Pinger
	Redis controllers.Pinger

	Tokens      middleware.TokenVerifier
	Idempotency pkgredis.IdempotencyStore
	RateLimiter rateLimiter

	Accounts     accounts.Service
	Ledger       ledger.Service
	Generations  generations.Service
	Verification verification.Service
	Settings     settings.Service
	Admin        admin.Service

	StripeHandler webhookcontrollers.StripeEventHandler
	StripeClient  *stripe.Client
	StripeGuard   *purchases.EventGuard

	Metrics http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	verifyStartPolicy := middleware.NewRateLimitPolicy(
		"verify-start",
		cfg.Verification.StartWindow,
		cfg.Verification.StartIPLimit,
		cfg.Verification.StartPhoneLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readinessChecks(deps), logg))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeHandler, deps.StripeClient, deps.StripeGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Tokens, cfg.Admin, logg))
		r.Use(middleware.ActiveAccount(deps.Accounts, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Post("/accounts/me", controllers.BootstrapAccount(deps.Accounts, logg))
		r.Get("/accounts/me", controllers.GetMyAccount(deps.Accounts, logg))
		r.Get("/accounts/me/ledger", controllers.ListMyLedger(deps.Ledger, logg))

		r.Post("/generations", controllers.RequestGeneration(deps.Generations, logg))
		r.Get("/generations", controllers.ListMyGenerations(deps.Generations, logg))

		r.Route("/verification/phone", func(r chi.Router) {
			r.With(middleware.RateLimit(verifyStartPolicy, deps.RateLimiter, logg)).
				Post("/start", controllers.StartPhoneVerification(deps.Verification, logg))
			r.Post("/confirm", controllers.ConfirmPhoneVerification(deps.Verification, logg))
		})

		r.Get("/settings/public", controllers.PublicSettings(deps.Settings, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Tokens, cfg.Admin, logg))
		r.Use(middleware.RequireAdmin(logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Get("/accounts", controllers.AdminListAccounts(deps.Accounts, logg))
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/", controllers.AdminGetAccount(deps.Accounts, logg))
			r.Get("/ledger", controllers.AdminAccountLedger(deps.Ledger, logg))
			r.Post("/credits", controllers.AdminAdjustCredits(deps.Admin, logg))
			r.Post("/ban", controllers.AdminBanAccount(deps.Admin, logg))
			r.Post("/unban", controllers.AdminUnbanAccount(deps.Admin, logg))
		})

		r.Get("/settings", controllers.AdminGetSettings(deps.Settings, logg))
		r.Put("/settings", controllers.AdminUpdateSettings(deps.Admin, logg))
		r.Get("/actions", controllers.AdminListActions(deps.Admin, logg))
		r.Get("/stats", controllers.AdminStats(deps.Admin, logg))
		r.Get("/ledger", controllers.AdminListLedger(deps.Admin, logg))

		r.Get("/generations", controllers.AdminListGenerations(deps.Admin, logg))
		r.Delete("/generations/{generationID}", controllers.AdminDeleteGeneration(deps.Admin, logg))

		r.Get("/outbox/dead-letters", controllers.AdminListDeadLetters(deps.Admin, logg))
		r.Post("/outbox/dead-letters/{eventID}/requeue", controllers.AdminRequeueDeadLetter(deps.Admin, logg))
	})

	return r
}

func readinessChecks(deps Dependencies) map[string]controllers.Pinger {
	checks := map[string]controllers.Pinger{}
	if deps.DB != nil {
		checks["db"] = deps.DB
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
	}
	return checks
}
