package main

import (
	"context"
	"errors"
	"flag"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nanophoto/nanophoto-backend/internal/cron"
	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/pkg/bootstrap"
	"github.com/nanophoto/nanophoto-backend/pkg/metrics"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
)

func main() {
	jobName := flag.String("job", "", "run a single job once and exit (ledger-reconcile, retention)")
	flag.Parse()

	rt := bootstrap.Start("cron-worker")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	dbClient := rt.OpenDB()
	redisClient := rt.OpenRedis()

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	store, err := ledger.NewGormStore(ledger.GormStoreParams{
		DB:      dbClient,
		Outbox:  outbox.NewService(outboxRepo, logg),
		Retry:   ledger.RetryPolicy{MaxAttempts: cfg.Ledger.MaxAttempts, BaseDelay: cfg.Ledger.RetryBaseDelay},
		Logger:  logg,
		Metrics: ledgerMetrics,
	})
	rt.Must("create ledger store", err)
	ledgerService, err := ledger.NewService(store, ledger.NewRepository(dbClient.DB()), ledgerMetrics, logg)
	rt.Must("create ledger service", err)

	reconcileJob, err := cron.NewReconcileJob(cron.ReconcileJobParams{
		Logger:    logg,
		Ledger:    ledgerService,
		BatchSize: cfg.Cron.ReconcileBatchSize,
	})
	rt.Must("create reconcile job", err)
	retentionJob, err := cron.NewRetentionJob(logg, dbClient,
		cron.Sweep{Name: "outbox", Keep: cfg.Outbox.Retention, Prune: outboxRepo.DeletePublishedBefore},
		cron.Sweep{Name: "outbox-dlq", Keep: cfg.Outbox.DLQRetention, Prune: outbox.NewDLQRepository(dbClient.DB()).DeleteFailedBefore},
	)
	rt.Must("create retention job", err)

	jobs, err := cron.NewRegistry(reconcileJob, retentionJob)
	rt.Must("build cron registry", err)

	lock, err := cron.NewLease(redisClient, redisClient.LockKey("cron"), 0)
	rt.Must("create cron lock", err)

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Schedule: cfg.Cron.Schedule,
	})
	rt.Must("create cron service", err)

	ctx, stop := rt.SignalContext()
	defer stop()

	if *jobName != "" {
		rt.Must("run cron job "+*jobName, scheduler.RunJob(ctx, *jobName))
		return
	}

	logg.Info(logg.WithField(ctx, "jobs", jobs.Names()), "starting cron worker")
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Must("run cron worker", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}
