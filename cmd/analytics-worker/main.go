package main

import (
	"context"
	"errors"
	"time"

	"github.com/nanophoto/nanophoto-backend/internal/analytics/router"
	"github.com/nanophoto/nanophoto-backend/internal/analytics/worker"
	"github.com/nanophoto/nanophoto-backend/internal/analytics/writer"
	"github.com/nanophoto/nanophoto-backend/pkg/bigquery"
	"github.com/nanophoto/nanophoto-backend/pkg/bootstrap"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox/idempotency"
)

const flushTimeout = 10 * time.Second

func main() {
	rt := bootstrap.Start("analytics-worker")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	redisClient := rt.OpenRedis()
	pubsubClient := rt.OpenPubSub()

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		rt.Must("open analytics subscription", errors.New("subscription not configured"))
	}

	bqClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	rt.Must("bootstrap bigquery", err)
	rt.Defer("bigquery", bqClient)

	spec, err := writer.LedgerTableSpec(cfg.BigQuery.LedgerTable)
	rt.Must("describe ledger mirror table", err)
	rt.Must("ensure ledger mirror table", bqClient.EnsureTable(context.Background(), spec))

	ledgerWriter, err := writer.New(bqClient, writer.Config{LedgerTable: spec.Name})
	rt.Must("create ledger writer", err)

	dedupe, err := idempotency.NewDeduper(redisClient, worker.ConsumerName, cfg.Eventing.OutboxIdempotencyTTL)
	rt.Must("create analytics deduper", err)

	handler, err := router.NewRouter(ledgerWriter, logg, nil)
	rt.Must("create analytics router", err)

	consumer, err := worker.NewService(subscription, handler, dedupe, logg)
	rt.Must("create analytics worker", err)

	ctx, stop := rt.SignalContext()
	defer stop()
	logg.Info(logg.WithField(ctx, "table", spec.Name), "analytics worker ready")

	runErr := consumer.Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := ledgerWriter.Flush(flushCtx); err != nil {
		logg.Error(ctx, "failed to flush ledger rows", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		rt.Must("run analytics worker", runErr)
	}
}
