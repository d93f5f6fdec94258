package main

import (
	"context"
	"errors"

	"github.com/nanophoto/nanophoto-backend/pkg/bootstrap"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox/registry"
)

func main() {
	rt := bootstrap.Start("outbox-publisher")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	dbClient := rt.OpenDB()
	pubsubClient := rt.OpenPubSub()

	if cfg.PubSub.LedgerTopic == "" {
		rt.Must("build event catalog", errors.New("ledger topic is required"))
	}
	catalog := registry.Ledger(cfg.PubSub.LedgerTopic)

	publisher, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      catalog,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
	})
	rt.Must("create outbox publisher", err)

	ctx, stop := rt.SignalContext()
	defer stop()
	logg.Info(logg.WithField(ctx, "topics", catalog.Topics()), "starting outbox publisher")

	if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Must("run outbox publisher", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
