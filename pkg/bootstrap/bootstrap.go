// Package bootstrap holds the start-up and tear-down sequence shared by the
// binaries under cmd/.
package bootstrap

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nanophoto/nanophoto-backend/pkg/config"
	"github.com/nanophoto/nanophoto-backend/pkg/db"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/migrate"
	"github.com/nanophoto/nanophoto-backend/pkg/pubsub"
	"github.com/nanophoto/nanophoto-backend/pkg/redis"
)

var (
	defaultExit = os.Exit
	exit        = defaultExit
)

type closer struct {
	name string
	c    io.Closer
}

// Runtime owns a binary's config, logger and long-lived clients. Clients
// registered with Defer are closed in reverse order by Close, including on
// the Must failure path.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger

	closers []closer
}

// Start loads .env and the environment, then builds the configured logger.
func Start(kind string) *Runtime {
	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		exit(1)
		return nil
	}
	cfg.Service.Kind = kind
	return &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Format:      cfg.App.LogFormat,
		}),
	}
}

// Must stops the process when err is non-nil.
func (r *Runtime) Must(what string, err error) {
	if err == nil {
		return
	}
	r.Logger.Error(r.baseContext(), "failed to "+what, err)
	r.Close()
	exit(1)
}

func (r *Runtime) Defer(name string, c io.Closer) {
	if c == nil {
		return
	}
	r.closers = append(r.closers, closer{name: name, c: c})
}

func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		entry := r.closers[i]
		if err := entry.c.Close(); err != nil {
			r.Logger.Error(r.baseContext(), "error closing "+entry.name, err)
		}
	}
	r.closers = nil
}

// SignalContext is canceled on SIGINT or SIGTERM and carries the service
// fields every log line should have.
func (r *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return r.Logger.WithFields(ctx, r.fields()), stop
}

func (r *Runtime) baseContext() context.Context {
	return r.Logger.WithFields(context.Background(), r.fields())
}

func (r *Runtime) fields() map[string]any {
	if r.Config == nil {
		return nil
	}
	return map[string]any{"env": r.Config.App.Env, "serviceKind": r.Config.Service.Kind}
}

// OpenDB connects and, in dev, applies pending migrations.
func (r *Runtime) OpenDB() *db.Client {
	client, err := db.New(context.Background(), r.Config.DB, r.Logger)
	r.Must("bootstrap database", err)
	r.Defer("database", client)
	r.Must("run dev migrations", migrate.MaybeRunDev(context.Background(), r.Config, r.Logger, client))
	return client
}

func (r *Runtime) OpenRedis() *redis.Client {
	client, err := redis.New(context.Background(), r.Config.Redis, r.Logger)
	r.Must("bootstrap redis", err)
	r.Defer("redis", client)
	return client
}

func (r *Runtime) OpenPubSub() *pubsub.Client {
	client, err := pubsub.NewClient(context.Background(), r.Config.GCP, r.Config.PubSub, r.Logger)
	r.Must("bootstrap pubsub", err)
	r.Defer("pubsub", client)
	return client
}
