package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/metrics"
)

const defaultSchedule = "@every 15m"

// ErrLockHeld is returned by RunJob while another instance owns the lease.
var ErrLockHeld = errors.New("cron lock held by another instance")

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Schedule is a standard cron spec or a descriptor such as "@every 15m".
	Schedule string
}

// Service runs every registered job once per tick. A cycle only starts when
// the lease is won, so a fleet of workers still runs each job once.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	spec     string
	schedule robfig.Schedule
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	spec := strings.TrimSpace(params.Schedule)
	if spec == "" {
		spec = defaultSchedule
	}
	schedule, err := robfig.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron schedule %q: %w", spec, err)
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{}
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		spec:     spec,
		schedule: schedule,
	}, nil
}

// Run fires a cycle right away and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	tick := func() {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
	}
	tick()

	bridge := cronLogger{logg: s.logg, ctx: ctx}
	scheduler := robfig.New(
		robfig.WithLocation(time.UTC),
		robfig.WithLogger(bridge),
		robfig.WithChain(robfig.Recover(bridge), robfig.SkipIfStillRunning(bridge)),
	)
	scheduler.Schedule(s.schedule, robfig.FuncJob(tick))
	scheduler.Start()
	s.logg.Info(s.logg.WithField(ctx, "schedule", s.spec), "cron scheduler started")

	<-ctx.Done()
	<-scheduler.Stop().Done()
	s.logg.Info(ctx, "cron scheduler stopped")
	return ctx.Err()
}

// runCycle runs all jobs under the lease. Job failures are logged and
// counted; only lease errors fail the cycle.
func (s *Service) runCycle(ctx context.Context) error {
	err := s.withLock(ctx, func() error {
		for _, job := range s.registry.Jobs() {
			_ = s.runJob(ctx, job)
		}
		return nil
	})
	if errors.Is(err, ErrLockHeld) {
		s.metrics.IncSkipped()
		s.logg.Info(ctx, "cron lease held elsewhere; skipping cycle")
		return nil
	}
	return err
}

// RunJob runs one named job under the lease and returns its error.
func (s *Service) RunJob(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown cron job %q (have %s)", name, strings.Join(s.registry.Names(), ", "))
	}
	return s.withLock(ctx, func() error { return s.runJob(ctx, job) })
}

func (s *Service) withLock(ctx context.Context, fn func() error) error {
	won, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !won {
		return ErrLockHeld
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "release cron lock", err)
		}
	}()
	return fn()
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	ctx = s.logg.WithField(ctx, "job", name)
	started := time.Now()
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("job %s panicked: %v", name, v)
		}
		took := time.Since(started)
		s.metrics.ObserveRun(name, took, err)
		ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
		if err != nil {
			s.logg.Error(ctx, "cron job failed", err)
			return
		}
		s.logg.Info(ctx, "cron job done")
	}()
	return job.Run(ctx)
}

// cronLogger feeds robfig's scheduler events into the service logger.
type cronLogger struct {
	logg *logger.Logger
	ctx  context.Context
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logg.Debug(l.logg.WithFields(l.ctx, pairs(keysAndValues)), "robfig: "+msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logg.Error(l.logg.WithFields(l.ctx, pairs(keysAndValues)), "robfig: "+msg, err)
}

func pairs(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
