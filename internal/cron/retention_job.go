package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PruneFunc deletes rows older than cutoff and reports how many went.
type PruneFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

// Sweep is one table the retention job trims. Keep <= 0 disables it.
type Sweep struct {
	Name  string
	Keep  time.Duration
	Prune PruneFunc
}

// NewRetentionJob runs every sweep in its own transaction. One failing sweep
// does not stop the others; their errors are combined.
func NewRetentionJob(logg *logger.Logger, db txRunner, sweeps ...Sweep) (Job, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if db == nil {
		return nil, errors.New("db runner required")
	}
	active := make([]Sweep, 0, len(sweeps))
	for _, s := range sweeps {
		if s.Name == "" || s.Prune == nil {
			return nil, fmt.Errorf("sweep %q is incomplete", s.Name)
		}
		if s.Keep > 0 {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil, errors.New("no retention sweep enabled")
	}
	return &retentionJob{logg: logg, db: db, sweeps: active, now: time.Now}, nil
}

type retentionJob struct {
	logg   *logger.Logger
	db     txRunner
	sweeps []Sweep
	now    func() time.Time
}

func (j *retentionJob) Name() string { return "retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs error
	for _, s := range j.sweeps {
		cutoff := now.Add(-s.Keep)
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := s.Prune(ctx, tx, cutoff)
			deleted = n
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweep %s: %w", s.Name, err))
			continue
		}
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"sweep":        s.Name,
			"cutoff":       cutoff,
			"rows_deleted": deleted,
		}), "retention sweep done")
	}
	return errs
}
