package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

type driftLister interface {
	Drift(ctx context.Context, limit int) ([]ledger.DriftRow, error)
}

type ReconcileJobParams struct {
	Logger    *logger.Logger
	Ledger    driftLister
	BatchSize int
}

// NewReconcileJob checks balance = baseline + sum(deltas) for every account.
// Any drifting account fails the job so the failure counter alerts.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 500
	}
	return &reconcileJob{logg: params.Logger, ledger: params.Ledger, batch: batch}, nil
}

type reconcileJob struct {
	logg   *logger.Logger
	ledger driftLister
	batch  int
}

func (j *reconcileJob) Name() string { return "ledger-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	rows, err := j.ledger.Drift(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list drift: %w", err)
	}
	var errs error
	for _, row := range rows {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"account_id":       row.AccountID.String(),
			"balance":          row.Balance,
			"baseline_credits": row.BaselineCredits,
			"entry_sum":        row.EntrySum,
			"drift":            row.Drift(),
		}), "ledger drift detected")
		errs = multierr.Append(errs, fmt.Errorf("account %s drifted by %d", row.AccountID, row.Drift()))
	}
	if len(rows) == j.batch {
		j.logg.Warn(ctx, "drift report truncated at batch size")
	}
	return errs
}
