package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

// DriftRow is an account whose balance disagrees with baseline plus entries.
type DriftRow struct {
	AccountID       uuid.UUID `gorm:"column:account_id"`
	Balance         int64     `gorm:"column:balance"`
	BaselineCredits int64     `gorm:"column:baseline_credits"`
	EntrySum        int64     `gorm:"column:entry_sum"`
}

// Drift is the amount the stored balance exceeds the reconstructed one.
func (r DriftRow) Drift() int64 {
	return r.Balance - (r.BaselineCredits + r.EntrySum)
}

// Reader is the read side of the ledger.
type Reader interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error)
	// ListJournal pages through every account's entries, newest first.
	ListJournal(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error)
	ListDrift(ctx context.Context, limit int) ([]DriftRow, error)
	HasEntry(ctx context.Context, idempotencyKey string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a Reader backed by the database.
func NewRepository(db *gorm.DB) Reader {
	return &repository{db: db}
}

func (r *repository) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("id = ?", accountID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) ListEntries(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Scopes(pagination.Keyset(cursor, limit)).
		Find(&entries).Error
	return entries, err
}

func (r *repository) ListJournal(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Scopes(pagination.Keyset(cursor, limit)).
		Find(&entries).Error
	return entries, err
}

const driftQuery = `
SELECT a.id AS account_id,
       a.balance AS balance,
       a.baseline_credits AS baseline_credits,
       COALESCE(SUM(e.delta), 0) AS entry_sum
FROM accounts a
LEFT JOIN ledger_entries e ON e.account_id = a.id
GROUP BY a.id, a.balance, a.baseline_credits
HAVING a.balance <> a.baseline_credits + COALESCE(SUM(e.delta), 0)
ORDER BY a.id
LIMIT ?`

func (r *repository) ListDrift(ctx context.Context, limit int) ([]DriftRow, error) {
	var rows []DriftRow
	err := r.db.WithContext(ctx).Raw(driftQuery, limit).Scan(&rows).Error
	return rows, err
}

func (r *repository) HasEntry(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("idempotency_key = ?", idempotencyKey).
		Count(&count).Error
	return count > 0, err
}
