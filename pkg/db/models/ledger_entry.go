package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// LedgerEntry is one append-only balance change. Rows are never updated or deleted.
type LedgerEntry struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	AccountID      uuid.UUID             `gorm:"column:account_id;type:uuid;not null;index:ix_ledger_entries_account_created,priority:1"`
	Delta          int64                 `gorm:"column:delta;not null"`
	BalanceAfter   int64                 `gorm:"column:balance_after;not null"`
	Kind           enums.LedgerEntryKind `gorm:"column:kind;type:text;not null"`
	Reason         *string               `gorm:"column:reason"`
	Actor          string                `gorm:"column:actor;not null"`
	IdempotencyKey *string               `gorm:"column:idempotency_key;uniqueIndex:ux_ledger_entries_idempotency_key"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime;index:ix_ledger_entries_account_created,priority:2"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
