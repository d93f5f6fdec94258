package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// Account holds the credit balance and identity flags of one user.
// Balance only changes through the ledger store.
type Account struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Email           string              `gorm:"column:email;type:text;not null"`
	Balance         int64               `gorm:"column:balance;not null;default:0"`
	BaselineCredits int64               `gorm:"column:baseline_credits;not null;default:0"`
	Verified        bool                `gorm:"column:verified;not null;default:false"`
	Phone           *string             `gorm:"column:phone;type:text;uniqueIndex:ux_accounts_phone"`
	Status          enums.AccountStatus `gorm:"column:status;type:text;not null;default:active"`
	BanReason       *string             `gorm:"column:ban_reason"`
	BannedBy        *string             `gorm:"column:banned_by"`
	BannedAt        *time.Time          `gorm:"column:banned_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = enums.AccountStatusActive
	}
	return nil
}

func (a Account) IsBanned() bool {
	return a.Status == enums.AccountStatusBanned
}
