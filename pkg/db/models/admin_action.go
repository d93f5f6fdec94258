package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/nanophoto/nanophoto-backend/pkg/db/types"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// AdminAction is the audit trail of privileged operations.
type AdminAction struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	ActorEmail      string                `gorm:"column:actor_email;not null"`
	Action          enums.AdminActionType `gorm:"column:action;type:text;not null"`
	TargetAccountID *uuid.UUID            `gorm:"column:target_account_id;type:uuid"`
	Details         dbtypes.JSON          `gorm:"column:details;type:jsonb"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime;index"`
}

func (a *AdminAction) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
