package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// Generation is one dispatched job as shown in the account's gallery. Admins
// remove items by soft delete so the audit trail can still point at them.
type Generation struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	AccountID      uuid.UUID                 `gorm:"column:account_id;type:uuid;not null;index:ix_generations_account_created,priority:1"`
	Operation      enums.GenerationOperation `gorm:"column:operation;type:text;not null"`
	SourceImageURL string                    `gorm:"column:source_image_url;type:text;not null;default:''"`
	Style          string                    `gorm:"column:style;type:text;not null;default:''"`
	Prompt         string                    `gorm:"column:prompt;type:text;not null;default:''"`
	Cost           int64                     `gorm:"column:cost;not null;default:0"`
	DeletedBy      *string                   `gorm:"column:deleted_by"`
	DeletedAt      gorm.DeletedAt            `gorm:"column:deleted_at;index"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime;index:ix_generations_account_created,priority:2"`
}

func (g *Generation) BeforeCreate(*gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}
