package settings

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
)

// Repository reads and writes the singleton platform settings row.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Get returns the stored row, or the defaults when it was never seeded.
func (r *Repository) Get(ctx context.Context) (*models.PlatformSettings, error) {
	var row models.PlatformSettings
	err := r.db.WithContext(ctx).Where("id = ?", models.PlatformSettingsID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.PlatformSettings{ID: models.PlatformSettingsID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Save upserts the row with every column written, including false and empty values.
func (r *Repository) Save(ctx context.Context, row *models.PlatformSettings) error {
	row.ID = models.PlatformSettingsID
	return r.db.WithContext(ctx).Save(row).Error
}
