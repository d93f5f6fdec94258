package admin

import (
	"context"

	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

// ActionRepository stores the admin audit trail.
type ActionRepository struct {
	db *gorm.DB
}

func NewActionRepository(db *gorm.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

func (r *ActionRepository) WithTx(tx *gorm.DB) *ActionRepository {
	if tx == nil {
		return r
	}
	return &ActionRepository{db: tx}
}

func (r *ActionRepository) Insert(ctx context.Context, action *models.AdminAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

// List returns actions newest first, starting after cursor.
func (r *ActionRepository) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.AdminAction, error) {
	var rows []models.AdminAction
	err := r.db.WithContext(ctx).Scopes(pagination.Keyset(cursor, limit)).Find(&rows).Error
	return rows, err
}
