package generations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

var ErrNotFound = errors.New("generation not found")

// Filter narrows a gallery listing. A nil AccountID lists every account.
type Filter struct {
	AccountID *uuid.UUID
}

// Repository stores the gallery history of dispatched jobs.
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

func (r *Repository) Insert(ctx context.Context, g *models.Generation) error {
	return r.db.WithContext(ctx).Create(g).Error
}

// List returns live items newest first, starting after cursor.
func (r *Repository) List(ctx context.Context, filter Filter, cursor *pagination.Cursor, limit int) ([]models.Generation, error) {
	q := r.db.WithContext(ctx).Model(&models.Generation{})
	if filter.AccountID != nil {
		q = q.Where("account_id = ?", *filter.AccountID)
	}
	var rows []models.Generation
	err := q.Scopes(pagination.Keyset(cursor, limit)).Find(&rows).Error
	return rows, err
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	var g models.Generation
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SoftDelete hides the item from every gallery and records who removed it.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID, actor string) error {
	res := r.db.WithContext(ctx).Model(&models.Generation{}).Where("id = ?", id).Update("deleted_by", actor)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Generation{}).Error
}

// Count returns the number of live gallery items.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Generation{}).Count(&n).Error
	return n, err
}
