package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nanophoto/nanophoto-backend/pkg/db"
	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

var (
	ErrNotFound     = errors.New("account not found")
	ErrPhoneClaimed = errors.New("phone already claimed")
)

// Repository persists accounts. Balance and verified are never written here;
// they belong to the ledger store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to an open transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// CreateIfMissing inserts account unless the id already exists and returns the stored row.
func (r *Repository) CreateIfMissing(ctx context.Context, account *models.Account) (*models.Account, bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(account)
	if res.Error != nil {
		return nil, false, res.Error
	}
	stored, err := r.FindByID(ctx, account.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, res.RowsAffected == 1, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *Repository) FindByPhone(ctx context.Context, phone string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("phone = ?", phone).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SetPhone stores phone on the account. The unique index backs the caller's precheck.
func (r *Repository) SetPhone(ctx context.Context, id uuid.UUID, phone string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{"phone": phone, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "") {
			return ErrPhoneClaimed
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus bans or reinstates an account. Reinstating clears the ban fields.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status enums.AccountStatus, reason, by string, at time.Time) error {
	updates := map[string]any{"status": status, "updated_at": at}
	if status == enums.AccountStatusBanned {
		updates["ban_reason"] = reason
		updates["banned_by"] = by
		updates["banned_at"] = at
	} else {
		updates["ban_reason"] = nil
		updates["banned_by"] = nil
		updates["banned_at"] = nil
	}
	res := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns accounts newest first starting after cursor.
func (r *Repository) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Account, error) {
	var rows []models.Account
	err := r.db.WithContext(ctx).Scopes(pagination.Keyset(cursor, limit)).Find(&rows).Error
	return rows, err
}
