package accounts

import (
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// AccountView is the API shape of an account.
type AccountView struct {
	ID        uuid.UUID           `json:"id"`
	Email     string              `json:"email"`
	Balance   int64               `json:"balance"`
	Verified  bool                `json:"verified"`
	Phone     *string             `json:"phone,omitempty"`
	Status    enums.AccountStatus `json:"status"`
	BanReason *string             `json:"banReason,omitempty"`
	BannedBy  *string             `json:"bannedBy,omitempty"`
	BannedAt  *time.Time          `json:"bannedAt,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
}

type ListPage struct {
	Accounts   []AccountView `json:"accounts"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

func FromModel(m models.Account) AccountView {
	return AccountView{
		ID:        m.ID,
		Email:     m.Email,
		Balance:   m.Balance,
		Verified:  m.Verified,
		Phone:     m.Phone,
		Status:    m.Status,
		BanReason: m.BanReason,
		BannedBy:  m.BannedBy,
		BannedAt:  m.BannedAt,
		CreatedAt: m.CreatedAt,
	}
}
