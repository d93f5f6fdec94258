package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// EntryView is the API shape of a ledger entry.
type EntryView struct {
	ID           uuid.UUID             `json:"id"`
	AccountID    uuid.UUID             `json:"accountId"`
	Delta        int64                 `json:"delta"`
	BalanceAfter int64                 `json:"balanceAfter"`
	Kind         enums.LedgerEntryKind `json:"kind"`
	Reason       *string               `json:"reason,omitempty"`
	Actor        string                `json:"actor"`
	CreatedAt    time.Time             `json:"createdAt"`
}

func EntryFromModel(m models.LedgerEntry) EntryView {
	return EntryView{
		ID:           m.ID,
		AccountID:    m.AccountID,
		Delta:        m.Delta,
		BalanceAfter: m.BalanceAfter,
		Kind:         m.Kind,
		Reason:       m.Reason,
		Actor:        m.Actor,
		CreatedAt:    m.CreatedAt,
	}
}
