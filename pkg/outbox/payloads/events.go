package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// LedgerEntryRecordedEvent mirrors one committed ledger entry.
type LedgerEntryRecordedEvent struct {
	EntryID        uuid.UUID             `json:"entry_id"`
	AccountID      uuid.UUID             `json:"account_id"`
	Kind           enums.LedgerEntryKind `json:"kind"`
	Delta          int64                 `json:"delta"`
	BalanceAfter   int64                 `json:"balance_after"`
	Actor          string                `json:"actor"`
	Reason         string                `json:"reason,omitempty"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// AccountStatusChangedEvent is emitted when an admin bans or reinstates an account.
type AccountStatusChangedEvent struct {
	AccountID uuid.UUID           `json:"account_id"`
	Status    enums.AccountStatus `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	ChangedBy string              `json:"changed_by"`
	ChangedAt time.Time           `json:"changed_at"`
}
