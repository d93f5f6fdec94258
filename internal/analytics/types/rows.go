package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// LedgerEntryRow mirrors the ledger_entries BigQuery schema.
type LedgerEntryRow struct {
	EventID        string               `bigquery:"event_id"`
	EntryID        string               `bigquery:"entry_id"`
	AccountID      string               `bigquery:"account_id"`
	Kind           string               `bigquery:"kind"`
	Delta          int64                `bigquery:"delta"`
	BalanceAfter   int64                `bigquery:"balance_after"`
	Actor          string               `bigquery:"actor"`
	Reason         cbigquery.NullString `bigquery:"reason"`
	IdempotencyKey cbigquery.NullString `bigquery:"idempotency_key"`
	CreatedAt      time.Time            `bigquery:"created_at"`
	IngestedAt     time.Time            `bigquery:"ingested_at"`
}

// IsCredit reports whether the entry added credits.
func (r LedgerEntryRow) IsCredit() bool {
	return r.Delta > 0
}
