package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to. Events of
// one aggregate share a Pub/Sub ordering key.
type OutboxAggregateType string

// AggregateAccount is the only aggregate today: every ledger mutation and
// status change hangs off an account.
const AggregateAccount OutboxAggregateType = "account"

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateAccount
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the event_type attribute carried on published messages.
type OutboxEventType string

const (
	EventLedgerEntryRecorded  OutboxEventType = "ledger_entry_recorded"
	EventAccountStatusChanged OutboxEventType = "account_status_changed"
)

func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventLedgerEntryRecorded, EventAccountStatusChanged:
		return true
	}
	return false
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
