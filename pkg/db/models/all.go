package models

// All lists every persisted model, in dependency order.
func All() []any {
	return []any{
		&Account{},
		&LedgerEntry{},
		&Generation{},
		&OutboxEvent{},
		&OutboxDLQ{},
		&AdminAction{},
		&PlatformSettings{},
	}
}
