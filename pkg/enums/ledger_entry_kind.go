package enums

import "fmt"

// LedgerEntryKind maps to the ledger_entry_kind_enum enum in Postgres.
type LedgerEntryKind string

const (
	LedgerEntryPurchase          LedgerEntryKind = "purchase"
	LedgerEntryDebitForOperation LedgerEntryKind = "debit_for_operation"
	LedgerEntryAdminAdjustment   LedgerEntryKind = "admin_adjustment"
	LedgerEntryVerificationBonus LedgerEntryKind = "verification_bonus"
	LedgerEntryOperationRefund   LedgerEntryKind = "operation_refund"
)

var validLedgerEntryKinds = []LedgerEntryKind{
	LedgerEntryPurchase,
	LedgerEntryDebitForOperation,
	LedgerEntryAdminAdjustment,
	LedgerEntryVerificationBonus,
	LedgerEntryOperationRefund,
}

// IsValid reports whether the value matches the canonical ledger entry kind enum.
func (k LedgerEntryKind) IsValid() bool {
	for _, candidate := range validLedgerEntryKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsCredit reports whether entries of this kind add to the balance.
func (k LedgerEntryKind) IsCredit() bool {
	switch k {
	case LedgerEntryPurchase, LedgerEntryVerificationBonus, LedgerEntryOperationRefund:
		return true
	}
	return false
}

// ParseLedgerEntryKind converts raw input into LedgerEntryKind.
func ParseLedgerEntryKind(value string) (LedgerEntryKind, error) {
	for _, candidate := range validLedgerEntryKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry kind %q", value)
}
