package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
)

// ActorSystem is recorded on entries written without a human or external actor.
const ActorSystem = "system"

var (
	// ErrAccountNotFound is returned when the mutation targets an unknown account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrDuplicateEntry is returned when an entry's idempotency key was already recorded.
	ErrDuplicateEntry = errors.New("ledger: duplicate idempotency key")
	// ErrInvalidMutation marks a mutation the store refuses to commit.
	ErrInvalidMutation = errors.New("ledger: invalid mutation")
)

// AccountState is the slice of an account a mutation may read and change.
type AccountState struct {
	AccountID uuid.UUID
	Balance   int64
	Verified  bool
}

// EntryDraft describes the single entry a mutation appends.
type EntryDraft struct {
	Delta          int64
	Kind           enums.LedgerEntryKind
	Actor          string
	Reason         string
	IdempotencyKey string
}

// Attachment writes a record that commits or rolls back together with the
// entry. tx is nil for stores without a database.
type Attachment func(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error

// Mutation is the desired next state. A mutation without an entry must leave
// the state untouched and is committed as a no-op.
type Mutation struct {
	Balance  int64
	Verified bool
	Entry    *EntryDraft
	Attach   Attachment
}

// NoChange returns a no-op mutation for state.
func NoChange(state AccountState) Mutation {
	return Mutation{Balance: state.Balance, Verified: state.Verified}
}

// MutationFunc decides the next state. A returned error is a rejection: nothing
// is written and the error reaches the caller unchanged.
type MutationFunc func(state AccountState) (Mutation, error)

// MutationResult reports the committed state.
type MutationResult struct {
	State   AccountState
	Entry   *models.LedgerEntry
	Applied bool
}

// Store applies mutations atomically, one account at a time.
type Store interface {
	RunAtomicMutation(ctx context.Context, accountID uuid.UUID, fn MutationFunc) (*MutationResult, error)
}

// rejection carries a MutationFunc error through the transaction and retry
// layers without it being retried or reclassified.
type rejection struct {
	err error
}

func (r rejection) Error() string { return r.err.Error() }
func (r rejection) Unwrap() error { return r.err }

func validateMutation(state AccountState, m Mutation) error {
	if state.Verified && !m.Verified {
		return fmt.Errorf("%w: verified flag cannot be cleared", ErrInvalidMutation)
	}
	if m.Entry == nil {
		if m.Balance != state.Balance || m.Verified != state.Verified {
			return fmt.Errorf("%w: state change without an entry", ErrInvalidMutation)
		}
		return nil
	}
	entry := m.Entry
	if entry.Delta == 0 {
		return fmt.Errorf("%w: entry delta must be non-zero", ErrInvalidMutation)
	}
	if m.Balance != state.Balance+entry.Delta {
		return fmt.Errorf("%w: balance %d does not equal %d%+d", ErrInvalidMutation, m.Balance, state.Balance, entry.Delta)
	}
	if !entry.Kind.IsValid() {
		return fmt.Errorf("%w: unknown entry kind %q", ErrInvalidMutation, entry.Kind)
	}
	if strings.TrimSpace(entry.Actor) == "" {
		return fmt.Errorf("%w: entry actor is required", ErrInvalidMutation)
	}
	if entry.Kind == enums.LedgerEntryAdminAdjustment && strings.TrimSpace(entry.Reason) == "" {
		return fmt.Errorf("%w: admin adjustment requires a reason", ErrInvalidMutation)
	}
	return nil
}

func isNoop(m Mutation) bool {
	return m.Entry == nil
}

func newEntry(accountID uuid.UUID, m Mutation) *models.LedgerEntry {
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		Delta:        m.Entry.Delta,
		BalanceAfter: m.Balance,
		Kind:         m.Entry.Kind,
		Actor:        strings.TrimSpace(m.Entry.Actor),
	}
	if reason := strings.TrimSpace(m.Entry.Reason); reason != "" {
		entry.Reason = &reason
	}
	if key := strings.TrimSpace(m.Entry.IdempotencyKey); key != "" {
		entry.IdempotencyKey = &key
	}
	return entry
}

// classify turns a raw store failure into what callers see: rejections and
// known ledger errors pass through, everything else is StoreUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rej rejection
	if errors.As(err, &rej) {
		return rej.err
	}
	switch {
	case errors.Is(err, ErrDuplicateEntry):
		return ErrDuplicateEntry
	case errors.Is(err, ErrAccountNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrAccountNotFound, "account not found")
	case errors.Is(err, ErrInvalidMutation):
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ledger mutation refused")
	}
	return pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, "ledger store unavailable")
}
