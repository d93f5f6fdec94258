package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/metrics"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

const defaultDriftLimit = 500

// Service is the credit ledger: every balance change in the product goes through it.
type Service interface {
	Credit(ctx context.Context, input CreditInput) (*MutationResult, error)
	Debit(ctx context.Context, input DebitInput) (*MutationResult, error)
	AdminAdjust(ctx context.Context, input AdjustInput) (*MutationResult, error)
	ApplyVerificationBonus(ctx context.Context, accountID uuid.UUID, bonus int64, actor string) (*MutationResult, error)

	Balance(ctx context.Context, accountID uuid.UUID) (*BalanceView, error)
	History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*HistoryPage, error)
	Journal(ctx context.Context, params pagination.Params) (*HistoryPage, error)
	Drift(ctx context.Context, limit int) ([]DriftRow, error)
	HasEntry(ctx context.Context, idempotencyKey string) (bool, error)
}

type CreditInput struct {
	AccountID      uuid.UUID
	Amount         int64
	Kind           enums.LedgerEntryKind
	Actor          string
	Reason         string
	IdempotencyKey string
}

type DebitInput struct {
	AccountID      uuid.UUID
	Amount         int64
	Kind           enums.LedgerEntryKind
	Actor          string
	Reason         string
	IdempotencyKey string
}

type AdjustInput struct {
	AccountID      uuid.UUID
	Amount         int64
	Actor          string
	Reason         string
	IdempotencyKey string
	// Audit is written in the same transaction as the entry.
	Audit Attachment
}

type BalanceView struct {
	AccountID       uuid.UUID `json:"accountId"`
	Balance         int64     `json:"balance"`
	BaselineCredits int64     `json:"baselineCredits"`
	Verified        bool      `json:"verified"`
}

type HistoryPage struct {
	Entries    []EntryView `json:"entries"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

type service struct {
	store   Store
	reader  Reader
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
}

// NewService wires the ledger policy on top of a store and its read side.
func NewService(store Store, reader Reader, m *metrics.LedgerMetrics, logg *logger.Logger) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if reader == nil {
		return nil, fmt.Errorf("ledger reader required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{store: store, reader: reader, metrics: m, logg: logg}, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*MutationResult, error) {
	if err := requireAccount(input.AccountID); err != nil {
		return nil, err
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	if !input.Kind.IsCredit() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%q is not a credit kind", input.Kind)
	}
	draft := &EntryDraft{
		Delta:          input.Amount,
		Kind:           input.Kind,
		Actor:          input.Actor,
		Reason:         input.Reason,
		IdempotencyKey: input.IdempotencyKey,
	}
	return s.run(ctx, input.AccountID, input.Kind, func(state AccountState) (Mutation, error) {
		return Mutation{Balance: state.Balance + draft.Delta, Verified: state.Verified, Entry: draft}, nil
	})
}

func (s *service) Debit(ctx context.Context, input DebitInput) (*MutationResult, error) {
	if err := requireAccount(input.AccountID); err != nil {
		return nil, err
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}
	if input.Kind != enums.LedgerEntryDebitForOperation {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%q is not a debit kind", input.Kind)
	}
	draft := &EntryDraft{
		Delta:          -input.Amount,
		Kind:           input.Kind,
		Actor:          input.Actor,
		Reason:         input.Reason,
		IdempotencyKey: input.IdempotencyKey,
	}
	return s.run(ctx, input.AccountID, input.Kind, func(state AccountState) (Mutation, error) {
		if state.Balance < input.Amount {
			return Mutation{}, pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").
				WithDetails(map[string]any{"balance": state.Balance, "required": input.Amount})
		}
		return Mutation{Balance: state.Balance + draft.Delta, Verified: state.Verified, Entry: draft}, nil
	})
}

// AdminAdjust applies a signed correction. It has no lower bound.
func (s *service) AdminAdjust(ctx context.Context, input AdjustInput) (*MutationResult, error) {
	if err := requireAccount(input.AccountID); err != nil {
		return nil, err
	}
	if input.Amount == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment amount must be non-zero")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason is required")
	}
	if strings.TrimSpace(input.Actor) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment actor is required")
	}
	draft := &EntryDraft{
		Delta:          input.Amount,
		Kind:           enums.LedgerEntryAdminAdjustment,
		Actor:          input.Actor,
		Reason:         input.Reason,
		IdempotencyKey: input.IdempotencyKey,
	}
	return s.run(ctx, input.AccountID, draft.Kind, func(state AccountState) (Mutation, error) {
		return Mutation{Balance: state.Balance + draft.Delta, Verified: state.Verified, Entry: draft, Attach: input.Audit}, nil
	})
}

// ApplyVerificationBonus flips verified and grants bonus once per account.
// Already verified accounts succeed without a change.
func (s *service) ApplyVerificationBonus(ctx context.Context, accountID uuid.UUID, bonus int64, actor string) (*MutationResult, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	if bonus <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "verification bonus must be positive")
	}
	if strings.TrimSpace(actor) == "" {
		actor = ActorSystem
	}
	kind := enums.LedgerEntryVerificationBonus
	return s.run(ctx, accountID, kind, func(state AccountState) (Mutation, error) {
		if state.Verified {
			return NoChange(state), nil
		}
		return Mutation{
			Balance:  state.Balance + bonus,
			Verified: true,
			Entry:    &EntryDraft{Delta: bonus, Kind: kind, Actor: actor},
		}, nil
	})
}

func (s *service) run(ctx context.Context, accountID uuid.UUID, kind enums.LedgerEntryKind, fn MutationFunc) (*MutationResult, error) {
	result, err := s.store.RunAtomicMutation(ctx, accountID, fn)
	switch {
	case err == nil && result.Applied:
		s.metrics.ObserveMutation(string(kind), metrics.OutcomeApplied)
		s.metrics.AddCredits(string(kind), result.Entry.Delta)
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"account_id":    accountID.String(),
			"entry_id":      result.Entry.ID.String(),
			"kind":          string(kind),
			"delta":         result.Entry.Delta,
			"balance_after": result.Entry.BalanceAfter,
		}), "ledger entry recorded")
		return result, nil
	case err == nil:
		s.metrics.ObserveMutation(string(kind), metrics.OutcomeNoop)
		return result, nil
	case errors.Is(err, ErrDuplicateEntry):
		s.metrics.ObserveMutation(string(kind), metrics.OutcomeDuplicate)
		return nil, pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "ledger entry already recorded")
	case pkgerrors.HasCode(err, pkgerrors.CodeStoreUnavailable):
		s.metrics.ObserveMutation(string(kind), metrics.OutcomeUnavailable)
		return nil, err
	default:
		s.metrics.ObserveMutation(string(kind), metrics.OutcomeRejected)
		return nil, err
	}
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (*BalanceView, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	account, err := s.reader.GetAccount(ctx, accountID)
	if err != nil {
		return nil, readError(err)
	}
	return &BalanceView{
		AccountID:       account.ID,
		Balance:         account.Balance,
		BaselineCredits: account.BaselineCredits,
		Verified:        account.Verified,
	}, nil
}

func (s *service) History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	return s.page(params, func(cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
		return s.reader.ListEntries(ctx, accountID, cursor, limit)
	})
}

// Journal lists entries across all accounts for the admin console.
func (s *service) Journal(ctx context.Context, params pagination.Params) (*HistoryPage, error) {
	return s.page(params, func(cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
		return s.reader.ListJournal(ctx, cursor, limit)
	})
}

func (s *service) page(params pagination.Params, list func(cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error)) (*HistoryPage, error) {
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	entries, err := list(cursor, limit+1)
	if err != nil {
		return nil, readError(err)
	}
	entries, next := pagination.Trim(entries, limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	page := &HistoryPage{Entries: make([]EntryView, 0, len(entries)), NextCursor: next}
	for _, e := range entries {
		page.Entries = append(page.Entries, EntryFromModel(e))
	}
	return page, nil
}

func (s *service) Drift(ctx context.Context, limit int) ([]DriftRow, error) {
	if limit <= 0 {
		limit = defaultDriftLimit
	}
	rows, err := s.reader.ListDrift(ctx, limit)
	if err != nil {
		return nil, readError(err)
	}
	s.metrics.SetDrift(len(rows))
	return rows, nil
}

// HasEntry reports whether an entry with idempotencyKey was already recorded.
func (s *service) HasEntry(ctx context.Context, idempotencyKey string) (bool, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	ok, err := s.reader.HasEntry(ctx, idempotencyKey)
	if err != nil {
		return false, readError(err)
	}
	return ok, nil
}

func requireAccount(accountID uuid.UUID) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return nil
}

func readError(err error) error {
	if errors.Is(err, ErrAccountNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "account not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read ledger")
}
