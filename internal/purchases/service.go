package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

// Settlement is a confirmed payment reported by the payment provider.
type Settlement struct {
	AccountID     uuid.UUID
	PriceID       string
	TransactionID string
	AmountPaid    decimal.Decimal
	Currency      string
}

type Result struct {
	AccountID     uuid.UUID `json:"accountId"`
	TransactionID string    `json:"transactionId"`
	Tier          string    `json:"tier"`
	Credits       int64     `json:"credits"`
	Duplicate     bool      `json:"duplicate"`
	Balance       int64     `json:"balance,omitempty"`
}

// Service turns settled payments into purchase credits.
type Service interface {
	Settle(ctx context.Context, s Settlement) (*Result, error)
}

type service struct {
	ledger ledger.Service
	prices PriceTable
	logg   *logger.Logger
}

func NewService(ledgerSvc ledger.Service, prices PriceTable, logg *logger.Logger) (Service, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if len(prices.tiers) == 0 {
		return nil, fmt.Errorf("price table is empty")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{ledger: ledgerSvc, prices: prices, logg: logg}, nil
}

// EntryKey is the ledger idempotency key for a provider transaction.
func EntryKey(transactionID string) string {
	return "purchase:" + transactionID
}

func (s *service) Settle(ctx context.Context, in Settlement) (*Result, error) {
	txID := strings.TrimSpace(in.TransactionID)
	if txID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if in.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	tier, ok := s.prices.Lookup(in.PriceID)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown price id %q", in.PriceID)
	}

	result := &Result{AccountID: in.AccountID, TransactionID: txID, Tier: tier.Name, Credits: tier.Credits}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"account_id":     in.AccountID.String(),
		"transaction_id": txID,
		"price_id":       tier.PriceID,
	})

	key := EntryKey(txID)
	seen, err := s.ledger.HasEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	if seen {
		s.logg.Info(ctx, "purchase already settled")
		result.Duplicate = true
		return result, nil
	}

	reason := fmt.Sprintf("%s pack", tier.Name)
	if !in.AmountPaid.IsZero() {
		reason = fmt.Sprintf("%s pack (%s %s)", tier.Name, in.AmountPaid.StringFixed(2), strings.ToUpper(in.Currency))
	}
	applied, err := s.ledger.Credit(ctx, ledger.CreditInput{
		AccountID:      in.AccountID,
		Amount:         tier.Credits,
		Kind:           enums.LedgerEntryPurchase,
		Actor:          txID,
		Reason:         reason,
		IdempotencyKey: key,
	})
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		s.logg.Info(ctx, "purchase settled concurrently")
		result.Duplicate = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Balance = applied.State.Balance
	return result, nil
}
