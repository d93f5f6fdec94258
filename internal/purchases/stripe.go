package purchases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

const priceMetadataKey = "price_id"

// Currencies Stripe reports in whole units.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// StripeHandler settles completed Checkout sessions.
type StripeHandler struct {
	svc  Service
	logg *logger.Logger
}

func NewStripeHandler(svc Service, logg *logger.Logger) (*StripeHandler, error) {
	if svc == nil {
		return nil, fmt.Errorf("purchase service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &StripeHandler{svc: svc, logg: logg}, nil
}

// HandleEvent ignores event types that do not settle a payment.
func (h *StripeHandler) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event payload missing")
	}
	ctx = h.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		h.logg.Debug(ctx, "stripe event ignored")
		return nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logg.Info(ctx, "checkout session not paid yet")
		return nil
	}

	settlement, err := settlementFromSession(&session)
	if err != nil {
		return err
	}
	result, err := h.svc.Settle(ctx, settlement)
	if err != nil {
		return err
	}
	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"credits":   result.Credits,
		"duplicate": result.Duplicate,
	}), "checkout session settled")
	return nil
}

func settlementFromSession(session *stripe.CheckoutSession) (Settlement, error) {
	accountID, err := uuid.Parse(strings.TrimSpace(session.ClientReferenceID))
	if err != nil {
		return Settlement{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "client_reference_id must be an account id")
	}
	priceID := strings.TrimSpace(session.Metadata[priceMetadataKey])
	if priceID == "" {
		return Settlement{}, pkgerrors.New(pkgerrors.CodeValidation, "checkout session metadata missing price_id")
	}
	currency := strings.ToLower(string(session.Currency))
	return Settlement{
		AccountID:     accountID,
		PriceID:       priceID,
		TransactionID: session.ID,
		AmountPaid:    minorToDecimal(session.AmountTotal, currency),
		Currency:      currency,
	}, nil
}

func minorToDecimal(amount int64, currency string) decimal.Decimal {
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}
