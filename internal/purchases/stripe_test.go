package purchases

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
)

type recordingService struct {
	settled []Settlement
}

func (r *recordingService) Settle(_ context.Context, s Settlement) (*Result, error) {
	r.settled = append(r.settled, s)
	return &Result{AccountID: s.AccountID, TransactionID: s.TransactionID}, nil
}

func checkoutEvent(t *testing.T, eventType stripe.EventType, session stripe.CheckoutSession) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{ID: "evt_" + uuid.NewString(), Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func TestHandleEventSettlesPaidSession(t *testing.T) {
	rec := &recordingService{}
	h, err := NewStripeHandler(rec, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	acc := uuid.New()
	event := checkoutEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:                "cs_paid",
		ClientReferenceID: acc.String(),
		Metadata:          map[string]string{"price_id": "price_pro"},
		AmountTotal:       1999,
		Currency:          stripe.CurrencyUSD,
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
	})

	if err := h.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.settled) != 1 {
		t.Fatalf("expected one settlement, got %d", len(rec.settled))
	}
	got := rec.settled[0]
	if got.AccountID != acc || got.PriceID != "price_pro" || got.TransactionID != "cs_paid" || got.Currency != "usd" {
		t.Fatalf("unexpected settlement %+v", got)
	}
	if !got.AmountPaid.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("expected 19.99, got %s", got.AmountPaid)
	}
}

func TestHandleEventSkipsUnpaidAndUnrelated(t *testing.T) {
	rec := &recordingService{}
	h, _ := NewStripeHandler(rec, nil)

	unpaid := checkoutEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:                "cs_unpaid",
		ClientReferenceID: uuid.NewString(),
		Metadata:          map[string]string{"price_id": "price_pro"},
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusUnpaid,
	})
	other := checkoutEvent(t, stripe.EventTypeCustomerCreated, stripe.CheckoutSession{})

	for _, event := range []*stripe.Event{unpaid, other} {
		if err := h.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("handle %s: %v", event.Type, err)
		}
	}
	if len(rec.settled) != 0 {
		t.Fatalf("expected no settlements, got %d", len(rec.settled))
	}
}

func TestHandleEventRejectsMalformedSession(t *testing.T) {
	h, _ := NewStripeHandler(&recordingService{}, nil)
	cases := map[string]stripe.CheckoutSession{
		"bad account": {ID: "cs_1", ClientReferenceID: "nope", Metadata: map[string]string{"price_id": "price_pro"}, PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid},
		"no price":    {ID: "cs_2", ClientReferenceID: uuid.NewString(), PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid},
	}
	for name, session := range cases {
		err := h.HandleEvent(context.Background(), checkoutEvent(t, stripe.EventTypeCheckoutSessionCompleted, session))
		if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestMinorToDecimal(t *testing.T) {
	if got := minorToDecimal(1500, "jpy"); !got.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("jpy: got %s", got)
	}
	if got := minorToDecimal(1500, "eur"); !got.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("eur: got %s", got)
	}
}
