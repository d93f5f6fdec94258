package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/nanophoto/nanophoto-backend/internal/analytics/types"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox/payloads"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox/registry"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertLedgerEntry(ctx context.Context, row types.LedgerEntryRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope outbox.Envelope, payload any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, envelope outbox.Envelope, payload any) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope outbox.Envelope, payload any) error {
	return fn(ctx, envelope, payload)
}

// Router dispatches analytics envelopes to the configured handler per event type.
type Router struct {
	handlers map[enums.OutboxEventType]Handler
	decoders *registry.Catalog
	logg     *logger.Logger
	now      func() time.Time
}

// NewRouter wires the default handlers and allows overrides for specific events.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	r := &Router{logg: logg, now: time.Now, decoders: registry.Ledger("")}
	r.handlers = map[enums.OutboxEventType]Handler{
		enums.EventLedgerEntryRecorded: r.ledgerEntryHandler(writer),
		// status changes share the topic but are not mirrored
		enums.EventAccountStatusChanged: HandlerFunc(func(context.Context, outbox.Envelope, any) error { return nil }),
	}

	for event, custom := range overrides {
		if _, ok := r.handlers[event]; !ok || custom == nil {
			continue
		}
		r.handlers[event] = custom
	}
	return r, nil
}

// Handle dispatches the incoming envelope to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope outbox.Envelope) error {
	handler, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	// an unknown version is retried until a worker that knows it is deployed
	payload, err := r.decoders.Decode(envelope)
	if err != nil {
		return err
	}
	return handler.Handle(ctx, envelope, payload)
}

func (r *Router) ledgerEntryHandler(writer Writer) Handler {
	return HandlerFunc(func(ctx context.Context, envelope outbox.Envelope, payload any) error {
		event, ok := payload.(*payloads.LedgerEntryRecordedEvent)
		if !ok || event == nil {
			return fmt.Errorf("unexpected payload %T", payload)
		}
		row, err := LedgerEntryRow(envelope, *event, r.now())
		if err != nil {
			return err
		}
		if err := writer.InsertLedgerEntry(ctx, row); err != nil {
			return err
		}
		r.logg.Debug(r.logg.WithField(ctx, "entry_id", row.EntryID), "ledger entry mirrored")
		return nil
	})
}

// LedgerEntryRow converts a recorded ledger entry into its BigQuery row.
func LedgerEntryRow(envelope outbox.Envelope, event payloads.LedgerEntryRecordedEvent, ingestedAt time.Time) (types.LedgerEntryRow, error) {
	if event.Delta == 0 {
		return types.LedgerEntryRow{}, fmt.Errorf("ledger entry %s has zero delta", event.EntryID)
	}
	if !event.Kind.IsValid() {
		return types.LedgerEntryRow{}, fmt.Errorf("ledger entry %s has unknown kind %q", event.EntryID, event.Kind)
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = envelope.OccurredAt
	}
	return types.LedgerEntryRow{
		EventID:        envelope.EventID.String(),
		EntryID:        event.EntryID.String(),
		AccountID:      event.AccountID.String(),
		Kind:           string(event.Kind),
		Delta:          event.Delta,
		BalanceAfter:   event.BalanceAfter,
		Actor:          event.Actor,
		Reason:         optional(event.Reason),
		IdempotencyKey: optional(event.IdempotencyKey),
		CreatedAt:      createdAt.UTC(),
		IngestedAt:     ingestedAt.UTC(),
	}, nil
}

func optional(value string) cbigquery.NullString {
	value = strings.TrimSpace(value)
	return cbigquery.NullString{StringVal: value, Valid: value != ""}
}
