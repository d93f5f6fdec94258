package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/internal/analytics/router"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
)

// ConsumerName scopes the Redis claims of this worker.
const ConsumerName = "ledger-analytics"

type Handler interface {
	Handle(ctx context.Context, envelope outbox.Envelope) error
}

type deduper interface {
	Claim(ctx context.Context, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, eventID uuid.UUID) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type outcome int

const (
	ack outcome = iota
	nack
)

// Service mirrors ledger events from Pub/Sub into BigQuery. Each event id is
// claimed in Redis first, so redeliveries are written once; a failed write
// drops the claim and nacks.
type Service struct {
	subscription receiver
	handler      Handler
	dedupe       deduper
	logg         *logger.Logger
}

func NewService(subscription receiver, handler Handler, dedupe deduper, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case dedupe == nil:
		return nil, errors.New("deduper is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, dedupe: dedupe, logg: logg}, nil
}

// Run consumes messages until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) == nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) outcome {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	env, err := envelopeOf(msg)
	if err != nil {
		// redelivery cannot fix a bad body
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping malformed analytics message")
		return ack
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":     env.EventID.String(),
		"event_type":   env.EventType,
		"aggregate_id": env.AggregateID.String(),
		"version":      env.Version,
	})

	fresh, err := s.dedupe.Claim(ctx, env.EventID)
	if err != nil {
		s.logg.Error(ctx, "claim analytics event", err)
		return nack
	}
	if !fresh {
		s.logg.Info(ctx, "analytics event already handled")
		return ack
	}

	err = s.handler.Handle(ctx, env)
	switch {
	case err == nil:
		s.logg.Info(ctx, "analytics event handled")
		return ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(ctx, "unsupported analytics event dropped")
		return ack
	}
	s.logg.Error(ctx, "handle analytics event", err)
	if forgetErr := s.dedupe.Forget(ctx, env.EventID); forgetErr != nil {
		s.logg.Error(ctx, "release analytics claim", forgetErr)
	}
	return nack
}

// envelopeOf decodes the body and checks it against the routing attributes
// the publisher set, when present.
func envelopeOf(msg *gcppubsub.Message) (outbox.Envelope, error) {
	env, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return outbox.Envelope{}, err
	}
	for attr, want := range map[string]string{
		"event_id":   env.EventID.String(),
		"event_type": string(env.EventType),
	} {
		if got := strings.TrimSpace(msg.Attributes[attr]); got != "" && got != want {
			return outbox.Envelope{}, fmt.Errorf("%w: attribute %s=%q but body has %q", outbox.ErrMalformedEnvelope, attr, got, want)
		}
	}
	return env, nil
}
